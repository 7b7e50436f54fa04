// Package bard is the per-guild playback core: queue, voice session state
// machine, vote-gated controls, and the jukebox view projection.
package bard

import (
	"context"
)

// MediaItem is a single playable unit. Produced by a resolver, immutable
// afterward.
type MediaItem struct {
	ID          string
	Title       string
	URL         string
	Author      string
	UploadedAt  string
	Views       int64
	Description string
	Duration    int // seconds, 0 when unknown
	Thumbnail   string
	IsLive      bool
	IsUpcoming  bool
	RequestedBy string
}

// Playable reports whether the item can actually be streamed. Livestreams
// and scheduled premieres never enter a queue.
func (m MediaItem) Playable() bool {
	return !m.IsLive && !m.IsUpcoming && m.URL != ""
}

// Playlist is an ordered collection of items with aggregate metadata.
// It is flattened into its items at enqueue time and never occupies a
// queue slot itself.
type Playlist struct {
	ID                 string
	Title              string
	URL                string
	Author             string
	EstimatedItemCount int
	Description        string
	Thumbnail          string
	Views              int64
	Items              []MediaItem
}

// Status is the play-state of a Session.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusIdle
	StatusPlaying
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusIdle:
		return "idle"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	default:
		return "disconnected"
	}
}

// Action is a privileged control gated behind the VoteGate.
type Action string

const (
	ActionSkip    Action = "skip"
	ActionShuffle Action = "shuffle"
	ActionStop    Action = "stop"
)

// Thresholds holds the per-guild vote quorums. Negative means admin-only,
// 0 or 1 means any single voter executes immediately.
type Thresholds struct {
	Skip    int
	Shuffle int
	Stop    int
}

// DefaultThresholds mirrors the guild-table defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Skip: 1, Shuffle: 2, Stop: 1}
}

func (t Thresholds) For(a Action) int {
	switch a {
	case ActionSkip:
		return t.Skip
	case ActionShuffle:
		return t.Shuffle
	case ActionStop:
		return t.Stop
	default:
		return 1
	}
}

// ThresholdSource supplies guild-specific thresholds, typically backed by
// the settings repository.
type ThresholdSource interface {
	Thresholds(ctx context.Context, guildID string) (Thresholds, error)
}

// StreamResolver turns a queued item into a streamable source URL.
type StreamResolver interface {
	StreamFor(ctx context.Context, item MediaItem) (string, error)
}

// VoiceTransport joins a guild voice channel and hands back the audio sink
// that owns the resulting connection.
type VoiceTransport interface {
	Join(ctx context.Context, guildID, channelID string) (AudioSink, error)
}

// SinkEventKind discriminates sink lifecycle events.
type SinkEventKind int

const (
	// SinkIdle fires when the current source finished playing on its own.
	SinkIdle SinkEventKind = iota
	// SinkError fires on an unrecoverable sink fault.
	SinkError
)

type SinkEvent struct {
	Kind SinkEventKind
	Err  error
}

// AudioSink streams one source at a time into a voice connection.
// Stop interrupts the current source without emitting SinkIdle; Close
// releases the connection. Events are delivered at most once per
// occurrence and the channel closes with the sink.
type AudioSink interface {
	Play(ctx context.Context, sourceURL string) error
	Pause()
	Unpause()
	Stop()
	Close() error
	Events() <-chan SinkEvent
}

// Publisher receives a fresh jukebox view after every state-changing
// operation and every vote-count change.
type Publisher interface {
	Publish(guildID string, v View)
}
