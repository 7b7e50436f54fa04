package bard

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	connectTimeout = 30 * time.Second
	resolveTimeout = 30 * time.Second
)

// Session is the live playback context for one guild: the queue, the audio
// sink owning the voice connection, and the play-state machine. At most
// one exists per guild; create it through Registry.Connect.
//
// The queue head is the item currently playing. New items append at the
// tail, the head is removed only by skip, stop, or disconnect, and shuffle
// never touches it.
type Session struct {
	guildID   string
	channelID string

	reg       *Registry
	resolver  StreamResolver
	votes     *VoteGate
	publisher Publisher
	limits    ThresholdSource

	mu     sync.Mutex
	status Status
	queue  []MediaItem
	sink   AudioSink
	playID uuid.UUID // identity of the in-flight play attempt
	done   chan struct{}
}

func newSession(r *Registry, guildID, channelID string) *Session {
	return &Session{
		guildID:   guildID,
		channelID: channelID,
		reg:       r,
		resolver:  r.resolver,
		votes:     r.votes,
		publisher: r.publisher,
		limits:    r.limits,
		status:    StatusConnecting,
		done:      make(chan struct{}),
	}
}

func (s *Session) GuildID() string   { return s.guildID }
func (s *Session) ChannelID() string { return s.channelID }

// attach hands the session its sink once the voice join succeeded and
// starts consuming sink lifecycle events. The event pump is owned by the
// session, so its lifetime ends with the session rather than leaking into
// a recreated one.
func (s *Session) attach(sink AudioSink) {
	s.mu.Lock()
	s.sink = sink
	s.status = StatusIdle
	s.mu.Unlock()
	go s.pumpSinkEvents(sink)
}

func (s *Session) pumpSinkEvents(sink AudioSink) {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-sink.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case SinkIdle:
				// current item finished on its own; advance
				if err := s.Skip(context.Background()); err != nil {
					log.Warn().Err(err).Str("guild", s.guildID).Msg("auto-skip failed")
				}
			case SinkError:
				// never leave a half-alive connection after a sink fault
				log.Error().Err(ev.Err).Str("guild", s.guildID).Msg("sink error, tearing down session")
				s.Disconnect()
			}
		}
	}
}

// IsConnected reports whether the session owns a live sink.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink != nil
}

// IsPaused reports whether playback is paused.
func (s *Session) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusPaused
}

// Status returns the current play-state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Queue returns a copy of the queue, head first.
func (s *Session) Queue() []MediaItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MediaItem, len(s.queue))
	copy(out, s.queue)
	return out
}

// Current returns the item at the queue head, if any.
func (s *Session) Current() *MediaItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	cur := s.queue[0]
	return &cur
}

// Enqueue appends playable items to the queue tail. Items that are live or
// upcoming are dropped. It never connects as a side effect; the session
// must already exist. Returns the number of items added.
func (s *Session) Enqueue(items ...MediaItem) (int, error) {
	s.mu.Lock()
	if s.status == StatusDisconnected {
		s.mu.Unlock()
		return 0, ErrNotConnected
	}
	added := 0
	for _, it := range items {
		if !it.Playable() {
			log.Debug().Str("guild", s.guildID).Str("title", it.Title).Msg("dropping unplayable item")
			continue
		}
		s.queue = append(s.queue, it)
		added++
	}
	s.mu.Unlock()

	if added > 0 {
		log.Info().Str("guild", s.guildID).Int("added", added).Msg("enqueued")
		s.refresh()
	}
	return added, nil
}

// EnqueuePlaylist flattens the playlist and appends its items. The
// playlist itself never occupies a queue slot.
func (s *Session) EnqueuePlaylist(pl Playlist) (int, error) {
	return s.Enqueue(pl.Items...)
}

// Play resumes paused playback in place, or starts the queue head:
// resolve a stream for it, feed the sink, and enter Playing. An empty
// queue disconnects instead.
//
// Because stream resolution blocks, the session re-validates its state
// after the resolver returns: a stream resolved for an item that has been
// skipped past in the meantime is discarded, not played.
func (s *Session) Play(ctx context.Context) error {
	s.mu.Lock()
	if s.sink == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.status == StatusPaused {
		s.sink.Unpause()
		s.status = StatusPlaying
		s.mu.Unlock()
		s.refresh()
		return nil
	}
	if len(s.queue) == 0 {
		s.mu.Unlock()
		s.Disconnect()
		return nil
	}
	head := s.queue[0]
	attempt := uuid.New()
	s.playID = attempt
	sink := s.sink
	s.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	src, err := s.resolver.StreamFor(rctx, head)
	cancel()
	if err != nil {
		// policy: drop the failing item and attempt the next one
		log.Warn().Err(err).Str("guild", s.guildID).Str("title", head.Title).Msg("stream resolution failed, advancing")
		s.mu.Lock()
		if s.sink == nil || s.playID != attempt {
			s.mu.Unlock()
			return nil
		}
		if len(s.queue) > 0 && s.queue[0].ID == head.ID {
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()
		return s.Play(ctx)
	}

	s.mu.Lock()
	// a concurrent skip, stop, or disconnect may have completed while the
	// stream resolved; in that case this result is stale
	if s.sink != sink || s.playID != attempt || len(s.queue) == 0 || s.queue[0].ID != head.ID {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusPlaying
	s.mu.Unlock()

	perr := sink.Play(ctx, src)

	// sink.Play blocks outside the lock, so a skip, stop, or disconnect
	// may have committed in between; the stream started above is then
	// stale and must not stay live over the new head
	s.mu.Lock()
	if s.sink == nil {
		s.mu.Unlock()
		return nil
	}
	if s.sink != sink || s.playID != attempt {
		s.mu.Unlock()
		sink.Stop()
		return s.Play(ctx)
	}
	s.mu.Unlock()

	if perr != nil {
		// fail closed: no partially-updated state survives a sink fault
		log.Error().Err(perr).Str("guild", s.guildID).Msg("sink refused stream, tearing down session")
		s.Disconnect()
		return perr
	}
	log.Info().Str("guild", s.guildID).Str("title", head.Title).Msg("playing")
	s.refresh()
	return nil
}

// Pause pauses playback. No-op unless currently playing.
func (s *Session) Pause() {
	s.mu.Lock()
	if s.status != StatusPlaying {
		s.mu.Unlock()
		return
	}
	s.sink.Pause()
	s.status = StatusPaused
	s.mu.Unlock()
	s.refresh()
}

// Skip removes the queue head and starts the next item; with nothing left
// it disconnects. Also invoked automatically when the sink reports idle.
func (s *Session) Skip(ctx context.Context) error {
	s.mu.Lock()
	if s.sink == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.playID = uuid.New() // invalidate in-flight resolves
	if len(s.queue) > 0 {
		s.queue = s.queue[1:]
	}
	if s.status == StatusPaused {
		s.status = StatusIdle
	}
	sink := s.sink
	s.mu.Unlock()

	sink.Stop()
	return s.Play(ctx)
}

// Shuffle randomly permutes the queue tail, leaving the playing head in
// place. No-op for queues of length <= 1.
func (s *Session) Shuffle() {
	s.mu.Lock()
	if len(s.queue) <= 1 {
		s.mu.Unlock()
		return
	}
	tail := s.queue[1:]
	rand.Shuffle(len(tail), func(i, j int) { tail[i], tail[j] = tail[j], tail[i] })
	s.mu.Unlock()
	s.refresh()
}

// Stop clears the queue and disconnects.
func (s *Session) Stop() {
	s.mu.Lock()
	s.queue = nil
	s.playID = uuid.New()
	s.mu.Unlock()
	s.Disconnect()
}

// Disconnect releases the sink and connection, removes the session from
// the registry, and clears the guild's pending votes. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.status == StatusDisconnected {
		s.mu.Unlock()
		return
	}
	s.status = StatusDisconnected
	s.queue = nil
	sink := s.sink
	s.sink = nil
	close(s.done)
	s.mu.Unlock()

	if sink != nil {
		sink.Stop()
		if err := sink.Close(); err != nil {
			log.Warn().Err(err).Str("guild", s.guildID).Msg("closing sink")
		}
	}
	s.reg.remove(s.guildID)
	s.votes.ClearGuild(s.guildID)
	log.Info().Str("guild", s.guildID).Msg("disconnected")
	s.refresh()
}

// CurrentView projects the session into a renderable snapshot. Safe to
// call at any time, including after disconnect.
func (s *Session) CurrentView(ctx context.Context) View {
	limits := DefaultThresholds()
	if s.limits != nil {
		if t, err := s.limits.Thresholds(ctx, s.guildID); err == nil {
			limits = t
		}
	}

	s.mu.Lock()
	st := ViewState{
		Connected: s.sink != nil,
		Paused:    s.status == StatusPaused,
		Queue:     make([]MediaItem, len(s.queue)),
		Limits:    limits,
	}
	copy(st.Queue, s.queue)
	s.mu.Unlock()

	st.Votes = map[Action]int{
		ActionSkip:    s.votes.Pending(s.guildID, ActionSkip),
		ActionShuffle: s.votes.Pending(s.guildID, ActionShuffle),
		ActionStop:    s.votes.Pending(s.guildID, ActionStop),
	}
	return Render(st)
}

// Refresh re-publishes the jukebox view. Callers use it after a vote
// tally changes without a state transition, so pending counts stay
// visible to participants.
func (s *Session) Refresh() { s.refresh() }

// refresh publishes an updated view after a state or vote change.
func (s *Session) refresh() {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(s.guildID, s.CurrentView(context.Background()))
}
