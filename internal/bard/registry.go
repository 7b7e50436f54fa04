package bard

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

// Registry maps guild ids to at most one live Session each.
type Registry struct {
	resolver  StreamResolver
	transport VoiceTransport
	votes     *VoteGate
	publisher Publisher
	limits    ThresholdSource

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(resolver StreamResolver, transport VoiceTransport, votes *VoteGate, publisher Publisher, limits ThresholdSource) *Registry {
	return &Registry{
		resolver:  resolver,
		transport: transport,
		votes:     votes,
		publisher: publisher,
		limits:    limits,
		sessions:  make(map[string]*Session),
	}
}

// Connect creates the guild's session and joins the voice channel. If a
// session already exists the call fails with ErrAlreadyConnected and the
// existing session is left untouched; of two concurrent connects for the
// same guild exactly one wins. On join failure no session remains behind.
func (r *Registry) Connect(ctx context.Context, guildID, channelID string) (*Session, error) {
	r.mu.Lock()
	if _, ok := r.sessions[guildID]; ok {
		r.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	// reserve the slot before the blocking join so a racing connect loses
	// deterministically
	s := newSession(r, guildID, channelID)
	r.sessions[guildID] = s
	r.mu.Unlock()

	jctx, cancel := context.WithTimeout(ctx, connectTimeout)
	sink, err := r.transport.Join(jctx, guildID, channelID)
	cancel()
	if err != nil {
		s.Disconnect()
		return nil, errors.Wrap(err, "join voice channel")
	}

	s.attach(sink)
	log.Info().Str("guild", guildID).Str("channel", channelID).Msg("connected")
	return s, nil
}

// Get returns the guild's live session, or nil.
func (r *Registry) Get(guildID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[guildID]
}

// IsConnected reports whether the guild has a live session.
func (r *Registry) IsConnected(guildID string) bool {
	return r.Get(guildID) != nil
}

// NowPlaying lists the current head item of every session with a
// non-empty queue. Used by the activity reporter.
func (r *Registry) NowPlaying() map[string]MediaItem {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make(map[string]MediaItem)
	for _, s := range sessions {
		if cur := s.Current(); cur != nil {
			out[s.GuildID()] = *cur
		}
	}
	return out
}

// Shutdown disconnects every live session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Disconnect()
	}
}

func (r *Registry) remove(guildID string) {
	r.mu.Lock()
	delete(r.sessions, guildID)
	r.mu.Unlock()
}
