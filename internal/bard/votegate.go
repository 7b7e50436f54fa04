package bard

import (
	"sync"
	"time"
)

// DefaultVoteTTL bounds how long an individual vote stays countable.
// Without it a vote cast long ago could be replayed against a much later
// campaign for the same action.
const DefaultVoteTTL = 10 * time.Minute

// Verdict is the outcome of a single vote.
type Verdict int

const (
	// VerdictRejected means the voter may not trigger the action at all.
	VerdictRejected Verdict = iota
	// VerdictPending means the vote was counted but quorum is not reached.
	VerdictPending
	// VerdictExecute means the caller must now invoke the session mutator.
	VerdictExecute
)

// VoteResult carries the verdict plus the current distinct-voter count,
// so pending tallies can be surfaced on the jukebox controls.
type VoteResult struct {
	Verdict Verdict
	Count   int
}

type voteKey struct {
	guildID string
	action  Action
}

// VoteGate is the single threshold-voting mechanism shared by every
// privileged control. One vote per voter identity per (guild, action).
type VoteGate struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	votes map[voteKey]map[string]time.Time
}

// NewVoteGate creates a gate whose votes expire after ttl. A non-positive
// ttl disables expiry.
func NewVoteGate(ttl time.Duration) *VoteGate {
	return &VoteGate{
		ttl:   ttl,
		now:   time.Now,
		votes: make(map[voteKey]map[string]time.Time),
	}
}

// Vote records voterID's request to run action in guildID and decides
// whether it executes now, stays pending, or is rejected.
//
// threshold < 0 restricts the action to admins, threshold 0 or 1 lets any
// single voter execute, and threshold >= 2 requires that many distinct
// voters. On VerdictExecute the pending set is cleared; the caller is
// responsible for invoking the corresponding session mutator.
func (g *VoteGate) Vote(guildID string, action Action, voterID string, threshold int, isAdmin bool) VoteResult {
	if threshold < 0 {
		if isAdmin {
			return VoteResult{Verdict: VerdictExecute}
		}
		return VoteResult{Verdict: VerdictRejected}
	}
	if threshold <= 1 {
		return VoteResult{Verdict: VerdictExecute}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	k := voteKey{guildID: guildID, action: action}
	set := g.votes[k]
	if set == nil {
		set = make(map[string]time.Time)
		g.votes[k] = set
	}
	g.pruneLocked(set)

	// set semantics: a repeat vote neither double counts nor renews the
	// original vote's expiry
	if _, ok := set[voterID]; !ok {
		set[voterID] = g.now()
	}

	if len(set) >= threshold {
		delete(g.votes, k)
		return VoteResult{Verdict: VerdictExecute, Count: threshold}
	}
	return VoteResult{Verdict: VerdictPending, Count: len(set)}
}

// Pending returns the current countable vote tally for (guildID, action).
func (g *VoteGate) Pending(guildID string, action Action) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	set := g.votes[voteKey{guildID: guildID, action: action}]
	if set == nil {
		return 0
	}
	g.pruneLocked(set)
	return len(set)
}

// ClearGuild drops every pending vote set for the guild. Called when the
// guild's session is destroyed so stale votes cannot carry over to a
// future, unrelated session.
func (g *VoteGate) ClearGuild(guildID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k := range g.votes {
		if k.guildID == guildID {
			delete(g.votes, k)
		}
	}
}

func (g *VoteGate) pruneLocked(set map[string]time.Time) {
	if g.ttl <= 0 {
		return
	}
	cutoff := g.now().Add(-g.ttl)
	for voter, at := range set {
		if at.Before(cutoff) {
			delete(set, voter)
		}
	}
}
