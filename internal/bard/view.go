package bard

import "fmt"

// MaxUpcoming caps how many queued items a view lists, keeping the
// rendered message inside the embed field limit.
const MaxUpcoming = 24

// Control ids match the button custom ids the handlers listen on.
const (
	ControlPlayPause = "bard/play-pause"
	ControlShuffle   = "bard/shuffle"
	ControlSkip      = "bard/skip"
	ControlStop      = "bard/stop"
)

// Control is a single jukebox affordance.
type Control struct {
	ID      string
	Label   string
	Emoji   string
	Enabled bool
}

// View is a renderable snapshot of a session: what plays now, what comes
// next, and which controls are available. Pure data, no side effects.
type View struct {
	Connected bool
	Paused    bool
	Now       *MediaItem
	Upcoming  []MediaItem
	Truncated int // queued items beyond the Upcoming cap
	Controls  []Control
}

// ViewState is the input to Render: a plain copy of the session state plus
// the current vote tallies and thresholds.
type ViewState struct {
	Connected bool
	Paused    bool
	Queue     []MediaItem
	Votes     map[Action]int
	Limits    Thresholds
}

// Render projects a session snapshot into a View. It is a pure function:
// safe to call repeatedly, recomputed after every state-changing operation
// and after every vote-count change.
func Render(st ViewState) View {
	v := View{Connected: st.Connected, Paused: st.Paused}

	if len(st.Queue) > 0 {
		now := st.Queue[0]
		v.Now = &now
		rest := st.Queue[1:]
		if len(rest) > MaxUpcoming {
			v.Truncated = len(rest) - MaxUpcoming
			rest = rest[:MaxUpcoming]
		}
		v.Upcoming = make([]MediaItem, len(rest))
		copy(v.Upcoming, rest)
	}

	playLabel, playEmoji := "pause", "⏸️"
	if st.Paused {
		playLabel, playEmoji = "play", "▶️"
	}
	v.Controls = []Control{
		{ID: ControlPlayPause, Label: playLabel, Emoji: playEmoji, Enabled: st.Connected},
		{ID: ControlShuffle, Label: voteLabel("shuffle", st, ActionShuffle), Emoji: "🔀", Enabled: st.Connected},
		{ID: ControlSkip, Label: voteLabel("skip", st, ActionSkip), Emoji: "⏭️", Enabled: st.Connected},
		{ID: ControlStop, Label: voteLabel("stop", st, ActionStop), Emoji: "⏹️", Enabled: st.Connected},
	}
	return v
}

// voteLabel appends the pending tally to a control label once a campaign
// is underway, e.g. "skip (1/2)".
func voteLabel(base string, st ViewState, a Action) string {
	limit := st.Limits.For(a)
	count := st.Votes[a]
	if limit >= 2 && count > 0 {
		return fmt.Sprintf("%s (%d/%d)", base, count, limit)
	}
	return base
}
