package bard

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// PresenceUpdater reflects aggregate playback activity on the bot's
// globally visible presence.
type PresenceUpdater interface {
	SetListening(title, url string) error
	SetIdle() error
}

// ActivityReporter is a best-effort background loop cycling the presence
// across guilds with non-empty queues, falling back to an idle indicator
// when nothing plays anywhere. Explicit Start/Stop lifecycle, tied to the
// process.
type ActivityReporter struct {
	registry *Registry
	presence PresenceUpdater
	interval time.Duration

	lastGuild string
	wasIdle   bool

	stop chan struct{}
	done chan struct{}
}

func NewActivityReporter(registry *Registry, presence PresenceUpdater, interval time.Duration) *ActivityReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ActivityReporter{
		registry: registry,
		presence: presence,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (a *ActivityReporter) Start() {
	go a.run()
}

func (a *ActivityReporter) Stop() {
	close(a.stop)
	<-a.done
}

func (a *ActivityReporter) run() {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

func (a *ActivityReporter) tick() {
	playing := a.registry.NowPlaying()
	if len(playing) == 0 {
		if !a.wasIdle {
			if err := a.presence.SetIdle(); err != nil {
				log.Debug().Err(err).Msg("set idle presence")
			}
			a.wasIdle = true
			a.lastGuild = ""
		}
		return
	}
	a.wasIdle = false

	guilds := make([]string, 0, len(playing))
	for g := range playing {
		guilds = append(guilds, g)
	}
	sort.Strings(guilds)

	// round-robin: first guild after the one shown last tick
	next := guilds[0]
	for _, g := range guilds {
		if g > a.lastGuild {
			next = g
			break
		}
	}
	a.lastGuild = next

	item := playing[next]
	if err := a.presence.SetListening(item.Title, item.URL); err != nil {
		log.Debug().Err(err).Str("guild", next).Msg("set listening presence")
	}
}
