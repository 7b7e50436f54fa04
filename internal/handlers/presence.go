package handlers

import "github.com/bwmarrin/discordgo"

// gatewayPresence implements bard.PresenceUpdater on top of the
// gateway session.
type gatewayPresence struct {
	s *discordgo.Session
}

func (p gatewayPresence) SetListening(title, url string) error {
	return p.s.UpdateStatusComplex(discordgo.UpdateStatusData{
		Activities: []*discordgo.Activity{{
			Name: title,
			Type: discordgo.ActivityTypeListening,
			URL:  url,
		}},
		Status: string(discordgo.StatusOnline),
	})
}

func (p gatewayPresence) SetIdle() error {
	return p.s.UpdateListeningStatus("nothing \U0001F641")
}
