// Package voice implements the audio transport on top of discordgo: voice
// channel joins and a sink that streams resolved sources into a guild's
// voice connection.
package voice

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	"github.com/joshuajeschek/dandelion/internal/bard"
)

// Transport joins guild voice channels for the playback core.
type Transport struct {
	s *discordgo.Session
}

func NewTransport(s *discordgo.Session) *Transport {
	return &Transport{s: s}
}

// Join verifies the bot may connect and speak in the channel, joins it,
// and returns the sink owning the resulting connection.
func (t *Transport) Join(ctx context.Context, guildID, channelID string) (bard.AudioSink, error) {
	perms, err := t.s.State.UserChannelPermissions(t.s.State.User.ID, channelID)
	if err != nil {
		return nil, errors.Wrap(err, "read channel permissions")
	}
	const needed = discordgo.PermissionVoiceConnect | discordgo.PermissionVoiceSpeak
	if perms&needed != needed {
		return nil, bard.ErrNotJoinable
	}

	vc, err := t.s.ChannelVoiceJoin(ctx, guildID, channelID, false, true)
	if err != nil {
		return nil, errors.Wrap(bard.ErrNotJoinable, err.Error())
	}

	// guard against nil channels so a later Kill() cannot panic
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}
	if vc.OpusRecv == nil {
		vc.OpusRecv = make(chan *discordgo.Packet, 2)
	}

	return newSink(vc), nil
}
