package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/joshuajeschek/dandelion/internal/bard"
	"github.com/rs/zerolog/log"
)

var buttonActions = map[string]bard.Action{
	bard.ControlSkip:    bard.ActionSkip,
	bard.ControlShuffle: bard.ActionShuffle,
	bard.ControlStop:    bard.ActionStop,
}

func (h *CommandHandler) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID
	if !strings.HasPrefix(customID, "bard/") {
		return
	}
	guildID := i.GuildID
	memberID := userIDOf(i)

	sess := h.registry.Get(guildID)
	if sess == nil || !sess.IsConnected() {
		h.reply(s, i, "I am not playing anything right now", true)
		return
	}

	if !h.canModifyPlayback(s, i, sess) {
		h.reply(s, i, "you need to be in my voice channel and allowed to speak there", true)
		return
	}

	if customID == bard.ControlPlayPause {
		h.ackUpdate(s, i)
		if sess.IsPaused() {
			if err := sess.Play(context.Background()); err != nil {
				log.Warn().Err(err).Str("guild", guildID).Msg("resume failed")
			}
		} else {
			sess.Pause()
		}
		log.Info().Str("guild", guildID).Str("user", memberID).Msg("play-pause pressed")
		return
	}

	action, ok := buttonActions[customID]
	if !ok {
		log.Debug().Str("id", customID).Str("guild", guildID).Msg("unknown jukebox button")
		return
	}

	limits, err := h.repo.Thresholds(context.Background(), guildID)
	if err != nil {
		log.Warn().Err(err).Str("guild", guildID).Msg("loading vote limits failed")
	}
	res := h.votes.Vote(guildID, action, memberID, limits.For(action), h.isAdmin(i, memberID))

	switch res.Verdict {
	case bard.VerdictExecute:
		h.ackUpdate(s, i)
		h.jukebox.Announce(guildID, fmt.Sprintf("<@%s> pressed %s", memberID, action))
		h.runAction(sess, action, guildID)
	case bard.VerdictPending:
		h.reply(s, i, fmt.Sprintf("your vote counts, %d/%d so far", res.Count, limits.For(action)), true)
		sess.Refresh()
	case bard.VerdictRejected:
		h.reply(s, i, fmt.Sprintf("only admins may %s here", action), true)
	}
}

func (h *CommandHandler) runAction(sess *bard.Session, action bard.Action, guildID string) {
	var err error
	switch action {
	case bard.ActionSkip:
		err = sess.Skip(context.Background())
	case bard.ActionShuffle:
		sess.Shuffle()
	case bard.ActionStop:
		sess.Stop()
	}
	if err != nil {
		log.Warn().Err(err).Str("guild", guildID).Str("action", string(action)).Msg("jukebox action failed")
	}
	log.Info().Str("guild", guildID).Str("action", string(action)).Msg("jukebox action executed")
}

// canModifyPlayback requires the member to sit in the session's voice
// channel with permission to speak there.
func (h *CommandHandler) canModifyPlayback(s *discordgo.Session, i *discordgo.InteractionCreate, sess *bard.Session) bool {
	memberID := userIDOf(i)
	chID, ok := userInVoice(s, i.GuildID, memberID)
	if !ok || chID != sess.ChannelID() {
		return false
	}
	perms, err := s.State.UserChannelPermissions(memberID, chID)
	if err != nil {
		log.Debug().Err(err).Str("guild", i.GuildID).Str("user", memberID).Msg("permission lookup failed")
		return false
	}
	return perms&discordgo.PermissionVoiceSpeak != 0
}

// ackUpdate acknowledges a component press without posting anything.
// The jukebox repost that follows carries the new state.
func (h *CommandHandler) ackUpdate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		log.Warn().Err(err).Str("guild", i.GuildID).Msg("component ack failed")
	}
}
