package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/joshuajeschek/dandelion/internal/bard"
	"github.com/joshuajeschek/dandelion/internal/config"
	"github.com/joshuajeschek/dandelion/internal/repository"
	"github.com/joshuajeschek/dandelion/internal/resolver"
	"github.com/joshuajeschek/dandelion/internal/utils"
	"github.com/rs/zerolog/log"
)

const searchLimit = 25

type CommandHandler struct {
	cfg      *config.Config
	repo     *repository.Repo
	registry *bard.Registry
	votes    *bard.VoteGate
	resolver *resolver.Resolver
	jukebox  *JukeboxManager
	started  time.Time
}

func NewCommandHandler(
	cfg *config.Config,
	repo *repository.Repo,
	registry *bard.Registry,
	votes *bard.VoteGate,
	res *resolver.Resolver,
	jukebox *JukeboxManager,
) *CommandHandler {
	return &CommandHandler{
		cfg:      cfg,
		repo:     repo,
		registry: registry,
		votes:    votes,
		resolver: res,
		jukebox:  jukebox,
		started:  time.Now(),
	}
}

func (h *CommandHandler) RegisterCommands(s *discordgo.Session, appID, guildID string) error {
	cmds := []*discordgo.ApplicationCommand{
		{
			Name:        "search",
			Description: "Search for a song or add a URL to the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "query", Description: "search terms or URL", Type: discordgo.ApplicationCommandOptionString, Required: true},
			},
		},
		{
			Name:        "ping",
			Description: "Check whether the bot is alive",
		},
		{
			Name:        "status",
			Description: "Show bot uptime and statistics",
		},
		{
			Name:        "settings",
			Description: "Inspect or change the vote limits of this guild",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "show",
					Description: "show the current vote limits",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name:        "set",
					Description: "change a vote limit",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "action",
							Description: "which action to limit",
							Type:        discordgo.ApplicationCommandOptionString,
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "skip", Value: string(bard.ActionSkip)},
								{Name: "shuffle", Value: string(bard.ActionShuffle)},
								{Name: "stop", Value: string(bard.ActionStop)},
							},
						},
						{
							Name:        "limit",
							Description: "votes needed, 0 or 1 for immediate, negative for admins only",
							Type:        discordgo.ApplicationCommandOptionInteger,
							Required:    true,
						},
					},
				},
			},
		},
	}
	_, err := s.ApplicationCommandBulkOverwrite(appID, guildID, cmds)
	return err
}

func (h *CommandHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		h.handleChatCommand(s, i)
	case discordgo.InteractionMessageComponent:
		h.handleComponent(s, i)
	default:
		log.Debug().Int("type", int(i.Type)).Str("guild", i.GuildID).Msg("interaction: ignored type")
	}
}

func (h *CommandHandler) handleChatCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	switch data.Name {
	case "search":
		h.cmdSearch(s, i)
	case "ping":
		h.cmdPing(s, i)
	case "status":
		h.cmdStatus(s, i)
	case "settings":
		h.cmdSettings(s, i)
	default:
		log.Debug().Str("name", data.Name).Str("guild", i.GuildID).Msg("unknown command")
	}
}

func (h *CommandHandler) cmdSearch(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var query string
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "query" {
			query = o.StringValue()
		}
	}
	query = strings.TrimSpace(query)
	memberID := userIDOf(i)
	log.Info().Str("guild", i.GuildID).Str("user", memberID).Str("query", query).Msg("cmd search")
	if query == "" {
		h.reply(s, i, "give me something to search for", true)
		return
	}

	chID, ok := userInVoice(s, i.GuildID, memberID)
	if !ok {
		h.reply(s, i, "gotta be in a voice channel", true)
		return
	}

	h.deferReply(s, i, false)

	ctx := context.Background()
	items, playlist, err := h.resolver.Resolve(ctx, query, searchLimit)
	if err != nil {
		log.Warn().Err(err).Str("guild", i.GuildID).Str("query", query).Msg("resolve failed")
		h.editReply(s, i, "nothing found for that, sorry")
		return
	}

	h.jukebox.SetChannel(i.GuildID, i.ChannelID)

	sess, fresh, err := h.connectedSession(s, i.GuildID, chID)
	if err != nil {
		log.Warn().Err(err).Str("guild", i.GuildID).Str("channel", chID).Msg("voice connect failed")
		h.editReply(s, i, "couldn't join your channel")
		return
	}

	var added int
	var summary string
	if playlist != nil {
		for idx := range playlist.Items {
			playlist.Items[idx].RequestedBy = memberID
		}
		added, err = sess.EnqueuePlaylist(*playlist)
		summary = fmt.Sprintf("queued %d songs from **%s**", added, utils.EscapeMd(playlist.Title))
	} else {
		// plain searches queue the top hit only
		if len(items) > 1 && !strings.HasPrefix(query, "http") {
			items = items[:1]
		}
		for idx := range items {
			items[idx].RequestedBy = memberID
		}
		added, err = sess.Enqueue(items...)
		if added == 1 {
			summary = fmt.Sprintf("**%s** added to the queue", utils.EscapeMd(items[0].Title))
		} else {
			summary = fmt.Sprintf("added %d songs to the queue", added)
		}
	}
	if err != nil || added == 0 {
		log.Debug().Err(err).Str("guild", i.GuildID).Msg("nothing enqueued")
		h.editReply(s, i, "no playable songs found")
		return
	}

	h.editReply(s, i, summary)

	if fresh || sess.Status() == bard.StatusIdle {
		if err := sess.Play(ctx); err != nil {
			log.Warn().Err(err).Str("guild", i.GuildID).Msg("playback start failed")
		}
	}
}

// connectedSession returns the guild's session, connecting the bot to
// channelID first when it is not connected yet. fresh reports whether
// this call created the connection.
func (h *CommandHandler) connectedSession(s *discordgo.Session, guildID, channelID string) (*bard.Session, bool, error) {
	if sess := h.registry.Get(guildID); sess != nil && sess.IsConnected() {
		return sess, false, nil
	}
	sess, err := h.registry.Connect(context.Background(), guildID, channelID)
	if err != nil {
		if errors.Is(err, bard.ErrAlreadyConnected) {
			if sess := h.registry.Get(guildID); sess != nil {
				return sess, false, nil
			}
		}
		return nil, false, err
	}
	return sess, true, nil
}

func (h *CommandHandler) cmdPing(s *discordgo.Session, i *discordgo.InteractionCreate) {
	h.reply(s, i, fmt.Sprintf("Pong! `%s`", s.HeartbeatLatency().Round(time.Millisecond)), false)
}

func (h *CommandHandler) cmdStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	playing := h.registry.NowPlaying()
	embed := &discordgo.MessageEmbed{
		Title: "Status",
		Color: 0x2ecc71,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Uptime", Value: utils.PrettyTime(int(time.Since(h.started).Seconds())), Inline: true},
			{Name: "Guilds", Value: fmt.Sprintf("%d", len(s.State.Guilds)), Inline: true},
			{Name: "Playing", Value: fmt.Sprintf("%d", len(playing)), Inline: true},
		},
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}},
	}); err != nil {
		log.Warn().Err(err).Str("guild", i.GuildID).Msg("status reply failed")
	}
}

func (h *CommandHandler) cmdSettings(s *discordgo.Session, i *discordgo.InteractionCreate) {
	memberID := userIDOf(i)
	if !h.isAdmin(i, memberID) {
		h.reply(s, i, "only admins can touch the settings", true)
		return
	}

	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]
	ctx := context.Background()

	switch sub.Name {
	case "show":
		set, err := h.repo.GetSettings(ctx, i.GuildID)
		if err != nil {
			log.Error().Err(err).Str("guild", i.GuildID).Msg("get settings failed")
			h.reply(s, i, "internal error", true)
			return
		}
		h.reply(s, i, fmt.Sprintf("skip: `%d`, shuffle: `%d`, stop: `%d`",
			set.SkipLimit, set.ShuffleLimit, set.StopLimit), true)
	case "set":
		var action string
		var limit int
		for _, o := range sub.Options {
			switch o.Name {
			case "action":
				action = o.StringValue()
			case "limit":
				limit = int(o.IntValue())
			}
		}
		if err := h.repo.SetLimit(ctx, i.GuildID, bard.Action(action), limit); err != nil {
			log.Error().Err(err).Str("guild", i.GuildID).Str("action", action).Msg("set limit failed")
			h.reply(s, i, "internal error", true)
			return
		}
		log.Info().Str("guild", i.GuildID).Str("user", memberID).Str("action", action).Int("limit", limit).Msg("vote limit changed")
		h.reply(s, i, fmt.Sprintf("%s limit is now `%d`", action, limit), true)
	}
}

// isAdmin reports whether the member may bypass voting. Owners always
// may, everyone else needs Manage Server.
func (h *CommandHandler) isAdmin(i *discordgo.InteractionCreate, userID string) bool {
	if h.cfg.IsOwner(userID) {
		return true
	}
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionManageGuild != 0
}

func (h *CommandHandler) reply(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	}); err != nil {
		log.Warn().Err(err).Str("guild", i.GuildID).Str("user", userIDOf(i)).Msg("reply failed")
	}
}

func (h *CommandHandler) deferReply(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	}); err != nil {
		log.Warn().Err(err).Str("guild", i.GuildID).Str("user", userIDOf(i)).Msg("defer reply failed")
	}
}

func (h *CommandHandler) editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	}); err != nil {
		log.Warn().Err(err).Str("guild", i.GuildID).Str("user", userIDOf(i)).Msg("edit reply failed")
	}
}

func userInVoice(s *discordgo.Session, guildID, userID string) (channelID string, ok bool) {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		g, _ = s.Guild(guildID)
	}
	if g == nil {
		return "", false
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, true
		}
	}
	return "", false
}

func userIDOf(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
