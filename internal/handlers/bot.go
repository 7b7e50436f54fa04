package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joshuajeschek/dandelion/internal/bard"
	"github.com/joshuajeschek/dandelion/internal/config"
	"github.com/joshuajeschek/dandelion/internal/repository"
	"github.com/joshuajeschek/dandelion/internal/resolver"
	"github.com/joshuajeschek/dandelion/internal/voice"
	"github.com/rs/zerolog/log"
)

type Bot struct {
	cfg      *config.Config
	repo     *repository.Repo
	votes    *bard.VoteGate
	jukebox  *JukeboxManager
	resolver *resolver.Resolver
}

func NewBot(cfg *config.Config, repo *repository.Repo) *Bot {
	return &Bot{
		cfg:      cfg,
		repo:     repo,
		votes:    bard.NewVoteGate(bard.DefaultVoteTTL),
		jukebox:  NewJukeboxManager(),
		resolver: resolver.New(cfg),
	}
}

func (b *Bot) Run(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + b.cfg.DiscordToken)
	if err != nil {
		return err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	b.jukebox.Bind(dg)
	registry := bard.NewRegistry(b.resolver, voice.NewTransport(dg), b.votes, b.jukebox, b.repo)
	cmd := NewCommandHandler(b.cfg, b.repo, registry, b.votes, b.resolver, b.jukebox)
	reporter := bard.NewActivityReporter(registry, gatewayPresence{dg},
		time.Duration(b.cfg.ActivityInterval)*time.Second)

	// On ready: register commands depending on configuration
	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		log.Info().Str("user", s.State.User.Username).Msg("connected")
		appID := s.State.User.ID

		if b.cfg.RegisterCommandsOnBot {
			if err := cmd.RegisterCommands(s, appID, ""); err != nil {
				log.Error().Err(err).Msg("register global commands")
			} else {
				log.Info().Msg("registered global application commands")
			}
			return
		}

		guildIDs := b.cfg.GuildIDs
		if len(guildIDs) == 0 {
			for _, g := range s.State.Guilds {
				guildIDs = append(guildIDs, g.ID)
			}
		}
		var wg sync.WaitGroup
		for _, guildID := range guildIDs {
			wg.Add(1)
			go func(guildID string) {
				defer wg.Done()
				if err := cmd.RegisterCommands(s, appID, guildID); err != nil {
					log.Error().Err(err).Str("guild", guildID).Msg("register guild commands")
				}
			}(guildID)
		}
		wg.Wait()

		if _, err := s.ApplicationCommandBulkOverwrite(appID, "", []*discordgo.ApplicationCommand{}); err != nil {
			log.Error().Err(err).Msg("clear global commands")
		}
		log.Info().Int("guilds", len(guildIDs)).Msg("registered commands per guild")
	})

	// If registering per-guild, register on new guilds too
	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		if b.cfg.RegisterCommandsOnBot || len(b.cfg.GuildIDs) > 0 {
			return
		}
		if err := cmd.RegisterCommands(s, s.State.User.ID, g.ID); err != nil {
			log.Error().Err(err).Str("guild", g.ID).Msg("register guild commands on join")
		}
	})

	dg.AddHandler(cmd.HandleInteraction)

	// leave the voice channel once only bots are left in it
	dg.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		sess := registry.Get(vs.GuildID)
		if sess == nil || !sess.IsConnected() {
			return
		}
		if getNonBotSize(s, vs.GuildID, sess.ChannelID()) == 0 {
			log.Info().Str("guild", vs.GuildID).Msg("alone in voice channel, leaving")
			sess.Disconnect()
		}
	})

	if err := dg.Open(); err != nil {
		return err
	}
	defer dg.Close()

	reporter.Start()
	defer reporter.Stop()
	defer registry.Shutdown()

	<-ctx.Done()
	return nil
}

func getNonBotSize(s *discordgo.Session, guildID, channelID string) int {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		return 0
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID {
			m, _ := s.State.Member(guildID, vs.UserID)
			if m != nil && m.User != nil && !m.User.Bot {
				n++
			}
		}
	}
	return n
}
