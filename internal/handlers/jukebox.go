package handlers

import (
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/joshuajeschek/dandelion/internal/bard"
	"github.com/joshuajeschek/dandelion/internal/ui"
	"github.com/rs/zerolog/log"
)

// messenger sends and deletes channel messages. Implemented by the
// gateway session; faked in tests.
type messenger interface {
	sendMessage(channelID string, msg *discordgo.MessageSend) (string, error)
	deleteMessage(channelID, messageID string) error
}

type sessionMessenger struct {
	s *discordgo.Session
}

func (m sessionMessenger) sendMessage(channelID string, msg *discordgo.MessageSend) (string, error) {
	sent, err := m.s.ChannelMessageSendComplex(channelID, msg)
	if err != nil {
		return "", err
	}
	return sent.ID, nil
}

func (m sessionMessenger) deleteMessage(channelID, messageID string) error {
	return m.s.ChannelMessageDelete(channelID, messageID)
}

// jukeboxState is one guild's jukebox bookkeeping. Its mutex is held
// across the whole delete-and-resend so concurrent publishes cannot
// double-delete the same message or leave an orphan behind.
type jukeboxState struct {
	mu        sync.Mutex
	channelID string
	messageID string
	notice    string
}

// JukeboxManager keeps one jukebox message per guild and reposts it on
// every state change so it stays the newest message in the channel.
type JukeboxManager struct {
	mu     sync.Mutex
	msgr   messenger
	guilds map[string]*jukeboxState
}

func NewJukeboxManager() *JukeboxManager {
	return &JukeboxManager{guilds: make(map[string]*jukeboxState)}
}

// Bind attaches the gateway session used to send and delete messages.
func (m *JukeboxManager) Bind(s *discordgo.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgr = sessionMessenger{s: s}
}

func (m *JukeboxManager) state(guildID string) *jukeboxState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.guilds[guildID]
	if st == nil {
		st = &jukeboxState{}
		m.guilds[guildID] = st
	}
	return st
}

// SetChannel moves the guild's jukebox to the given text channel. The
// next publish posts there.
func (m *JukeboxManager) SetChannel(guildID, channelID string) {
	st := m.state(guildID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.channelID = channelID
}

// Announce attaches a one-shot notice shown above the embed on the next
// publish, such as "user voted to skip".
func (m *JukeboxManager) Announce(guildID, content string) {
	st := m.state(guildID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.notice = content
}

// Publish implements bard.Publisher. The previous jukebox message is
// deleted and a fresh one sent so the controls stay at the bottom of
// the channel. Publishes for the same guild are serialized.
func (m *JukeboxManager) Publish(guildID string, v bard.View) {
	m.mu.Lock()
	msgr := m.msgr
	m.mu.Unlock()
	if msgr == nil {
		return
	}

	st := m.state(guildID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.channelID == "" {
		return
	}
	notice := st.notice
	st.notice = ""

	if st.messageID != "" {
		if err := msgr.deleteMessage(st.channelID, st.messageID); err != nil {
			log.Debug().Err(err).Str("guild", guildID).Msg("could not delete old jukebox message")
		}
		st.messageID = ""
	}

	id, err := msgr.sendMessage(st.channelID, ui.Jukebox(v, notice))
	if err != nil {
		log.Warn().Err(err).Str("guild", guildID).Msg("could not send jukebox message")
		return
	}
	st.messageID = id
}
