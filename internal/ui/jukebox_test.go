package ui

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuajeschek/dandelion/internal/bard"
)

func sampleView() bard.View {
	return bard.View{
		Connected: true,
		Now: &bard.MediaItem{
			ID:        "a",
			Title:     "Song A",
			URL:       "https://media.example/a",
			Thumbnail: "https://media.example/a.jpg",
			Duration:  185,
		},
		Upcoming: []bard.MediaItem{
			{ID: "b", Title: "Song B"},
			{ID: "c", Title: "Song C"},
		},
		Controls: []bard.Control{
			{ID: bard.ControlPlayPause, Label: "pause", Emoji: "⏸️", Enabled: true},
			{ID: bard.ControlShuffle, Label: "shuffle", Emoji: "🔀", Enabled: true},
			{ID: bard.ControlSkip, Label: "skip (1/2)", Emoji: "⏭️", Enabled: true},
			{ID: bard.ControlStop, Label: "stop", Emoji: "⏹️", Enabled: true},
		},
	}
}

func TestJukebox_IdleMessage(t *testing.T) {
	msg := Jukebox(bard.View{}, "")
	assert.NotEmpty(t, msg.Content)
	assert.Empty(t, msg.Embeds)
	assert.Empty(t, msg.Components)
}

func TestJukebox_PlayingEmbed(t *testing.T) {
	msg := Jukebox(sampleView(), "")

	require.Len(t, msg.Embeds, 1)
	embed := msg.Embeds[0]
	assert.Equal(t, "Song A", embed.Title)
	assert.Equal(t, "https://media.example/a", embed.URL)
	assert.Contains(t, embed.Description, "3:05")
	require.NotNil(t, embed.Image)

	require.Len(t, embed.Fields, 2)
	assert.Equal(t, "Up Next", embed.Fields[0].Name)
	assert.Equal(t, "Song B", embed.Fields[0].Value)
	assert.Equal(t, "2.", embed.Fields[1].Name)
	assert.Nil(t, embed.Footer)
}

func TestJukebox_TruncationFooter(t *testing.T) {
	v := sampleView()
	v.Truncated = 7
	msg := Jukebox(v, "")

	require.Len(t, msg.Embeds, 1)
	require.NotNil(t, msg.Embeds[0].Footer)
	assert.Contains(t, msg.Embeds[0].Footer.Text, "7 more")
}

func TestJukebox_Controls(t *testing.T) {
	msg := Jukebox(sampleView(), "vote notice")

	assert.Equal(t, "vote notice", msg.Content)
	require.Len(t, msg.Components, 1)
	row, ok := msg.Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	require.Len(t, row.Components, 4)

	skip, ok := row.Components[2].(discordgo.Button)
	require.True(t, ok)
	assert.Equal(t, bard.ControlSkip, skip.CustomID)
	assert.Equal(t, "skip (1/2)", skip.Label)
	assert.False(t, skip.Disabled)

	stop, ok := row.Components[3].(discordgo.Button)
	require.True(t, ok)
	assert.Equal(t, discordgo.DangerButton, stop.Style)
}

func TestJukebox_EscapesMarkdownTitles(t *testing.T) {
	v := sampleView()
	v.Now.Title = "big*star*"
	msg := Jukebox(v, "")
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, "big\\*star\\*", msg.Embeds[0].Title)
}
