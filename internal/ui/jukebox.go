// Package ui renders playback views into Discord messages.
package ui

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/joshuajeschek/dandelion/internal/bard"
	"github.com/joshuajeschek/dandelion/internal/utils"
)

const idleContent = "I am currently not playing something, use `search` to find a song and add it to the queue!"

// Jukebox renders a playback view into a sendable message: an embed for
// the current item and upcoming queue, plus a row of control buttons.
func Jukebox(v bard.View, content string) *discordgo.MessageSend {
	msg := &discordgo.MessageSend{Content: content}

	if !v.Connected || v.Now == nil {
		if msg.Content == "" {
			msg.Content = idleContent
		}
		return msg
	}

	embed := &discordgo.MessageEmbed{
		Title:       utils.EscapeMd(v.Now.Title),
		URL:         v.Now.URL,
		Description: nowDescription(*v.Now),
	}
	if v.Now.Thumbnail != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: v.Now.Thumbnail}
	}

	for i, item := range v.Upcoming {
		name := fmt.Sprintf("%d.", i+1)
		if i == 0 {
			name = "Up Next"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   name,
			Value:  utils.EscapeMd(item.Title),
			Inline: true,
		})
	}
	if v.Truncated > 0 {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("… and %d more", v.Truncated),
		}
	}

	msg.Embeds = []*discordgo.MessageEmbed{embed}
	msg.Components = []discordgo.MessageComponent{controlRow(v.Controls)}
	return msg
}

func nowDescription(item bard.MediaItem) string {
	desc := ""
	if item.Description != "" {
		desc = utils.EscapeMd(item.Description) + "\n"
	}
	if item.Duration > 0 {
		desc += "duration: " + utils.PrettyTime(item.Duration)
	}
	return desc
}

func controlRow(controls []bard.Control) discordgo.ActionsRow {
	row := discordgo.ActionsRow{}
	for _, c := range controls {
		style := discordgo.SecondaryButton
		switch c.ID {
		case bard.ControlPlayPause:
			style = discordgo.PrimaryButton
		case bard.ControlStop:
			style = discordgo.DangerButton
		}
		row.Components = append(row.Components, discordgo.Button{
			CustomID: c.ID,
			Label:    c.Label,
			Emoji:    &discordgo.ComponentEmoji{Name: c.Emoji},
			Style:    style,
			Disabled: !c.Enabled,
		})
	}
	return row
}
