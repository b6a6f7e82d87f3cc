package commands

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/oraltutor/internal/render"
	"github.com/MrWong99/oraltutor/internal/session"
)

// Embed colour of tutor replies.
const replyColor = 0x3BA55D

// ClearButtonID is the custom_id of the "New conversation" button.
const ClearButtonID = "tutor_clear"

// maxFieldLen is Discord's limit for an embed field value.
const maxFieldLen = 1024

// BuildReply turns the newest assistant turn of view into a Discord message:
// an embed with the correction, the optimized sentence, the reply and the
// follow-up suggestions, plus the synthesized clips as file attachments.
// It returns nil when the view has no assistant turn.
func BuildReply(view *render.View) *discordgo.MessageSend {
	last := -1
	for i := len(view.Turns) - 1; i >= 0; i-- {
		if view.Turns[i].Role == session.RoleAssistant {
			last = i
			break
		}
	}
	if last < 0 {
		return nil
	}
	a := view.Turns[last]

	embed := &discordgo.MessageEmbed{Color: replyColor}
	if a.Interaction != "" {
		embed.Description = a.Interaction
	}
	addField(embed, "Correction", a.Correction)
	addField(embed, "Say it like this", a.OptimizedText)
	if len(a.Tips) > 0 {
		addField(embed, "Try answering", strings.Join(a.Tips, "\n"))
	}
	if last > 0 {
		if u := view.Turns[last-1]; u.Role == session.RoleUser && u.Similarity > 0 {
			addField(embed, "Shadowing", fmt.Sprintf("You repeated the model sentence (%.0f%% match).", u.Similarity*100))
		}
	}
	if len(view.Warnings) > 0 {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: strings.Join(view.Warnings, " ")}
	}

	msg := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "New conversation", Style: discordgo.SecondaryButton, CustomID: ClearButtonID},
			}},
		},
	}
	for _, c := range []*render.Clip{a.InteractionAudio, a.OptimizedAudio} {
		if f := clipFile(c); f != nil {
			msg.Files = append(msg.Files, f)
		}
	}
	return msg
}

func addField(embed *discordgo.MessageEmbed, name, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if r := []rune(value); len(r) > maxFieldLen {
		value = string(r[:maxFieldLen-1]) + "…"
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: name, Value: value})
}

// clipFile decodes a rendered clip into an attachment named after its field.
func clipFile(c *render.Clip) *discordgo.File {
	if c == nil || c.Data == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil || len(data) == 0 {
		return nil
	}
	return &discordgo.File{
		Name:        c.Field + extension(c.MIMEType),
		ContentType: c.MIMEType,
		Reader:      bytes.NewReader(data),
	}
}

func extension(mimeType string) string {
	switch mimeType {
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	}
	return ".bin"
}
