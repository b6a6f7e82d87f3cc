package discord

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Interaction replies are best effort: the token may have expired or the
// user left, and nothing upstream can act on the failure. Errors are logged.

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, what string, resp *discordgo.InteractionResponse) {
	if err := s.InteractionRespond(i.Interaction, resp); err != nil {
		slog.Warn("discord: interaction response failed", "kind", what, "err", err)
	}
}

func followUp(s *discordgo.Session, i *discordgo.InteractionCreate, params *discordgo.WebhookParams) {
	if _, err := s.FollowupMessageCreate(i.Interaction, true, params); err != nil {
		slog.Warn("discord: follow-up failed", "err", err)
	}
}

// RespondEphemeral answers with text only the invoking user sees.
func RespondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	respond(s, i, "ephemeral", &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral},
	})
}

// RespondChoices answers an autocomplete request. nil choices clear the list.
func RespondChoices(s *discordgo.Session, i *discordgo.InteractionCreate, choices []*discordgo.ApplicationCommandOptionChoice) {
	respond(s, i, "autocomplete", &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
}

// DeferReply acknowledges a command whose answer follows via [FollowUp] or
// [FollowUpMessage]. Discord shows "thinking" until then.
func DeferReply(s *discordgo.Session, i *discordgo.InteractionCreate) {
	respond(s, i, "defer", &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

// FollowUp completes a deferred reply with plain text.
func FollowUp(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	followUp(s, i, &discordgo.WebhookParams{Content: content})
}

// FollowUpMessage completes a deferred reply with a rendered tutor message.
func FollowUpMessage(s *discordgo.Session, i *discordgo.InteractionCreate, msg *discordgo.MessageSend) {
	followUp(s, i, &discordgo.WebhookParams{
		Content:    msg.Content,
		Embeds:     msg.Embeds,
		Files:      msg.Files,
		Components: msg.Components,
	})
}
