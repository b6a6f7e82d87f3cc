package discord

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/oraltutor/internal/discord/mock"
)

func TestNew_EmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(t.Context(), Config{}); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestChannelFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		filter  *ChannelFilter
		channel string
		want    bool
	}{
		{"nil filter allows all", nil, "c1", true},
		{"empty filter allows all", NewChannelFilter(nil), "c1", true},
		{"listed channel", NewChannelFilter([]string{"c1", "c2"}), "c2", true},
		{"unlisted channel", NewChannelFilter([]string{"c1"}), "c3", false},
		{"blank ids ignored", NewChannelFilter([]string{""}), "c3", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.filter.Allows(tt.channel); got != tt.want {
				t.Errorf("Allows(%q) = %v, want %v", tt.channel, got, tt.want)
			}
		})
	}
}

func TestAccept(t *testing.T) {
	t.Parallel()

	self := &discordgo.User{ID: "bot-self"}
	msg := func(author *discordgo.User, channel string) *discordgo.MessageCreate {
		return &discordgo.MessageCreate{Message: &discordgo.Message{Author: author, ChannelID: channel}}
	}
	human := &discordgo.User{ID: "u1"}
	filter := NewChannelFilter([]string{"c1"})

	tests := []struct {
		name string
		m    *discordgo.MessageCreate
		want bool
	}{
		{"human in allowed channel", msg(human, "c1"), true},
		{"human in other channel", msg(human, "c2"), false},
		{"other bot", msg(&discordgo.User{ID: "b2", Bot: true}, "c1"), false},
		{"own message", msg(self, "c1"), false},
		{"no author", msg(nil, "c1"), false},
		{"nil message", &discordgo.MessageCreate{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Accept(self, tt.m, filter); got != tt.want {
				t.Errorf("Accept = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInteractionKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data discordgo.ApplicationCommandInteractionData
		want string
	}{
		{"top level", discordgo.ApplicationCommandInteractionData{Name: "tutor"}, "tutor"},
		{
			"subcommand",
			discordgo.ApplicationCommandInteractionData{
				Name: "tutor",
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{Name: "clear", Type: discordgo.ApplicationCommandOptionSubCommand},
				},
			},
			"tutor/clear",
		},
		{
			"plain option",
			discordgo.ApplicationCommandInteractionData{
				Name: "tutor",
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{Name: "text", Type: discordgo.ApplicationCommandOptionString, Value: "hi"},
				},
			},
			"tutor",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := InteractionKey(tt.data); got != tt.want {
				t.Errorf("InteractionKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubcommandOptions(t *testing.T) {
	t.Parallel()

	inner := []*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "language", Type: discordgo.ApplicationCommandOptionString, Value: "ja"},
	}
	data := discordgo.ApplicationCommandInteractionData{
		Name: "tutor",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: "language", Type: discordgo.ApplicationCommandOptionSubCommand, Options: inner},
		},
	}
	got := SubcommandOptions(data)
	if len(got) != 1 || got[0].StringValue() != "ja" {
		t.Errorf("SubcommandOptions = %v, want the nested language option", got)
	}
}

func TestCommandRouter_ApplicationCommands(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	nop := func(*discordgo.Session, *discordgo.InteractionCreate) {}
	r.RegisterCommand(&discordgo.ApplicationCommand{Name: "tutor"}, nop)
	r.RegisterCommand(&discordgo.ApplicationCommand{Name: "languages"}, nop)
	r.RegisterCommand(&discordgo.ApplicationCommand{Name: "tutor", Description: "replaced"}, nop)
	r.RegisterHandler("tutor/clear", nop)

	cmds := r.ApplicationCommands()
	if len(cmds) != 2 {
		t.Fatalf("got %d commands, want 2", len(cmds))
	}
	if cmds[0].Name != "languages" || cmds[1].Name != "tutor" || cmds[1].Description != "replaced" {
		t.Errorf("commands = %q/%q (%q), want languages, tutor (replaced)", cmds[0].Name, cmds[1].Name, cmds[1].Description)
	}
}

func subcommand(typ discordgo.InteractionType, sub string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: typ,
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "tutor",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: sub, Type: discordgo.ApplicationCommandOptionSubCommand},
			},
		},
	}}
}

func button(customID string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionMessageComponent,
		Data: discordgo.MessageComponentInteractionData{CustomID: customID},
	}}
}

func TestCommandRouter_Handle(t *testing.T) {
	t.Parallel()

	var got []string
	record := func(name string) HandlerFunc {
		return func(*discordgo.Session, *discordgo.InteractionCreate) { got = append(got, name) }
	}
	r := NewCommandRouter()
	r.RegisterCommand(&discordgo.ApplicationCommand{Name: "tutor"}, record("tutor"))
	r.RegisterHandler("tutor/clear", record("clear"))
	r.RegisterAutocomplete("tutor/language", record("autocomplete"))
	r.RegisterComponent("tutor_clear", record("button"))

	s, rest := mock.NewSession()
	r.Handle(s, subcommand(discordgo.InteractionApplicationCommand, "clear"))
	r.Handle(s, subcommand(discordgo.InteractionApplicationCommand, "dance"))
	r.Handle(s, subcommand(discordgo.InteractionApplicationCommandAutocomplete, "language"))
	r.Handle(s, button("tutor_clear"))

	want := []string{"clear", "tutor", "autocomplete", "button"}
	if len(got) != len(want) {
		t.Fatalf("dispatched %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dispatch %d = %q, want %q", i, got[i], want[i])
		}
	}
	if calls := rest.Calls(); len(calls) != 0 {
		t.Errorf("router answered by itself: %+v", calls)
	}
}

func TestCommandRouter_HandleUnknown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       *discordgo.InteractionCreate
		wantBody string
	}{
		{"command", subcommand(discordgo.InteractionApplicationCommand, "clear"), "not available"},
		{"autocomplete", subcommand(discordgo.InteractionApplicationCommandAutocomplete, "language"), `"type":8`},
		{"button", button("stale_button"), "not available"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, rest := mock.NewSession()
			NewCommandRouter().Handle(s, tc.in)

			calls := rest.Calls()
			if len(calls) != 1 {
				t.Fatalf("REST calls = %d, want 1", len(calls))
			}
			if !strings.Contains(calls[0].Body, tc.wantBody) {
				t.Errorf("response body %s does not contain %q", calls[0].Body, tc.wantBody)
			}
		})
	}
}

func TestCommandRouter_RecoversPanics(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	r.RegisterComponent("tutor_clear", func(*discordgo.Session, *discordgo.InteractionCreate) {
		panic("store exploded")
	})
	s, rest := mock.NewSession()
	r.Handle(s, button("tutor_clear"))

	calls := rest.Calls()
	if len(calls) != 1 || !strings.Contains(calls[0].Body, "Something went wrong") {
		t.Errorf("REST calls = %+v, want one apology", calls)
	}
}
