// Package commands implements the Discord handlers of the tutor: the /tutor
// slash command and the channel message handler that turns text messages
// and voice messages into tutoring turns.
package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/oraltutor/internal/discord"
	"github.com/MrWong99/oraltutor/internal/language"
	"github.com/MrWong99/oraltutor/internal/observe"
	"github.com/MrWong99/oraltutor/internal/render"
	"github.com/MrWong99/oraltutor/internal/session"
	"github.com/MrWong99/oraltutor/internal/tutor"
)

// maxChoices is Discord's autocomplete limit.
const maxChoices = 25

// Sender is the part of *discordgo.Session used to answer channel messages.
type Sender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

var _ Sender = (*discordgo.Session)(nil)

// TutorOption is a functional option for [NewTutorCommands].
type TutorOption func(*TutorCommands)

// WithMaxAttachmentBytes overrides [DefaultMaxAttachmentBytes].
func WithMaxAttachmentBytes(n int64) TutorOption {
	return func(tc *TutorCommands) {
		if n > 0 {
			tc.maxAttachment = n
		}
	}
}

// WithHTTPClient sets the client used to download attachments.
func WithHTTPClient(c *http.Client) TutorOption {
	return func(tc *TutorCommands) { tc.client = c }
}

// WithDefaultLanguage sets the language of sessions opened without one.
func WithDefaultLanguage(code string) TutorOption {
	return func(tc *TutorCommands) { tc.defaultLang = code }
}

// TutorCommands holds the dependencies for /tutor and channel messages.
// Each channel and user pair has its own session.
type TutorCommands struct {
	proc          *tutor.Processor
	renderer      *render.Renderer
	sessions      *session.Manager
	catalog       *language.Catalog
	client        *http.Client
	maxAttachment int64
	defaultLang   string
}

// NewTutorCommands creates a TutorCommands.
func NewTutorCommands(proc *tutor.Processor, renderer *render.Renderer, sessions *session.Manager, opts ...TutorOption) *TutorCommands {
	tc := &TutorCommands{
		proc:          proc,
		renderer:      renderer,
		sessions:      sessions,
		catalog:       proc.Catalog(),
		client:        http.DefaultClient,
		maxAttachment: DefaultMaxAttachmentBytes,
		defaultLang:   language.FallbackCode,
	}
	for _, o := range opts {
		o(tc)
	}
	return tc
}

// Attach registers the slash command with the bot's router and the message
// handler with the bot.
func (tc *TutorCommands) Attach(bot *discord.Bot) {
	tc.Register(bot.Router())
	bot.OnMessage(func(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
		tc.HandleMessage(ctx, s, m)
	})
}

// Register registers the /tutor command group and the clear button.
func (tc *TutorCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand(tc.Definition(), func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(s, i, "Please use a subcommand: `/tutor say`, `/tutor language` or `/tutor clear`.")
	})
	router.RegisterHandler("tutor/say", tc.handleSay)
	router.RegisterHandler("tutor/language", tc.handleLanguage)
	router.RegisterHandler("tutor/clear", tc.handleClear)
	router.RegisterAutocomplete("tutor/language", tc.handleLanguageAutocomplete)
	router.RegisterComponent(ClearButtonID, tc.handleClear)
}

// Definition returns the ApplicationCommand definition for Discord.
func (tc *TutorCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "tutor",
		Description: "Practise speaking a language",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "say",
				Description: "Say something to the tutor",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "text",
						Description: "What you want to say",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "language",
				Description: "Choose the language and voice you practise with",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:         discordgo.ApplicationCommandOptionString,
						Name:         "language",
						Description:  "Target language",
						Required:     true,
						Autocomplete: true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "voice",
						Description: "Voice ID (defaults to the first voice of the language)",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "clear",
				Description: "Start a new conversation",
			},
		},
	}
}

// SessionID returns the session key of a user in a channel.
func SessionID(channelID, userID string) string {
	return "discord:" + channelID + ":" + userID
}

// session opens the session of a user in a channel.
func (tc *TutorCommands) session(channelID, userID string) *session.Session {
	lang := tc.catalog.Resolve(tc.defaultLang)
	return tc.sessions.Open(SessionID(channelID, userID), session.VoiceConfig{
		Language: lang.Code,
		VoiceID:  lang.DefaultVoice().ID,
	})
}

// HandleMessage runs a turn for a channel message: the first audio
// attachment is a voice turn, otherwise the message text is a text turn.
// Learner-facing problems are answered with a short reply; duplicates are
// ignored.
func (tc *TutorCommands) HandleMessage(ctx context.Context, s Sender, m *discordgo.MessageCreate) {
	log := observe.Logger(ctx).With("channel_id", m.ChannelID, "user_id", m.Author.ID)

	var in tutor.Input
	if a := FirstAudio(m.Attachments); a != nil {
		audio, err := DownloadAudio(ctx, tc.client, a, tc.maxAttachment)
		if err != nil {
			log.Info("voice message rejected", "error", err)
			tc.send(s, m, &discordgo.MessageSend{Content: attachmentMessage(err)})
			return
		}
		in = tutor.Input{Mode: tutor.ModeVoice, Audio: audio, Format: AttachmentFormat(a)}
	} else {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			return
		}
		in = tutor.Input{Mode: tutor.ModeText, Text: text}
	}

	if err := s.ChannelTyping(m.ChannelID); err != nil {
		log.Debug("typing indicator failed", "error", err)
	}
	msg, err := tc.turn(ctx, tc.session(m.ChannelID, m.Author.ID), in)
	switch {
	case errors.Is(err, tutor.ErrDuplicateInput):
		return
	case err != nil:
		log.Warn("turn failed", "error", err)
		tc.send(s, m, &discordgo.MessageSend{Content: tutor.UserMessage(err)})
		return
	}
	tc.send(s, m, msg)
}

// turn processes in and builds the reply message. Once the turn is recorded
// the learner always gets the reply; a failed render degrades it to text.
func (tc *TutorCommands) turn(ctx context.Context, sess *session.Session, in tutor.Input) (*discordgo.MessageSend, error) {
	res, err := tc.proc.Process(ctx, sess, in)
	if err != nil {
		return nil, err
	}
	view, err := tc.renderer.Render(ctx, sess)
	if err != nil {
		observe.Logger(ctx).Warn("render failed, replying without audio", "session_id", sess.ID(), "error", err)
		view = render.TextView(sess.ID(), res.User, res.Assistant)
	}
	msg := BuildReply(view)
	if msg == nil {
		return nil, fmt.Errorf("commands: rendered view has no reply")
	}
	return msg, nil
}

func (tc *TutorCommands) send(s Sender, m *discordgo.MessageCreate, msg *discordgo.MessageSend) {
	msg.Reference = m.Reference()
	if _, err := s.ChannelMessageSendComplex(m.ChannelID, msg); err != nil {
		observe.Logger(context.Background()).Warn("discord: failed to send reply", "channel_id", m.ChannelID, "error", err)
	}
}

func attachmentMessage(err error) string {
	if errors.Is(err, ErrAttachmentTooLarge) {
		return "That voice message is too large to process. Please send a shorter one."
	}
	return "I could not download that voice message. Please try again."
}

// handleSay handles /tutor say.
func (tc *TutorCommands) handleSay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	text := optionString(i, "text")
	channelID, userID := i.ChannelID, interactionUserID(i)

	discord.DeferReply(s, i)
	msg, err := tc.turn(context.Background(), tc.session(channelID, userID), tutor.Input{Mode: tutor.ModeText, Text: text})
	if err != nil {
		discord.FollowUp(s, i, tutor.UserMessage(err))
		return
	}
	discord.FollowUpMessage(s, i, msg)
}

// handleLanguage handles /tutor language.
func (tc *TutorCommands) handleLanguage(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := tc.session(i.ChannelID, interactionUserID(i))
	vc, lang := tc.SetLanguage(sess, optionString(i, "language"), optionString(i, "voice"))
	voice, _ := lang.Voice(vc.VoiceID)
	discord.RespondEphemeral(s, i, fmt.Sprintf("Now practising **%s** with %s.", lang.Label(), voice.Name))
}

// SetLanguage normalises and applies a language and voice choice.
func (tc *TutorCommands) SetLanguage(sess *session.Session, langKey, voiceID string) (session.VoiceConfig, language.Language) {
	lang, voice := tc.catalog.Select(langKey, voiceID)
	vc := session.VoiceConfig{Language: lang.Code, VoiceID: voice.ID}
	sess.SetVoice(vc)
	return vc, lang
}

// handleClear handles /tutor clear and the clear button.
func (tc *TutorCommands) handleClear(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := tc.session(i.ChannelID, interactionUserID(i))
	if err := sess.Clear(context.Background()); err != nil {
		discord.RespondEphemeral(s, i, tutor.UserMessage(err))
		return
	}
	discord.RespondEphemeral(s, i, "Conversation cleared. Say something to start again!")
}

func (tc *TutorCommands) handleLanguageAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var typed string
	for _, o := range discord.SubcommandOptions(i.ApplicationCommandData()) {
		if o.Focused {
			typed = o.StringValue()
		}
	}
	discord.RespondChoices(s, i, LanguageChoices(tc.catalog, typed))
}

// LanguageChoices lists catalogue languages whose code or names contain
// prefix, case-insensitively.
func LanguageChoices(c *language.Catalog, prefix string) []*discordgo.ApplicationCommandOptionChoice {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	var out []*discordgo.ApplicationCommandOptionChoice
	for _, l := range c.Languages() {
		if prefix != "" &&
			!strings.Contains(l.Code, prefix) &&
			!strings.Contains(strings.ToLower(l.Name), prefix) &&
			!strings.Contains(strings.ToLower(l.NativeName), prefix) {
			continue
		}
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: l.Label(), Value: l.Code})
		if len(out) == maxChoices {
			break
		}
	}
	return out
}

func optionString(i *discordgo.InteractionCreate, name string) string {
	for _, o := range discord.SubcommandOptions(i.ApplicationCommandData()) {
		if o.Name == name {
			return o.StringValue()
		}
	}
	return ""
}

// interactionUserID returns the user who triggered the interaction in a
// guild or a DM.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
