// Package discord is the Discord front end of the tutor. [Bot] owns the
// gateway session, [CommandRouter] dispatches slash commands, autocomplete
// and buttons, and channel messages from learners go to [MessageHandler]s.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID scopes slash command registration. Empty registers global
	// commands, which Discord may take up to an hour to propagate.
	GuildID string

	// Channels restricts message handling to these channel IDs. Empty
	// accepts every channel the bot can read.
	Channels []string
}

// intents covers slash commands plus reading learner messages in guilds and
// DMs. MessageContent is privileged and must be enabled in the developer
// portal.
const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

// MessageHandler handles one accepted channel message on its own goroutine.
// ctx is cancelled when the bot closes.
type MessageHandler func(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate)

// Bot is a connected Discord session.
type Bot struct {
	session *discordgo.Session
	router  *CommandRouter
	filter  *ChannelFilter
	guildID string

	// ctx outlives the caller of New and ends with Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	handlers   []MessageHandler
	registered []*discordgo.ApplicationCommand
	closed     bool
}

// New connects to the gateway. Handlers and commands may be added until
// [Bot.Run] is called.
func New(ctx context.Context, cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = intents

	b := &Bot{
		session: s,
		router:  NewCommandRouter(),
		filter:  NewChannelFilter(cfg.Channels),
		guildID: cfg.GuildID,
	}
	b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) { b.router.Handle(s, i) })
	s.AddHandler(b.dispatch)

	if err := s.Open(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("discord: open gateway: %w", err)
	}
	slog.Info("discord gateway connected", "guild_id", cfg.GuildID, "channels", len(cfg.Channels))
	return b, nil
}

// Router returns the router commands register on.
func (b *Bot) Router() *CommandRouter { return b.router }

// OnMessage adds a handler for accepted channel messages.
func (b *Bot) OnMessage(h MessageHandler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

func (b *Bot) dispatch(s *discordgo.Session, m *discordgo.MessageCreate) {
	if !Accept(s.State.User, m, b.filter) {
		return
	}
	b.mu.Lock()
	handlers := b.handlers
	b.mu.Unlock()
	for _, h := range handlers {
		go h(b.ctx, s, m)
	}
}

// Accept reports whether m is a learner message the bot should answer: sent
// by a human other than the bot, in an allowed channel.
func Accept(self *discordgo.User, m *discordgo.MessageCreate, filter *ChannelFilter) bool {
	switch {
	case m == nil || m.Message == nil || m.Author == nil:
		return false
	case m.Author.Bot:
		return false
	case self != nil && m.Author.ID == self.ID:
		return false
	}
	return filter.Allows(m.ChannelID)
}

// Run publishes the router's slash commands and blocks until ctx ends.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.publish(); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (b *Bot) publish() error {
	cmds := b.router.ApplicationCommands()
	if len(cmds) == 0 {
		return nil
	}
	got, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.guildID, cmds)
	if err != nil {
		return fmt.Errorf("discord: publish commands: %w", err)
	}
	b.mu.Lock()
	b.registered = got
	b.mu.Unlock()
	slog.Info("discord commands published", "count", len(got))
	return nil
}

// Close stops message handlers, withdraws published commands and closes the
// gateway. Later calls are no-ops.
func (b *Bot) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	registered := b.registered
	b.mu.Unlock()

	b.cancel()
	appID := b.session.State.User.ID
	for _, cmd := range registered {
		if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
			slog.Warn("discord: withdraw command", "name", cmd.Name, "err", err)
		}
	}
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("discord: close gateway: %w", err)
	}
	slog.Info("discord gateway closed")
	return nil
}
