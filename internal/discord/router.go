package discord

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc handles one interaction: a slash command, an autocomplete
// request or a button press.
type HandlerFunc func(s *discordgo.Session, i *discordgo.InteractionCreate)

// CommandRouter dispatches interactions by key. Slash command keys are
// "command" or "command/subcommand"; component keys are custom IDs.
type CommandRouter struct {
	mu           sync.RWMutex
	definitions  map[string]*discordgo.ApplicationCommand
	commands     map[string]HandlerFunc
	autocomplete map[string]HandlerFunc
	components   map[string]HandlerFunc
}

// NewCommandRouter creates an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{
		definitions:  make(map[string]*discordgo.ApplicationCommand),
		commands:     make(map[string]HandlerFunc),
		autocomplete: make(map[string]HandlerFunc),
		components:   make(map[string]HandlerFunc),
	}
}

// RegisterCommand registers a top-level slash command definition. handler
// receives invocations whose subcommand has no handler of its own.
func (r *CommandRouter) RegisterCommand(def *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[def.Name] = def
	r.commands[def.Name] = handler
}

// RegisterHandler registers the handler for a "command/subcommand" key.
func (r *CommandRouter) RegisterHandler(key string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[key] = handler
}

// RegisterAutocomplete registers an autocomplete handler for a command key.
func (r *CommandRouter) RegisterAutocomplete(key string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autocomplete[key] = handler
}

// RegisterComponent registers a button handler by custom ID.
func (r *CommandRouter) RegisterComponent(customID string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[customID] = handler
}

// ApplicationCommands returns the registered definitions ordered by name.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmds := make([]*discordgo.ApplicationCommand, 0, len(r.definitions))
	for _, def := range r.definitions {
		cmds = append(cmds, def)
	}
	slices.SortFunc(cmds, func(a, b *discordgo.ApplicationCommand) int {
		return strings.Compare(a.Name, b.Name)
	})
	return cmds
}

// Handle dispatches an interaction. A panicking handler is logged and the
// user gets an ephemeral error instead of a failed interaction.
func (r *CommandRouter) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var (
		handler HandlerFunc
		key     string
		kind    string
	)
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		kind, key = "command", InteractionKey(i.ApplicationCommandData())
		handler = r.lookup(r.commands, key, true)
	case discordgo.InteractionApplicationCommandAutocomplete:
		kind, key = "autocomplete", InteractionKey(i.ApplicationCommandData())
		handler = r.lookup(r.autocomplete, key, false)
	case discordgo.InteractionMessageComponent:
		kind, key = "component", i.MessageComponentData().CustomID
		handler = r.lookup(r.components, key, false)
	default:
		slog.Warn("discord: unhandled interaction type", "type", i.Type)
		return
	}

	if handler == nil {
		slog.Warn("discord: no handler", "kind", kind, "key", key)
		if kind == "autocomplete" {
			RespondChoices(s, i, nil)
		} else {
			RespondEphemeral(s, i, "That action is not available.")
		}
		return
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("discord: handler panicked", "kind", kind, "key", key, "panic", p)
			RespondEphemeral(s, i, "Something went wrong. Please try again.")
		}
	}()
	handler(s, i)
}

// lookup finds the handler for key. With parent set, "command/sub" falls
// back to the handler registered for "command".
func (r *CommandRouter) lookup(m map[string]HandlerFunc, key string, parent bool) HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := m[key]; ok {
		return h
	}
	if parent {
		if name, _, found := strings.Cut(key, "/"); found {
			return m[name]
		}
	}
	return nil
}

// InteractionKey builds a router key from an ApplicationCommand interaction.
func InteractionKey(data discordgo.ApplicationCommandInteractionData) string {
	key := data.Name
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		key += "/" + data.Options[0].Name
	}
	return key
}

// SubcommandOptions returns the options of the invoked subcommand, or the
// top-level options when no subcommand was used.
func SubcommandOptions(data discordgo.ApplicationCommandInteractionData) []*discordgo.ApplicationCommandInteractionDataOption {
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return data.Options[0].Options
	}
	return data.Options
}
