// Command oraltutor is the main entry point for the oraltutor speaking-practice
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/oraltutor/internal/app"
	"github.com/MrWong99/oraltutor/internal/config"
	"github.com/MrWong99/oraltutor/internal/observe"
	"github.com/MrWong99/oraltutor/pkg/provider/llm"
	"github.com/MrWong99/oraltutor/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/oraltutor/pkg/provider/llm/openai"
	"github.com/MrWong99/oraltutor/pkg/provider/stt"
	"github.com/MrWong99/oraltutor/pkg/provider/stt/deepgram"
	"github.com/MrWong99/oraltutor/pkg/provider/stt/google"
	oaistt "github.com/MrWong99/oraltutor/pkg/provider/stt/openai"
	"github.com/MrWong99/oraltutor/pkg/provider/stt/whisper"
	"github.com/MrWong99/oraltutor/pkg/provider/tts"
	"github.com/MrWong99/oraltutor/pkg/provider/tts/coqui"
	"github.com/MrWong99/oraltutor/pkg/provider/tts/edge"
	"github.com/MrWong99/oraltutor/pkg/provider/tts/elevenlabs"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// groqBaseURL is the OpenAI-compatible endpoint used by the "groq" entries.
const groqBaseURL = "https://api.groq.com/openai/v1"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mcpMode := flag.Bool("mcp", false, "serve the tutor as MCP tools over stdin/stdout instead of HTTP")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "oraltutor: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "oraltutor: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Stdout carries the MCP protocol in -mcp mode, so logs always go to stderr.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("oraltutor starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"mcp", *mcpMode,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(reg, cfg.Providers, observe.DefaultMetrics())
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	reloader, err := config.NewReloader(*configPath, config.OnChange(func(c config.Change) {
		if c.Diff.LogLevelChanged {
			level.Set(slogLevel(c.Diff.NewLogLevel))
			slog.Info("log level changed", "level", c.Diff.NewLogLevel)
		}
		if len(c.Diff.RestartRequired) > 0 {
			slog.Warn("config changed; restart to apply", "sections", c.Diff.RestartRequired)
		}
	}))
	if err != nil {
		slog.Warn("config reload disabled", "err", err)
	} else {
		go reloader.Run(ctx)
	}

	// ── Application ───────────────────────────────────────────────────────────
	if *mcpMode {
		// The bot would compete with the stdio session for the same users.
		cfg.Discord.Token = ""
	} else {
		printStartupSummary(os.Stderr, cfg)
	}

	application, err := app.New(ctx, cfg, providers,
		app.WithVersion(version),
		app.WithMetricsHandler(telemetry.Handler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *mcpMode {
		slog.Info("serving MCP over stdio")
		err = application.RunMCP(ctx)
	} else {
		slog.Info("server ready, press Ctrl+C to shut down")
		err = application.Run(ctx)
	}
	exit := 0
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai and groq go through the OpenAI SDK for native JSON mode.
	for name, defaultURL := range map[string]string{"openai": "", "groq": groqBaseURL} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []oaillm.Option
			if u := firstNonEmpty(entry.BaseURL, defaultURL); u != "" {
				opts = append(opts, oaillm.WithBaseURL(u))
			}
			if org := optString(entry.Options, "organization"); org != "" {
				opts = append(opts, oaillm.WithOrganization(org))
			}
			if entry.Timeout > 0 {
				opts = append(opts, oaillm.WithTimeout(entry.Timeout))
			}
			return asLLM(oaillm.New(entry.APIKey, entry.Model, opts...))
		})
	}

	// Everything else goes through any-llm; openai and groq keep the native
	// client for its JSON mode.
	for _, providerName := range anyllm.Backends() {
		if providerName == "openai" || providerName == "groq" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return asLLM(anyllm.New(providerName, entry.Model, opts...))
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	for name, defaultURL := range map[string]string{"openai": "", "groq": groqBaseURL} {
		reg.RegisterSTT(name, func(entry config.ProviderEntry) (stt.Provider, error) {
			var opts []oaistt.Option
			if u := firstNonEmpty(entry.BaseURL, defaultURL); u != "" {
				opts = append(opts, oaistt.WithBaseURL(u))
			}
			if entry.Timeout > 0 {
				opts = append(opts, oaistt.WithTimeout(entry.Timeout))
			}
			return asSTT(oaistt.New(entry.APIKey, entry.Model, opts...))
		})
	}

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return asSTT(deepgram.New(entry.APIKey, opts...))
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if entry.Timeout > 0 {
			opts = append(opts, whisper.WithTimeout(entry.Timeout))
		}
		return asSTT(whisper.New(entry.BaseURL, opts...))
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return asSTT(whisper.NewNative(modelPath, opts...))
	})

	reg.RegisterSTT("google", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []google.Option
		if entry.APIKey != "" {
			opts = append(opts, google.WithAPIKey(entry.APIKey))
		}
		if path := optString(entry.Options, "credentials_file"); path != "" {
			opts = append(opts, google.WithCredentialsFile(path))
		}
		if entry.BaseURL != "" {
			opts = append(opts, google.WithEndpoint(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, google.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, google.WithLanguage(lang))
		}
		return asSTT(google.New(context.Background(), opts...))
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("edge", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []edge.Option
		if entry.BaseURL != "" {
			opts = append(opts, edge.WithEndpoint(entry.BaseURL))
		}
		if u := optString(entry.Options, "voices_url"); u != "" {
			opts = append(opts, edge.WithVoicesURL(u))
		}
		if f := optString(entry.Options, "output_format"); f != "" {
			opts = append(opts, edge.WithOutputFormat(f))
		}
		if v := optString(entry.Options, "default_voice"); v != "" {
			opts = append(opts, edge.WithDefaultVoice(v))
		}
		return asTTS(edge.New(opts...))
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return asTTS(elevenlabs.New(entry.APIKey, opts...))
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if entry.Timeout > 0 {
			opts = append(opts, coqui.WithTimeout(entry.Timeout))
		}
		return asTTS(coqui.New(entry.BaseURL, opts...))
	})

	for _, kind := range []string{"llm", "stt", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        oraltutor startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider(w, "STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider(w, "TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	store := string(cfg.Store.Backend)
	if store == "" {
		store = string(config.StoreMemory)
	}
	fmt.Fprintf(w, "║  Store           : %-19s ║\n", store)
	if cfg.Discord.Token != "" {
		fmt.Fprintf(w, "║  Discord         : %-19s ║\n", "enabled")
	} else {
		fmt.Fprintf(w, "║  Discord         : %-19s ║\n", "(disabled)")
	}
	fmt.Fprintf(w, "║  Default language: %-19s ║\n", cfg.Tutor.DefaultLanguage)
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// asLLM, asSTT and asTTS keep a failed constructor from yielding a non-nil
// interface holding a nil pointer.
func asLLM[P llm.Provider](p P, err error) (llm.Provider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}

func asSTT[P stt.Provider](p P, err error) (stt.Provider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}

func asTTS[P tts.Provider](p P, err error) (tts.Provider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
