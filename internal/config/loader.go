package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/oraltutor/internal/language"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "groq", "anthropic", "ollama", "gemini", "deepseek", "mistral", "llamacpp", "llamafile"},
	"stt": {"openai", "groq", "deepgram", "whisper", "whisper-native", "google"},
	"tts": {"edge", "elevenlabs", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// References of the form ${NAME} are replaced with the value of the
// environment variable NAME before decoding; unset variables expand to "".
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	data = ExpandEnv(data)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${NAME} references in data with environment values.
// A bare $ is left alone so passwords and DSNs can contain it.
func ExpandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(envRef.FindSubmatch(m)[1])
		v, ok := os.LookupEnv(name)
		if !ok {
			slog.Warn("config references unset environment variable", "name", name)
		}
		return []byte(v)
	})
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}

	// Providers: names are warned about, not rejected, so third-party
	// factories can be registered.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for kind, entries := range map[string][]ProviderEntry{
		"llm": cfg.Providers.Fallbacks.LLM,
		"stt": cfg.Providers.Fallbacks.STT,
		"tts": cfg.Providers.Fallbacks.TTS,
	} {
		for i, e := range entries {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("providers.fallbacks.%s[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, e.Name)
		}
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required; the tutor cannot answer without a language model"))
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; voice turns will be rejected")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; replies will have no audio")
	}
	cb := cfg.Providers.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker values must not be negative"))
	}

	// Tutor
	t := cfg.Tutor
	if t.Temperature != nil && (*t.Temperature < 0 || *t.Temperature > 2) {
		errs = append(errs, fmt.Errorf("tutor.temperature %.2f is out of range [0, 2]", *t.Temperature))
	}
	if t.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("tutor.max_tokens %d must not be negative", t.MaxTokens))
	}
	if t.MinAudioBytes < 0 {
		errs = append(errs, fmt.Errorf("tutor.min_audio_bytes %d must not be negative", t.MinAudioBytes))
	}
	if t.MinTranscriptRunes < 0 {
		errs = append(errs, fmt.Errorf("tutor.min_transcript_runes %d must not be negative", t.MinTranscriptRunes))
	}
	if t.Shadow.Threshold < 0 || t.Shadow.Threshold > 1 {
		errs = append(errs, fmt.Errorf("tutor.shadow.threshold %.2f is out of range [0, 1]", t.Shadow.Threshold))
	}
	catalog, err := Catalog(cfg)
	if err != nil {
		errs = append(errs, fmt.Errorf("tutor.languages: %w", err))
	} else if t.DefaultLanguage != "" {
		if _, ok := catalog.Lookup(t.DefaultLanguage); !ok {
			errs = append(errs, fmt.Errorf("tutor.default_language %q is not in the language catalogue", t.DefaultLanguage))
		}
	}

	// Render
	if cfg.Render.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("render.concurrency %d must not be negative", cfg.Render.Concurrency))
	}
	if cfg.Render.AudioWindow < 0 {
		errs = append(errs, fmt.Errorf("render.audio_window %d must not be negative", cfg.Render.AudioWindow))
	}

	// Store
	switch cfg.Store.Backend {
	case "", StoreMemory:
	case StorePostgres:
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
		}
	case StoreRedis:
		if cfg.Store.RedisURL == "" {
			errs = append(errs, errors.New("store.redis_url is required when store.backend is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres, redis", cfg.Store.Backend))
	}
	if cfg.Store.TTL < 0 {
		errs = append(errs, errors.New("store.ttl must not be negative"))
	}

	// Sessions
	if cfg.Sessions.IdleTimeout < 0 {
		errs = append(errs, errors.New("sessions.idle_timeout must not be negative"))
	}

	// Discord
	if cfg.Discord.Token != "" && cfg.Discord.MaxAttachmentBytes < 0 {
		errs = append(errs, errors.New("discord.max_attachment_bytes must not be negative"))
	}
	seen := make(map[string]int, len(cfg.Discord.Channels))
	for i, ch := range cfg.Discord.Channels {
		if prev, ok := seen[ch]; ok {
			errs = append(errs, fmt.Errorf("discord.channels[%d] %q is a duplicate of discord.channels[%d]", i, ch, prev))
		}
		seen[ch] = i
	}

	return errors.Join(errs...)
}

// Catalog builds the language catalogue: the built-in languages merged with
// tutor.languages.
func Catalog(cfg *Config) (*language.Catalog, error) {
	if len(cfg.Tutor.Languages) == 0 {
		return language.Default(), nil
	}
	return language.Default().Merge(cfg.Tutor.Languages)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
