package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/oraltutor/internal/config"
	"github.com/MrWong99/oraltutor/internal/observe"
	"github.com/MrWong99/oraltutor/internal/resilience"
	"github.com/MrWong99/oraltutor/pkg/provider/llm"
	"github.com/MrWong99/oraltutor/pkg/provider/stt"
	"github.com/MrWong99/oraltutor/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured: without STT voice turns fail with a warning,
// without TTS views carry no audio.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

// statusReporter is implemented by the resilience fallbacks.
type statusReporter interface {
	Status() []resilience.EntryStatus
}

// BuildProviders creates the configured providers through reg. A kind with
// fallbacks is wrapped in the matching resilience fallback so a failing
// primary is skipped while its circuit breaker is open.
func BuildProviders(reg *config.Registry, cfg config.ProvidersConfig, m *observe.Metrics) (*Providers, error) {
	fcfg := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  cfg.CircuitBreaker.MaxFailures,
				ResetTimeout: cfg.CircuitBreaker.ResetTimeout,
				HalfOpenMax:  cfg.CircuitBreaker.HalfOpenMax,
			},
			Kind:    kind,
			Metrics: m,
		}
	}

	var (
		p    Providers
		errs []error
	)

	if cfg.LLM.Name != "" {
		primary, err := reg.CreateLLM(cfg.LLM)
		if err != nil {
			errs = append(errs, fmt.Errorf("llm %q: %w", cfg.LLM.Name, err))
		} else if len(cfg.Fallbacks.LLM) == 0 {
			p.LLM = primary
		} else {
			fb := resilience.NewLLMFallback(primary, cfg.LLM.Name, fcfg("llm"))
			for _, e := range cfg.Fallbacks.LLM {
				alt, err := reg.CreateLLM(e)
				if err != nil {
					errs = append(errs, fmt.Errorf("llm fallback %q: %w", e.Name, err))
					continue
				}
				fb.AddFallback(e.Name, alt)
			}
			p.LLM = fb
		}
	}

	if cfg.STT.Name != "" {
		primary, err := reg.CreateSTT(cfg.STT)
		if err != nil {
			errs = append(errs, fmt.Errorf("stt %q: %w", cfg.STT.Name, err))
		} else if len(cfg.Fallbacks.STT) == 0 {
			p.STT = primary
		} else {
			fb := resilience.NewSTTFallback(primary, cfg.STT.Name, fcfg("stt"))
			for _, e := range cfg.Fallbacks.STT {
				alt, err := reg.CreateSTT(e)
				if err != nil {
					errs = append(errs, fmt.Errorf("stt fallback %q: %w", e.Name, err))
					continue
				}
				fb.AddFallback(e.Name, alt)
			}
			p.STT = fb
		}
	}

	if cfg.TTS.Name != "" {
		primary, err := reg.CreateTTS(cfg.TTS)
		if err != nil {
			errs = append(errs, fmt.Errorf("tts %q: %w", cfg.TTS.Name, err))
		} else if len(cfg.Fallbacks.TTS) == 0 {
			p.TTS = primary
		} else {
			fb := resilience.NewTTSFallback(primary, cfg.TTS.Name, fcfg("tts"))
			for _, e := range cfg.Fallbacks.TTS {
				alt, err := reg.CreateTTS(e)
				if err != nil {
					errs = append(errs, fmt.Errorf("tts fallback %q: %w", e.Name, err))
					continue
				}
				if err := fb.AddFallback(e.Name, alt); err != nil {
					errs = append(errs, fmt.Errorf("tts fallback %q: %w", e.Name, err))
				}
			}
			p.TTS = fb
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("app: build providers: %w", err)
	}
	if p.STT == nil {
		slog.Warn("no stt provider configured; voice turns are disabled")
	}
	if p.TTS == nil {
		slog.Warn("no tts provider configured; replies carry no audio")
	}
	return &p, nil
}
