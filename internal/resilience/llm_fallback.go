package resilience

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/oraltutor/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	if cfg.Permanent == nil {
		cfg.Permanent = func(err error) bool { return errors.Is(err, llm.ErrRejected) }
	}
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *LLMFallback) Status() []EntryStatus { return f.group.Status() }

// Complete sends the request to the first healthy provider and returns its
// response. A backend that answers with an empty completion counts as failed
// so the next one gets a chance.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
			return nil, llm.ErrEmptyCompletion
		}
		return resp, err
	})
}

// Capabilities returns the capabilities of the primary. JSON mode is only
// reported when every backend supports it, since a fallback may serve the
// request.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	caps := f.group.Primary().Capabilities()
	for _, e := range f.group.entries[1:] {
		if !e.value.Capabilities().SupportsJSONMode {
			caps.SupportsJSONMode = false
		}
	}
	return caps
}
