package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/oraltutor/internal/language"
	"github.com/MrWong99/oraltutor/internal/session"
	"github.com/MrWong99/oraltutor/pkg/provider/llm"
)

// Generator produces a tutor reply for one learner utterance.
type Generator interface {
	Generate(ctx context.Context, userText string, lang language.Language) (session.Reply, error)
}

// Compile-time interface assertion.
var _ Generator = (*Responder)(nil)

// ResponderOption is a functional option for [NewResponder].
type ResponderOption func(*Responder)

// WithTemperature overrides [DefaultTemperature].
func WithTemperature(t float64) ResponderOption {
	return func(r *Responder) { r.temperature = t }
}

// WithMaxTokens caps the completion length. Zero leaves it to the provider.
func WithMaxTokens(n int) ResponderOption {
	return func(r *Responder) { r.maxTokens = n }
}

// WithExplanationLanguage sets the language corrections are written in.
func WithExplanationLanguage(lang string) ResponderOption {
	return func(r *Responder) { r.explanation = lang }
}

// Responder is the [Generator] backed by an [llm.Provider]. Each call is a
// single stateless completion: the fixed system prompt plus the learner's
// utterance. It is safe for concurrent use.
type Responder struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
	explanation string
}

// NewResponder returns a Responder using p.
func NewResponder(p llm.Provider, opts ...ResponderOption) (*Responder, error) {
	if p == nil {
		return nil, errors.New("tutor: llm provider must not be nil")
	}
	r := &Responder{
		llm:         p,
		temperature: DefaultTemperature,
		explanation: DefaultExplanationLanguage,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Generate implements [Generator]. Every failure wraps [ErrGenerationFailed];
// unparseable output additionally wraps [ErrMalformedReply].
func (r *Responder) Generate(ctx context.Context, userText string, lang language.Language) (session.Reply, error) {
	req := llm.CompletionRequest{
		SystemPrompt: SystemPrompt(lang.Name, r.explanation),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: userText}},
		Temperature:  r.temperature,
		MaxTokens:    r.maxTokens,
		JSONMode:     r.llm.Capabilities().SupportsJSONMode,
	}
	resp, err := r.llm.Complete(ctx, req)
	if err != nil {
		return session.Reply{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return session.Reply{}, fmt.Errorf("%w: %w", ErrGenerationFailed, llm.ErrEmptyCompletion)
	}
	reply, err := ParseReply(resp.Content)
	if err != nil {
		return session.Reply{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return reply, nil
}
