// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider],
// giving the tutor one code path for Anthropic, Gemini, Ollama, DeepSeek,
// Mistral, llama.cpp, llamafile and the OpenAI-compatible hosts.
//
// any-llm-go has no structured-output switch. A request with JSONMode set
// gets an extra system instruction instead, and the tutor's reply parser
// tolerates code fences around the object.
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/oraltutor/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// jsonInstruction is appended to the system prompt of JSONMode requests.
const jsonInstruction = "Answer with exactly one JSON object and no other text."

var errNoMessages = errors.New("anyllm: request has no messages")

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

var backends = map[string]constructor{
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
}

// Backends returns the accepted backend names in sorted order.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Provider sends completions through one any-llm-go backend.
type Provider struct {
	client  anyllmlib.Provider
	backend string
	model   string
}

// New creates a Provider for backend (see [Backends]) and model. opts are
// passed to the backend, typically anyllmlib.WithAPIKey and
// anyllmlib.WithBaseURL. Without an API key the backend reads its usual
// environment variable, e.g. ANTHROPIC_API_KEY.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	backend = strings.ToLower(strings.TrimSpace(backend))
	if model == "" {
		return nil, fmt.Errorf("anyllm: %s: model is required", backend)
	}
	newClient, ok := backends[backend]
	if !ok {
		return nil, fmt.Errorf("anyllm: unknown backend %q (have %s)", backend, strings.Join(Backends(), ", "))
	}
	client, err := newClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", backend, err)
	}
	return &Provider{client: client, backend: backend, model: model}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errNoMessages
	}
	resp, err := p.client.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", p.backend, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s: %w", p.backend, llm.ErrEmptyCompletion)
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return capabilitiesFor(p.model)
}

func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	system := req.SystemPrompt
	if req.JSONMode {
		system = strings.TrimSpace(system + "\n\n" + jsonInstruction)
	}

	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if system != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: system})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}

// families lists context and output limits by model name prefix. The first
// matching prefix wins.
var families = []struct {
	prefix          string
	context, output int
}{
	{"claude", 200_000, 8_192},
	{"gemini", 1_048_576, 8_192},
	{"gpt-4o", 128_000, 16_384},
	{"llama-3", 128_000, 32_768},
	{"mistral-large", 128_000, 8_192},
	{"deepseek", 64_000, 8_192},
}

func capabilitiesFor(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, f := range families {
		if strings.HasPrefix(lower, f.prefix) {
			return llm.ModelCapabilities{ContextWindow: f.context, MaxOutputTokens: f.output}
		}
	}
	return llm.ModelCapabilities{ContextWindow: 32_000, MaxOutputTokens: 4_096}
}
