// Package openai implements [llm.Provider] on the OpenAI chat completions
// API. Any compatible endpoint works through [WithBaseURL]; the tutor
// normally points it at Groq (https://api.groq.com/openai/v1).
//
// JSON mode maps to response_format json_object. Requests the service
// refuses with a 4xx status, including Groq's json_validate_failed, wrap
// [llm.ErrRejected].
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/oraltutor/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider sends chat completions to an OpenAI-compatible endpoint.
type Provider struct {
	client oai.Client
	model  string
	caps   llm.ModelCapabilities
}

// Option adds a request option to every call the provider makes.
type Option func(*[]option.RequestOption)

// WithBaseURL targets an OpenAI-compatible endpoint instead of api.openai.com.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithBaseURL(url)) }
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// New creates a Provider for model. SDK retries are off; the fallback group
// decides whether another backend gets the turn.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: API key is required")
	case model == "":
		return nil, errors.New("openai: model is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		caps:   capabilitiesFor(model),
	}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) && rejected(apiErr.StatusCode) {
			return nil, fmt.Errorf("openai: %s: %w: %w", p.model, llm.ErrRejected, err)
		}
		return nil, fmt.Errorf("openai: %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %s: %w", p.model, llm.ErrEmptyCompletion)
	}
	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities { return p.caps }

// rejected reports statuses that blame the request. 401, 403 and 429 are
// left out: they concern the account, and a fallback with its own key may
// still succeed.
func rejected(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return oai.ChatCompletionNewParams{}, errors.New("openai: request has no messages")
	}
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			msgs = append(msgs, oai.SystemMessage(m.Content))
		case llm.RoleUser:
			msgs = append(msgs, oai.UserMessage(m.Content))
		case llm.RoleAssistant:
			msgs = append(msgs, oai.AssistantMessage(m.Content))
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: unsupported role %q", m.Role)
		}
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSONMode && p.caps.SupportsJSONMode {
		format := shared.NewResponseFormatJSONObjectParam()
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &format}
	}
	return params, nil
}

// capabilitiesFor knows the models the tutor is usually run with on OpenAI
// and Groq. Reasoning models ("o1", "o3") reject response_format.
func capabilitiesFor(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsJSONMode: true}
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"):
		caps.MaxOutputTokens = 65_536
		caps.SupportsJSONMode = false
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"):
		caps.MaxOutputTokens = 16_384
	case strings.HasPrefix(m, "llama-3.3-70b"), strings.HasPrefix(m, "llama-3.1-8b"):
		caps.ContextWindow = 131_072
		caps.MaxOutputTokens = 32_768
	case strings.HasPrefix(m, "gemma2"), strings.HasPrefix(m, "mixtral"):
		caps.ContextWindow = 32_768
		caps.MaxOutputTokens = 8_192
	}
	return caps
}
