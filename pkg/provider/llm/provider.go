// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI, Groq,
// Anthropic or a local Ollama instance) and exposes a uniform, blocking
// completion call to the tutoring pipeline without coupling it to any
// specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrEmptyCompletion is returned when a backend answered without any content.
	ErrEmptyCompletion = errors.New("llm: empty completion")

	// ErrRejected is wrapped by backends when the service refused the request
	// itself (bad parameters, unknown model, output failing its JSON check).
	// Sending the same request again, to the same backend or a fallback
	// serving the same prompt, is not expected to help.
	ErrRejected = errors.New("llm: request rejected")
)

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history. Providers without a dedicated system field
	// prepend it as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Zero means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// JSONMode asks the backend to return exactly one JSON object. Backends
	// that cannot enforce it natively ignore the flag.
	JSONMode bool
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or if ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing what this provider's
	// underlying model supports. The result is constant for the lifetime of
	// the Provider.
	Capabilities() ModelCapabilities
}
