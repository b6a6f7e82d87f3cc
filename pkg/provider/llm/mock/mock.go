// Package mock is a scripted [llm.Provider] for tests of the tutor pipeline.
//
//	p := &mock.Provider{Replies: []string{`{"interaction":"Hi"}`, `{"interaction":"Again"}`}}
//
// Answers are chosen in this order: CompleteFunc, CompleteErr, the next
// entry of Replies, CompleteResponse.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/oraltutor/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider records every request and answers from its script. The zero
// value answers nil, nil.
type Provider struct {
	mu sync.Mutex

	// CompleteFunc, when set, answers every call.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteErr fails every call.
	CompleteErr error

	// Replies are consumed one per call as response content.
	Replies []string

	// CompleteResponse answers once Replies is exhausted. May be nil.
	CompleteResponse *llm.CompletionResponse

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls holds every call in order.
	CompleteCalls []CompleteCall
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn, err := p.CompleteFunc, p.CompleteErr
	resp := p.CompleteResponse
	if fn == nil && err == nil && len(p.Replies) > 0 {
		resp = &llm.CompletionResponse{Content: p.Replies[0]}
		p.Replies = p.Replies[1:]
	}
	p.mu.Unlock()

	switch {
	case fn != nil:
		return fn(ctx, req)
	case err != nil:
		return nil, err
	}
	return resp, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// CallCount returns how many times Complete was called.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// LastRequest returns the most recent request, or false before any call.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.CompleteCalls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.CompleteCalls[len(p.CompleteCalls)-1].Req, true
}
