// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that callers send correct
// CompletionRequests and to feed controlled responses without a live LLM
// backend.
//
// Example:
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: "Hello!"},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/starcrew-ai/starcrew/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and
// nil errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// CompleteResponse is returned by Complete. May be nil (returns nil, nil).
	CompleteResponse *llm.CompletionResponse

	// CompleteResponses, when non-empty, is consumed one response per
	// Complete call before falling back to CompleteResponse. Useful for
	// scripting multi-call flows.
	CompleteResponses []*llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// CompleteErrs, when non-empty, is consumed one error per Complete
	// call (nil entries mean success) before falling back to CompleteErr.
	CompleteErrs []error

	// CompleteFunc, if set, overrides all of the above.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// TokenCount is returned by CountTokens.
	TokenCount int

	// CountTokensErr, if non-nil, is returned as the error from CountTokens.
	CountTokensErr error

	// Capabilities_ is returned by Capabilities.
	Capabilities_ llm.ModelCapabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns the next scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	if p.CompleteFunc != nil {
		return p.CompleteFunc(ctx, req)
	}

	resp, err := p.CompleteResponse, p.CompleteErr
	if len(p.CompleteResponses) > 0 {
		resp = p.CompleteResponses[0]
		p.CompleteResponses = p.CompleteResponses[1:]
	}
	if len(p.CompleteErrs) > 0 {
		err = p.CompleteErrs[0]
		p.CompleteErrs = p.CompleteErrs[1:]
	}
	return resp, err
}

// CountTokens returns TokenCount, CountTokensErr.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TokenCount, p.CountTokensErr
}

// Capabilities returns Capabilities_.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Capabilities_
}

// CallCount returns the number of Complete invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}
