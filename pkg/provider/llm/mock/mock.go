// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that agents send correct ChatRequests
// and to feed controlled responses without a live LLM backend. All fields are
// safe to set before calling any method; mutating them during a concurrent
// call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Response: &llm.ChatResponse{Content: `{"channel_names":["A"]}`},
//	}
//	resp, err := p.Chat(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/moche-ai/routine-studio/pkg/provider/llm"
)

// ChatCall records a single invocation of Chat.
type ChatCall struct {
	// Ctx is the context passed to Chat.
	Ctx context.Context
	// Req is the ChatRequest passed to Chat.
	Req llm.ChatRequest
}

// Provider is a mock implementation of llm.Provider.
// A zero value returns empty responses and nil errors. Set Err to inject a
// failure, or Responses to script a sequence of replies.
type Provider struct {
	mu sync.Mutex

	// Response is returned by every Chat call when Responses is empty.
	Response *llm.ChatResponse

	// Responses, when non-empty, is consumed one reply per Chat call; the last
	// entry repeats once the script runs out.
	Responses []*llm.ChatResponse

	// Err, if non-nil, is returned as the error from Chat.
	Err error

	// ChatFunc, if non-nil, overrides all other fields and handles the call.
	ChatFunc func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)

	// Calls records every invocation of Chat in order.
	Calls []ChatCall
}

// Chat records the call and returns the scripted response.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, ChatCall{Ctx: ctx, Req: req})
	n := len(p.Calls)
	fn := p.ChatFunc
	err := p.Err
	resp := p.Response
	if len(p.Responses) > 0 {
		i := n - 1
		if i >= len(p.Responses) {
			i = len(p.Responses) - 1
		}
		resp = p.Responses[i]
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &llm.ChatResponse{}, nil
	}
	return resp, nil
}

// CallCount returns the number of Chat invocations so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
