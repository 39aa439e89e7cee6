// Package mock provides a test double for the vision.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/moche-ai/routine-studio/pkg/provider/vision"
)

// Call records a single invocation of AnalyzeImage.
type Call struct {
	// Ctx is the context passed to AnalyzeImage.
	Ctx context.Context
	// Req is the request passed to AnalyzeImage.
	Req vision.Request
}

// Provider is a mock implementation of vision.Provider.
// A zero value returns empty replies and nil errors. Set Err to inject a
// failure, or Replies to script a sequence of answers.
type Provider struct {
	mu sync.Mutex

	// Reply is returned by every AnalyzeImage call when Replies is empty.
	Reply string

	// Replies, when non-empty, is consumed one answer per call; the last
	// entry repeats once the script runs out.
	Replies []string

	// Err, if non-nil, is returned as the error from AnalyzeImage.
	Err error

	// AnalyzeFunc, if non-nil, overrides all other fields and handles the call.
	AnalyzeFunc func(ctx context.Context, req vision.Request) (string, error)

	// Calls records every invocation in order.
	Calls []Call
}

// AnalyzeImage records the call and returns the scripted reply.
func (p *Provider) AnalyzeImage(ctx context.Context, req vision.Request) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	n := len(p.Calls)
	fn := p.AnalyzeFunc
	err := p.Err
	reply := p.Reply
	if len(p.Replies) > 0 {
		i := n - 1
		if i >= len(p.Replies) {
			i = len(p.Replies) - 1
		}
		reply = p.Replies[i]
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

// CallCount returns the number of AnalyzeImage invocations so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Ensure Provider implements vision.Provider at compile time.
var _ vision.Provider = (*Provider)(nil)
