// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/moche-ai/routine-studio/pkg/provider/tts"
)

// Call records a single invocation of Synthesize.
type Call struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
// A zero value returns empty audio and nil errors. Set Err to inject a
// failure, or Audio to control the returned WAV bytes.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by every Synthesize call.
	Audio []byte

	// Speakers is returned by ListSpeakers.
	Speakers []string

	// Err, if non-nil, is returned as the error from both methods.
	Err error

	// SynthesizeFunc, if non-nil, overrides all other fields and handles
	// the call.
	SynthesizeFunc func(ctx context.Context, req tts.Request) ([]byte, error)

	// Calls records every Synthesize invocation in order.
	Calls []Call
}

// Synthesize records the call and returns the scripted audio.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	fn := p.SynthesizeFunc
	err := p.Err
	audio := p.Audio
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// ListSpeakers returns the scripted speaker list.
func (p *Provider) ListSpeakers(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Speakers, nil
}

// CallCount returns the number of Synthesize invocations so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
