// Package router selects which LLM provider serves each request.
//
// Providers are tried in configuration order. A remote provider is skipped
// when its quota budget is exhausted; any provider is skipped while its
// circuit breaker is open. The first provider to return a successful response
// wins, and for remote providers one request is charged against the quota
// file. When every provider fails the last error is returned; when none was
// even eligible the call fails with [ErrNoProviders].
//
// The Router itself implements [llm.Provider], so agents hold a single
// provider handle and stay unaware of selection, quota, and fallback.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/moche-ai/routine-studio/internal/observe"
	"github.com/moche-ai/routine-studio/internal/quota"
	"github.com/moche-ai/routine-studio/internal/resilience"
	"github.com/moche-ai/routine-studio/pkg/provider/llm"
)

// ErrNoProviders is returned by [Router.Chat] when no provider was eligible
// for the request (all quota-blocked, breaker-open, or none registered).
var ErrNoProviders = resilience.ErrNoneEligible

// routedEntry pairs a provider with the name it is registered, quota-tracked,
// and logged under.
type routedEntry struct {
	name     string
	provider llm.Provider
}

// Router is a priority-ordered, quota-aware composite of LLM providers.
type Router struct {
	group      *resilience.FallbackGroup[routedEntry]
	quota      *quota.Manager
	metrics    *observe.Metrics
	factory    BackendFactory
	breakerCfg resilience.CircuitBreakerConfig
}

var _ llm.Provider = (*Router)(nil)

// Option configures a Router.
type Option func(*Router)

// WithMetrics attaches request/error/latency instrumentation.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithBreakerConfig overrides the per-provider circuit breaker tuning.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Router) { r.breakerCfg = cfg }
}

// WithFactory overrides how [Build] turns config entries into providers.
// Intended for tests.
func WithFactory(f BackendFactory) Option {
	return func(r *Router) { r.factory = f }
}

// New creates an empty Router. q tracks remote provider usage and must not be
// nil. Register providers in priority order with [Router.Register].
func New(q *quota.Manager, opts ...Option) *Router {
	r := &Router{
		quota:   q,
		factory: DefaultFactory,
	}
	for _, o := range opts {
		o(r)
	}
	r.group = resilience.NewFallbackGroup[routedEntry](resilience.FallbackConfig{
		CircuitBreaker: r.breakerCfg,
	})
	return r
}

// Register appends a provider at the lowest priority so far. Remote providers
// are gated on their quota budget and charged one request per successful call;
// local providers are always eligible and never charged.
func (r *Router) Register(name string, p llm.Provider, remote bool) {
	entry := routedEntry{name: name, provider: p}
	if !remote {
		r.group.Add(name, entry)
		return
	}
	r.group.Add(name, entry,
		resilience.WithGate[routedEntry](func() (bool, string) {
			if r.quota.CanUse(name) {
				return true, ""
			}
			return false, "quota exhausted"
		}),
		resilience.WithOnSuccess[routedEntry](func() {
			if err := r.quota.Use(name, 1); err != nil {
				slog.Warn("failed to record provider usage", "provider", name, "error", err)
			}
		}),
	)
}

// Len returns the number of registered providers.
func (r *Router) Len() int { return r.group.Len() }

// Providers returns the registered provider names in priority order.
func (r *Router) Providers() []string { return r.group.Names() }

// Chat routes the request to the first eligible provider that answers.
func (r *Router) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	var served string
	resp, err := resilience.ExecuteWithResult(r.group, func(e routedEntry) (*llm.ChatResponse, error) {
		start := time.Now()
		resp, chatErr := e.provider.Chat(ctx, req)
		if r.metrics != nil {
			r.metrics.RecordProviderRequest(ctx, e.name, chatErr, time.Since(start))
		}
		if chatErr == nil {
			served = e.name
		}
		return resp, chatErr
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("chat served", "provider", served, "model", resp.Model)
	return resp, nil
}
