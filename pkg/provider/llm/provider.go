// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., Gemini, Groq, or a
// local Ollama instance) and exposes a uniform chat interface so the stage
// agents can produce text without coupling to any specific SDK. Provider
// selection, quota accounting, and fallback live in internal/router; this
// package only knows how to talk to one backend.
//
// Implementors must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import (
	"context"

	"github.com/moche-ai/routine-studio/pkg/types"
)

// Usage holds token accounting information returned by the LLM backend.
// Counts are in the model's native token unit and may differ between providers
// for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return it
	// directly rather than computing it from the parts.
	TotalTokens int
}

// ChatRequest carries everything the model needs to produce a response.
// A zero-value request is invalid; at minimum Messages must be non-empty.
type ChatRequest struct {
	// Messages is the ordered conversation. The last message is typically from
	// the "user" role and drives the response.
	Messages []types.Message

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation. Providers without a dedicated system field prepend it as a
	// "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero requests the
	// provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int

	// JSONMode asks the backend for a JSON-object response when it supports
	// constrained output. Backends without native support ignore the flag;
	// callers must still run the reply through the JSON extractor.
	JSONMode bool
}

// ChatResponse is the full (non-streaming) model reply.
type ChatResponse struct {
	// Content is the text of the assistant's reply.
	Content string

	// Model is the concrete model identifier that served the request, when the
	// backend reports it.
	Model string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must return promptly once ctx is cancelled.
type Provider interface {
	// Chat sends req to the model and waits for the full response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Generate is a convenience wrapper for single-prompt calls. It sends prompt
// as one user message and returns the reply text.
func Generate(ctx context.Context, p Provider, prompt string, opts ...GenerateOption) (string, error) {
	req := ChatRequest{Messages: []types.Message{types.User(prompt)}}
	for _, o := range opts {
		o(&req)
	}
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// GenerateOption adjusts a Generate request.
type GenerateOption func(*ChatRequest)

// WithSystemPrompt sets the system prompt for a Generate call.
func WithSystemPrompt(s string) GenerateOption {
	return func(r *ChatRequest) { r.SystemPrompt = s }
}

// WithTemperature sets the sampling temperature for a Generate call.
func WithTemperature(t float64) GenerateOption {
	return func(r *ChatRequest) { r.Temperature = t }
}

// WithMaxTokens caps the completion length for a Generate call.
func WithMaxTokens(n int) GenerateOption {
	return func(r *ChatRequest) { r.MaxTokens = n }
}

// WithJSONMode requests a JSON-object response for a Generate call.
func WithJSONMode() GenerateOption {
	return func(r *ChatRequest) { r.JSONMode = true }
}
