// Package types defines the shared types used across all Routine Studio packages.
//
// These types form the lingua franca between providers, agents, and the
// orchestrator. They are intentionally minimal — each package defines its own
// domain types, but cross-cutting data structures live here to avoid circular
// imports.
package types

import "strings"

// Chat roles as used by every LLM and vision backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Images holds base64-encoded image payloads attached to the message,
	// without a data URL prefix. Only multimodal backends consume these.
	Images []string
}

// User returns a user-role message with the given text content.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant returns an assistant-role message with the given text content.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// StripDataURL removes a "data:<mime>;base64," prefix from a base64 image
// payload. Payloads without the prefix are returned unchanged, so callers can
// accept browser-style data URLs and raw base64 interchangeably.
func StripDataURL(b64 string) string {
	if !strings.HasPrefix(b64, "data:") {
		return b64
	}
	if i := strings.Index(b64, "base64,"); i >= 0 {
		return b64[i+len("base64,"):]
	}
	return b64
}

// DataURL wraps a raw base64 payload in a data URL with the given MIME type.
// An empty mime defaults to image/png.
func DataURL(mime, b64 string) string {
	if strings.HasPrefix(b64, "data:") {
		return b64
	}
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + b64
}
