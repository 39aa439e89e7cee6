package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/moche-ai/routine-studio/pkg/provider/llm"
)

// errNoJSON marks a reply with no extractable JSON object after the retry.
var errNoJSON = errors.New("agent: reply contains no JSON object")

// chatText asks the LLM for a prose reply.
func chatText(ctx context.Context, d *Deps, system, prompt string, temperature float64) (string, error) {
	reply, err := llm.Generate(ctx, d.LLM, prompt,
		llm.WithSystemPrompt(system),
		llm.WithTemperature(temperature),
	)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// chatJSON asks the LLM for a JSON object and extracts it from the reply.
// One silent retry appends a stricter format reminder; transport errors are
// returned immediately without a retry.
func chatJSON(ctx context.Context, d *Deps, system, prompt string, temperature float64) ([]byte, error) {
	opts := []llm.GenerateOption{
		llm.WithSystemPrompt(system),
		llm.WithJSONMode(),
		llm.WithTemperature(temperature),
	}
	reply, err := llm.Generate(ctx, d.LLM, prompt, opts...)
	if err != nil {
		return nil, err
	}
	if raw := extractJSONRaw(reply); raw != nil {
		return raw, nil
	}

	reply, err = llm.Generate(ctx, d.LLM, prompt+d.Prompts.Render(PromptJSONRetry, nil), opts...)
	if err != nil {
		return nil, err
	}
	if raw := extractJSONRaw(reply); raw != nil {
		return raw, nil
	}
	return nil, errNoJSON
}

// ExtractJSON pulls the first JSON object out of an LLM reply. Markdown
// fences are stripped, a reply that starts with "{" is parsed directly, and
// anything else is scanned for the first balanced brace pair (string and
// escape aware). Returns nil when no valid object is found.
func ExtractJSON(reply string) map[string]any {
	raw := extractJSONRaw(reply)
	if raw == nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// extractJSONRaw returns the raw bytes of the first JSON object in reply, or
// nil. Agents that need typed structures unmarshal these bytes directly.
func extractJSONRaw(reply string) []byte {
	s := stripFences(reply)
	if s == "" {
		return nil
	}

	if strings.HasPrefix(s, "{") && json.Valid([]byte(s)) {
		return []byte(s)
	}

	obj := balancedObject(s)
	if obj == "" || !json.Valid([]byte(obj)) {
		return nil
	}
	return []byte(obj)
}

// stripFences removes markdown code fences (``` or ```json ... ```) wrapping
// the reply. Replies without fences are trimmed and returned unchanged.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = s[len("```"):]
	// Drop the info string ("json", "JSON", ...) up to the first newline.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// balancedObject returns the substring from the first "{" to its matching
// "}", tracking strings and escapes so braces inside JSON strings do not
// count. Returns "" when no balanced object exists.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
