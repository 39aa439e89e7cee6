package agent

import (
	"strings"
	"testing"
)

func TestPromptsRender_Substitution(t *testing.T) {
	p := NewPrompts(nil)
	out := p.Render(PromptChannelNames, map[string]string{
		"topic":      "아침 루틴",
		"count":      "5",
		"refinement": "",
	})
	if !strings.Contains(out, "아침 루틴") {
		t.Errorf("topic not substituted: %s", out)
	}
	if !strings.Contains(out, "5개") {
		t.Errorf("count not substituted: %s", out)
	}
	if strings.Contains(out, "{topic}") || strings.Contains(out, "{count}") {
		t.Errorf("placeholders left behind: %s", out)
	}
}

func TestPromptsRender_Override(t *testing.T) {
	p := NewPrompts(map[string]string{
		PromptChannelNames: "custom template for {topic}",
		"brand_new":        "experimental {x}",
	})
	if got := p.Render(PromptChannelNames, map[string]string{"topic": "T"}); got != "custom template for T" {
		t.Errorf("override not applied: %q", got)
	}
	if got := p.Render("brand_new", map[string]string{"x": "1"}); got != "experimental 1" {
		t.Errorf("unknown-name override not served: %q", got)
	}
}

func TestPromptsRender_UnknownName(t *testing.T) {
	if got := NewPrompts(nil).Render("no_such_template", nil); got != "" {
		t.Errorf("unknown template = %q, want empty", got)
	}
}

func TestPromptsRender_DefaultsAreJSONStrict(t *testing.T) {
	// The templates that feed chatJSON must demand a JSON-only reply.
	p := NewPrompts(nil)
	for _, name := range []string{PromptChannelNames, PromptVideoIdeas, PromptScript, PromptScene} {
		out := p.Render(name, nil)
		if !strings.Contains(out, "JSON") {
			t.Errorf("template %s does not mention JSON", name)
		}
	}
}
