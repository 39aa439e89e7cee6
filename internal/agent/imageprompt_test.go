package agent

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func sceneJSON(prompt string) string {
	return fmt.Sprintf(`{"image_prompt": %q, "video_prompt": "slow pan", "expression": "smile", "props": ["cup"]}`, prompt)
}

// imagePromptCtx seeds a 4-sentence script and a confirmed character.
func imagePromptCtx() map[string]any {
	return map[string]any{
		KeyScript: map[string]any{
			"title": "아침 루틴",
			"sections": map[string]any{
				"opening":    "오늘은 아침 루틴을 소개합니다. 상쾌한 하루를 시작해 볼까요?",
				"body1":      "첫 번째는 물 한 잔 마시기입니다.",
				"conclusion": "내일도 같이 성장해봐요!",
			},
		},
		KeyCharacterInfo: map[string]any{
			"description": "보라색 단발머리 소녀",
			"style":       "anime",
		},
	}
}

func TestSplitSentences(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "period and exclamation",
			text: "오늘은 아침 루틴을 소개합니다. 첫 번째는 물 마시기입니다!",
			want: []string{"오늘은 아침 루틴을 소개합니다.", "첫 번째는 물 마시기입니다!"},
		},
		{
			name: "short fragment dropped",
			text: "정말 좋은 하루였어요? 네.",
			want: []string{"정말 좋은 하루였어요?"},
		},
		{
			name: "trailing text without punctuation",
			text: "마지막 문장은 끝맺음이 없어요",
			want: []string{"마지막 문장은 끝맺음이 없어요"},
		},
		{
			name: "decimal point does not split",
			text: "물을 1.5리터 마셔요. 그 다음 스트레칭을 해요.",
			want: []string{"물을 1.5리터 마셔요.", "그 다음 스트레칭을 해요."},
		},
		{name: "empty", text: "", want: nil},
		{name: "only short fragments", text: "끝. 네!", want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := splitSentences(tc.text); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("splitSentences(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestImagePrompter_GeneratesScenesPerSentence(t *testing.T) {
	p := scriptedLLM(
		sceneJSON("girl stretching in bed, morning light"),
		sceneJSON("girl opening curtains"),
		sceneJSON("girl drinking a glass of water"),
		sceneJSON("girl waving goodbye"),
	)
	a := NewImagePrompter(newTestDeps(p))
	s := newTestSession(imagePromptCtx())

	res, err := a.Execute(context.Background(), ExecInput{Session: s})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Step != "image_prompt_preview" || !res.NeedsFeedback || !res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	if p.CallCount() != 4 {
		t.Fatalf("LLM calls = %d, want 4", p.CallCount())
	}

	first := p.Calls[0].Req.Messages[0].Content
	for _, want := range []string{"오늘은 아침 루틴을 소개합니다.", "보라색 단발머리 소녀", "anime"} {
		if !strings.Contains(first, want) {
			t.Errorf("first prompt should contain %q, got %q", want, first)
		}
	}

	payload, _ := res.Data[KeyImagePrompts].(map[string]any)
	prompts, _ := payload["prompts"].([]any)
	if len(prompts) != 4 {
		t.Fatalf("prompts = %#v, want 4 entries", payload)
	}

	wantSections := []string{"opening", "opening", "body1", "conclusion"}
	for i, raw := range prompts {
		sc, _ := raw.(map[string]any)
		if sc["scene"] != float64(i+1) {
			t.Errorf("scene %d number = %v", i, sc["scene"])
		}
		if sc["section"] != wantSections[i] {
			t.Errorf("scene %d section = %v, want %s", i, sc["section"], wantSections[i])
		}
	}

	sc1, _ := prompts[0].(map[string]any)
	wantPrefix := "masterpiece, best quality, consistent character design, girl stretching in bed"
	if ip, _ := sc1["image_prompt"].(string); !strings.HasPrefix(ip, wantPrefix) {
		t.Errorf("image_prompt = %q, want prefix %q", ip, wantPrefix)
	}
	if props, _ := sc1["props"].([]any); len(props) != 1 || props[0] != "cup" {
		t.Errorf("props = %#v", sc1["props"])
	}

	if !strings.Contains(res.Message, "1. [오프닝]") || !strings.Contains(res.Message, "4. [마무리]") {
		t.Errorf("message should list scenes with section titles, got %q", res.Message)
	}
}

func TestImagePrompter_PlaceholderOnBadReply(t *testing.T) {
	// The first scene's reply (and its retry) carry no JSON; the scene
	// falls back to the placeholder while the second scene succeeds.
	p := scriptedLLM(
		"이건 JSON이 아닙니다",
		"여전히 JSON이 아닙니다",
		sceneJSON("girl drinking water"),
		sceneJSON("girl waving"),
	)
	a := NewImagePrompter(newTestDeps(p))
	ctx := imagePromptCtx()
	ctx[KeyScript] = map[string]any{
		"sections": map[string]any{
			"opening": "오늘은 아침 루틴을 소개합니다.",
			"body1":   "첫 번째는 물 한 잔 마시기입니다.",
		},
	}
	s := newTestSession(ctx)

	res, err := a.Execute(context.Background(), ExecInput{Session: s})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Step != "image_prompt_preview" {
		t.Fatalf("unexpected result: %+v", res)
	}

	payload, _ := res.Data[KeyImagePrompts].(map[string]any)
	prompts, _ := payload["prompts"].([]any)
	if len(prompts) != 2 {
		t.Fatalf("prompts = %#v, want 2 entries", payload)
	}
	ph, _ := prompts[0].(map[string]any)
	ip, _ := ph["image_prompt"].(string)
	if !strings.Contains(ip, "보라색 단발머리 소녀") || !strings.Contains(ip, "daily routine scene") {
		t.Errorf("placeholder image_prompt = %q", ip)
	}
	if ph["sentence"] != "오늘은 아침 루틴을 소개합니다." {
		t.Errorf("placeholder should keep the sentence, got %v", ph["sentence"])
	}
	sc2, _ := prompts[1].(map[string]any)
	if got, _ := sc2["image_prompt"].(string); !strings.Contains(got, "girl drinking water") {
		t.Errorf("second scene should use the LLM reply, got %q", got)
	}
}

func TestImagePrompter_SceneEditRegeneratesOne(t *testing.T) {
	p := scriptedLLM(
		sceneJSON("girl stretching"),
		sceneJSON("girl drinking water"),
		sceneJSON("girl drinking water at night"),
	)
	a := NewImagePrompter(newTestDeps(p))
	ctx := imagePromptCtx()
	ctx[KeyScript] = map[string]any{
		"sections": map[string]any{
			"opening": "오늘은 아침 루틴을 소개합니다.",
			"body1":   "첫 번째는 물 한 잔 마시기입니다.",
		},
	}
	s := newTestSession(ctx)
	if _, err := a.Execute(context.Background(), ExecInput{Session: s}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	res, err := a.HandleFeedback(context.Background(), Feedback{Session: s, Text: "2번 밤 배경으로 바꿔줘"})
	if err != nil {
		t.Fatalf("HandleFeedback: %v", err)
	}
	if res.Step != "image_prompt_preview" || !res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	if p.CallCount() != 3 {
		t.Fatalf("LLM calls = %d, want 3", p.CallCount())
	}

	last := p.Calls[2].Req.Messages[0].Content
	if !strings.Contains(last, "밤 배경으로 바꿔줘") || !strings.Contains(last, "추가 지시") {
		t.Errorf("edit prompt should carry the instruction, got %q", last)
	}

	payload, _ := res.Data[KeyImagePrompts].(map[string]any)
	prompts, _ := payload["prompts"].([]any)
	sc1, _ := prompts[0].(map[string]any)
	if got, _ := sc1["image_prompt"].(string); !strings.Contains(got, "girl stretching") {
		t.Errorf("scene 1 should be untouched, got %q", got)
	}
	sc2, _ := prompts[1].(map[string]any)
	if got, _ := sc2["image_prompt"].(string); !strings.Contains(got, "at night") {
		t.Errorf("scene 2 should be regenerated, got %q", got)
	}
}

func TestImagePrompter_ConfirmEmitsPrompts(t *testing.T) {
	p := scriptedLLM(sceneJSON("scene one"), sceneJSON("scene two"), sceneJSON("scene three"), sceneJSON("scene four"))
	a := NewImagePrompter(newTestDeps(p))
	s := newTestSession(imagePromptCtx())
	if _, err := a.Execute(context.Background(), ExecInput{Session: s}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	res, err := a.HandleFeedback(context.Background(), Feedback{Session: s, Text: "확인"})
	if err != nil {
		t.Fatalf("HandleFeedback: %v", err)
	}
	if res.Step != "image_prompt_done" || res.NeedsFeedback || !res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	payload, _ := res.Data[KeyImagePrompts].(map[string]any)
	if prompts, _ := payload["prompts"].([]any); len(prompts) != 4 {
		t.Fatalf("prompts = %#v, want 4 entries", payload)
	}
	if a.Status() != StatusCompleted {
		t.Errorf("status = %v, want completed", a.Status())
	}
}

func TestImagePrompter_RegenerateAll(t *testing.T) {
	p := scriptedLLM(
		sceneJSON("v1 scene one"), sceneJSON("v1 scene two"), sceneJSON("v1 three"), sceneJSON("v1 four"),
		sceneJSON("v2 scene one"), sceneJSON("v2 scene two"), sceneJSON("v2 three"), sceneJSON("v2 four"),
	)
	a := NewImagePrompter(newTestDeps(p))
	s := newTestSession(imagePromptCtx())
	a.Execute(context.Background(), ExecInput{Session: s})

	res, err := a.HandleFeedback(context.Background(), Feedback{Session: s, Text: "다시"})
	if err != nil {
		t.Fatalf("HandleFeedback: %v", err)
	}
	if res.Step != "image_prompt_preview" {
		t.Fatalf("step = %q, want image_prompt_preview", res.Step)
	}
	if p.CallCount() != 8 {
		t.Errorf("LLM calls = %d, want 8", p.CallCount())
	}
	payload, _ := res.Data[KeyImagePrompts].(map[string]any)
	prompts, _ := payload["prompts"].([]any)
	sc1, _ := prompts[0].(map[string]any)
	if got, _ := sc1["image_prompt"].(string); !strings.Contains(got, "v2 scene one") {
		t.Errorf("regenerated scene 1 = %q", got)
	}
}

func TestImagePrompter_OutOfRangeEdit(t *testing.T) {
	p := scriptedLLM(sceneJSON("one"), sceneJSON("two"), sceneJSON("three"), sceneJSON("four"))
	a := NewImagePrompter(newTestDeps(p))
	s := newTestSession(imagePromptCtx())
	a.Execute(context.Background(), ExecInput{Session: s})

	res, err := a.HandleFeedback(context.Background(), Feedback{Session: s, Text: "9번 어둡게 바꿔줘"})
	if err != nil {
		t.Fatalf("HandleFeedback: %v", err)
	}
	if res.Success || res.Step != "image_prompt_confirm" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Message, "9번") {
		t.Errorf("message should name the bad index, got %q", res.Message)
	}
}

func TestImagePrompter_MissingScript(t *testing.T) {
	a := NewImagePrompter(newTestDeps(scriptedLLM()))

	res, err := a.Execute(context.Background(), ExecInput{Session: newTestSession(nil)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Step != "image_prompt_generate" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestImagePrompter_DefaultCharacterWhenStageSkipped(t *testing.T) {
	p := scriptedLLM(sceneJSON("scene"))
	a := NewImagePrompter(newTestDeps(p))
	s := newTestSession(map[string]any{
		KeyScript: map[string]any{
			"sections": map[string]any{"opening": "오늘은 아침 루틴을 소개합니다."},
		},
	})

	if _, err := a.Execute(context.Background(), ExecInput{Session: s}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	prompt := p.Calls[0].Req.Messages[0].Content
	if !strings.Contains(prompt, "친근한 한국인 1인 크리에이터") || !strings.Contains(prompt, "illustration") {
		t.Errorf("prompt should fall back to the default character and style, got %q", prompt)
	}
}

func TestImagePrompter_Skip(t *testing.T) {
	a := NewImagePrompter(newTestDeps(scriptedLLM()))
	s := newTestSession(imagePromptCtx())

	res, err := a.HandleFeedback(context.Background(), Feedback{Session: s, Text: "스킵"})
	if err != nil {
		t.Fatalf("HandleFeedback: %v", err)
	}
	if res.Step != "image_prompt_skipped" || res.Data["skipped"] != true {
		t.Fatalf("unexpected result: %+v", res)
	}
}
