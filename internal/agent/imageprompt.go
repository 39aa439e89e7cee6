package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/moche-ai/routine-studio/internal/progress"
	"github.com/moche-ai/routine-studio/internal/session"
	"github.com/moche-ai/routine-studio/pkg/provider/vision"
)

// minSentenceRunes drops fragments too short to carry a visual scene.
const minSentenceRunes = 6

// ScenePrompt is the generation brief for one scene of the video.
type ScenePrompt struct {
	Scene       int      `json:"scene"`
	Section     string   `json:"section"`
	Sentence    string   `json:"sentence"`
	ImagePrompt string   `json:"image_prompt"`
	VideoPrompt string   `json:"video_prompt"`
	Expression  string   `json:"expression"`
	Props       []string `json:"props,omitempty"`
}

// ImagePrompter turns the confirmed script into per-scene diffusion
// prompts. Each script sentence becomes one scene; the character sheet and
// art style from the character stage keep the scenes consistent.
type ImagePrompter struct {
	statusTracker

	d *Deps

	character string
	style     string
	scenes    []ScenePrompt
}

// NewImagePrompter builds the scene prompt agent.
func NewImagePrompter(d *Deps) *ImagePrompter {
	return &ImagePrompter{d: d}
}

var _ Agent = (*ImagePrompter)(nil)

func (a *ImagePrompter) Execute(ctx context.Context, in ExecInput) (*Result, error) {
	a.setStatus(StatusRunning)
	return a.run(ctx, in.Session, in.Emitter)
}

func (a *ImagePrompter) HandleFeedback(ctx context.Context, fb Feedback) (*Result, error) {
	a.setStatus(StatusRunning)
	if IsSkip(fb.Text) {
		a.setStatus(StatusCompleted)
		return skipped("image_prompt_skipped"), nil
	}
	if len(a.scenes) == 0 {
		return a.run(ctx, fb.Session, fb.Emitter)
	}
	if IsConfirm(fb.Text) {
		a.setStatus(StatusCompleted)
		return finish("image_prompt_done", "장면 프롬프트가 확정되었습니다. 이미지 생성을 시작합니다.",
			map[string]any{KeyImagePrompts: a.payload()}), nil
	}
	if n, instr, ok := ParseSceneEdit(fb.Text); ok {
		return a.redoScene(ctx, fb.Emitter, n, instr)
	}
	if IsRegenerate(fb.Text) {
		return a.run(ctx, fb.Session, fb.Emitter)
	}
	a.setStatus(StatusWaitingFeedback)
	return failure("image_prompt_confirm",
		"'확인', '다시' 또는 '2번 <수정 내용>'처럼 답해주세요.", nil), nil
}

func (a *ImagePrompter) run(ctx context.Context, s *session.Session, em *progress.Emitter) (*Result, error) {
	var script Script
	if !decodeKey(s.Context, KeyScript, &script) {
		a.setStatus(StatusWaitingFeedback)
		return failure("image_prompt_generate", "대본이 없습니다. 대본 단계를 먼저 완료해주세요.", nil), nil
	}

	info := s.Context.Map(KeyCharacterInfo)
	a.character = info.Str("description")
	if a.character == "" {
		a.character = "친근한 한국인 1인 크리에이터"
	}
	a.style = info.Str("style")
	if a.style == "" {
		a.style = vision.StyleDefault
	}

	type tagged struct{ section, sentence string }
	var sentences []tagged
	for _, name := range scriptSectionOrder {
		for _, sent := range splitSentences(script.Sections.Text(name)) {
			sentences = append(sentences, tagged{section: name, sentence: sent})
		}
	}
	if len(sentences) == 0 {
		a.setStatus(StatusWaitingFeedback)
		return failure("image_prompt_generate", "대본에서 장면으로 만들 문장을 찾지 못했습니다.", nil), nil
	}

	defer a.d.recordStage(ctx, string(session.StageImagePrompt), time.Now())

	a.scenes = a.scenes[:0]
	for i, t := range sentences {
		em.Progress(string(session.StageImagePrompt),
			fmt.Sprintf("장면 프롬프트를 생성하고 있습니다 (%d/%d)...", i+1, len(sentences)))
		scene, err := a.generateScene(ctx, i+1, t.section, t.sentence, "")
		if err != nil {
			// One bad reply must not sink the whole batch.
			slog.Warn("scene prompt generation failed, using placeholder",
				"scene", i+1, "error", err)
			scene = a.placeholderScene(i+1, t.section, t.sentence)
		}
		a.scenes = append(a.scenes, scene)
	}
	return a.review(), nil
}

// generateScene asks the LLM for one scene brief. instruction carries the
// user's edit request on regeneration and is empty on the first pass.
func (a *ImagePrompter) generateScene(ctx context.Context, n int, section, sentence, instruction string) (ScenePrompt, error) {
	subject := sentence
	if instruction != "" {
		subject += "\n추가 지시: " + instruction
	}
	prompt := a.d.Prompts.Render(PromptScene, map[string]string{
		"sentence":  subject,
		"character": a.character,
		"style":     a.style,
	})
	raw, err := chatJSON(ctx, a.d, a.d.Prompts.Render(PromptSystemArtDirector, nil), prompt, 0.7)
	if err != nil {
		return ScenePrompt{}, err
	}

	var out struct {
		ImagePrompt string   `json:"image_prompt"`
		VideoPrompt string   `json:"video_prompt"`
		Expression  string   `json:"expression"`
		Props       []string `json:"props"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return ScenePrompt{}, err
	}
	if strings.TrimSpace(out.ImagePrompt) == "" {
		return ScenePrompt{}, fmt.Errorf("scene %d: empty image_prompt", n)
	}
	return ScenePrompt{
		Scene:       n,
		Section:     section,
		Sentence:    sentence,
		ImagePrompt: a.applyStyle(out.ImagePrompt),
		VideoPrompt: out.VideoPrompt,
		Expression:  out.Expression,
		Props:       out.Props,
	}, nil
}

// placeholderScene keeps a failed scene renderable with a generic brief.
func (a *ImagePrompter) placeholderScene(n int, section, sentence string) ScenePrompt {
	return ScenePrompt{
		Scene:       n,
		Section:     section,
		Sentence:    sentence,
		ImagePrompt: a.applyStyle(a.character + ", daily routine scene"),
		VideoPrompt: "slow zoom in",
		Expression:  "natural",
	}
}

func (a *ImagePrompter) applyStyle(p string) string {
	return a.d.Prompts.Render(PromptStylePrefix, nil) + ", " + p
}

func (a *ImagePrompter) redoScene(ctx context.Context, em *progress.Emitter, n int, instruction string) (*Result, error) {
	if n < 1 || n > len(a.scenes) {
		a.setStatus(StatusWaitingFeedback)
		return failure("image_prompt_confirm",
			fmt.Sprintf("%d번 장면이 없습니다. 1~%d번 중에서 선택해주세요.", n, len(a.scenes)), nil), nil
	}
	if IsRegenerate(instruction) {
		instruction = ""
	}
	old := a.scenes[n-1]
	em.Progress(string(session.StageImagePrompt),
		fmt.Sprintf("%d번 장면 프롬프트를 다시 생성하고 있습니다...", n))
	scene, err := a.generateScene(ctx, n, old.Section, old.Sentence, instruction)
	if err != nil {
		a.setStatus(StatusWaitingFeedback)
		return failure("image_prompt_generate",
			fmt.Sprintf("%d번 장면 프롬프트 재생성에 실패했습니다. 다시 시도해주세요.", n), err), nil
	}
	a.scenes[n-1] = scene
	return a.review(), nil
}

// payload is the context value stored under image_prompts.
func (a *ImagePrompter) payload() any {
	return jsonShape(map[string]any{"prompts": a.scenes})
}

func (a *ImagePrompter) review() *Result {
	a.setStatus(StatusWaitingFeedback)
	return &Result{
		Success:       true,
		Step:          "image_prompt_preview",
		Message:       a.reviewMessage(),
		NeedsFeedback: true,
		Data:          map[string]any{KeyImagePrompts: a.payload()},
	}
}

func (a *ImagePrompter) reviewMessage() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "장면 프롬프트 %d개가 준비되었습니다.\n\n", len(a.scenes))
	for _, sc := range a.scenes {
		fmt.Fprintf(&sb, "%d. [%s] %s\n   → %s\n",
			sc.Scene, scriptSectionTitles[sc.Section], sc.Sentence, clip(sc.ImagePrompt, 100))
	}
	sb.WriteString("\n'확인'을 입력하면 이미지 생성을 시작합니다.\n")
	sb.WriteString("'2번 배경을 밤으로 바꿔줘'처럼 특정 장면만 수정할 수 있습니다.")
	return sb.String()
}

// splitSentences cuts text into sentences at `.`, `!` or `?` followed by
// whitespace or end of text, dropping fragments shorter than
// minSentenceRunes. Periods inside numbers ("3.5") do not split.
func splitSentences(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		s := strings.TrimSpace(cur.String())
		if utf8.RuneCountInString(s) >= minSentenceRunes {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i, r := range runes {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()
	return out
}
