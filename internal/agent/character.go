package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moche-ai/routine-studio/internal/session"
	"github.com/moche-ai/routine-studio/pkg/provider/vision"
	"github.com/moche-ai/routine-studio/pkg/provider/workflow"
	"github.com/moche-ai/routine-studio/pkg/types"
)

type charPhase string

const (
	charConcept    charPhase = "concept"
	charGeneration charPhase = "generation"
)

// editKind classifies one review-phase edit request.
type editKind int

const (
	editNone editKind = iota
	editBackground
	editHair
	editFace
	editRemove
	editGeneral
)

// CharacterDesigner runs the CHARACTER stage: it turns a reference image or
// a text concept into the channel's persistent character image, then loops
// on user edits until the candidate is confirmed.
type CharacterDesigner struct {
	statusTracker
	d *Deps

	phase       charPhase
	style       string
	description string
	prompt      string
	refImage    string
	imagePath   string
	renders     int
}

var _ Agent = (*CharacterDesigner)(nil)

// NewCharacterDesigner creates the character stage agent.
func NewCharacterDesigner(d *Deps) *CharacterDesigner {
	return &CharacterDesigner{d: d}
}

func (c *CharacterDesigner) Execute(ctx context.Context, in ExecInput) (*Result, error) {
	c.phase = charConcept
	c.setStatus(StatusWaitingFeedback)
	return ask("character_ask",
		"채널의 메인 캐릭터를 만들어 볼까요? 원하는 캐릭터를 글로 설명해 주시거나, 참고할 캐릭터 이미지를 보내주세요."), nil
}

func (c *CharacterDesigner) HandleFeedback(ctx context.Context, fb Feedback) (*Result, error) {
	if IsSkip(fb.Text) && len(fb.Images) == 0 {
		c.setStatus(StatusCompleted)
		return skipped("character_skipped"), nil
	}
	c.setStatus(StatusRunning)

	if c.phase == charGeneration {
		return c.feedbackReview(ctx, fb), nil
	}
	return c.feedbackConcept(ctx, fb), nil
}

func (c *CharacterDesigner) feedbackConcept(ctx context.Context, fb Feedback) *Result {
	if len(fb.Images) > 0 {
		return c.fromImage(ctx, fb)
	}
	if strings.TrimSpace(fb.Text) == "" {
		c.setStatus(StatusWaitingFeedback)
		return ask("character_ask", "캐릭터를 만들려면 설명이나 참고 이미지가 필요합니다.")
	}
	return c.fromText(ctx, fb)
}

// fromImage builds the character from a reference picture: detect the art
// style, describe the appearance, then render with the reference pulled
// through a style-transfer graph.
func (c *CharacterDesigner) fromImage(ctx context.Context, fb Feedback) *Result {
	if c.d.Vision == nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("character_reference",
			"비전 모델이 설정되지 않아 이미지를 분석할 수 없습니다. 캐릭터를 글로 설명해주세요.", nil)
	}
	raw, err := base64.StdEncoding.DecodeString(types.StripDataURL(fb.Images[0]))
	if err != nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("character_reference", "이미지를 읽지 못했습니다. 다시 보내주세요.", err)
	}
	scratch, err := c.d.Paths.Scratch(fb.Session.ID)
	if err != nil {
		c.setStatus(StatusError)
		return failure("character_reference", "작업 디렉터리를 준비하지 못했습니다.", err)
	}
	refPath := filepath.Join(scratch, "character_reference.png")
	if err := os.WriteFile(refPath, raw, 0o644); err != nil {
		c.setStatus(StatusError)
		return failure("character_reference", "이미지를 저장하지 못했습니다.", err)
	}

	stage := string(session.StageCharacter)
	fb.Emitter.Progress(stage, "참고 이미지의 스타일을 분석하고 있습니다...")
	style, err := vision.AnalyzeStyle(ctx, c.d.Vision, refPath)
	if err != nil {
		slog.Warn("style detection failed", "error", err)
		style = vision.StyleDefault
	}
	c.style = style

	fb.Emitter.Progress(stage, "캐릭터 외형을 분석하고 있습니다...")
	desc, err := vision.DescribeCharacter(ctx, c.d.Vision, refPath)
	if err != nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("character_reference",
			"캐릭터 분석에 실패했습니다. 다른 이미지를 보내거나 글로 설명해주세요.", err)
	}
	if t := strings.TrimSpace(fb.Text); t != "" {
		desc += "\n추가 설명: " + t
	}
	c.description = desc

	prompt, err := c.promptFromConcept(ctx)
	if err != nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("character_prompt", "캐릭터 프롬프트 생성에 실패했습니다. 다시 시도해주세요.", err)
	}
	c.prompt = prompt

	if c.d.Engine == nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("character_generate", "이미지 생성 엔진이 설정되지 않았습니다.", nil)
	}
	ref, err := c.d.Engine.Upload(ctx, "char_ref_"+fb.Session.ID+".png", raw)
	if err != nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("character_generate", "참고 이미지를 엔진에 업로드하지 못했습니다.", err)
	}
	c.refImage = ref

	return c.generate(ctx, fb)
}

// fromText builds the character from a written concept.
func (c *CharacterDesigner) fromText(ctx context.Context, fb Feedback) *Result {
	c.description = strings.TrimSpace(fb.Text)
	c.style = vision.StyleDefault
	c.refImage = ""

	prompt, err := c.promptFromConcept(ctx)
	if err != nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("character_prompt", "캐릭터 프롬프트 생성에 실패했습니다. 다시 시도해주세요.", err)
	}
	c.prompt = prompt
	return c.generate(ctx, fb)
}

func (c *CharacterDesigner) promptFromConcept(ctx context.Context) (string, error) {
	return chatText(ctx, c.d,
		c.d.Prompts.Render(PromptSystemArtDirector, nil),
		c.d.Prompts.Render(PromptCharacterConcept, map[string]string{"concept": c.description}),
		0.7)
}

// generate renders the current prompt, with the uploaded reference pulled in
// when one exists.
func (c *CharacterDesigner) generate(ctx context.Context, fb Feedback) *Result {
	if c.d.Engine == nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("character_generate", "이미지 생성 엔진이 설정되지 않았습니다.", nil)
	}
	defer c.d.recordStage(ctx, string(session.StageCharacter), time.Now())
	fb.Emitter.Progress(string(session.StageCharacter), "캐릭터 이미지를 생성하고 있습니다...")

	params := c.d.graphParams(fb.Session.ID)
	negative := c.d.Prompts.Render(PromptNegative, nil)
	prompt := c.styledPrompt()
	seed := time.Now().UnixNano()

	var g workflow.Graph
	if c.refImage != "" {
		g = workflow.StyleTransfer(params, prompt, negative, c.refImage, styleWeight(c.style), seed)
	} else {
		g = workflow.TextToImage(params, prompt, negative, seed)
	}
	return c.render(ctx, fb.Session, g)
}

// render executes the graph and presents the produced image for review.
func (c *CharacterDesigner) render(ctx context.Context, s *session.Session, g workflow.Graph) *Result {
	arts, err := workflow.Execute(ctx, c.d.Engine, g, c.d.Cfg.Workflow.ImageTimeout.Std())
	if err != nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("character_generate",
			"캐릭터 이미지 생성에 실패했습니다. 다시 시도하거나 설명을 바꿔주세요.", err)
	}
	out, err := c.d.Paths.SessionOutput(s.ID)
	if err != nil {
		c.setStatus(StatusError)
		return failure("character_generate", "출력 디렉터리를 준비하지 못했습니다.", err)
	}
	c.renders++
	path := filepath.Join(out, fmt.Sprintf("character_%d.png", c.renders))
	if err := os.WriteFile(path, arts[0].Data, 0o644); err != nil {
		c.setStatus(StatusError)
		return failure("character_generate", "이미지를 저장하지 못했습니다.", err)
	}

	c.imagePath = path
	c.phase = charGeneration
	c.setStatus(StatusWaitingFeedback)
	return &Result{
		Success: true,
		Step:    "character_preview",
		Message: "캐릭터 이미지가 생성되었습니다. 마음에 들면 '확인'을 입력해주세요. " +
			"수정할 부분이 있으면 말씀해주세요 (예: 머리 색을 바꿔줘, 배경을 제거해줘).",
		Images:        []string{path},
		NeedsFeedback: true,
	}
}

func (c *CharacterDesigner) feedbackReview(ctx context.Context, fb Feedback) *Result {
	// A fresh reference image restarts the build from the image path.
	if len(fb.Images) > 0 {
		return c.fromImage(ctx, fb)
	}
	if IsConfirm(fb.Text) {
		c.setStatus(StatusCompleted)
		info := map[string]any{
			"description": c.description,
			"style":       c.style,
			"prompt":      c.prompt,
		}
		return finish("character_done", "캐릭터가 확정되었습니다. 다음 단계로 진행합니다.",
			map[string]any{
				KeyCharacterInfo:  info,
				KeyCharacterImage: c.imagePath,
			})
	}
	if IsRegenerate(fb.Text) {
		return c.generate(ctx, fb)
	}

	kind := classifyEdit(fb.Text)
	if kind == editNone {
		return c.refine(ctx, fb)
	}
	return c.applyEdit(ctx, fb, kind)
}

// refine folds the feedback into the concept, rebuilds the prompt and
// re-runs the base generation.
func (c *CharacterDesigner) refine(ctx context.Context, fb Feedback) *Result {
	c.description += "\n추가 요청: " + strings.TrimSpace(fb.Text)
	prompt, err := c.promptFromConcept(ctx)
	if err != nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("character_prompt", "프롬프트를 갱신하지 못했습니다. 다시 시도해주세요.", err)
	}
	c.prompt = prompt
	return c.generate(ctx, fb)
}

// applyEdit reworks the current candidate in place: background removal runs
// its dedicated graph, everything else runs an image edit at the edit
// type's denoise strength. The concept prompt is kept; the instruction is
// folded into the render prompt only.
func (c *CharacterDesigner) applyEdit(ctx context.Context, fb Feedback, kind editKind) *Result {
	if c.d.Engine == nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("character_edit", "이미지 생성 엔진이 설정되지 않았습니다.", nil)
	}
	raw, err := os.ReadFile(c.imagePath)
	if err != nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("character_edit", "현재 이미지를 읽지 못했습니다. 다시 생성해주세요.", err)
	}
	name := fmt.Sprintf("char_edit_%s_%d.png", fb.Session.ID, c.renders)
	ref, err := c.d.Engine.Upload(ctx, name, raw)
	if err != nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("character_edit", "이미지를 엔진에 업로드하지 못했습니다.", err)
	}

	defer c.d.recordStage(ctx, string(session.StageCharacter), time.Now())
	fb.Emitter.Progress(string(session.StageCharacter), "이미지를 수정하고 있습니다...")

	params := c.d.graphParams(fb.Session.ID)
	var g workflow.Graph
	if kind == editBackground {
		g = workflow.BackgroundRemoval(params, ref)
	} else {
		negative := c.d.Prompts.Render(PromptNegative, nil)
		prompt := strings.TrimSpace(c.styledPrompt() + ", " + strings.TrimSpace(fb.Text))
		g = workflow.ImageEdit(params, ref, prompt, negative, editDenoise(kind), time.Now().UnixNano())
	}
	return c.render(ctx, fb.Session, g)
}

func (c *CharacterDesigner) styledPrompt() string {
	prefix := c.d.Prompts.Render(PromptStylePrefix, nil)
	if prefix == "" {
		return c.prompt
	}
	return prefix + ", " + c.prompt
}

// styleWeight maps the detected art style to the reference weight of the
// style-transfer graph.
func styleWeight(style string) float64 {
	switch style {
	case vision.StyleCartoon:
		return 0.75
	case vision.StyleAnime:
		return 0.85
	case vision.StyleRealistic:
		return 1.00
	case vision.Style3D:
		return 0.90
	default:
		return 0.80
	}
}

// classifyEdit routes a review-phase instruction by keyword. Background
// handling wins over the generic removal words so "배경 제거해줘" runs the
// dedicated background graph.
func classifyEdit(text string) editKind {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return editNone
	}
	contains := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(t, w) {
				return true
			}
		}
		return false
	}
	switch {
	case contains("배경"):
		return editBackground
	case contains("머리", "헤어"):
		return editHair
	case contains("얼굴", "표정"):
		return editFace
	case contains("빼", "제거", "지워", "없애"):
		return editRemove
	case contains("바꿔", "바꾸", "수정", "변경"):
		return editGeneral
	default:
		return editNone
	}
}

// editDenoise is the per-edit-type denoise strength. Face edits stay subtle;
// general edits may rework most of the image.
func editDenoise(kind editKind) float64 {
	switch kind {
	case editFace:
		return 0.60
	case editHair:
		return 0.65
	case editRemove:
		return 0.70
	default:
		return 0.75
	}
}
