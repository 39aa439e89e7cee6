package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/moche-ai/routine-studio/internal/progress"
	"github.com/moche-ai/routine-studio/internal/session"
)

// PlanMode selects which text stage a Planner serves.
type PlanMode string

// Planner modes, one per text-heavy pipeline stage.
const (
	PlanChannelNames PlanMode = "channel_names"
	PlanVideoIdeas   PlanMode = "video_ideas"
	PlanScript       PlanMode = "script"
)

// VideoIdea is one generated video concept.
type VideoIdea struct {
	Title           string `json:"title"`
	Concept         string `json:"concept"`
	TargetAudience  string `json:"target_audience"`
	EstimatedAppeal string `json:"estimated_appeal"`
}

// Script is the sectioned narration script for one video.
type Script struct {
	Title    string         `json:"title"`
	Sections ScriptSections `json:"sections"`
}

// ScriptSections holds the narration text of the six fixed script parts.
type ScriptSections struct {
	Opening    string `json:"opening"`
	Intro      string `json:"intro"`
	Body1      string `json:"body1"`
	Body2      string `json:"body2"`
	Body3      string `json:"body3"`
	Conclusion string `json:"conclusion"`
}

// scriptSectionOrder fixes the narration sequence used by the voice and
// compose stages.
var scriptSectionOrder = []string{"opening", "intro", "body1", "body2", "body3", "conclusion"}

// scriptSectionTitles maps section names to their Korean display titles.
var scriptSectionTitles = map[string]string{
	"opening":    "오프닝",
	"intro":      "도입",
	"body1":      "본론 1",
	"body2":      "본론 2",
	"body3":      "본론 3",
	"conclusion": "마무리",
}

// Text returns the narration of the named section, or "" for unknown names.
func (s ScriptSections) Text(name string) string {
	switch name {
	case "opening":
		return s.Opening
	case "intro":
		return s.Intro
	case "body1":
		return s.Body1
	case "body2":
		return s.Body2
	case "body3":
		return s.Body3
	case "conclusion":
		return s.Conclusion
	}
	return ""
}

// Planner serves the three text stages: channel naming, video ideas, and
// script writing. One mode-parameterized type keeps the LLM call, JSON
// parsing and selection handling in one place.
type Planner struct {
	statusTracker
	mode PlanMode
	d    *Deps

	// Stage-local drafts awaiting user selection or confirmation.
	names  []string
	ideas  []VideoIdea
	script *Script
}

var _ Agent = (*Planner)(nil)

// NewPlanner creates the planner for one text stage.
func NewPlanner(mode PlanMode, d *Deps) *Planner {
	return &Planner{mode: mode, d: d}
}

// stage returns the pipeline stage name this planner emits progress under.
func (p *Planner) stage() string {
	switch p.mode {
	case PlanVideoIdeas:
		return string(session.StageVideoIdeas)
	case PlanScript:
		return string(session.StageScript)
	}
	return string(session.StageChannelName)
}

// Execute opens the stage: the channel-name mode asks for a topic unless the
// initial user request already carries one, the other modes generate their
// first draft immediately from the session context.
func (p *Planner) Execute(ctx context.Context, in ExecInput) (*Result, error) {
	p.setStatus(StatusRunning)
	defer p.d.recordStage(ctx, p.stage(), time.Now())

	switch p.mode {
	case PlanChannelNames:
		topic := strings.TrimSpace(in.Session.Context.Str(KeyUserRequest))
		if topic == "" {
			p.setStatus(StatusWaitingFeedback)
			return ask("channel_name_ask", "어떤 주제의 유튜브 채널을 만들고 싶으신가요? 주제를 알려주시면 채널 이름을 제안해드릴게요."), nil
		}
		return p.generateNames(ctx, in.Emitter, topic, ""), nil

	case PlanVideoIdeas:
		return p.generateIdeas(ctx, in.Session, in.Emitter, ""), nil

	case PlanScript:
		return p.generateScript(ctx, in.Session, in.Emitter, ""), nil
	}
	return nil, fmt.Errorf("agent: unknown planner mode %q", p.mode)
}

// HandleFeedback routes the user's reply: skip ends the stage, a selection
// or confirmation accepts a draft, anything else regenerates with the text
// as refinement.
func (p *Planner) HandleFeedback(ctx context.Context, fb Feedback) (*Result, error) {
	if IsSkip(fb.Text) {
		p.setStatus(StatusCompleted)
		return skipped(string(p.mode) + "_skipped"), nil
	}
	p.setStatus(StatusRunning)

	switch p.mode {
	case PlanChannelNames:
		return p.feedbackNames(ctx, fb), nil
	case PlanVideoIdeas:
		return p.feedbackIdeas(ctx, fb), nil
	case PlanScript:
		return p.feedbackScript(ctx, fb), nil
	}
	return nil, fmt.Errorf("agent: unknown planner mode %q", p.mode)
}

func (p *Planner) feedbackNames(ctx context.Context, fb Feedback) *Result {
	// Candidates survive a process restart through the session context.
	if len(p.names) == 0 {
		p.names = fb.Session.Context.StrSlice(KeyChannelNames)
	}

	if len(p.names) == 0 {
		// Still collecting the topic; the whole message is it.
		return p.generateNames(ctx, fb.Emitter, fb.Text, "")
	}

	if n, ok := ParseSelection(fb.Text); ok {
		if n > len(p.names) {
			p.setStatus(StatusWaitingFeedback)
			return failure("channel_name_select",
				fmt.Sprintf("1부터 %d 사이의 번호를 선택해주세요.", len(p.names)), nil)
		}
		return p.selectName(p.names[n-1])
	}
	if IsConfirm(fb.Text) {
		return p.selectName(p.names[0])
	}
	topic := strings.TrimSpace(fb.Session.Context.Str(KeyUserRequest))
	if topic == "" {
		topic = fb.Text
	}
	return p.generateNames(ctx, fb.Emitter, topic, fb.Text)
}

func (p *Planner) selectName(name string) *Result {
	p.setStatus(StatusCompleted)
	return finish("channel_name_selected",
		fmt.Sprintf("채널 이름을 %q(으)로 확정했습니다.", name),
		map[string]any{
			KeySelectedChannelName: name,
			KeyChannelNames:        jsonShape(p.names),
		})
}

func (p *Planner) generateNames(ctx context.Context, em *progress.Emitter, topic, refinement string) *Result {
	em.Progress(p.stage(), "채널 이름 후보를 생성하고 있습니다...")

	vars := map[string]string{
		"topic":      topic,
		"count":      fmt.Sprint(p.candidateCount()),
		"refinement": "",
	}
	if refinement != "" && refinement != topic {
		vars["refinement"] = "추가 요청: " + refinement + "\n"
	}
	raw, err := chatJSON(ctx, p.d, p.d.Prompts.Render(PromptSystemStrategist, nil),
		p.d.Prompts.Render(PromptChannelNames, vars), 0.9)
	if err != nil {
		p.setStatus(StatusError)
		return failure("channel_name_generate", "채널 이름 생성에 실패했습니다. 잠시 후 다시 시도해주세요.", err)
	}

	var parsed struct {
		ChannelNames []string `json:"channel_names"`
	}
	if json.Unmarshal(raw, &parsed) != nil || len(parsed.ChannelNames) == 0 {
		p.setStatus(StatusError)
		return failure("channel_name_parse", "채널 이름 생성 결과를 해석하지 못했습니다. 다시 시도해주세요.", nil)
	}
	p.names = parsed.ChannelNames
	p.setStatus(StatusWaitingFeedback)

	var b strings.Builder
	b.WriteString("채널 이름 후보입니다:\n\n")
	for i, name := range p.names {
		fmt.Fprintf(&b, "%d. %s\n", i+1, name)
	}
	b.WriteString("\n번호로 선택해주세요. 다른 방향을 원하시면 설명해주시면 다시 제안해드릴게요.")

	r := ask("channel_name_candidates", b.String())
	r.Data = map[string]any{KeyChannelNames: jsonShape(p.names)}
	return r
}

func (p *Planner) feedbackIdeas(ctx context.Context, fb Feedback) *Result {
	if len(p.ideas) == 0 {
		decodeKey(fb.Session.Context, KeyVideoIdeas, &p.ideas)
	}
	if len(p.ideas) == 0 {
		return p.generateIdeas(ctx, fb.Session, fb.Emitter, fb.Text)
	}

	if n, ok := ParseSelection(fb.Text); ok {
		if n > len(p.ideas) {
			p.setStatus(StatusWaitingFeedback)
			return failure("video_idea_select",
				fmt.Sprintf("1부터 %d 사이의 번호를 선택해주세요.", len(p.ideas)), nil)
		}
		return p.selectIdea(p.ideas[n-1])
	}
	if IsConfirm(fb.Text) {
		return p.selectIdea(p.ideas[0])
	}
	return p.generateIdeas(ctx, fb.Session, fb.Emitter, fb.Text)
}

func (p *Planner) selectIdea(idea VideoIdea) *Result {
	p.setStatus(StatusCompleted)
	return finish("video_idea_selected",
		fmt.Sprintf("영상 아이디어 %q(을)를 확정했습니다.", idea.Title),
		map[string]any{KeySelectedVideoIdea: jsonShape(idea)})
}

func (p *Planner) generateIdeas(ctx context.Context, s *session.Session, em *progress.Emitter, guidance string) *Result {
	em.Progress(p.stage(), "영상 아이디어를 기획하고 있습니다...")

	report := s.Context.Map(KeyBenchmarkReport)
	vars := map[string]string{
		"channel_name": s.Context.Str(KeySelectedChannelName),
		"count":        fmt.Sprint(p.candidateCount()),
		"concept":      clip(report.Str("channel_concept"), 800),
		"audience":     clip(report.Str("audience_profile"), 800),
		"guidance":     "",
	}
	if guidance != "" {
		vars["guidance"] = "추가 요청: " + guidance + "\n"
	}
	raw, err := chatJSON(ctx, p.d, p.d.Prompts.Render(PromptSystemStrategist, nil),
		p.d.Prompts.Render(PromptVideoIdeas, vars), 0.9)
	if err != nil {
		p.setStatus(StatusError)
		return failure("video_idea_generate", "영상 아이디어 생성에 실패했습니다. 잠시 후 다시 시도해주세요.", err)
	}

	var parsed struct {
		VideoIdeas []VideoIdea `json:"video_ideas"`
	}
	if json.Unmarshal(raw, &parsed) != nil || len(parsed.VideoIdeas) == 0 {
		p.setStatus(StatusError)
		return failure("video_idea_parse", "영상 아이디어 생성 결과를 해석하지 못했습니다. 다시 시도해주세요.", nil)
	}
	p.ideas = parsed.VideoIdeas
	p.setStatus(StatusWaitingFeedback)

	var b strings.Builder
	b.WriteString("영상 아이디어 후보입니다:\n\n")
	for i, idea := range p.ideas {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, idea.Title, clip(idea.Concept, 120))
	}
	b.WriteString("\n번호로 선택해주세요. 다른 방향을 원하시면 설명해주세요.")

	r := ask("video_idea_candidates", b.String())
	r.Data = map[string]any{KeyVideoIdeas: jsonShape(p.ideas)}
	return r
}

func (p *Planner) feedbackScript(ctx context.Context, fb Feedback) *Result {
	if p.script == nil {
		return p.generateScript(ctx, fb.Session, fb.Emitter, fb.Text)
	}
	if IsConfirm(fb.Text) {
		p.setStatus(StatusCompleted)
		return finish("script_confirmed",
			fmt.Sprintf("대본 %q(을)를 확정했습니다.", p.script.Title),
			map[string]any{KeyScript: jsonShape(p.script)})
	}
	return p.generateScript(ctx, fb.Session, fb.Emitter, fb.Text)
}

func (p *Planner) generateScript(ctx context.Context, s *session.Session, em *progress.Emitter, instruction string) *Result {
	em.Progress(p.stage(), "대본을 작성하고 있습니다...")

	var idea VideoIdea
	if !decodeKey(s.Context, KeySelectedVideoIdea, &idea) || idea.Title == "" {
		// The ideas stage was skipped; fall back to what we know.
		idea.Title = s.Context.Str(KeySelectedChannelName)
		idea.Concept = s.Context.Str(KeyUserRequest)
	}

	report := s.Context.Map(KeyBenchmarkReport)
	vars := map[string]string{
		"idea_title":      idea.Title,
		"idea_concept":    idea.Concept,
		"target_audience": idea.TargetAudience,
		"script_pattern":  clip(report.Str("script_analysis"), 1200),
		"instruction":     "",
	}
	if instruction != "" && IsRegenerate(instruction) {
		vars["instruction"] = "이전 대본과 다른 구성으로 다시 작성해주세요.\n"
	} else if instruction != "" {
		vars["instruction"] = "추가 요청: " + instruction + "\n"
	}

	raw, err := chatJSON(ctx, p.d, p.d.Prompts.Render(PromptSystemStrategist, nil),
		p.d.Prompts.Render(PromptScript, vars), 0.8)
	if err != nil {
		p.setStatus(StatusError)
		return failure("script_generate", "대본 생성에 실패했습니다. 잠시 후 다시 시도해주세요.", err)
	}

	var draft Script
	if json.Unmarshal(raw, &draft) != nil || draft.Sections == (ScriptSections{}) {
		p.setStatus(StatusError)
		return failure("script_parse", "대본 생성 결과를 해석하지 못했습니다. 다시 시도해주세요.", nil)
	}
	p.script = &draft
	p.setStatus(StatusWaitingFeedback)

	var b strings.Builder
	fmt.Fprintf(&b, "대본 초안입니다: %s\n\n", draft.Title)
	for _, name := range scriptSectionOrder {
		text := draft.Sections.Text(name)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s]\n%s\n\n", scriptSectionTitles[name], clip(text, 200))
	}
	b.WriteString("이대로 확정할까요? 수정할 부분이 있으면 알려주세요.")

	return ask("script_draft", b.String())
}

// candidateCount returns how many names or ideas to generate.
func (p *Planner) candidateCount() int {
	if n := p.d.Cfg.Pipeline.CandidateCount; n > 0 {
		return n
	}
	return 5
}

// clip truncates s to at most n runes, appending an ellipsis mark.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
