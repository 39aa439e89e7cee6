package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moche-ai/routine-studio/internal/progress"
	"github.com/moche-ai/routine-studio/internal/session"
	"github.com/moche-ai/routine-studio/pkg/provider/workflow"
)

// sceneStyleWeight is the IPAdapter weight binding scenes 2..N to the
// scene 1 reference.
const sceneStyleWeight = 0.85

// qcResult is one scene's quality-check outcome as stored in context.
type qcResult struct {
	Scene             int     `json:"scene"`
	Verdict           string  `json:"verdict"`
	Score             float64 `json:"score"`
	RegenerationCount int     `json:"regeneration_count"`
}

// ImageGenerator renders one image per scene prompt. The first scene is a
// plain text-to-image render and becomes the run's reference; later scenes
// style-transfer against it so the character stays consistent. Per-scene
// videos and the quality-check loop are config switches.
type ImageGenerator struct {
	statusTracker

	d *Deps

	prompts []ScenePrompt
	images  []string
	videos  []string
	qc      []qcResult
	imgVer  []int
	vidVer  []int

	refName string
	refPath string
}

// NewImageGenerator builds the scene render agent.
func NewImageGenerator(d *Deps) *ImageGenerator {
	return &ImageGenerator{d: d}
}

var _ Agent = (*ImageGenerator)(nil)

func (g *ImageGenerator) Execute(ctx context.Context, in ExecInput) (*Result, error) {
	g.setStatus(StatusRunning)
	return g.run(ctx, in.Session, in.Emitter)
}

func (g *ImageGenerator) HandleFeedback(ctx context.Context, fb Feedback) (*Result, error) {
	g.setStatus(StatusRunning)
	if IsSkip(fb.Text) {
		g.setStatus(StatusCompleted)
		return skipped("image_skipped"), nil
	}
	if len(g.prompts) == 0 {
		return g.run(ctx, fb.Session, fb.Emitter)
	}
	if IsConfirm(fb.Text) {
		g.setStatus(StatusCompleted)
		return finish("image_done", "장면 이미지가 확정되었습니다. 내레이션 단계로 진행합니다.", g.payload()), nil
	}
	if n, instr, ok := ParseSceneEdit(fb.Text); ok {
		if IsRegenerate(instr) {
			return g.redoScene(ctx, fb.Session, fb.Emitter, n)
		}
		g.setStatus(StatusWaitingFeedback)
		return failure("image_confirm",
			"이미지 내용 수정은 장면 프롬프트 단계에서 할 수 있습니다. 여기서는 '2번 다시'로 재생성만 가능합니다.", nil), nil
	}
	if IsRegenerate(fb.Text) {
		return g.run(ctx, fb.Session, fb.Emitter)
	}
	g.setStatus(StatusWaitingFeedback)
	return failure("image_confirm", "'확인', '다시' 또는 '2번 다시'로 답해주세요.", nil), nil
}

func (g *ImageGenerator) run(ctx context.Context, s *session.Session, em *progress.Emitter) (*Result, error) {
	if g.d.Engine == nil {
		g.setStatus(StatusWaitingFeedback)
		return failure("image_generate", "이미지 생성 엔진이 설정되지 않았습니다.", nil), nil
	}
	var wrapper struct {
		Prompts []ScenePrompt `json:"prompts"`
	}
	if !decodeKey(s.Context, KeyImagePrompts, &wrapper) || len(wrapper.Prompts) == 0 {
		g.setStatus(StatusWaitingFeedback)
		return failure("image_generate", "장면 프롬프트가 없습니다. 이전 단계를 먼저 완료해주세요.", nil), nil
	}
	n := len(wrapper.Prompts)
	g.prompts = wrapper.Prompts
	g.images = make([]string, n)
	g.videos = make([]string, n)
	g.qc = make([]qcResult, n)
	g.imgVer = make([]int, n)
	g.vidVer = make([]int, n)
	g.refName, g.refPath = "", ""

	defer g.d.recordStage(ctx, string(session.StageImageGenerate), time.Now())

	stage := string(session.StageImageGenerate)
	for i := 1; i <= n; i++ {
		em.Progress(stage, fmt.Sprintf("장면 이미지를 생성하고 있습니다 (%d/%d)...", i, n))
		if err := g.generateSceneImage(ctx, s, i); err != nil {
			g.setStatus(StatusWaitingFeedback)
			return failure("image_generate", fmt.Sprintf("%d번 장면 이미지 생성에 실패했습니다.", i), err), nil
		}
	}
	if g.d.Cfg.Pipeline.EnableVideo {
		for i := 1; i <= n; i++ {
			em.Progress(stage, fmt.Sprintf("장면 영상을 생성하고 있습니다 (%d/%d)...", i, n))
			if err := g.videoWithQC(ctx, s, em, i); err != nil {
				g.setStatus(StatusWaitingFeedback)
				return failure("image_generate", fmt.Sprintf("%d번 장면 영상 생성에 실패했습니다.", i), err), nil
			}
		}
	}
	return g.review(), nil
}

// generateSceneImage renders scene n and stores the image under the session
// output dir. Scene 1 additionally becomes the style reference for the
// remaining scenes.
func (g *ImageGenerator) generateSceneImage(ctx context.Context, s *session.Session, n int) error {
	sc := g.prompts[n-1]
	params := g.d.graphParams(s.ID)
	negative := g.d.Prompts.Render(PromptNegative, nil)
	seed := time.Now().UnixNano()

	var graph workflow.Graph
	if n == 1 || g.refName == "" {
		graph = workflow.TextToImage(params, sc.ImagePrompt, negative, seed)
	} else {
		graph = workflow.StyleTransfer(params, sc.ImagePrompt, negative, g.refName, sceneStyleWeight, seed)
	}
	arts, err := workflow.Execute(ctx, g.d.Engine, graph, g.d.Cfg.Workflow.ImageTimeout.Std())
	if err != nil {
		return err
	}
	out, err := g.d.Paths.SessionOutput(s.ID)
	if err != nil {
		return err
	}
	g.imgVer[n-1]++
	path := filepath.Join(out, fmt.Sprintf("scene_%d_v%d.png", n, g.imgVer[n-1]))
	if err := os.WriteFile(path, arts[0].Data, 0o644); err != nil {
		return err
	}
	g.images[n-1] = path

	if n == 1 {
		ref, err := g.d.Engine.Upload(ctx, fmt.Sprintf("scene_ref_%s.png", s.ID), arts[0].Data)
		if err != nil {
			return err
		}
		g.refName = ref
		g.refPath = path
	}
	return nil
}

// renderSceneVideo animates scene n's image through the image-to-video
// workflow and stores the clip next to the images.
func (g *ImageGenerator) renderSceneVideo(ctx context.Context, s *session.Session, n int) (string, error) {
	data, err := os.ReadFile(g.images[n-1])
	if err != nil {
		return "", err
	}
	src, err := g.d.Engine.Upload(ctx, fmt.Sprintf("scene_%d_src_%s.png", n, s.ID), data)
	if err != nil {
		return "", err
	}
	graph := workflow.ImageToVideo(g.d.graphParams(s.ID), src, time.Now().UnixNano())
	arts, err := workflow.Execute(ctx, g.d.Engine, graph, g.d.Cfg.Workflow.VideoTimeout.Std())
	if err != nil {
		return "", err
	}
	out, err := g.d.Paths.SessionOutput(s.ID)
	if err != nil {
		return "", err
	}
	g.vidVer[n-1]++
	path := filepath.Join(out, fmt.Sprintf("scene_%d_v%d.mp4", n, g.vidVer[n-1]))
	if err := os.WriteFile(path, arts[0].Data, 0o644); err != nil {
		return "", err
	}
	g.videos[n-1] = path
	return path, nil
}

// videoWithQC renders scene n's video and, when quality checks are on,
// regenerates it until the verdict passes or the regeneration budget is
// spent. A check that cannot run records an ERROR verdict and keeps the
// clip as is.
func (g *ImageGenerator) videoWithQC(ctx context.Context, s *session.Session, em *progress.Emitter, n int) error {
	path, err := g.renderSceneVideo(ctx, s, n)
	if err != nil {
		return err
	}
	if !g.d.Cfg.Pipeline.EnableQC {
		return nil
	}
	frameDir, err := g.d.Paths.Scratch(s.ID)
	if err != nil {
		return err
	}
	checker := NewQualityChecker(g.qcMode(), g.d)
	limit := g.maxRegens()
	regen := 0
	for {
		report, err := checker.CheckVideo(ctx, g.refPath, path, frameDir)
		if err != nil {
			slog.Warn("scene video quality check unavailable", "scene", n, "error", err)
			g.d.recordQC(ctx, VerdictError)
			g.qc[n-1] = qcResult{Scene: n, Verdict: VerdictError, RegenerationCount: regen}
			return nil
		}
		g.d.recordQC(ctx, report.Verdict)
		if report.Verdict != VerdictFail || regen >= limit {
			g.qc[n-1] = qcResult{Scene: n, Verdict: report.Verdict, Score: report.OverallScore, RegenerationCount: regen}
			return nil
		}
		regen++
		em.Progress(string(session.StageImageGenerate),
			fmt.Sprintf("%d번 장면 영상 품질이 낮아 다시 생성합니다 (%d/%d)...", n, regen, limit))
		if path, err = g.renderSceneVideo(ctx, s, n); err != nil {
			return err
		}
	}
}

func (g *ImageGenerator) qcMode() QCMode {
	if g.d.CloudVision != nil {
		return QCModeCloud
	}
	return QCModeVision
}

func (g *ImageGenerator) maxRegens() int {
	if n := g.d.Cfg.Pipeline.MaxRegenerations; n > 0 {
		return n
	}
	return 0
}

func (g *ImageGenerator) redoScene(ctx context.Context, s *session.Session, em *progress.Emitter, n int) (*Result, error) {
	if n < 1 || n > len(g.prompts) {
		g.setStatus(StatusWaitingFeedback)
		return failure("image_confirm",
			fmt.Sprintf("%d번 장면이 없습니다. 1~%d번 중에서 선택해주세요.", n, len(g.prompts)), nil), nil
	}
	em.Progress(string(session.StageImageGenerate), fmt.Sprintf("%d번 장면을 다시 생성하고 있습니다...", n))
	if err := g.generateSceneImage(ctx, s, n); err != nil {
		g.setStatus(StatusWaitingFeedback)
		return failure("image_generate", fmt.Sprintf("%d번 장면 이미지 생성에 실패했습니다.", n), err), nil
	}
	if g.d.Cfg.Pipeline.EnableVideo {
		if err := g.videoWithQC(ctx, s, em, n); err != nil {
			g.setStatus(StatusWaitingFeedback)
			return failure("image_generate", fmt.Sprintf("%d번 장면 영상 생성에 실패했습니다.", n), err), nil
		}
	}
	return g.review(), nil
}

func (g *ImageGenerator) payload() map[string]any {
	data := map[string]any{KeyImages: jsonShape(g.images)}
	if g.d.Cfg.Pipeline.EnableVideo {
		data[KeyVideos] = jsonShape(g.videos)
		if entries := g.qcEntries(); len(entries) > 0 {
			data[KeyQCResults] = jsonShape(entries)
		}
	}
	return data
}

func (g *ImageGenerator) qcEntries() []qcResult {
	var out []qcResult
	for _, r := range g.qc {
		if r.Verdict != "" {
			out = append(out, r)
		}
	}
	return out
}

func (g *ImageGenerator) review() *Result {
	g.setStatus(StatusWaitingFeedback)
	return &Result{
		Success:       true,
		Step:          "image_preview",
		Message:       g.reviewMessage(),
		Images:        append([]string(nil), g.images...),
		NeedsFeedback: true,
		Data:          g.payload(),
	}
}

func (g *ImageGenerator) reviewMessage() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "장면 이미지 %d개가 생성되었습니다.\n\n", len(g.images))
	for i, sc := range g.prompts {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, clip(sc.Sentence, 40))
	}
	if g.d.Cfg.Pipeline.EnableVideo {
		sb.WriteString("\n장면별 영상도 함께 생성되었습니다.\n")
		for _, r := range g.qcEntries() {
			if r.Verdict == VerdictError {
				fmt.Fprintf(&sb, "- %d번 품질 검사: 실행하지 못했습니다\n", r.Scene)
				continue
			}
			fmt.Fprintf(&sb, "- %d번 품질 검사: %s (%.1f점)\n", r.Scene, r.Verdict, r.Score)
		}
	}
	sb.WriteString("\n'확인'을 입력하면 내레이션 단계로 진행합니다.\n")
	sb.WriteString("'2번 다시'처럼 특정 장면만 다시 만들 수 있습니다.")
	return sb.String()
}
