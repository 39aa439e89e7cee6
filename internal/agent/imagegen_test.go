package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/moche-ai/routine-studio/internal/paths"
	llmmock "github.com/moche-ai/routine-studio/pkg/provider/llm/mock"
	visionmock "github.com/moche-ai/routine-studio/pkg/provider/vision/mock"
	"github.com/moche-ai/routine-studio/pkg/provider/workflow"
	workflowmock "github.com/moche-ai/routine-studio/pkg/provider/workflow/mock"
)

func imageGenDeps(t *testing.T, eng workflow.Client) *Deps {
	t.Helper()
	d := newTestDeps(&llmmock.Provider{})
	d.Engine = eng
	d.Paths = paths.New(t.TempDir())
	return d
}

// imageGenPrompts seeds n confirmed scene prompts.
func imageGenPrompts(n int) map[string]any {
	prompts := make([]map[string]any, n)
	for i := range prompts {
		prompts[i] = map[string]any{
			"scene":        i + 1,
			"section":      "body1",
			"sentence":     fmt.Sprintf("%d번째 장면 문장입니다.", i+1),
			"image_prompt": fmt.Sprintf("scene %d prompt", i+1),
			"video_prompt": "slow pan",
		}
	}
	return map[string]any{KeyImagePrompts: map[string]any{"prompts": prompts}}
}

func TestImageGenerator_FirstSceneBecomesReference(t *testing.T) {
	eng := testEngine()
	g := NewImageGenerator(imageGenDeps(t, eng))
	s := newTestSession(imageGenPrompts(3))

	res, err := g.Execute(context.Background(), ExecInput{Session: s})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Step != "image_preview" || !res.NeedsFeedback || !res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(eng.Graphs) != 3 {
		t.Fatalf("graphs submitted = %d, want 3", len(eng.Graphs))
	}

	if _, ok := findNode(eng.Graphs[0], "IPAdapter"); ok {
		t.Errorf("scene 1 should render without a style reference")
	}
	refName := fmt.Sprintf("scene_ref_%s.png", s.ID)
	for i := 1; i <= 2; i++ {
		ip, ok := findNode(eng.Graphs[i], "IPAdapter")
		if !ok {
			t.Fatalf("scene %d should style-transfer against the reference", i+1)
		}
		if ip.Inputs["weight"] != sceneStyleWeight {
			t.Errorf("scene %d weight = %v, want %v", i+1, ip.Inputs["weight"], sceneStyleWeight)
		}
		if load, ok := findNode(eng.Graphs[i], "LoadImage"); !ok || load.Inputs["image"] != refName {
			t.Errorf("scene %d reference = %v, want %q", i+1, load.Inputs["image"], refName)
		}
		if !strings.Contains(eng.Graphs[i]["2"].Inputs["text"].(string), fmt.Sprintf("scene %d prompt", i+1)) {
			t.Errorf("scene %d prompt not wired into the graph", i+1)
		}
	}

	if got := string(eng.Uploaded[refName]); got != "mock:out.png" {
		t.Errorf("uploaded reference = %q, want the scene 1 render", got)
	}

	if len(res.Images) != 3 {
		t.Fatalf("result images = %v", res.Images)
	}
	for i, p := range res.Images {
		data, err := os.ReadFile(p)
		if err != nil || string(data) != "mock:out.png" {
			t.Errorf("image %d not saved: %v", i+1, err)
		}
	}
	if filepath.Base(res.Images[0]) != "scene_1_v1.png" {
		t.Errorf("first image = %q", res.Images[0])
	}

	images, _ := res.Data[KeyImages].([]any)
	if len(images) != 3 {
		t.Errorf("images data = %#v", res.Data[KeyImages])
	}
	if _, ok := res.Data[KeyVideos]; ok {
		t.Errorf("videos should be absent when video generation is off")
	}
}

func TestImageGenerator_ConfirmCompletes(t *testing.T) {
	g := NewImageGenerator(imageGenDeps(t, testEngine()))
	s := newTestSession(imageGenPrompts(2))
	ctx := context.Background()
	if _, err := g.Execute(ctx, ExecInput{Session: s}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	res, err := g.HandleFeedback(ctx, Feedback{Session: s, Text: "확인"})
	if err != nil {
		t.Fatalf("HandleFeedback: %v", err)
	}
	if res.Step != "image_done" || res.NeedsFeedback || !res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	if images, _ := res.Data[KeyImages].([]any); len(images) != 2 {
		t.Errorf("images data = %#v", res.Data[KeyImages])
	}
	if g.Status() != StatusCompleted {
		t.Errorf("status = %v, want completed", g.Status())
	}
}

func TestImageGenerator_RedoScene(t *testing.T) {
	eng := testEngine()
	g := NewImageGenerator(imageGenDeps(t, eng))
	s := newTestSession(imageGenPrompts(2))
	ctx := context.Background()
	if _, err := g.Execute(ctx, ExecInput{Session: s}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	res, err := g.HandleFeedback(ctx, Feedback{Session: s, Text: "2번 다시"})
	if err != nil {
		t.Fatalf("HandleFeedback: %v", err)
	}
	if res.Step != "image_preview" {
		t.Fatalf("step = %q, want image_preview", res.Step)
	}
	if len(eng.Graphs) != 3 {
		t.Fatalf("graphs = %d, want 3 (2 initial + 1 redo)", len(eng.Graphs))
	}
	if _, ok := findNode(eng.Graphs[2], "IPAdapter"); !ok {
		t.Errorf("scene 2 redo should stay a style-transfer render")
	}
	if filepath.Base(res.Images[1]) != "scene_2_v2.png" {
		t.Errorf("redone image = %q, want version 2", res.Images[1])
	}
	if filepath.Base(res.Images[0]) != "scene_1_v1.png" {
		t.Errorf("scene 1 should be untouched, got %q", res.Images[0])
	}

	// Redoing scene 1 refreshes the run reference.
	if _, err := g.HandleFeedback(ctx, Feedback{Session: s, Text: "1번 다시"}); err != nil {
		t.Fatalf("HandleFeedback: %v", err)
	}
	if _, ok := findNode(eng.Graphs[3], "IPAdapter"); ok {
		t.Errorf("scene 1 redo should render without a style reference")
	}
}

func TestImageGenerator_VideoQCRegeneratesUntilPass(t *testing.T) {
	eng := testEngine()
	d := imageGenDeps(t, eng)
	d.Cfg.Pipeline.EnableVideo = true
	d.Media = &fakeMedia{frames: []string{"f1.png", "f2.png"}}
	vm := &visionmock.Provider{Replies: []string{
		`{"score": 4, "verdict": "FAIL"}`,
		`{"score": 5, "verdict": "FAIL"}`,
		`{"score": 9, "verdict": "PASS"}`,
	}}
	d.Vision = vm

	g := NewImageGenerator(d)
	s := newTestSession(imageGenPrompts(1))
	res, err := g.Execute(context.Background(), ExecInput{Session: s})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Step != "image_preview" {
		t.Fatalf("unexpected result: %+v", res)
	}

	// One image graph plus three video attempts.
	if len(eng.Graphs) != 4 {
		t.Fatalf("graphs = %d, want 4", len(eng.Graphs))
	}
	for i := 1; i <= 3; i++ {
		if _, ok := findNode(eng.Graphs[i], "SVD_img2vid_Conditioning"); !ok {
			t.Errorf("graph %d should be image-to-video", i)
		}
	}
	if vm.CallCount() != 3 {
		t.Fatalf("vision checks = %d, want 3", vm.CallCount())
	}
	if ref := vm.Calls[0].Req.ImagePaths[0]; filepath.Base(ref) != "scene_1_v1.png" {
		t.Errorf("check reference = %q, want the scene 1 image", ref)
	}

	videos, _ := res.Data[KeyVideos].([]any)
	if len(videos) != 1 {
		t.Fatalf("videos data = %#v", res.Data[KeyVideos])
	}
	if path, _ := videos[0].(string); filepath.Base(path) != "scene_1_v3.mp4" {
		t.Errorf("final video = %v, want the third attempt", videos[0])
	}

	results, _ := res.Data[KeyQCResults].([]any)
	if len(results) != 1 {
		t.Fatalf("qc_results = %#v", res.Data[KeyQCResults])
	}
	qc, _ := results[0].(map[string]any)
	if qc["verdict"] != "PASS" || qc["score"] != float64(9) || qc["regeneration_count"] != float64(2) {
		t.Errorf("qc entry = %#v", qc)
	}
	if !strings.Contains(res.Message, "품질 검사: PASS") {
		t.Errorf("message should report the verdict, got %q", res.Message)
	}
}

func TestImageGenerator_VideoQCStopsAtBudget(t *testing.T) {
	eng := testEngine()
	d := imageGenDeps(t, eng)
	d.Cfg.Pipeline.EnableVideo = true
	d.Media = &fakeMedia{frames: []string{"f1.png"}}
	d.Vision = &visionmock.Provider{Reply: `{"score": 3, "verdict": "FAIL"}`}

	g := NewImageGenerator(d)
	s := newTestSession(imageGenPrompts(1))
	res, err := g.Execute(context.Background(), ExecInput{Session: s})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Initial render plus two budgeted regenerations, all failing.
	if len(eng.Graphs) != 4 {
		t.Fatalf("graphs = %d, want 4", len(eng.Graphs))
	}
	results, _ := res.Data[KeyQCResults].([]any)
	qc, _ := results[0].(map[string]any)
	if qc["verdict"] != "FAIL" || qc["regeneration_count"] != float64(2) {
		t.Errorf("qc entry = %#v", qc)
	}
}

func TestImageGenerator_QCErrorKeepsClip(t *testing.T) {
	eng := testEngine()
	d := imageGenDeps(t, eng)
	d.Cfg.Pipeline.EnableVideo = true
	d.Media = &fakeMedia{frames: []string{"f1.png"}}
	// No vision provider: the check cannot run.

	g := NewImageGenerator(d)
	s := newTestSession(imageGenPrompts(1))
	res, err := g.Execute(context.Background(), ExecInput{Session: s})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}

	// One image graph and a single video attempt, no regeneration.
	if len(eng.Graphs) != 2 {
		t.Fatalf("graphs = %d, want 2", len(eng.Graphs))
	}
	results, _ := res.Data[KeyQCResults].([]any)
	qc, _ := results[0].(map[string]any)
	if qc["verdict"] != "ERROR" || qc["regeneration_count"] != float64(0) {
		t.Errorf("qc entry = %#v", qc)
	}
	if videos, _ := res.Data[KeyVideos].([]any); len(videos) != 1 {
		t.Errorf("clip should be kept on a check error: %#v", res.Data[KeyVideos])
	}
}

func TestImageGenerator_CloudVisionPreferred(t *testing.T) {
	eng := testEngine()
	d := imageGenDeps(t, eng)
	d.Cfg.Pipeline.EnableVideo = true
	d.Media = &fakeMedia{frames: []string{"f1.png"}}
	cloud := &visionmock.Provider{Reply: `{"score": 8, "verdict": "PASS"}`}
	d.CloudVision = cloud

	g := NewImageGenerator(d)
	s := newTestSession(imageGenPrompts(1))
	res, err := g.Execute(context.Background(), ExecInput{Session: s})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cloud.CallCount() != 1 {
		t.Fatalf("cloud vision calls = %d, want 1", cloud.CallCount())
	}
	results, _ := res.Data[KeyQCResults].([]any)
	qc, _ := results[0].(map[string]any)
	if qc["verdict"] != "PASS" {
		t.Errorf("qc entry = %#v", qc)
	}
}

func TestImageGenerator_EditInstructionRejected(t *testing.T) {
	g := NewImageGenerator(imageGenDeps(t, testEngine()))
	s := newTestSession(imageGenPrompts(2))
	ctx := context.Background()
	g.Execute(ctx, ExecInput{Session: s})

	res, err := g.HandleFeedback(ctx, Feedback{Session: s, Text: "2번 더 밝게 바꿔줘"})
	if err != nil {
		t.Fatalf("HandleFeedback: %v", err)
	}
	if res.Success || res.Step != "image_confirm" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Message, "프롬프트 단계") {
		t.Errorf("message should point at the prompt stage, got %q", res.Message)
	}
}

func TestImageGenerator_MissingPrompts(t *testing.T) {
	g := NewImageGenerator(imageGenDeps(t, testEngine()))

	res, err := g.Execute(context.Background(), ExecInput{Session: newTestSession(nil)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Step != "image_generate" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestImageGenerator_EngineFailure(t *testing.T) {
	eng := &workflowmock.Client{SubmitErr: fmt.Errorf("engine down")}
	g := NewImageGenerator(imageGenDeps(t, eng))
	s := newTestSession(imageGenPrompts(2))

	res, err := g.Execute(context.Background(), ExecInput{Session: s})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Step != "image_generate" || !res.NeedsFeedback {
		t.Fatalf("unexpected result: %+v", res)
	}
	if g.Status() != StatusWaitingFeedback {
		t.Errorf("status = %v, want waiting", g.Status())
	}
}

func TestImageGenerator_Skip(t *testing.T) {
	g := NewImageGenerator(imageGenDeps(t, testEngine()))
	s := newTestSession(imageGenPrompts(1))

	res, err := g.HandleFeedback(context.Background(), Feedback{Session: s, Text: "스킵"})
	if err != nil {
		t.Fatalf("HandleFeedback: %v", err)
	}
	if res.Step != "image_skipped" || res.Data["skipped"] != true {
		t.Fatalf("unexpected result: %+v", res)
	}
}
