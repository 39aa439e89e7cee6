package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/moche-ai/routine-studio/internal/benchcache"
	"github.com/moche-ai/routine-studio/internal/progress"
	"github.com/moche-ai/routine-studio/internal/session"
	"github.com/moche-ai/routine-studio/pkg/browser"
	"github.com/moche-ai/routine-studio/pkg/media"
	"github.com/moche-ai/routine-studio/pkg/provider/vision"
)

// benchPhase tracks where the benchmarker is within its stage.
type benchPhase string

const (
	benchAsk     benchPhase = "ask"
	benchConfirm benchPhase = "confirm"
	benchDone    benchPhase = "done"
)

// noSubtitlesMarker fills a transcript slot when a video has no usable
// subtitle track.
const noSubtitlesMarker = "(자막 없음)"

// maxThumbnailBytes caps one thumbnail download.
const maxThumbnailBytes = 5 << 20

// collectLimit bounds parallel thumbnail downloads and captures.
const collectLimit = 4

// Benchmarker analyzes one or more YouTube channels and produces the
// benchmark report the later stages plan against. Completed reports are
// cached; a repeated analysis of the same channel set is served from the
// cache and gated on user confirmation by the orchestrator.
type Benchmarker struct {
	statusTracker
	d *Deps

	phase   benchPhase
	urls    []string
	metas   map[string]*media.ChannelMeta
	summary string
}

var _ Agent = (*Benchmarker)(nil)

// NewBenchmarker creates the benchmarking stage agent.
func NewBenchmarker(d *Deps) *Benchmarker {
	return &Benchmarker{d: d, metas: make(map[string]*media.ChannelMeta)}
}

// Execute opens the stage by asking for channel URLs. A re-analysis run
// arrives with the channel set still in context and the previous report
// cleared; it goes straight to collection.
func (b *Benchmarker) Execute(ctx context.Context, in ExecInput) (*Result, error) {
	b.setStatus(StatusRunning)

	if urls := in.Session.Context.StrSlice(KeyBenchmarkURLs); len(urls) > 0 &&
		!in.Session.Context.Has(KeyBenchmarkReport) {
		b.urls = urls
		return b.runAnalysis(ctx, in.Session, in.Emitter), nil
	}

	b.phase = benchAsk
	b.setStatus(StatusWaitingFeedback)
	return ask("benchmark_ask",
		"벤치마킹할 유튜브 채널을 알려주세요. 채널 URL이나 @핸들을 입력하시면 됩니다. 여러 채널이면 한 번에 보내주세요."), nil
}

// HandleFeedback routes the user's reply through the phase machine.
func (b *Benchmarker) HandleFeedback(ctx context.Context, fb Feedback) (*Result, error) {
	if IsSkip(fb.Text) {
		b.setStatus(StatusCompleted)
		return skipped("benchmark_skipped"), nil
	}
	b.setStatus(StatusRunning)

	switch b.phase {
	case benchConfirm:
		return b.feedbackConfirm(ctx, fb), nil
	case benchDone:
		// The report exists; repeat it instead of re-running the analysis.
		b.setStatus(StatusCompleted)
		return finish("benchmark_report", b.summary, nil), nil
	default:
		return b.feedbackAsk(ctx, fb), nil
	}
}

func (b *Benchmarker) feedbackAsk(ctx context.Context, fb Feedback) *Result {
	urls := extractChannelURLs(fb.Text)
	if len(urls) == 0 {
		b.phase = benchAsk
		b.setStatus(StatusWaitingFeedback)
		return failure("benchmark_ask",
			"유튜브 채널을 찾지 못했습니다. youtube.com/@채널명 형식의 URL이나 @핸들을 보내주세요.", nil)
	}
	b.urls = urls

	if r := b.cachedResult(urls); r != nil {
		return r
	}
	return b.confirmChannels(ctx, fb.Emitter)
}

func (b *Benchmarker) feedbackConfirm(ctx context.Context, fb Feedback) *Result {
	// A new URL replaces the pending set and restarts confirmation.
	if urls := extractChannelURLs(fb.Text); len(urls) > 0 {
		b.urls = urls
		if r := b.cachedResult(urls); r != nil {
			return r
		}
		return b.confirmChannels(ctx, fb.Emitter)
	}
	if IsConfirm(fb.Text) {
		return b.runAnalysis(ctx, fb.Session, fb.Emitter)
	}
	b.setStatus(StatusWaitingFeedback)
	return ask("benchmark_confirm",
		"'확인'을 입력하면 분석을 시작합니다. 다른 채널을 분석하려면 URL을 보내주세요.")
}

// cachedResult serves a previously completed analysis of the same channel
// set. The orchestrator's cached-report gate then waits for the user to
// accept it or request a fresh run.
func (b *Benchmarker) cachedResult(urls []string) *Result {
	if b.d.Cache == nil {
		return nil
	}
	entry, err := b.d.Cache.Find(urls)
	if errors.Is(err, benchcache.ErrNotFound) && len(urls) == 1 {
		entry, err = b.d.Cache.FindByURL(urls[0])
	}
	if err != nil {
		if !errors.Is(err, benchcache.ErrNotFound) {
			slog.Warn("benchmark cache lookup failed", "error", err)
		}
		return nil
	}

	b.phase = benchDone
	b.summary = benchcache.Summary(entry)
	b.setStatus(StatusCompleted)
	return &Result{
		Success:       true,
		Step:          "benchmark_cached",
		Message:       b.summary,
		NeedsFeedback: true,
		Data: map[string]any{
			KeyBenchmarkReport: jsonShape(entry.Report),
			KeyBenchmarkCached: true,
			KeyBenchmarkURLs:   jsonShape(urls),
			"cached":           true,
		},
	}
}

// confirmChannels fetches metadata for the pending URLs and echoes it for
// confirmation. Losing every channel is a failure; losing some degrades.
func (b *Benchmarker) confirmChannels(ctx context.Context, em *progress.Emitter) *Result {
	em.Progress(string(session.StageBenchmarking), "채널 정보를 확인하고 있습니다...")

	var msg strings.Builder
	found := 0
	for _, u := range b.urls {
		meta, err := b.d.YouTube.ChannelInfo(ctx, watchableURL(u))
		if err != nil {
			slog.Warn("channel metadata fetch failed", "url", u, "error", err)
			fmt.Fprintf(&msg, "- %s: 채널 정보를 가져오지 못했습니다\n", u)
			continue
		}
		b.metas[u] = meta
		found++
		fmt.Fprintf(&msg, "- %s: 구독자 %d명", meta.Title, meta.Subscribers)
		if meta.VideoCount > 0 {
			fmt.Fprintf(&msg, ", 영상 %d개", meta.VideoCount)
		}
		msg.WriteString("\n")
		if meta.Description != "" {
			fmt.Fprintf(&msg, "  %s\n", clip(meta.Description, 120))
		}
	}

	if found == 0 {
		b.phase = benchAsk
		b.setStatus(StatusWaitingFeedback)
		return failure("benchmark_confirm",
			"채널 정보를 가져오지 못했습니다. URL을 확인하고 다시 보내주세요.", nil)
	}

	b.phase = benchConfirm
	b.setStatus(StatusWaitingFeedback)
	return ask("benchmark_confirm",
		"다음 채널을 분석할까요?\n\n"+msg.String()+
			"\n'확인'을 입력하면 분석을 시작합니다. 다른 채널을 원하시면 URL을 보내주세요.")
}

// collectedMedia carries the image files gathered during collection into the
// thumbnail analysis.
type collectedMedia struct {
	gridShots  []string
	thumbPaths []string
}

func (c *collectedMedia) merge(other *collectedMedia) {
	c.gridShots = append(c.gridShots, other.gridShots...)
	c.thumbPaths = append(c.thumbPaths, other.thumbPaths...)
}

// runAnalysis is the full collect-analyze-report pipeline over b.urls.
func (b *Benchmarker) runAnalysis(ctx context.Context, s *session.Session, em *progress.Emitter) *Result {
	defer b.d.recordStage(ctx, string(session.StageBenchmarking), time.Now())
	stage := string(session.StageBenchmarking)

	scratch, err := b.d.Paths.Scratch(s.ID)
	if err != nil {
		b.setStatus(StatusError)
		return failure("benchmark_collect", "작업 디렉터리를 준비하지 못했습니다.", err)
	}

	report := benchcache.BenchmarkReport{CollectedAt: time.Now()}
	var colM collectedMedia
	for i, u := range b.urls {
		em.Progress(stage, fmt.Sprintf("채널을 수집하고 있습니다 (%d/%d)...", i+1, len(b.urls)))
		snap, cm, err := b.collectChannel(ctx, em, u, scratch)
		if err != nil {
			slog.Warn("channel collection failed", "url", u, "error", err)
			continue
		}
		report.Channels = append(report.Channels, *snap)
		colM.merge(cm)
	}
	if len(report.Channels) == 0 {
		b.phase = benchAsk
		b.setStatus(StatusWaitingFeedback)
		return failure("benchmark_collect",
			"채널 정보를 수집하지 못했습니다. URL을 확인하고 다시 보내주세요.", nil)
	}

	b.analyze(ctx, em, &report, &colM)
	b.replicationGuide(ctx, em, &report)

	if b.d.Cache != nil {
		if _, err := b.d.Cache.Save(b.urls, report); err != nil {
			slog.Warn("benchmark cache save failed", "error", err)
		}
	}

	msg := reportMessage(&report)
	data := map[string]any{
		KeyBenchmarkReport: jsonShape(report),
		KeyBenchmarkCached: false,
		KeyBenchmarkURLs:   jsonShape(b.urls),
	}
	// The naming stage usually ran first; when it was skipped the analyzed
	// channel's name stands in.
	if s.Context.Str(KeySelectedChannelName) == "" && report.Channels[0].Name != "" {
		data[KeySelectedChannelName] = report.Channels[0].Name
	}

	b.phase = benchDone
	b.summary = msg
	b.setStatus(StatusCompleted)
	return finish("benchmark_report", msg, data)
}

func (b *Benchmarker) collectChannel(ctx context.Context, em *progress.Emitter, rawURL, scratch string) (*benchcache.ChannelSnapshot, *collectedMedia, error) {
	stage := string(session.StageBenchmarking)
	curl := watchableURL(rawURL)

	meta := b.metas[rawURL]
	if meta == nil {
		m, err := b.d.YouTube.ChannelInfo(ctx, curl)
		if err != nil {
			return nil, nil, fmt.Errorf("channel metadata: %w", err)
		}
		meta = m
	}

	snap := &benchcache.ChannelSnapshot{
		URL:           rawURL,
		NormalizedURL: benchcache.Normalize(rawURL),
		Name:          meta.Title,
		Subscribers:   meta.Subscribers,
		Description:   meta.Description,
		VideoCount:    meta.VideoCount,
	}

	em.Progress(stage, fmt.Sprintf("%s: 최근 영상 목록을 수집하고 있습니다...", snap.Name))
	videos, err := b.d.YouTube.RecentVideos(ctx, curl, b.videoCount())
	if err != nil {
		slog.Warn("video listing failed", "url", rawURL, "error", err)
	}

	// The flat listing lacks upload dates and thumbnail URLs; enrich each
	// entry and keep the flat one where enrichment fails.
	for i := range videos {
		full, err := b.d.YouTube.VideoInfo(ctx, videos[i].URL)
		if err != nil {
			continue
		}
		videos[i] = *full
	}
	for _, v := range videos {
		snap.Videos = append(snap.Videos, benchcache.VideoInfo{
			ID:           v.ID,
			Title:        v.Title,
			Views:        v.ViewCount,
			Duration:     v.Duration,
			UploadDate:   v.UploadDate,
			ThumbnailURL: v.Thumbnail,
		})
	}
	if snap.VideoCount == 0 {
		snap.VideoCount = len(snap.Videos)
	}

	b.collectTranscripts(ctx, em, snap, videos, scratch)

	colM := &collectedMedia{}
	b.downloadThumbnails(ctx, em, snap, scratch, colM)
	b.captureScreenshots(ctx, em, rawURL, snap, scratch, colM)
	return snap, colM, nil
}

// collectTranscripts fetches subtitles for the top videos by views. Missing
// tracks leave the marker instead of failing the stage.
func (b *Benchmarker) collectTranscripts(ctx context.Context, em *progress.Emitter, snap *benchcache.ChannelSnapshot, videos []media.VideoMeta, scratch string) {
	if len(videos) == 0 {
		return
	}
	top := make([]media.VideoMeta, len(videos))
	copy(top, videos)
	sort.SliceStable(top, func(i, j int) bool { return top[i].ViewCount > top[j].ViewCount })
	if n := b.transcriptCount(); len(top) > n {
		top = top[:n]
	}

	snap.Transcripts = make(map[string]string, len(top))
	for _, v := range top {
		em.Progress(string(session.StageBenchmarking),
			fmt.Sprintf("자막을 수집하고 있습니다: %s", clip(v.Title, 40)))

		path, err := b.d.YouTube.DownloadSubtitles(ctx, v.URL, "ko", scratch)
		if err != nil {
			snap.Transcripts[v.ID] = noSubtitlesMarker
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			snap.Transcripts[v.ID] = noSubtitlesMarker
			continue
		}
		text := media.ExtractVTTText(string(raw))
		if strings.TrimSpace(text) == "" {
			snap.Transcripts[v.ID] = noSubtitlesMarker
			continue
		}
		snap.Transcripts[v.ID] = clip(text, b.transcriptChars())
	}
}

// downloadThumbnails pulls up to thumbnailCount thumbnail files in parallel.
func (b *Benchmarker) downloadThumbnails(ctx context.Context, em *progress.Emitter, snap *benchcache.ChannelSnapshot, scratch string, out *collectedMedia) {
	var urls, dests []string
	for _, v := range snap.Videos {
		if v.ThumbnailURL == "" {
			continue
		}
		urls = append(urls, v.ThumbnailURL)
		dests = append(dests, filepath.Join(scratch, "thumb_"+v.ID+".jpg"))
		if len(urls) == b.thumbnailCount() {
			break
		}
	}
	if len(urls) == 0 {
		return
	}
	em.Progress(string(session.StageBenchmarking),
		fmt.Sprintf("썸네일 %d개를 내려받고 있습니다...", len(urls)))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(collectLimit)
	for i := range urls {
		g.Go(func() error {
			if err := media.DownloadFile(gctx, b.d.HTTP, urls[i], dests[i], maxThumbnailBytes, "image/"); err != nil {
				slog.Warn("thumbnail download failed", "url", urls[i], "error", err)
				return nil
			}
			mu.Lock()
			out.thumbPaths = append(out.thumbPaths, dests[i])
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// captureScreenshots grabs the channel's videos-grid page plus a few
// individual thumbnails. Capture failures degrade silently; the analysis
// proceeds with whatever it got.
func (b *Benchmarker) captureScreenshots(ctx context.Context, em *progress.Emitter, rawURL string, snap *benchcache.ChannelSnapshot, scratch string, out *collectedMedia) {
	if b.d.Browser == nil {
		return
	}
	em.Progress(string(session.StageBenchmarking),
		fmt.Sprintf("%s: 채널 페이지를 캡처하고 있습니다...", snap.Name))

	safe := fileSafe(snap.NormalizedURL)
	shot, err := b.d.Browser.Screenshot(ctx, videosPageURL(rawURL), browser.Options{
		WaitDelay: 2 * time.Second,
	})
	if err != nil {
		slog.Warn("channel page capture failed", "url", rawURL, "error", err)
	} else {
		grid := filepath.Join(scratch, "grid_"+safe+".png")
		if err := os.WriteFile(grid, shot, 0o644); err == nil {
			out.gridShots = append(out.gridShots, grid)
		}
	}

	var thumbURLs []string
	for _, v := range snap.Videos {
		if v.ThumbnailURL == "" {
			continue
		}
		thumbURLs = append(thumbURLs, v.ThumbnailURL)
		if len(thumbURLs) == b.screenshotThumbs() {
			break
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(collectLimit)
	for i, u := range thumbURLs {
		dest := filepath.Join(scratch, fmt.Sprintf("shot_%s_%d.png", safe, i+1))
		g.Go(func() error {
			img, err := b.d.Browser.Screenshot(gctx, u, browser.Options{})
			if err != nil {
				slog.Warn("thumbnail capture failed", "url", u, "error", err)
				return nil
			}
			if err := os.WriteFile(dest, img, 0o644); err != nil {
				return nil
			}
			mu.Lock()
			out.thumbPaths = append(out.thumbPaths, dest)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// analysisFailure is the marker a failed sub-analysis leaves in the report.
func analysisFailure(reason string) string {
	return "(분석 실패: " + reason + ")"
}

// analyze runs the five sub-analyses sequentially. Each failure is isolated
// to its own section; the report is produced regardless.
func (b *Benchmarker) analyze(ctx context.Context, em *progress.Emitter, r *benchcache.BenchmarkReport, colM *collectedMedia) {
	stage := string(session.StageBenchmarking)

	em.Progress(stage, "썸네일 패턴을 분석하고 있습니다...")
	r.Thumbnail = b.analyzeThumbnails(ctx, colM)

	em.Progress(stage, "대본 패턴을 분석하고 있습니다...")
	r.Script = b.analyzeScripts(ctx, r)

	em.Progress(stage, "콘텐츠 전략을 분석하고 있습니다...")
	r.Strategy = b.analyzeStrategy(ctx, r)

	em.Progress(stage, "채널 컨셉을 분석하고 있습니다...")
	r.Concept = b.analyzeConcept(ctx, r)

	em.Progress(stage, "시청자층을 분석하고 있습니다...")
	r.Audience = b.analyzeAudience(ctx, r)
}

func (b *Benchmarker) analyzeThumbnails(ctx context.Context, colM *collectedMedia) string {
	if b.d.Vision == nil {
		return analysisFailure("비전 모델이 설정되지 않음")
	}
	var paths []string
	if len(colM.gridShots) > 0 {
		paths = append(paths, colM.gridShots[0])
	}
	for _, p := range colM.thumbPaths {
		if len(paths) == 4 {
			break
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return analysisFailure("썸네일 이미지 없음")
	}

	obs, err := b.d.Vision.AnalyzeImage(ctx, vision.Request{
		Prompt:     b.d.Prompts.Render(PromptThumbnailAnalysis, nil),
		ImagePaths: paths,
		Detail:     vision.DetailHigh,
		MaxTokens:  1024,
	})
	if err != nil {
		return analysisFailure(err.Error())
	}

	out, err := chatText(ctx, b.d, b.d.Prompts.Render(PromptSystemStrategist, nil),
		b.d.Prompts.Render(PromptThumbnailSummary, map[string]string{"observations": obs}), 0.7)
	if err != nil {
		return analysisFailure(err.Error())
	}
	return out
}

func (b *Benchmarker) analyzeScripts(ctx context.Context, r *benchcache.BenchmarkReport) string {
	var parts []string
	for _, ch := range r.Channels {
		for _, t := range ch.Transcripts {
			if t == "" || t == noSubtitlesMarker {
				continue
			}
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return analysisFailure("자막 없음")
	}

	out, err := chatText(ctx, b.d, b.d.Prompts.Render(PromptSystemStrategist, nil),
		b.d.Prompts.Render(PromptScriptPattern, map[string]string{
			"transcripts": clip(strings.Join(parts, "\n\n---\n\n"), 12000),
		}), 0.7)
	if err != nil {
		return analysisFailure(err.Error())
	}
	return out
}

func (b *Benchmarker) analyzeStrategy(ctx context.Context, r *benchcache.BenchmarkReport) string {
	var lines []string
	for _, ch := range r.Channels {
		lines = append(lines, "## "+ch.Name)
		for _, v := range ch.Videos {
			lines = append(lines, fmt.Sprintf("- %s | 조회수 %d | %.0f초 | %s",
				v.Title, v.Views, v.Duration, v.UploadDate))
		}
	}
	if !hasVideos(r) {
		return analysisFailure("영상 정보 없음")
	}

	out, err := chatText(ctx, b.d, b.d.Prompts.Render(PromptSystemStrategist, nil),
		b.d.Prompts.Render(PromptContentStrategy, map[string]string{
			"videos": clip(strings.Join(lines, "\n"), 8000),
		}), 0.7)
	if err != nil {
		return analysisFailure(err.Error())
	}
	return out
}

func (b *Benchmarker) analyzeConcept(ctx context.Context, r *benchcache.BenchmarkReport) string {
	var meta []string
	for _, ch := range r.Channels {
		meta = append(meta, fmt.Sprintf("이름: %s\n구독자: %d명\n설명: %s",
			ch.Name, ch.Subscribers, clip(ch.Description, 300)))
	}

	out, err := chatText(ctx, b.d, b.d.Prompts.Render(PromptSystemStrategist, nil),
		b.d.Prompts.Render(PromptChannelConcept, map[string]string{
			"metadata": strings.Join(meta, "\n\n"),
			"strategy": clip(r.Strategy, 1500),
		}), 0.7)
	if err != nil {
		return analysisFailure(err.Error())
	}
	return out
}

func (b *Benchmarker) analyzeAudience(ctx context.Context, r *benchcache.BenchmarkReport) string {
	var titles []string
	for _, ch := range r.Channels {
		for _, v := range ch.Videos {
			titles = append(titles, "- "+v.Title)
		}
	}
	if len(titles) == 0 {
		return analysisFailure("영상 제목 없음")
	}

	out, err := chatText(ctx, b.d, b.d.Prompts.Render(PromptSystemStrategist, nil),
		b.d.Prompts.Render(PromptAudienceProfile, map[string]string{
			"titles": clip(strings.Join(titles, "\n"), 6000),
		}), 0.7)
	if err != nil {
		return analysisFailure(err.Error())
	}
	return out
}

// replicationGuide fills the six-part playbook, one LLM call per part,
// failures isolated per part.
func (b *Benchmarker) replicationGuide(ctx context.Context, em *progress.Emitter, r *benchcache.BenchmarkReport) {
	stage := string(session.StageBenchmarking)
	digest := clip(fmt.Sprintf(
		"채널 컨셉:\n%s\n\n콘텐츠 전략:\n%s\n\n시청자 분석:\n%s\n\n썸네일 분석:\n%s\n\n대본 분석:\n%s",
		r.Concept, r.Strategy, r.Audience, r.Thumbnail, r.Script), 6000)
	vars := map[string]string{"report": digest}
	sys := b.d.Prompts.Render(PromptSystemStrategist, nil)

	parts := []struct {
		label  string
		prompt string
		dst    *string
	}{
		{"포지셔닝", PromptReplicationPositioning, &r.Replication.Positioning},
		{"콘텐츠 포맷", PromptReplicationFormats, &r.Replication.ContentFormats},
		{"썸네일과 제목", PromptReplicationThumbnail, &r.Replication.ThumbnailTitle},
		{"대본 템플릿", PromptReplicationScript, &r.Replication.ScriptTemplate},
		{"운영 플레이북", PromptReplicationOperations, &r.Replication.Operations},
		{"성장 로드맵", PromptReplicationRoadmap, &r.Replication.GrowthRoadmap},
	}
	for _, p := range parts {
		em.Progress(stage, "복제 가이드를 작성하고 있습니다: "+p.label)
		out, err := chatText(ctx, b.d, sys, b.d.Prompts.Render(p.prompt, vars), 0.7)
		if err != nil {
			*p.dst = analysisFailure(err.Error())
			continue
		}
		*p.dst = out
	}
}

func hasVideos(r *benchcache.BenchmarkReport) bool {
	for _, ch := range r.Channels {
		if len(ch.Videos) > 0 {
			return true
		}
	}
	return false
}

// reportMessage renders the completion digest shown to the user.
func reportMessage(r *benchcache.BenchmarkReport) string {
	var msg strings.Builder
	msg.WriteString("벤치마킹 분석이 완료되었습니다.\n\n")
	for _, ch := range r.Channels {
		fmt.Fprintf(&msg, "- %s: 구독자 %d명, 영상 %d개 수집\n",
			ch.Name, ch.Subscribers, len(ch.Videos))
	}
	fmt.Fprintf(&msg, "\n[채널 컨셉]\n%s\n", clip(r.Concept, 300))
	fmt.Fprintf(&msg, "\n[콘텐츠 전략]\n%s\n", clip(r.Strategy, 300))
	fmt.Fprintf(&msg, "\n[시청자 분석]\n%s\n", clip(r.Audience, 300))
	msg.WriteString("\n전체 리포트는 저장되었습니다. 다음 단계로 진행합니다.")
	return msg.String()
}

// extractChannelURLs pulls YouTube channel URLs and @handles out of free
// text, deduplicated by normalized form, in order of appearance.
func extractChannelURLs(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, ",.!?()[]<>\"'")
		if tok == "" {
			continue
		}
		lower := strings.ToLower(tok)
		isURL := strings.Contains(lower, "youtube.com/") || strings.Contains(lower, "youtu.be/")
		isHandle := strings.HasPrefix(tok, "@") && len(tok) > 1
		if !isURL && !isHandle {
			continue
		}
		n := benchcache.Normalize(tok)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, tok)
	}
	return out
}

// watchableURL converts any accepted channel reference into a URL yt-dlp
// can fetch.
func watchableURL(raw string) string {
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://www.youtube.com/" + benchcache.Normalize(raw)
}

// videosPageURL points a channel reference at its uploads grid for the page
// capture.
func videosPageURL(raw string) string {
	u := watchableURL(raw)
	if strings.Contains(u, "/videos") || strings.Contains(u, "/watch") || strings.Contains(u, "youtu.be/") {
		return u
	}
	return strings.TrimRight(u, "/") + "/videos"
}

var fileSafeReplacer = strings.NewReplacer("/", "_", "@", "", ":", "_", "?", "_")

// fileSafe turns a normalized channel reference into a filename fragment.
func fileSafe(s string) string {
	return fileSafeReplacer.Replace(s)
}

func (b *Benchmarker) videoCount() int {
	if n := b.d.Cfg.Pipeline.VideoCount; n > 0 {
		return n
	}
	return 20
}

func (b *Benchmarker) transcriptCount() int {
	if n := b.d.Cfg.Pipeline.TranscriptCount; n > 0 {
		return n
	}
	return 5
}

func (b *Benchmarker) transcriptChars() int {
	if n := b.d.Cfg.Pipeline.TranscriptChars; n > 0 {
		return n
	}
	return 5000
}

func (b *Benchmarker) thumbnailCount() int {
	if n := b.d.Cfg.Pipeline.ThumbnailCount; n > 0 {
		return n
	}
	return 8
}

func (b *Benchmarker) screenshotThumbs() int {
	if n := b.d.Cfg.Pipeline.ScreenshotThumbs; n > 0 {
		return n
	}
	return 6
}
