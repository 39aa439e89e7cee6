package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moche-ai/routine-studio/internal/progress"
	"github.com/moche-ai/routine-studio/internal/session"
	"github.com/moche-ai/routine-studio/pkg/media"
)

// Pairing thresholds for matching a section's picture to its narration.
// Differences under syncTolerance pass through untouched; a clip slowed by
// less than minSpeedFactor would look unnatural, so beyond that the last
// frame is held instead.
const (
	syncTolerance  = 0.1
	minSpeedFactor = 0.8
)

// sectionJob is one voiced script section with the scene clips assigned to
// it.
type sectionJob struct {
	name  string
	audio string
	clips []string
}

// Composer assembles the final video. Scene clips are grouped per script
// section, each group is timed to its narration, a subtitle track is derived
// from the section durations, and one mux produces the deliverable.
type Composer struct {
	statusTracker

	d *Deps

	// temp collects intermediate files. They are removed after a
	// successful mux and retained on failure so a rerun can be diagnosed.
	temp []string
}

// NewComposer builds the final assembly agent.
func NewComposer(d *Deps) *Composer {
	return &Composer{d: d}
}

var _ Agent = (*Composer)(nil)

func (c *Composer) Execute(ctx context.Context, in ExecInput) (*Result, error) {
	return c.run(ctx, in.Session, in.Emitter)
}

// HandleFeedback only runs after a failed assembly: the user can retry or
// skip. A successful compose completes the session without a feedback stop.
func (c *Composer) HandleFeedback(ctx context.Context, fb Feedback) (*Result, error) {
	if IsSkip(fb.Text) {
		c.setStatus(StatusCompleted)
		return skipped("compose_skipped"), nil
	}
	if IsConfirm(fb.Text) || IsRegenerate(fb.Text) {
		return c.run(ctx, fb.Session, fb.Emitter)
	}
	c.setStatus(StatusWaitingFeedback)
	return failure("compose_confirm",
		"'다시'를 입력하면 합성을 재시도합니다. '스킵'으로 이 단계를 건너뛸 수도 있습니다.", nil), nil
}

func (c *Composer) run(ctx context.Context, s *session.Session, em *progress.Emitter) (*Result, error) {
	c.setStatus(StatusRunning)
	if c.d.Media == nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("compose", "미디어 도구(ffmpeg)가 설정되지 않았습니다.", nil), nil
	}

	var sections []voiceSection
	if !decodeKey(s.Context, KeyVoiceSections, &sections) || len(sections) == 0 {
		c.setStatus(StatusWaitingFeedback)
		return failure("compose",
			"내레이션이 없습니다. 내레이션 단계를 건너뛰었다면 이 단계도 '스킵'으로 넘어갈 수 있습니다.", nil), nil
	}

	scratch, err := c.d.Paths.Scratch(s.ID)
	if err != nil {
		c.setStatus(StatusError)
		return nil, err
	}
	outDir, err := c.d.Paths.SessionOutput(s.ID)
	if err != nil {
		c.setStatus(StatusError)
		return nil, err
	}

	defer c.d.recordStage(ctx, string(session.StageCompose), time.Now())
	c.temp = nil

	clips, failed := c.sceneClips(ctx, s, em, scratch)
	if failed != nil {
		return failed, nil
	}
	jobs := groupBySection(s.Context, sections, clips)

	adjusted := make([]string, 0, len(jobs))
	audioParts := make([]string, 0, len(jobs))
	durations := make([]float64, 0, len(jobs))
	for i, job := range jobs {
		em.Progress(string(session.StageCompose),
			fmt.Sprintf("'%s' 섹션을 내레이션에 맞추고 있습니다 (%d/%d)", scriptSectionTitles[job.name], i+1, len(jobs)))
		adj, audioDur, err := c.pairSection(ctx, scratch, job)
		if err != nil {
			c.setStatus(StatusWaitingFeedback)
			return failure("compose_section",
				fmt.Sprintf("'%s' 섹션 합성에 실패했습니다.", scriptSectionTitles[job.name]), err), nil
		}
		adjusted = append(adjusted, adj)
		audioParts = append(audioParts, job.audio)
		durations = append(durations, audioDur)
	}

	var script *Script
	var decoded Script
	if decodeKey(s.Context, KeyScript, &decoded) {
		script = &decoded
	}

	srtPath := ""
	if content := buildSRT(script, jobs, durations); content != "" {
		path := filepath.Join(outDir, "subtitles.srt")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			c.setStatus(StatusError)
			return failure("compose_subtitles", "자막 파일을 쓰지 못했습니다.", err), nil
		}
		srtPath = path
	} else {
		slog.Warn("compose: no subtitle text available, muxing without subtitles", "session", s.ID)
	}

	em.Progress(string(session.StageCompose), "최종 영상을 합치고 있습니다")

	videoAll := filepath.Join(scratch, "video_all.mp4")
	if err := c.d.Media.Concat(ctx, adjusted, videoAll); err != nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("compose_final", "장면 클립을 잇지 못했습니다.", err), nil
	}
	c.temp = append(c.temp, videoAll)

	audioAll := filepath.Join(scratch, "audio_all.wav")
	if err := c.d.Media.Concat(ctx, audioParts, audioAll); err != nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("compose_final", "내레이션 오디오를 잇지 못했습니다.", err), nil
	}
	c.temp = append(c.temp, audioAll)

	finalPath := filepath.Join(outDir, "final.mp4")
	opts := media.MuxOptions{SubtitlePath: srtPath, Burn: c.d.Cfg.Pipeline.BurnSubtitles}
	if err := c.d.Media.Mux(ctx, videoAll, audioAll, finalPath, opts); err != nil {
		c.setStatus(StatusWaitingFeedback)
		return failure("compose_final", "최종 영상 합성에 실패했습니다.", err), nil
	}

	for _, p := range c.temp {
		os.Remove(p)
	}
	c.temp = nil

	var total float64
	for _, d := range durations {
		total += d
	}

	data := map[string]any{KeyFinalVideo: finalPath}
	msg := fmt.Sprintf("영상 제작이 완료되었습니다!\n\n최종 영상: %s\n총 길이: %.1f초", finalPath, total)
	if srtPath != "" {
		data[KeySubtitleFile] = srtPath
		msg += "\n자막 파일: " + srtPath
	}
	c.setStatus(StatusCompleted)
	return finish("compose_done", msg, data), nil
}

// sceneClips returns the scene clip paths, converting still images into
// clips when no videos were generated. A non-nil Result is a domain failure
// to return as-is.
func (c *Composer) sceneClips(ctx context.Context, s *session.Session, em *progress.Emitter, scratch string) ([]string, *Result) {
	if videos := s.Context.StrSlice(KeyVideos); len(videos) > 0 {
		return videos, nil
	}
	images := s.Context.StrSlice(KeyImages)
	if len(images) == 0 {
		c.setStatus(StatusWaitingFeedback)
		return nil, failure("compose", "장면 영상이 없습니다. 이미지 생성 단계를 먼저 완료해주세요.", nil)
	}

	em.Progress(string(session.StageCompose), "장면 이미지를 클립으로 바꾸고 있습니다")
	clips := make([]string, 0, len(images))
	for i, img := range images {
		out := filepath.Join(scratch, fmt.Sprintf("still_%d.mp4", i+1))
		if err := c.d.Media.StillToClip(ctx, img, out, c.d.Cfg.Pipeline.StillDuration); err != nil {
			c.setStatus(StatusWaitingFeedback)
			return nil, failure("compose_stills",
				fmt.Sprintf("%d번 장면 이미지를 클립으로 바꾸지 못했습니다.", i+1), err)
		}
		c.temp = append(c.temp, out)
		clips = append(clips, out)
	}
	return clips, nil
}

// groupBySection assigns scene clips to voiced sections. The scene prompts
// carry each scene's section; clips without a usable prompt stay with the
// section of the preceding scene.
func groupBySection(c session.Ctx, sections []voiceSection, clips []string) []*sectionJob {
	jobs := make([]*sectionJob, len(sections))
	pos := make(map[string]int, len(sections))
	for i, sec := range sections {
		jobs[i] = &sectionJob{name: sec.Section, audio: sec.Path}
		pos[sec.Section] = i
	}

	var wrapper struct {
		Prompts []ScenePrompt `json:"prompts"`
	}
	decodeKey(c, KeyImagePrompts, &wrapper)

	cur := 0
	for i, clip := range clips {
		if i < len(wrapper.Prompts) {
			if j, ok := pos[wrapper.Prompts[i].Section]; ok {
				cur = j
			}
		}
		jobs[cur].clips = append(jobs[cur].clips, clip)
	}

	// A voiced section ends up without a scene of its own when all its
	// sentences were too short to storyboard. Reuse the nearest clip so
	// the narration still has picture.
	for i, job := range jobs {
		if len(job.clips) == 0 {
			if b := borrowClip(jobs, i); b != "" {
				job.clips = []string{b}
			}
		}
	}
	return jobs
}

// borrowClip picks the closest assigned clip, searching backward first.
func borrowClip(jobs []*sectionJob, i int) string {
	for j := i - 1; j >= 0; j-- {
		if n := len(jobs[j].clips); n > 0 {
			return jobs[j].clips[n-1]
		}
	}
	for j := i + 1; j < len(jobs); j++ {
		if len(jobs[j].clips) > 0 {
			return jobs[j].clips[0]
		}
	}
	return ""
}

// pairSection joins a section's clips and times the result to its
// narration. Returns the adjusted clip path and the narration duration.
func (c *Composer) pairSection(ctx context.Context, scratch string, job *sectionJob) (string, float64, error) {
	if len(job.clips) == 0 {
		return "", 0, fmt.Errorf("agent: section %s has no scene clips", job.name)
	}

	src := job.clips[0]
	if len(job.clips) > 1 {
		joined := filepath.Join(scratch, "sec_"+job.name+".mp4")
		if err := c.d.Media.Concat(ctx, job.clips, joined); err != nil {
			return "", 0, err
		}
		c.temp = append(c.temp, joined)
		src = joined
	}

	videoDur, err := c.d.Media.Duration(ctx, src)
	if err != nil {
		return "", 0, err
	}
	audioDur, err := c.d.Media.Duration(ctx, job.audio)
	if err != nil {
		return "", 0, err
	}
	if audioDur <= 0 {
		return "", 0, fmt.Errorf("agent: narration %s has no duration", job.audio)
	}

	out := filepath.Join(scratch, "adj_"+job.name+".mp4")
	switch {
	case math.Abs(audioDur-videoDur) < syncTolerance:
		err = c.d.Media.CopyVideo(ctx, src, out)
	case audioDur < videoDur:
		err = c.d.Media.TrimVideo(ctx, src, out, audioDur)
	default:
		if factor := videoDur / audioDur; factor >= minSpeedFactor {
			err = c.d.Media.RetimeVideo(ctx, src, out, factor)
		} else {
			err = c.d.Media.HoldLastFrame(ctx, src, out, audioDur-videoDur)
		}
	}
	if err != nil {
		return "", 0, err
	}
	c.temp = append(c.temp, out)
	return out, audioDur, nil
}

// buildSRT renders one subtitle cue per voiced section, timed by the
// narration durations. Sections without script text produce no cue but
// still advance the clock.
func buildSRT(script *Script, jobs []*sectionJob, durations []float64) string {
	var sb strings.Builder
	var t float64
	n := 0
	for i, job := range jobs {
		end := t + durations[i]
		text := ""
		if script != nil {
			text = strings.TrimSpace(script.Sections.Text(job.name))
		}
		if text != "" {
			n++
			fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n\n", n, srtTimestamp(t), srtTimestamp(end), text)
		}
		t = end
	}
	return sb.String()
}

// srtTimestamp renders seconds in the SRT HH:MM:SS,mmm form.
func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int(math.Round(seconds * 1000))
	h := ms / 3600000
	m := ms % 3600000 / 60000
	s := ms % 60000 / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}
