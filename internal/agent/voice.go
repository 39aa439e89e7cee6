package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/moche-ai/routine-studio/internal/progress"
	"github.com/moche-ai/routine-studio/internal/session"
	"github.com/moche-ai/routine-studio/pkg/media"
	"github.com/moche-ai/routine-studio/pkg/provider/tts"
)

// VoiceMode selects which speech stage a Voice agent serves.
type VoiceMode string

// Voice agent modes, one per speech pipeline stage.
const (
	VoiceSetup     VoiceMode = "setup"
	VoiceNarration VoiceMode = "narration"
)

type voicePhase int

const (
	voiceAskOption voicePhase = iota
	voiceAskCloneType
	voiceAskYouTube
	voiceAskSample
	voiceConfirm
	voiceDone
)

// Voice serves the two speech stages. In setup mode it collects the voice
// configuration: preset speaker, a clone extracted from a YouTube clip, or
// a file from the local sample bank. In narration mode it synthesizes one
// WAV per script section and holds them for review.
type Voice struct {
	statusTracker

	d    *Deps
	mode VoiceMode

	phase    voicePhase
	samples  []string
	settings session.Ctx
	script   *Script
	sections []voiceSection
}

// voiceSection is one synthesized narration file.
type voiceSection struct {
	Section   string  `json:"section"`
	Path      string  `json:"path"`
	DurationS float64 `json:"duration_s"`
}

// NewVoice builds the agent for one of the two speech stages.
func NewVoice(mode VoiceMode, d *Deps) *Voice {
	return &Voice{d: d, mode: mode}
}

var _ Agent = (*Voice)(nil)

func (v *Voice) Execute(ctx context.Context, in ExecInput) (*Result, error) {
	v.setStatus(StatusRunning)
	if v.mode == VoiceNarration {
		return v.narrate(ctx, in.Session, in.Emitter)
	}
	v.phase = voiceAskOption
	v.setStatus(StatusWaitingFeedback)
	return ask("voice_option",
		"내레이션 목소리를 설정해 볼까요?\n"+
			"1. 기본 목소리 사용\n"+
			"2. 원하는 목소리 복제\n\n"+
			"번호를 입력해주세요. ('스킵'을 입력하면 기본 목소리를 사용합니다.)"), nil
}

func (v *Voice) HandleFeedback(ctx context.Context, fb Feedback) (*Result, error) {
	v.setStatus(StatusRunning)
	if v.mode == VoiceNarration {
		return v.feedbackNarration(ctx, fb)
	}
	return v.feedbackSetup(ctx, fb)
}

func (v *Voice) feedbackSetup(ctx context.Context, fb Feedback) (*Result, error) {
	// Skipping voice setup still needs a usable configuration downstream,
	// so it resolves to the default speaker rather than a bare skip.
	if IsSkip(fb.Text) {
		return v.chooseDefault(), nil
	}
	switch v.phase {
	case voiceAskCloneType:
		return v.pickCloneType(fb)
	case voiceAskYouTube:
		return v.cloneFromYouTube(ctx, fb)
	case voiceAskSample:
		return v.pickSample(fb)
	case voiceDone:
		v.setStatus(StatusCompleted)
		return finish("voice_settings", "목소리 설정이 이미 완료되었습니다. 다음 단계로 진행합니다.",
			map[string]any{KeyVoiceSettings: jsonShape(v.settings)}), nil
	default:
		return v.pickOption(fb)
	}
}

func (v *Voice) pickOption(fb Feedback) (*Result, error) {
	n, ok := ParseSelection(fb.Text)
	if !ok && IsConfirm(fb.Text) {
		n, ok = 1, true
	}
	switch {
	case ok && n == 1:
		return v.chooseDefault(), nil
	case ok && n == 2:
		v.phase = voiceAskCloneType
		v.setStatus(StatusWaitingFeedback)
		return ask("voice_clone_type",
			"목소리 복제 방법을 선택해주세요.\n"+
				"1. 유튜브 영상에서 추출\n"+
				"2. 샘플 목소리 중에서 선택"), nil
	default:
		v.setStatus(StatusWaitingFeedback)
		return failure("voice_option", "1번 또는 2번으로 선택해주세요.", nil), nil
	}
}

func (v *Voice) chooseDefault() *Result {
	v.settings = v.defaultSettings()
	v.phase = voiceDone
	v.setStatus(StatusCompleted)
	return finish("voice_settings",
		fmt.Sprintf("기본 목소리(%s)를 사용합니다. 다음 단계로 진행합니다.", v.d.Cfg.TTS.DefaultSpeaker),
		map[string]any{KeyVoiceSettings: jsonShape(v.settings)})
}

func (v *Voice) defaultSettings() session.Ctx {
	return session.Ctx{"mode": "default", "speaker": v.d.Cfg.TTS.DefaultSpeaker}
}

func (v *Voice) pickCloneType(fb Feedback) (*Result, error) {
	n, ok := ParseSelection(fb.Text)
	switch {
	case ok && n == 1:
		v.phase = voiceAskYouTube
		v.setStatus(StatusWaitingFeedback)
		return ask("voice_youtube",
			"복제할 목소리가 담긴 유튜브 영상 주소와 구간을 보내주세요.\n"+
				"형식: URL 시작-끝 (예: https://youtu.be/abc123 01:10-01:40)"), nil
	case ok && n == 2:
		return v.listSamples()
	default:
		v.setStatus(StatusWaitingFeedback)
		return failure("voice_clone_type", "1번 또는 2번으로 선택해주세요.", nil), nil
	}
}

// cloneFromYouTube downloads the referenced video's audio, trims the
// requested window, and stores it base64-encoded as the cloning reference.
// Subtitle text inside the window becomes the reference transcript when the
// video has subtitles.
func (v *Voice) cloneFromYouTube(ctx context.Context, fb Feedback) (*Result, error) {
	url, start, end, ok := parseCloneWindow(fb.Text)
	if !ok {
		v.setStatus(StatusWaitingFeedback)
		return failure("voice_youtube",
			"주소나 구간을 읽지 못했습니다. 'URL 01:10-01:40' 형식으로 보내주세요.", nil), nil
	}
	if v.d.YouTube == nil || v.d.Media == nil {
		v.setStatus(StatusWaitingFeedback)
		return failure("voice_youtube", "오디오 추출 도구가 설정되지 않았습니다.", nil), nil
	}
	scratch, err := v.d.Paths.Scratch(fb.Session.ID)
	if err != nil {
		v.setStatus(StatusError)
		return failure("voice_youtube", "작업 디렉터리를 준비하지 못했습니다.", err), nil
	}
	defer v.d.recordStage(ctx, string(session.StageTTSSettings), time.Now())

	fb.Emitter.Progress(string(session.StageTTSSettings), "유튜브에서 오디오를 내려받고 있습니다...")
	src, err := v.d.YouTube.DownloadAudio(ctx, url, scratch, "voice_source")
	if err != nil {
		v.setStatus(StatusWaitingFeedback)
		return failure("voice_youtube", "오디오를 내려받지 못했습니다. 주소를 확인해주세요.", err), nil
	}
	seg := filepath.Join(scratch, "voice_clip.wav")
	if err := v.d.Media.CutAudio(ctx, src, seg, start, end-start); err != nil {
		v.setStatus(StatusWaitingFeedback)
		return failure("voice_youtube", "선택한 구간을 잘라내지 못했습니다.", err), nil
	}
	raw, err := os.ReadFile(seg)
	if err != nil {
		v.setStatus(StatusError)
		return failure("voice_youtube", "잘라낸 오디오를 읽지 못했습니다.", err), nil
	}

	v.settings = session.Ctx{
		"mode":            "clone",
		"reference_audio": base64.StdEncoding.EncodeToString(raw),
	}
	if text := v.referenceTranscript(ctx, url, scratch, start, end); text != "" {
		v.settings["reference_text"] = text
	}
	v.phase = voiceDone
	v.setStatus(StatusCompleted)
	return finish("voice_settings",
		fmt.Sprintf("목소리 복제 설정이 완료되었습니다. (%s~%s 구간, %.0f초) 다음 단계로 진행합니다.",
			formatClock(start), formatClock(end), end-start),
		map[string]any{KeyVoiceSettings: jsonShape(v.settings)}), nil
}

// referenceTranscript pulls the subtitle text overlapping the clip window.
// Any failure just means the clone runs without a transcript.
func (v *Voice) referenceTranscript(ctx context.Context, url, dir string, start, end float64) string {
	subsPath, err := v.d.YouTube.DownloadSubtitles(ctx, url, v.lang(), dir)
	if err != nil {
		slog.Warn("voice reference subtitles unavailable", "url", url, "error", err)
		return ""
	}
	content, err := os.ReadFile(subsPath)
	if err != nil {
		slog.Warn("voice reference subtitles unreadable", "path", subsPath, "error", err)
		return ""
	}
	return media.ExtractVTTWindow(string(content), start, end)
}

func (v *Voice) listSamples() (*Result, error) {
	dir := v.d.Paths.VoiceSamples()
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("voice sample dir unreadable", "dir", dir, "error", err)
	}
	v.samples = v.samples[:0]
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".wav", ".mp3":
			v.samples = append(v.samples, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(v.samples)
	if len(v.samples) == 0 {
		v.phase = voiceAskCloneType
		v.setStatus(StatusWaitingFeedback)
		return failure("voice_samples",
			"사용할 수 있는 샘플 목소리가 없습니다. 유튜브 추출(1번)을 이용해주세요.", nil), nil
	}

	var sb strings.Builder
	sb.WriteString("사용할 샘플 목소리를 선택해주세요.\n")
	for i, p := range v.samples {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, sampleLabel(p))
	}
	sb.WriteString("\n번호나 이름으로 선택할 수 있습니다.")
	v.phase = voiceAskSample
	v.setStatus(StatusWaitingFeedback)
	return ask("voice_samples", sb.String()), nil
}

func (v *Voice) pickSample(fb Feedback) (*Result, error) {
	var idx int
	if n, ok := ParseSelection(fb.Text); ok {
		if n < 1 || n > len(v.samples) {
			v.setStatus(StatusWaitingFeedback)
			return failure("voice_samples",
				fmt.Sprintf("%d번 샘플이 없습니다. 1~%d번 중에서 선택해주세요.", n, len(v.samples)), nil), nil
		}
		idx = n - 1
	} else if strings.TrimSpace(fb.Text) == "" {
		v.setStatus(StatusWaitingFeedback)
		return failure("voice_samples", "번호나 이름으로 선택해주세요.", nil), nil
	} else {
		idx = nearestSample(v.samples, fb.Text)
	}

	path := v.samples[idx]
	v.settings = session.Ctx{"mode": "sample", "sample_path": path}
	v.phase = voiceDone
	v.setStatus(StatusCompleted)
	return finish("voice_settings",
		fmt.Sprintf("샘플 목소리 '%s'를 사용합니다. 다음 단계로 진행합니다.", sampleLabel(path)),
		map[string]any{KeyVoiceSettings: jsonShape(v.settings)}), nil
}

// nearestSample picks the sample whose display name is closest to the
// user's text by Levenshtein distance.
func nearestSample(samples []string, text string) int {
	want := strings.ToLower(strings.TrimSpace(text))
	best, bestDist := 0, -1
	for i, p := range samples {
		d := matchr.Levenshtein(strings.ToLower(sampleLabel(p)), want)
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func sampleLabel(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (v *Voice) narrate(ctx context.Context, s *session.Session, em *progress.Emitter) (*Result, error) {
	if v.d.TTS == nil {
		v.setStatus(StatusWaitingFeedback)
		return failure("voiceover_generate", "TTS 서버가 설정되지 않았습니다.", nil), nil
	}
	var script Script
	if !decodeKey(s.Context, KeyScript, &script) {
		v.setStatus(StatusWaitingFeedback)
		return failure("voiceover_generate", "대본이 없습니다. 대본 단계를 먼저 완료해주세요.", nil), nil
	}
	v.script = &script
	v.settings = s.Context.Map(KeyVoiceSettings)
	if len(v.settings) == 0 {
		v.settings = v.defaultSettings()
	}
	return v.synthesizeAll(ctx, s, em)
}

func (v *Voice) synthesizeAll(ctx context.Context, s *session.Session, em *progress.Emitter) (*Result, error) {
	out, err := v.d.Paths.SessionOutput(s.ID)
	if err != nil {
		v.setStatus(StatusError)
		return failure("voiceover_generate", "출력 디렉터리를 준비하지 못했습니다.", err), nil
	}
	defer v.d.recordStage(ctx, string(session.StageVoiceover), time.Now())

	var active []string
	for _, name := range scriptSectionOrder {
		if strings.TrimSpace(v.script.Sections.Text(name)) != "" {
			active = append(active, name)
		}
	}
	if len(active) == 0 {
		v.setStatus(StatusWaitingFeedback)
		return failure("voiceover_generate", "대본이 비어 있어 내레이션을 만들 수 없습니다.", nil), nil
	}

	v.sections = v.sections[:0]
	for i, name := range active {
		em.Progress(string(session.StageVoiceover),
			fmt.Sprintf("내레이션을 생성하고 있습니다: %s (%d/%d)", scriptSectionTitles[name], i+1, len(active)))
		sec, err := v.synthesizeSection(ctx, out, name)
		if err != nil {
			v.setStatus(StatusWaitingFeedback)
			return failure("voiceover_generate",
				fmt.Sprintf("'%s' 섹션 내레이션 생성에 실패했습니다.", scriptSectionTitles[name]), err), nil
		}
		v.sections = append(v.sections, sec)
	}
	return v.preview(), nil
}

func (v *Voice) synthesizeSection(ctx context.Context, outDir, name string) (voiceSection, error) {
	audio, err := v.d.TTS.Synthesize(ctx, v.synthRequest(v.script.Sections.Text(name)))
	if err != nil {
		return voiceSection{}, err
	}
	path := filepath.Join(outDir, "voice_"+name+".wav")
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return voiceSection{}, err
	}
	sec := voiceSection{Section: name, Path: path}
	if info, err := tts.ParseWAV(audio); err == nil {
		sec.DurationS = info.Duration().Seconds()
	} else {
		slog.Warn("voiceover WAV header unreadable", "section", name, "error", err)
	}
	return sec, nil
}

// synthRequest maps the stored voice settings onto one synthesis call.
// Unusable clone or sample references fall back to the preset speaker.
func (v *Voice) synthRequest(text string) tts.Request {
	req := tts.Request{Text: text, Language: v.lang()}
	switch v.settings.Str("mode") {
	case "clone":
		raw, err := base64.StdEncoding.DecodeString(v.settings.Str("reference_audio"))
		if err != nil || len(raw) == 0 {
			slog.Warn("voice clone reference unusable, using preset speaker", "error", err)
			req.Speaker = v.speaker()
			return req
		}
		req.ReferenceAudio = raw
		req.ReferenceText = v.settings.Str("reference_text")
	case "sample":
		raw, err := os.ReadFile(v.settings.Str("sample_path"))
		if err != nil {
			slog.Warn("voice sample unreadable, using preset speaker",
				"path", v.settings.Str("sample_path"), "error", err)
			req.Speaker = v.speaker()
			return req
		}
		req.ReferenceAudio = raw
	default:
		req.Speaker = v.speaker()
	}
	return req
}

func (v *Voice) speaker() string {
	if s := v.settings.Str("speaker"); s != "" {
		return s
	}
	return v.d.Cfg.TTS.DefaultSpeaker
}

func (v *Voice) lang() string {
	if l := v.d.Cfg.TTS.Language; l != "" {
		return l
	}
	return "ko"
}

func (v *Voice) preview() *Result {
	v.phase = voiceConfirm
	v.setStatus(StatusWaitingFeedback)
	return &Result{
		Success:       true,
		Step:          "voiceover_preview",
		Message:       v.previewMessage(),
		NeedsFeedback: true,
		Data:          map[string]any{KeyVoiceSections: jsonShape(v.sections)},
	}
}

func (v *Voice) previewMessage() string {
	var sb strings.Builder
	sb.WriteString("내레이션이 생성되었습니다.\n\n")
	var total float64
	for i, sec := range v.sections {
		fmt.Fprintf(&sb, "%d. %s (%.1f초)\n", i+1, scriptSectionTitles[sec.Section], sec.DurationS)
		total += sec.DurationS
	}
	fmt.Fprintf(&sb, "\n총 %.1f초 분량입니다. '확인'을 입력하면 다음 단계로 진행합니다.\n", total)
	sb.WriteString("특정 섹션만 다시 만들려면 '2번 다시'처럼 입력해주세요.")
	return sb.String()
}

func (v *Voice) feedbackNarration(ctx context.Context, fb Feedback) (*Result, error) {
	if IsSkip(fb.Text) {
		v.setStatus(StatusCompleted)
		return skipped("voiceover_skipped"), nil
	}
	if v.phase != voiceConfirm || v.script == nil {
		return v.narrate(ctx, fb.Session, fb.Emitter)
	}
	if IsConfirm(fb.Text) {
		v.setStatus(StatusCompleted)
		return finish("voiceover_done", "내레이션이 확정되었습니다. 다음 단계로 진행합니다.",
			map[string]any{KeyVoiceSections: jsonShape(v.sections)}), nil
	}
	if n, instr, ok := ParseSceneEdit(fb.Text); ok && IsRegenerate(instr) {
		return v.redoSection(ctx, fb.Session, fb.Emitter, n)
	}
	if IsRegenerate(fb.Text) {
		return v.synthesizeAll(ctx, fb.Session, fb.Emitter)
	}
	v.setStatus(StatusWaitingFeedback)
	return failure("voiceover_confirm", "'확인', '다시' 또는 'N번 다시'로 답해주세요.", nil), nil
}

func (v *Voice) redoSection(ctx context.Context, s *session.Session, em *progress.Emitter, n int) (*Result, error) {
	if n < 1 || n > len(v.sections) {
		v.setStatus(StatusWaitingFeedback)
		return failure("voiceover_confirm",
			fmt.Sprintf("%d번 섹션이 없습니다. 1~%d번 중에서 선택해주세요.", n, len(v.sections)), nil), nil
	}
	out, err := v.d.Paths.SessionOutput(s.ID)
	if err != nil {
		v.setStatus(StatusError)
		return failure("voiceover_generate", "출력 디렉터리를 준비하지 못했습니다.", err), nil
	}
	name := v.sections[n-1].Section
	em.Progress(string(session.StageVoiceover),
		fmt.Sprintf("내레이션을 다시 생성하고 있습니다: %s", scriptSectionTitles[name]))
	sec, err := v.synthesizeSection(ctx, out, name)
	if err != nil {
		v.setStatus(StatusWaitingFeedback)
		return failure("voiceover_generate",
			fmt.Sprintf("'%s' 섹션 내레이션 생성에 실패했습니다.", scriptSectionTitles[name]), err), nil
	}
	v.sections[n-1] = sec
	return v.preview(), nil
}

// parseCloneWindow extracts a video URL and a MM:SS-MM:SS clip window from
// one feedback message. Hour-long timestamps (HH:MM:SS) work too.
func parseCloneWindow(text string) (url string, start, end float64, ok bool) {
	haveRange := false
	for _, tok := range strings.Fields(text) {
		t := strings.Trim(tok, ",.!?()[]<>\"'")
		lower := strings.ToLower(t)
		switch {
		case url == "" && (strings.Contains(lower, "youtube.com/") || strings.Contains(lower, "youtu.be/")):
			url = t
		case !haveRange && strings.Contains(t, "-"):
			if s, e, rok := parseClipRange(t); rok {
				start, end, haveRange = s, e, true
			}
		}
	}
	ok = url != "" && haveRange && end > start
	return url, start, end, ok
}

func parseClipRange(t string) (float64, float64, bool) {
	parts := strings.SplitN(t, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, ok1 := parseClock(parts[0])
	end, ok2 := parseClock(parts[1])
	return start, end, ok1 && ok2
}

// parseClock reads a MM:SS or HH:MM:SS timestamp into seconds.
func parseClock(s string) (float64, bool) {
	fields := strings.Split(strings.TrimSpace(s), ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, false
	}
	var total float64
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + float64(n)
	}
	return total, true
}

func formatClock(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
