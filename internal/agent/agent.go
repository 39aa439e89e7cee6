// Package agent implements the stage agents that drive one content-production
// workflow from channel naming to final composition.
//
// Every stage of a [session.Session] is served by one Agent: a resumable,
// feedback-driven state machine. The orchestrator calls [Agent.Execute] once
// when the stage becomes active and [Agent.HandleFeedback] for every
// subsequent user message until the agent reports StatusCompleted. Agents
// communicate exclusively through [Result] values and the session context;
// they never advance stages themselves.
//
// Agents convert domain failures (bad input, backend refusal, unparseable
// model output) into Results with Success=false and a user-facing Korean
// message. A non-nil error from an agent method means infrastructure
// breakage, not a domain problem.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/moche-ai/routine-studio/internal/benchcache"
	"github.com/moche-ai/routine-studio/internal/config"
	"github.com/moche-ai/routine-studio/internal/observe"
	"github.com/moche-ai/routine-studio/internal/paths"
	"github.com/moche-ai/routine-studio/internal/progress"
	"github.com/moche-ai/routine-studio/internal/session"
	"github.com/moche-ai/routine-studio/pkg/browser"
	"github.com/moche-ai/routine-studio/pkg/media"
	"github.com/moche-ai/routine-studio/pkg/provider/llm"
	"github.com/moche-ai/routine-studio/pkg/provider/tts"
	"github.com/moche-ai/routine-studio/pkg/provider/vision"
	"github.com/moche-ai/routine-studio/pkg/provider/workflow"
)

// Status describes where an agent is in its stage lifecycle.
type Status string

// Agent lifecycle states. A freshly constructed agent is StatusIdle; the
// orchestrator uses that to decide between Execute and HandleFeedback.
const (
	StatusIdle            Status = "IDLE"
	StatusRunning         Status = "RUNNING"
	StatusWaitingFeedback Status = "WAITING_FEEDBACK"
	StatusCompleted       Status = "COMPLETED"
	StatusError           Status = "ERROR"
)

// ExecInput carries everything an agent needs when its stage becomes active.
type ExecInput struct {
	// Session is the workflow state. Agents read context keys written by
	// earlier stages but never mutate the session directly; outputs travel
	// back through Result.Data.
	Session *session.Session

	// Emitter publishes progress events for this run. May be nil, in which
	// case progress is discarded.
	Emitter *progress.Emitter
}

// Feedback is one user message delivered to the active stage's agent.
type Feedback struct {
	Session *session.Session
	Emitter *progress.Emitter

	// Text is the user's message, already trimmed by the transport.
	Text string

	// Images holds base64-encoded image payloads without data URL prefixes.
	Images []string
}

// Result is the uniform outcome of Execute and HandleFeedback.
type Result struct {
	// Success is false for domain failures (bad input, backend refusal,
	// unparseable model output). The session survives a failed Result.
	Success bool `json:"success"`

	// Step names the agent operation that produced this result, e.g.
	// "channel_name_candidates" or "benchmark_cached".
	Step string `json:"step"`

	// Message is the user-facing text, in Korean.
	Message string `json:"message"`

	// Images holds file paths of images to show the user.
	Images []string `json:"images,omitempty"`

	// NeedsFeedback is true while the agent is waiting for the next user
	// message. The orchestrator only auto-advances when it is false.
	NeedsFeedback bool `json:"needs_feedback"`

	// Data carries stage outputs for the session context, keyed by the
	// well-known context keys below. Values are plain JSON shapes (maps,
	// slices, primitives) so the context looks identical before and after
	// a store round trip.
	Data map[string]any `json:"data,omitempty"`
}

// Well-known session context keys. Agents write them through Result.Data and
// read them from session.Context; the orchestrator's merge table recognizes
// exactly this vocabulary.
const (
	KeyUserRequest         = "user_request"
	KeyChannelNames        = "channel_names"
	KeySelectedChannelName = "selected_channel_name"
	KeyBenchmarkReport     = "benchmark_report"
	KeyBenchmarkCached     = "benchmark_cached"
	KeyBenchmarkURLs       = "benchmark_urls"
	KeyCharacterInfo       = "character_info"
	KeyCharacterImage      = "character_image"
	KeyVoiceSettings       = "voice_settings"
	KeyVideoIdeas          = "video_ideas"
	KeySelectedVideoIdea   = "selected_video_idea"
	KeyScript              = "script"
	KeyImagePrompts        = "image_prompts"
	KeyImages              = "images"
	KeyVideos              = "videos"
	KeyQCResults           = "qc_results"
	KeyVoiceSections       = "voice_sections"
	KeyFinalVideo          = "final_video"
	KeySubtitleFile        = "subtitle_file"
	KeySkippedStages       = "skipped_stages"
)

// Agent is the contract between the orchestrator and one stage's handler.
//
// Implementations are stateful and scoped to a single session; the
// orchestrator constructs one per stage via [New] and caches it for the
// session's life. Methods are never called concurrently for the same
// session (the orchestrator serializes per-session processing), but
// different sessions run in parallel, so shared dependencies must be safe
// for concurrent use.
type Agent interface {
	// Execute runs when the stage becomes active and returns the agent's
	// opening move, typically a question with NeedsFeedback=true.
	Execute(ctx context.Context, in ExecInput) (*Result, error)

	// HandleFeedback processes one user message and returns the next move.
	HandleFeedback(ctx context.Context, fb Feedback) (*Result, error)

	// Status reports the agent's lifecycle state.
	Status() Status
}

// Media is the slice of the ffmpeg toolkit the stage agents drive.
// *media.FFmpeg satisfies it; tests substitute fakes.
type Media interface {
	Probe(ctx context.Context, path string) (*media.ProbeInfo, error)
	Duration(ctx context.Context, path string) (float64, error)
	CopyVideo(ctx context.Context, in, out string) error
	TrimVideo(ctx context.Context, in, out string, seconds float64) error
	RetimeVideo(ctx context.Context, in, out string, factor float64) error
	HoldLastFrame(ctx context.Context, in, out string, extraSeconds float64) error
	StillToClip(ctx context.Context, image, out string, seconds float64) error
	ExtractFrames(ctx context.Context, video, dir string, every, max int) ([]string, error)
	CutAudio(ctx context.Context, in, out string, startSeconds, durationSeconds float64) error
	Concat(ctx context.Context, inputs []string, out string) error
	Mux(ctx context.Context, video, audio, out string, opts media.MuxOptions) error
}

// YouTube is the slice of the yt-dlp client the benchmark and voice agents
// use. *media.YTDLP satisfies it.
type YouTube interface {
	ChannelInfo(ctx context.Context, url string) (*media.ChannelMeta, error)
	RecentVideos(ctx context.Context, url string, n int) ([]media.VideoMeta, error)
	VideoInfo(ctx context.Context, url string) (*media.VideoMeta, error)
	DownloadSubtitles(ctx context.Context, url, lang, dir string) (string, error)
	DownloadAudio(ctx context.Context, url, dir, name string) (string, error)
}

var (
	_ Media   = (*media.FFmpeg)(nil)
	_ YouTube = (*media.YTDLP)(nil)
)

// Deps bundles the collaborators shared by every stage agent. The
// orchestrator builds one Deps at startup and hands the same value to each
// agent constructor.
//
// LLM, Cfg, Prompts and Paths are required by every agent; the remaining
// fields are required only by the stages that use them (a nil TTS is fine
// until the voice stages run).
type Deps struct {
	// LLM serves all text generation, behind the provider router.
	LLM llm.Provider

	// Vision answers image questions: style detection, character
	// description, thumbnail analysis, quality verdicts.
	Vision vision.Provider

	// CloudVision optionally serves the cloud quality-check mode. Nil
	// disables it.
	CloudVision vision.Provider

	// TTS synthesizes voiceover sections.
	TTS tts.Provider

	// Engine runs image and video render graphs.
	Engine workflow.Client

	// Browser captures page screenshots during benchmarking.
	Browser browser.Capture

	// Media wraps the ffmpeg toolkit.
	Media Media

	// YouTube wraps the yt-dlp client.
	YouTube YouTube

	// HTTP fetches thumbnail bytes. Nil falls back to
	// http.DefaultClient inside the download helpers.
	HTTP *http.Client

	// Cache stores completed benchmark reports.
	Cache *benchcache.Cache

	// Paths resolves the process data directory layout.
	Paths *paths.Paths

	// Prompts resolves prompt templates, with config overrides applied.
	Prompts *Prompts

	// Metrics records stage and QC measurements. May be nil.
	Metrics *observe.Metrics

	// Cfg is the full process configuration; agents read the Pipeline,
	// Workflow and TTS sections.
	Cfg *config.Config
}

// graphParams derives the render-graph knobs for one session.
func (d *Deps) graphParams(sessionID string) workflow.Params {
	w := d.Cfg.Workflow
	return workflow.Params{
		Checkpoint:      w.Checkpoint,
		VideoCheckpoint: w.VideoCheckpoint,
		Width:           w.Width,
		Height:          w.Height,
		Steps:           w.Steps,
		VideoFrames:     w.VideoFrames,
		FPS:             w.FPS,
		FilenamePrefix:  "studio/" + sessionID,
	}
}

// recordStage reports one stage operation's duration when metrics are wired.
func (d *Deps) recordStage(ctx context.Context, stage string, start time.Time) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.RecordStage(ctx, stage, time.Since(start))
}

// recordQC reports one quality-check verdict when metrics are wired.
func (d *Deps) recordQC(ctx context.Context, verdict string) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.RecordQCVerdict(ctx, verdict)
}

// New constructs the agent serving the given pipeline stage. The terminal
// COMPLETED stage has no agent and returns an error; the orchestrator
// handles it directly.
func New(stage session.Stage, d *Deps) (Agent, error) {
	switch stage {
	case session.StageChannelName:
		return NewPlanner(PlanChannelNames, d), nil
	case session.StageBenchmarking:
		return NewBenchmarker(d), nil
	case session.StageCharacter:
		return NewCharacterDesigner(d), nil
	case session.StageTTSSettings:
		return NewVoice(VoiceSetup, d), nil
	case session.StageVideoIdeas:
		return NewPlanner(PlanVideoIdeas, d), nil
	case session.StageScript:
		return NewPlanner(PlanScript, d), nil
	case session.StageImagePrompt:
		return NewImagePrompter(d), nil
	case session.StageImageGenerate:
		return NewImageGenerator(d), nil
	case session.StageVoiceover:
		return NewVoice(VoiceNarration, d), nil
	case session.StageCompose:
		return NewComposer(d), nil
	default:
		return nil, fmt.Errorf("agent: no agent serves stage %q", stage)
	}
}

// statusTracker is the thread-safe Status implementation every agent embeds.
// The zero value reports StatusIdle.
type statusTracker struct {
	mu sync.Mutex
	s  Status
}

// Status reports the current lifecycle state.
func (t *statusTracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.s == "" {
		return StatusIdle
	}
	return t.s
}

func (t *statusTracker) setStatus(s Status) {
	t.mu.Lock()
	t.s = s
	t.mu.Unlock()
}

// ask builds a waiting-for-input result.
func ask(step, message string) *Result {
	return &Result{Success: true, Step: step, Message: message, NeedsFeedback: true}
}

// finish builds a stage-complete result carrying the stage's context outputs.
func finish(step, message string, data map[string]any) *Result {
	return &Result{Success: true, Step: step, Message: message, Data: data}
}

// failure builds a domain-failure result. A non-nil cause is exposed to the
// client under data.error; the message stays user-safe.
func failure(step, message string, cause error) *Result {
	r := &Result{Step: step, Message: message, NeedsFeedback: true}
	if cause != nil {
		r.Data = map[string]any{"error": cause.Error()}
	}
	return r
}

// skipped is the uniform reply to a skip intent: the stage ends without
// writing any stage-specific output, and the orchestrator advances.
func skipped(step string) *Result {
	return &Result{Success: true, Step: step, Message: "이번 단계를 건너뜁니다.",
		Data: map[string]any{"skipped": true}}
}

// jsonShape converts v to its plain JSON form (maps, slices, primitives) so
// context values look the same in memory as after a store round trip.
func jsonShape(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// decodeKey unmarshals the context value under key into v, which must be a
// pointer. Returns false when the key is absent or the shapes do not fit.
func decodeKey(c session.Ctx, key string, v any) bool {
	raw, ok := c[key]
	if !ok {
		return false
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}
