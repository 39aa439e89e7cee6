// Package orchestrator drives sessions through the production pipeline.
//
// One [Orchestrator] serves every session of the process. Per session it
// keeps a runtime: a mutex that serializes message processing and the cached
// stage agent instances. Messages are dispatched to the current stage's
// agent, the agent's outputs are merged into the session context, and the
// session advances whenever an agent completes without asking for feedback.
// Stages only ever move forward.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/moche-ai/routine-studio/internal/agent"
	"github.com/moche-ai/routine-studio/internal/benchcache"
	"github.com/moche-ai/routine-studio/internal/observe"
	"github.com/moche-ai/routine-studio/internal/progress"
	"github.com/moche-ai/routine-studio/internal/session"
)

// ErrSessionExists is returned by StartWorkflow when the caller-supplied
// session ID is already taken.
var ErrSessionExists = errors.New("session already exists")

// Reply is the outcome of processing one user message.
type Reply struct {
	SessionID string        `json:"session_id"`
	Stage     session.Stage `json:"stage"`
	Result    *agent.Result `json:"result"`
}

// StartOptions tune session creation.
type StartOptions struct {
	// SessionID overrides the generated UUID, for callers that manage
	// their own identifiers.
	SessionID string
}

// runtime serializes processing for one session and caches its stage
// agents. Agents hold in-memory drafts (candidate lists, pending previews),
// so the same instance must serve every message of its stage.
type runtime struct {
	mu     sync.Mutex
	agents map[session.Stage]agent.Agent
}

// Orchestrator routes user messages to stage agents and owns every stage
// transition. All exported methods are safe for concurrent use; calls for
// the same session are processed one at a time.
type Orchestrator struct {
	store session.Store
	bus   *progress.Bus
	deps  *agent.Deps

	mu       sync.Mutex
	runtimes map[string]*runtime
}

// New creates an Orchestrator.
func New(store session.Store, bus *progress.Bus, deps *agent.Deps) *Orchestrator {
	return &Orchestrator{
		store:    store,
		bus:      bus,
		deps:     deps,
		runtimes: make(map[string]*runtime),
	}
}

// StartWorkflow creates a session, seeds the context with the user's
// request, and runs the first stage's agent.
func (o *Orchestrator) StartWorkflow(ctx context.Context, userRequest string, opts StartOptions) (*Reply, error) {
	s := session.New()
	if opts.SessionID != "" {
		if _, err := o.store.Get(ctx, opts.SessionID); err == nil {
			return nil, fmt.Errorf("orchestrator: session %s: %w", opts.SessionID, ErrSessionExists)
		}
		s.ID = opts.SessionID
	}
	if req := strings.TrimSpace(userRequest); req != "" {
		s.Context[agent.KeyUserRequest] = req
		s.AddHistory("user", req)
	}

	rt := o.runtime(s.ID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	em := progress.NewEmitter(o.bus, s.ID)
	res, err := o.enterStage(ctx, rt, s, em)
	if err != nil {
		em.Error(string(s.CurrentStage), err)
		return nil, err
	}
	return o.conclude(ctx, s, em, res)
}

// ProcessMessage dispatches one user message to the session's current stage
// and returns the resulting reply. Calls for the same session queue up.
func (o *Orchestrator) ProcessMessage(ctx context.Context, sessionID, text string, images []string) (*Reply, error) {
	rt := o.runtime(sessionID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	em := progress.NewEmitter(o.bus, sessionID)
	s.AddHistory("user", text, images...)

	res, err := o.process(ctx, rt, s, em, text, images)
	if err != nil {
		em.Error(string(s.CurrentStage), err)
		if saveErr := o.store.Save(ctx, s); saveErr != nil {
			observe.Logger(ctx).Warn("save after processing error failed", "session_id", s.ID, "error", saveErr)
		}
		return nil, err
	}
	return o.conclude(ctx, s, em, res)
}

// ProcessMessageStream runs ProcessMessage on a goroutine and returns a
// channel carrying the run's progress events, ending with the terminal
// result and done events (or an error event). The channel closes after the
// terminal event or when ctx is cancelled.
func (o *Orchestrator) ProcessMessageStream(ctx context.Context, sessionID, text string, images []string) (<-chan progress.Event, error) {
	if _, err := o.store.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	events, cancel := o.bus.Subscribe(sessionID, o.bus.LastSeq(sessionID))
	out := make(chan progress.Event)
	go func() {
		defer close(out)
		defer cancel()

		finished := make(chan struct{})
		go func() {
			defer close(finished)
			if _, err := o.ProcessMessage(ctx, sessionID, text, images); err != nil {
				observe.Logger(ctx).Error("process message failed", "session_id", sessionID, "error", err)
			}
		}()

		for {
			select {
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
				if evt.Type == progress.TypeDone || evt.Type == progress.TypeError {
					<-finished
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// GetSession loads one session.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return o.store.Get(ctx, sessionID)
}

// ListSessions returns all sessions, most recently updated first.
func (o *Orchestrator) ListSessions(ctx context.Context) ([]*session.Session, error) {
	return o.store.List(ctx)
}

// DeleteSession removes the session, its progress history, its cached
// agents, and every output directory carrying its ID.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	rt := o.runtime(sessionID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := o.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	o.bus.Drop(sessionID)

	o.mu.Lock()
	delete(o.runtimes, sessionID)
	o.mu.Unlock()

	if o.deps.Paths != nil {
		if err := o.deps.Paths.RemoveSessionOutputs(sessionID); err != nil {
			observe.Logger(ctx).Warn("remove session outputs failed", "session_id", sessionID, "error", err)
		}
	}
	observe.Logger(ctx).Info("session deleted", "session_id", sessionID)
	return nil
}

// Events returns the session's progress history with Seq > from.
func (o *Orchestrator) Events(sessionID string, from int64) []progress.Event {
	return o.bus.Events(sessionID, from)
}

// runtime returns the session's runtime, creating it on first use.
func (o *Orchestrator) runtime(sessionID string) *runtime {
	o.mu.Lock()
	defer o.mu.Unlock()
	rt, ok := o.runtimes[sessionID]
	if !ok {
		rt = &runtime{agents: make(map[session.Stage]agent.Agent)}
		o.runtimes[sessionID] = rt
	}
	return rt
}

// agentFor returns the cached agent for the stage, constructing it on first
// use.
func (o *Orchestrator) agentFor(rt *runtime, stage session.Stage) (agent.Agent, error) {
	if ag, ok := rt.agents[stage]; ok {
		return ag, nil
	}
	ag, err := agent.New(stage, o.deps)
	if err != nil {
		return nil, err
	}
	rt.agents[stage] = ag
	return ag, nil
}

// process routes one message: the global skip intent and the cached
// benchmark gate run before the stage agent sees anything.
func (o *Orchestrator) process(ctx context.Context, rt *runtime, s *session.Session, em *progress.Emitter, text string, images []string) (*agent.Result, error) {
	if s.CurrentStage.Terminal() {
		return completedResult(), nil
	}

	if strings.TrimSpace(text) == "" && len(images) == 0 {
		return emptyMessageResult(), nil
	}

	if agent.IsSkip(text) && len(images) == 0 {
		return o.forceSkip(ctx, rt, s, em)
	}

	if s.CurrentStage == session.StageBenchmarking && s.Context.Bool(agent.KeyBenchmarkCached) {
		return o.benchmarkGate(ctx, rt, s, em, text)
	}

	ag, err := o.agentFor(rt, s.CurrentStage)
	if err != nil {
		return nil, err
	}
	res, err := o.invoke(ctx, ag, s, em, text, images)
	if err != nil {
		return nil, err
	}
	o.merge(s, res)
	return o.autoAdvance(ctx, rt, s, em, ag, res)
}

// forceSkip marks the current stage skipped and enters the next one. The
// skip intent always advances, whatever state the stage agent is in.
func (o *Orchestrator) forceSkip(ctx context.Context, rt *runtime, s *session.Session, em *progress.Emitter) (*agent.Result, error) {
	skipped := s.Context.StrSlice(agent.KeySkippedStages)
	skipped = append(skipped, string(s.CurrentStage))
	s.Context[agent.KeySkippedStages] = skipped

	observe.Logger(ctx).Info("stage skipped", "session_id", s.ID, "stage", string(s.CurrentStage))
	s.Advance()
	return o.enterStage(ctx, rt, s, em)
}

// benchmarkGate resolves a pending cached benchmark report: accept it,
// discard it for a fresh analysis, or show the summary again.
func (o *Orchestrator) benchmarkGate(ctx context.Context, rt *runtime, s *session.Session, em *progress.Emitter, text string) (*agent.Result, error) {
	urls := s.Context.StrSlice(agent.KeyBenchmarkURLs)

	switch {
	case benchcache.IsReanalysisRequest(text):
		if o.deps.Cache != nil && len(urls) > 0 {
			if err := o.deps.Cache.Delete(urls); err != nil {
				observe.Logger(ctx).Warn("benchmark cache delete failed", "session_id", s.ID, "error", err)
			}
		}
		delete(s.Context, agent.KeyBenchmarkReport)
		delete(s.Context, agent.KeyBenchmarkCached)

		// A fresh agent restarts the analysis; the channel set stays in
		// context so it goes straight to collection.
		delete(rt.agents, session.StageBenchmarking)
		ag, err := o.agentFor(rt, session.StageBenchmarking)
		if err != nil {
			return nil, err
		}
		res, err := o.invoke(ctx, ag, s, em, "", nil)
		if err != nil {
			return nil, err
		}
		o.merge(s, res)
		return o.autoAdvance(ctx, rt, s, em, ag, res)

	case agent.IsConfirm(text):
		s.Context[agent.KeyBenchmarkCached] = false
		s.Advance()
		return o.enterStage(ctx, rt, s, em)

	default:
		msg := "캐시된 벤치마킹 리포트가 있습니다. 이 리포트를 사용하려면 '확인', 새로 분석하려면 '다시 분석'이라고 입력하세요."
		if o.deps.Cache != nil && len(urls) > 0 {
			if entry, err := o.deps.Cache.Find(urls); err == nil {
				msg = benchcache.Summary(entry)
			}
		}
		return &agent.Result{Success: true, Step: "benchmark_cached", Message: msg, NeedsFeedback: true}, nil
	}
}

// enterStage runs the Execute of the session's current stage agent and
// auto-advances from there.
func (o *Orchestrator) enterStage(ctx context.Context, rt *runtime, s *session.Session, em *progress.Emitter) (*agent.Result, error) {
	if s.CurrentStage.Terminal() {
		return completedResult(), nil
	}
	ag, err := o.agentFor(rt, s.CurrentStage)
	if err != nil {
		return nil, err
	}
	res, err := o.invoke(ctx, ag, s, em, "", nil)
	if err != nil {
		return nil, err
	}
	o.merge(s, res)
	return o.autoAdvance(ctx, rt, s, em, ag, res)
}

// autoAdvance moves through stages while the current agent has completed
// without asking for feedback. Intermediate results are published and kept
// in history; the returned result is the one the caller should reply with.
func (o *Orchestrator) autoAdvance(ctx context.Context, rt *runtime, s *session.Session, em *progress.Emitter, ag agent.Agent, res *agent.Result) (*agent.Result, error) {
	for !res.NeedsFeedback && ag.Status() == agent.StatusCompleted && !s.CurrentStage.Terminal() {
		o.noteResult(s, em, res)
		s.Advance()
		observe.Logger(ctx).Info("stage advanced", "session_id", s.ID, "stage", string(s.CurrentStage))
		if s.CurrentStage.Terminal() {
			return completedResult(), nil
		}

		next, err := o.agentFor(rt, s.CurrentStage)
		if err != nil {
			return nil, err
		}
		res, err = o.invoke(ctx, next, s, em, "", nil)
		if err != nil {
			return nil, err
		}
		o.merge(s, res)
		ag = next
	}
	return res, nil
}

// invoke dispatches to Execute for a fresh agent and HandleFeedback
// otherwise. Each invocation runs under its own span so stage latency shows
// up in traces. A panicking agent is converted into a run error so one
// broken stage cannot take the process down.
func (o *Orchestrator) invoke(ctx context.Context, ag agent.Agent, s *session.Session, em *progress.Emitter, text string, images []string) (res *agent.Result, err error) {
	ctx, span := observe.StartSpan(ctx, "stage "+string(s.CurrentStage),
		trace.WithAttributes(
			attribute.String("session_id", s.ID),
			attribute.String("stage", string(s.CurrentStage)),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			observe.Logger(ctx).Error("stage agent panicked", "session_id", s.ID, "stage", string(s.CurrentStage), "panic", r)
			res = nil
			err = fmt.Errorf("orchestrator: stage %s agent panicked: %v", s.CurrentStage, r)
		}
	}()

	if ag.Status() == agent.StatusIdle {
		return ag.Execute(ctx, agent.ExecInput{Session: s, Emitter: em})
	}
	return ag.HandleFeedback(ctx, agent.Feedback{
		Session: s,
		Emitter: em,
		Text:    strings.TrimSpace(text),
		Images:  images,
	})
}

// conclude records the final result, persists the session, and publishes
// the terminal events.
func (o *Orchestrator) conclude(ctx context.Context, s *session.Session, em *progress.Emitter, res *agent.Result) (*Reply, error) {
	o.noteResult(s, em, res)
	if err := o.store.Save(ctx, s); err != nil {
		em.Error(string(s.CurrentStage), err)
		return nil, err
	}
	em.Done(string(s.CurrentStage))
	return &Reply{SessionID: s.ID, Stage: s.CurrentStage, Result: res}, nil
}

// noteResult appends the result to history and publishes it.
func (o *Orchestrator) noteResult(s *session.Session, em *progress.Emitter, res *agent.Result) {
	s.AddHistory("assistant", res.Message)
	em.Result(string(s.CurrentStage), res.Message, eventPayload(res))
}

// merge writes the result's data into the session context. The canonical
// keys are the stage-output vocabulary; anything else is merged verbatim so
// newer agents can ship keys older orchestrators have not learned yet.
// Result envelope annotations never reach the context.
func (o *Orchestrator) merge(s *session.Session, res *agent.Result) {
	for k, v := range res.Data {
		if envelopeKeys[k] {
			continue
		}
		if !canonicalKeys[k] {
			slog.Debug("merging unrecognized context key", "session_id", s.ID, "key", k)
		}
		s.Context[k] = v
	}
}

// canonicalKeys is the merge table: the context keys stage agents are known
// to produce.
var canonicalKeys = map[string]bool{
	agent.KeyChannelNames:        true,
	agent.KeySelectedChannelName: true,
	agent.KeyBenchmarkReport:     true,
	agent.KeyBenchmarkCached:     true,
	agent.KeyBenchmarkURLs:       true,
	agent.KeyCharacterInfo:       true,
	agent.KeyCharacterImage:      true,
	agent.KeyVoiceSettings:       true,
	agent.KeyVideoIdeas:          true,
	agent.KeySelectedVideoIdea:   true,
	agent.KeyScript:              true,
	agent.KeyImagePrompts:        true,
	agent.KeyImages:              true,
	agent.KeyVideos:              true,
	agent.KeyQCResults:           true,
	agent.KeyVoiceSections:       true,
	agent.KeyFinalVideo:          true,
	agent.KeySubtitleFile:        true,
}

// envelopeKeys annotate the result itself and are not stage outputs.
var envelopeKeys = map[string]bool{
	"error":   true,
	"skipped": true,
	"cached":  true,
}

// eventPayload shapes a result for the progress bus.
func eventPayload(res *agent.Result) map[string]any {
	data := map[string]any{
		"step":           res.Step,
		"success":        res.Success,
		"needs_feedback": res.NeedsFeedback,
	}
	if len(res.Images) > 0 {
		data["images"] = res.Images
	}
	if len(res.Data) > 0 {
		data["data"] = res.Data
	}
	return data
}

// completedResult is the uniform reply once (or while) the session sits in
// the terminal stage.
func completedResult() *agent.Result {
	return &agent.Result{
		Success: true,
		Step:    "workflow_completed",
		Message: "모든 제작 단계가 완료되었습니다. 새 영상을 만들려면 새 세션을 시작해주세요.",
	}
}

// emptyMessageResult is the reply for a message with neither text nor
// images; the stage agent is never invoked.
func emptyMessageResult() *agent.Result {
	return &agent.Result{
		Success:       false,
		Step:          "empty_message",
		Message:       "메시지가 비어 있습니다. 진행하려면 내용을 입력해주세요.",
		NeedsFeedback: true,
	}
}
