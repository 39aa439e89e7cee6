// Package session holds the durable state of one content-production workflow.
//
// A [Session] records which pipeline [Stage] the workflow is in, the
// accumulated [Ctx] of stage outputs, and the user/assistant message history.
// Stages only move forward; the orchestrator owns all transitions. Sessions
// persist through a [Store] so a process restart resumes exactly where the
// workflow left off.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Stage identifies one step of the production pipeline. The zero value is not
// a valid stage.
type Stage string

// Pipeline stages in execution order.
const (
	StageChannelName   Stage = "CHANNEL_NAME"
	StageBenchmarking  Stage = "BENCHMARKING"
	StageCharacter     Stage = "CHARACTER"
	StageTTSSettings   Stage = "TTS_SETTINGS"
	StageVideoIdeas    Stage = "VIDEO_IDEAS"
	StageScript        Stage = "SCRIPT"
	StageImagePrompt   Stage = "IMAGE_PROMPT"
	StageImageGenerate Stage = "IMAGE_GENERATE"
	StageVoiceover     Stage = "VOICEOVER"
	StageCompose       Stage = "COMPOSE"
	StageCompleted     Stage = "COMPLETED"
)

// stageOrder fixes the pipeline sequence. Transitions only ever move to a
// higher index.
var stageOrder = []Stage{
	StageChannelName,
	StageBenchmarking,
	StageCharacter,
	StageTTSSettings,
	StageVideoIdeas,
	StageScript,
	StageImagePrompt,
	StageImageGenerate,
	StageVoiceover,
	StageCompose,
	StageCompleted,
}

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Index returns the stage's position in the pipeline, or -1 for an unknown
// stage.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// IsValid reports whether s is a known pipeline stage.
func (s Stage) IsValid() bool { return s.Index() >= 0 }

// Terminal reports whether s is the final stage.
func (s Stage) Terminal() bool { return s == StageCompleted }

// Next returns the following stage. The terminal stage returns itself, and an
// unknown stage returns itself unchanged.
func (s Stage) Next() Stage {
	i := s.Index()
	if i < 0 || i >= len(stageOrder)-1 {
		return s
	}
	return stageOrder[i+1]
}

// Message is one entry of the session's conversation history.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Images  []string  `json:"images,omitempty"`
	Time    time.Time `json:"time"`
}

// Session is the durable state of one workflow.
type Session struct {
	// ID is the UUID assigned at creation.
	ID string `json:"id"`

	// CurrentStage is the stage the next user message will be dispatched to.
	CurrentStage Stage `json:"current_stage"`

	// Context accumulates stage outputs under well-known keys
	// (selected_channel_name, benchmark_report, script, ...).
	Context Ctx `json:"context"`

	// History is the ordered user/assistant conversation.
	History []Message `json:"history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a Session at the first pipeline stage with a fresh UUID.
func New() *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           uuid.NewString(),
		CurrentStage: StageChannelName,
		Context:      Ctx{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Advance moves the session to the next stage and returns it. Advancing a
// completed session is a no-op.
func (s *Session) Advance() Stage {
	s.CurrentStage = s.CurrentStage.Next()
	return s.CurrentStage
}

// AddHistory appends one conversation message with the current time.
func (s *Session) AddHistory(role, content string, images ...string) {
	s.History = append(s.History, Message{
		Role:    role,
		Content: content,
		Images:  images,
		Time:    time.Now().UTC(),
	})
}

// RecentHistory returns the last n messages, oldest first. Used for prompt
// building.
func (s *Session) RecentHistory(n int) []Message {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if n > len(s.History) {
		n = len(s.History)
	}
	return s.History[len(s.History)-n:]
}

// Touch updates the modification timestamp. Stores call it on save.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now().UTC()
}
