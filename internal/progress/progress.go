// Package progress carries intermediate pipeline output to connected clients.
//
// Long stages (channel analysis, image generation, composition) report what
// they are doing through an [Emitter]; the [Bus] assigns each event a
// per-session sequence number, keeps the session's event history in memory,
// and fans events out to live subscribers. Fan-out never blocks the
// publisher: a subscriber that falls behind loses events and recovers them by
// sequence number through the polling endpoint. History is in-memory only and
// is lost on process restart.
package progress

import (
	"log/slog"
	"sync"
	"time"
)

// Event types.
const (
	// TypeProgress is a human-readable status line from a running stage.
	TypeProgress = "progress"

	// TypeResult carries a stage's output payload for the client.
	TypeResult = "result"

	// TypeDone signals that processing of one user message has finished.
	TypeDone = "done"

	// TypeError reports a stage failure.
	TypeError = "error"
)

// Event is one progress record within a session.
type Event struct {
	// Seq numbers events per session, starting at 1 and strictly increasing.
	Seq int64 `json:"seq"`

	// Type is one of the Type* constants.
	Type string `json:"type"`

	// Stage names the pipeline stage that produced the event.
	Stage string `json:"stage,omitempty"`

	// Message is the human-readable status text.
	Message string `json:"message,omitempty"`

	// Data carries structured payloads for result and error events.
	Data map[string]any `json:"data,omitempty"`

	// Time is when the event was published.
	Time time.Time `json:"time"`
}

// subscriberBuffer is the per-subscriber channel headroom beyond replayed
// history. Publishing drops events for a subscriber whose buffer is full.
const subscriberBuffer = 64

// sessionLog holds one session's event history and live subscribers.
type sessionLog struct {
	mu      sync.Mutex
	nextSeq int64
	events  []Event
	nextSub int
	subs    map[int]chan Event
}

// Bus routes events between stage emitters and session subscribers.
// All methods are safe for concurrent use.
type Bus struct {
	mu       sync.Mutex
	sessions map[string]*sessionLog
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{sessions: make(map[string]*sessionLog)}
}

// log returns the session's log, creating it on first use.
func (b *Bus) log(sessionID string) *sessionLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	sl, ok := b.sessions[sessionID]
	if !ok {
		sl = &sessionLog{subs: make(map[int]chan Event)}
		b.sessions[sessionID] = sl
	}
	return sl
}

// Publish appends evt to the session history, assigns its sequence number,
// and fans it out to subscribers. Returns the assigned sequence number.
func (b *Bus) Publish(sessionID string, evt Event) int64 {
	sl := b.log(sessionID)

	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.nextSeq++
	evt.Seq = sl.nextSeq
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	sl.events = append(sl.events, evt)

	for id, ch := range sl.subs {
		select {
		case ch <- evt:
		default:
			slog.Warn("progress subscriber lagging, dropping event",
				"session_id", sessionID, "subscriber", id, "seq", evt.Seq)
		}
	}
	return evt.Seq
}

// Events returns a copy of the session's history with Seq > from. Pass 0 for
// the full history. Unknown sessions return nil.
func (b *Bus) Events(sessionID string, from int64) []Event {
	b.mu.Lock()
	sl, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	// History is append-only and ordered, so the first match starts the tail.
	start := len(sl.events)
	for i, e := range sl.events {
		if e.Seq > from {
			start = i
			break
		}
	}
	if start == len(sl.events) {
		return nil
	}
	out := make([]Event, len(sl.events)-start)
	copy(out, sl.events[start:])
	return out
}

// LastSeq returns the sequence number of the session's newest event, or 0
// for an unknown or empty session. Streaming callers subscribe from it to
// receive only events published after the call.
func (b *Bus) LastSeq(sessionID string) int64 {
	b.mu.Lock()
	sl, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.nextSeq
}

// Subscribe registers a live subscriber for the session. History with
// Seq > from is replayed into the returned channel before any live event.
// The cancel function must be called to release the subscription; it closes
// the channel.
func (b *Bus) Subscribe(sessionID string, from int64) (<-chan Event, func()) {
	sl := b.log(sessionID)

	sl.mu.Lock()
	defer sl.mu.Unlock()

	var replay []Event
	for _, e := range sl.events {
		if e.Seq > from {
			replay = append(replay, e)
		}
	}

	// Size the buffer so the replay below cannot block, plus headroom for
	// live events while the consumer catches up.
	ch := make(chan Event, len(replay)+subscriberBuffer)
	for _, e := range replay {
		ch <- e
	}

	id := sl.nextSub
	sl.nextSub++
	sl.subs[id] = ch

	cancel := func() {
		sl.mu.Lock()
		defer sl.mu.Unlock()
		if _, ok := sl.subs[id]; ok {
			delete(sl.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Subscribers returns the number of live subscribers across all sessions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, sl := range b.sessions {
		sl.mu.Lock()
		n += len(sl.subs)
		sl.mu.Unlock()
	}
	return n
}

// Drop discards the session's history and closes all its subscribers. Called
// when a session is deleted.
func (b *Bus) Drop(sessionID string) {
	b.mu.Lock()
	sl, ok := b.sessions[sessionID]
	if ok {
		delete(b.sessions, sessionID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	for id, ch := range sl.subs {
		delete(sl.subs, id)
		close(ch)
	}
}
