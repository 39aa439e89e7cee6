package progress

// Emitter is a session-scoped publishing handle handed to agents. A nil
// Emitter is valid and discards all events, so agents can run without a bus
// in tests.
type Emitter struct {
	bus       *Bus
	sessionID string
}

// NewEmitter binds an Emitter to one session of the bus.
func NewEmitter(bus *Bus, sessionID string) *Emitter {
	return &Emitter{bus: bus, sessionID: sessionID}
}

// Progress publishes a status line from a running stage.
func (e *Emitter) Progress(stage, message string) {
	if e == nil || e.bus == nil {
		return
	}
	e.bus.Publish(e.sessionID, Event{Type: TypeProgress, Stage: stage, Message: message})
}

// Result publishes a stage's output payload.
func (e *Emitter) Result(stage, message string, data map[string]any) {
	if e == nil || e.bus == nil {
		return
	}
	e.bus.Publish(e.sessionID, Event{Type: TypeResult, Stage: stage, Message: message, Data: data})
}

// Done signals that processing of the current user message has finished.
func (e *Emitter) Done(stage string) {
	if e == nil || e.bus == nil {
		return
	}
	e.bus.Publish(e.sessionID, Event{Type: TypeDone, Stage: stage})
}

// Error reports a stage failure.
func (e *Emitter) Error(stage string, err error) {
	if e == nil || e.bus == nil {
		return
	}
	evt := Event{Type: TypeError, Stage: stage}
	if err != nil {
		evt.Message = err.Error()
	}
	e.bus.Publish(e.sessionID, evt)
}
