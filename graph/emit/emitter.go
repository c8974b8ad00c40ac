package emit

import "context"

// Emitter receives workflow events.
//
// Implementations must be safe for concurrent use: batch sub-tasks may emit
// from several goroutines at once. Emit is called synchronously on the
// emitting goroutine, which is what gives consumers a strict ordering of
// status and token events within one run.
//
// Implementations:
//   - NullEmitter: discards events
//   - LogEmitter: writes text or JSON lines
//   - BufferedEmitter: keeps per-run history in memory
//   - OTelEmitter: turns events into OpenTelemetry spans
//   - ChanEmitter: forwards events to a channel until a context ends
//   - MultiEmitter: fans out to several emitters
type Emitter interface {
	// Emit sends one event. It must not block indefinitely.
	Emit(event Event)
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying e. The engine installs a
// node-scoped emitter before every node so that nodes can emit without
// holding a reference to the engine.
func NewContext(ctx context.Context, e Emitter) context.Context {
	return context.WithValue(ctx, ctxKey{}, e)
}

// FromContext returns the emitter carried by ctx, or a NullEmitter.
func FromContext(ctx context.Context) Emitter {
	if e, ok := ctx.Value(ctxKey{}).(Emitter); ok && e != nil {
		return e
	}
	return NewNullEmitter()
}

// Token emits one chunk of incremental model output from the current node.
// Empty chunks are dropped.
func Token(ctx context.Context, text string) {
	if text == "" {
		return
	}
	FromContext(ctx).Emit(Event{Msg: MsgToken, Text: text})
}

// Status emits a human-readable progress line from the current node.
func Status(ctx context.Context, text string) {
	FromContext(ctx).Emit(Event{Msg: MsgStatus, Text: text})
}

// ToolStart announces that the current node is about to call a named
// external collaborator.
func ToolStart(ctx context.Context, tool string) {
	FromContext(ctx).Emit(Event{Msg: MsgToolStart, Meta: map[string]interface{}{"tool": tool}})
}

// Scope wraps e so that events missing a run ID, step or node ID inherit
// the given values.
func Scope(e Emitter, runID string, step int, nodeID string) Emitter {
	if e == nil {
		e = NewNullEmitter()
	}
	return &scoped{next: e, runID: runID, step: step, nodeID: nodeID}
}

type scoped struct {
	next   Emitter
	runID  string
	step   int
	nodeID string
}

func (s *scoped) Emit(event Event) {
	if event.RunID == "" {
		event.RunID = s.runID
	}
	if event.Step == 0 {
		event.Step = s.step
	}
	if event.NodeID == "" {
		event.NodeID = s.nodeID
	}
	s.next.Emit(event)
}
