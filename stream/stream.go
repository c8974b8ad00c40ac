// Package stream reduces the events of a workflow run into the ordered
// status, token, error and done events sent to a caller.
package stream

import (
	"context"
	"errors"
	"strings"

	"github.com/apex/log"

	"github.com/xiaomayi-ant/insight-agent/graph"
	"github.com/xiaomayi-ant/insight-agent/graph/emit"
)

// Kind is the type of a stream event.
type Kind string

const (
	KindStatus Kind = "status"
	KindToken  Kind = "token"
	KindError  Kind = "error"
	KindDone   Kind = "done"
)

// Event is one message to the caller.
type Event struct {
	Type    Kind   `json:"type"`
	Content string `json:"content"`
}

// Default phrases.
const (
	InitialStatus = "正在分析您的请求..."
	ErrorPrefix   = "处理消息时出错: "
	toolPhrase    = "正在调用工具: "
)

// DefaultPhrases maps node IDs to the status shown when they start.
var DefaultPhrases = map[string]string{
	"intent_classify":  "正在分析意图...",
	"search":           "正在搜索VikingDB...",
	"item_structurize": "正在结构化视频意图...",
	"join":             "正在执行MySQL分析...",
	"aggregate":        "正在聚合标签数据...",
	"analyze":          "正在分析数据洞察...",
	"summarize":        "正在生成总结...",
	"simple_chat":      "正在思考...",
}

// DefaultTokenNodes are the nodes whose token events reach the caller.
var DefaultTokenNodes = []string{"summarize", "simple_chat"}

// RunFunc executes one workflow run, sending its events to feed, and
// returns the final answer text.
type RunFunc func(ctx context.Context, feed emit.Emitter) (finalText string, err error)

// Reconciler turns run events into caller events.
type Reconciler struct {
	phrases    map[string]string
	tokenNodes map[string]bool
	buffer     int
	logger     log.Interface
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPhrases replaces the node status phrases.
func WithPhrases(phrases map[string]string) Option {
	return func(r *Reconciler) { r.phrases = phrases }
}

// WithTokenNodes replaces the set of nodes allowed to stream tokens.
func WithTokenNodes(nodes ...string) Option {
	return func(r *Reconciler) {
		r.tokenNodes = make(map[string]bool, len(nodes))
		for _, n := range nodes {
			r.tokenNodes[n] = true
		}
	}
}

// WithBuffer sets the capacity of the event channels.
func WithBuffer(n int) Option {
	return func(r *Reconciler) { r.buffer = n }
}

// WithLogger sets the logger.
func WithLogger(l log.Interface) Option {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a Reconciler with the default phrase table.
func NewReconciler(opts ...Option) *Reconciler {
	r := &Reconciler{
		phrases: DefaultPhrases,
		buffer:  64,
		logger:  log.Log,
	}
	WithTokenNodes(DefaultTokenNodes...)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stream starts run and returns its caller events.
//
// The stream opens with InitialStatus and, unless ctx ends first, closes
// with exactly one done event, preceded by a single error event when the
// run failed. When the run streamed tokens and the final text extends
// them, the missing suffix is sent as one more token; when it streamed
// none, the final text is replayed one rune per token. If ctx ends the
// stream stops without done and the run is left to stop at its next node
// boundary.
func (r *Reconciler) Stream(ctx context.Context, run RunFunc) <-chan Event {
	out := make(chan Event, r.buffer)
	go r.reconcile(ctx, run, out)
	return out
}

type runOutcome struct {
	text string
	err  error
}

type streamState struct {
	streamed    strings.Builder
	tokenEvents int
}

func (r *Reconciler) reconcile(ctx context.Context, run RunFunc, out chan<- Event) {
	defer close(out)

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(Event{Type: KindStatus, Content: InitialStatus}) {
		return
	}

	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()

	events := make(chan emit.Event, r.buffer)
	feed := emit.NewChanEmitter(feedCtx, events)
	outcomes := make(chan runOutcome, 1)

	go func() {
		text, err := run(ctx, feed)
		outcomes <- runOutcome{text: text, err: err}
	}()

	st := &streamState{}
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("caller disconnected, stream stopped")
			return

		case ev := <-events:
			if !r.forward(ev, st, send) {
				return
			}

		case res := <-outcomes:
			// Events emitted before run returned are already buffered.
			for drained := false; !drained; {
				select {
				case ev := <-events:
					if !r.forward(ev, st, send) {
						return
					}
				default:
					drained = true
				}
			}
			stopFeed()
			r.finish(ctx, res, st, send)
			return
		}
	}
}

// forward translates one run event. It reports false once the caller is
// gone.
func (r *Reconciler) forward(ev emit.Event, st *streamState, send func(Event) bool) bool {
	switch ev.Msg {
	case emit.MsgNodeStart:
		if phrase, ok := r.phrases[ev.NodeID]; ok {
			return send(Event{Type: KindStatus, Content: phrase})
		}

	case emit.MsgToolStart:
		name, _ := ev.Meta["tool"].(string)
		if name == "" {
			name = "unknown"
		}
		return send(Event{Type: KindStatus, Content: toolPhrase + name + "..."})

	case emit.MsgStatus:
		if ev.Text != "" {
			return send(Event{Type: KindStatus, Content: ev.Text})
		}

	case emit.MsgToken:
		if !r.tokenNodes[ev.NodeID] {
			return true
		}
		if ev.Text == "" {
			return true
		}
		st.streamed.WriteString(ev.Text)
		st.tokenEvents++
		return send(Event{Type: KindToken, Content: ev.Text})
	}
	return true
}

func (r *Reconciler) finish(ctx context.Context, res runOutcome, st *streamState, send func(Event) bool) {
	if res.err != nil {
		if ctx.Err() != nil {
			return
		}
		entry := r.logger.WithError(res.err)
		var ne *graph.NodeError
		if errors.As(res.err, &ne) && ne.Cause != nil {
			entry = entry.WithField("cause", ne.Cause.Error())
		}
		entry.Error("run failed")
		if send(Event{Type: KindError, Content: ErrorPrefix + userMessage(res.err)}) {
			send(Event{Type: KindDone})
		}
		return
	}

	streamed := st.streamed.String()
	switch {
	case st.tokenEvents > 0:
		if len(res.text) > len(streamed) && strings.HasPrefix(res.text, streamed) {
			suffix := res.text[len(streamed):]
			r.logger.WithField("length", len(suffix)).Info("sending final text suffix")
			if !send(Event{Type: KindToken, Content: suffix}) {
				return
			}
		}
	case res.text != "":
		for _, ch := range res.text {
			if !send(Event{Type: KindToken, Content: string(ch)}) {
				return
			}
		}
	}

	r.logger.WithField("tokens", st.tokenEvents).Debug("stream complete")
	send(Event{Type: KindDone})
}

// userMessage is the caller-facing text of a run error. For node failures
// it is the node's summary; the underlying cause stays in the logs.
func userMessage(err error) string {
	var ne *graph.NodeError
	if errors.As(err, &ne) {
		return ne.Message
	}
	var ee *graph.EngineError
	if errors.As(err, &ee) {
		return ee.Message
	}
	return err.Error()
}
