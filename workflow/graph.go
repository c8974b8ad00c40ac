package workflow

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/xiaomayi-ant/insight-agent/graph"
	"github.com/xiaomayi-ant/insight-agent/graph/emit"
	"github.com/xiaomayi-ant/insight-agent/stream"
)

// Agent runs the insight workflow and streams its answer.
type Agent struct {
	engine     *graph.Engine[State, Update]
	feeds      *emit.RunDispatcher
	reconciler *stream.Reconciler
	newRunID   func() string
}

// AgentOption configures an Agent.
type AgentOption func(*agentConfig)

type agentConfig struct {
	emitters   []emit.Emitter
	metrics    *graph.PrometheusMetrics
	reconciler *stream.Reconciler
}

// WithEmitter adds an observer (logs, traces, history) to every run.
func WithEmitter(e emit.Emitter) AgentOption {
	return func(c *agentConfig) { c.emitters = append(c.emitters, e) }
}

// WithMetrics records engine metrics.
func WithMetrics(m *graph.PrometheusMetrics) AgentOption {
	return func(c *agentConfig) { c.metrics = m }
}

// WithReconciler replaces the default stream reconciler.
func WithReconciler(r *stream.Reconciler) AgentOption {
	return func(c *agentConfig) { c.reconciler = r }
}

// NewAgent builds the workflow graph.
func NewAgent(cfg Config, deps Deps, opts ...AgentOption) (*Agent, error) {
	if deps.Model == nil {
		return nil, errors.New("workflow: chat model is required")
	}
	if deps.Searcher == nil {
		return nil, errors.New("workflow: searcher is required")
	}
	if deps.Rows == nil {
		return nil, errors.New("workflow: row querier is required")
	}

	ac := &agentConfig{}
	for _, opt := range opts {
		opt(ac)
	}
	p := newPipeline(cfg, deps)
	if ac.reconciler == nil {
		ac.reconciler = stream.NewReconciler(stream.WithLogger(p.logger))
	}
	feeds := emit.NewRunDispatcher()
	emitter := emit.MultiEmitter(append([]emit.Emitter{feeds}, ac.emitters...))

	engineOpts := []graph.Option{graph.WithLogger(p.logger)}
	if cfg.MaxSteps > 0 {
		engineOpts = append(engineOpts, graph.WithMaxSteps(cfg.MaxSteps))
	}
	if ac.metrics != nil {
		engineOpts = append(engineOpts, graph.WithMetrics(ac.metrics))
	}

	engine, err := graph.New[State, Update](Reduce, emitter, engineOpts...)
	if err != nil {
		return nil, err
	}
	if err := buildGraph(engine, p); err != nil {
		return nil, err
	}

	return &Agent{
		engine:     engine,
		feeds:      feeds,
		reconciler: ac.reconciler,
		newRunID:   uuid.NewString,
	}, nil
}

type nodeFunc = graph.NodeFunc[State, Update]

// buildGraph registers the nodes and the routing table. Edges leaving
// the same node are tried in the order they are connected.
func buildGraph(e *graph.Engine[State, Update], p *pipeline) error {
	nodes := []struct {
		id string
		fn nodeFunc
	}{
		{NodeIntentClassify, p.classifyIntent},
		{NodeSearch, p.search},
		{NodeItemStructurize, p.structurize},
		{NodeJoin, p.join},
		{NodeAggregate, p.aggregate},
		{NodeAnalyze, p.analyze},
		{NodeSummarize, p.summarize},
		{NodeSimpleChat, p.simpleChat},
	}
	for _, n := range nodes {
		if err := e.Add(n.id, n.fn); err != nil {
			return err
		}
	}
	if err := e.SetPolicy(NodeItemStructurize, graph.NodePolicy{DegradeTolerant: true}); err != nil {
		return err
	}
	if err := e.StartAt(NodeIntentClassify); err != nil {
		return err
	}

	edges := []struct {
		from, to string
		when     graph.Predicate[State]
	}{
		{NodeIntentClassify, NodeSearch, isSearchIntent},
		{NodeIntentClassify, NodeSimpleChat, nil},
		{NodeSearch, graph.Done, noResult},
		{NodeSearch, NodeItemStructurize, nil},
		{NodeItemStructurize, NodeJoin, nil},
		{NodeJoin, NodeAggregate, hasUsableItems},
		{NodeJoin, NodeSummarize, nil},
		{NodeAggregate, NodeAnalyze, nil},
		{NodeAnalyze, NodeSummarize, nil},
		{NodeSummarize, graph.Done, nil},
		{NodeSimpleChat, graph.Done, nil},
	}
	for _, edge := range edges {
		if err := e.Connect(edge.from, edge.to, edge.when); err != nil {
			return err
		}
	}
	return nil
}

func isSearchIntent(s State) bool { return s.Intent == IntentVkdbSearch }

func noResult(s State) bool { return s.NoResult }

// hasUsableItems holds on the enriched path: structurization was not
// degraded and at least one item succeeded.
func hasUsableItems(s State) bool {
	if s.Degraded {
		return false
	}
	for _, item := range s.StructuredItems {
		if item.Succeeded {
			return true
		}
	}
	return false
}

// Execute runs the workflow to completion and returns the final state.
// Events go to the configured emitters only.
func (a *Agent) Execute(ctx context.Context, message, systemPrompt string) (State, error) {
	return a.engine.Run(ctx, a.newRunID(), NewState(message, systemPrompt))
}

// Run starts the workflow for message and streams the caller events.
// Cancelling ctx stops the stream; the run stops at its next node
// boundary.
func (a *Agent) Run(ctx context.Context, message, systemPrompt string) <-chan stream.Event {
	return a.RunWithID(ctx, a.newRunID(), message, systemPrompt)
}

// RunWithID is Run under a caller-chosen run ID, which tags every
// emitted event.
func (a *Agent) RunWithID(ctx context.Context, runID, message, systemPrompt string) <-chan stream.Event {
	return a.reconciler.Stream(ctx, func(ctx context.Context, feed emit.Emitter) (string, error) {
		unregister := a.feeds.Register(runID, feed)
		defer unregister()

		final, err := a.engine.Run(ctx, runID, NewState(message, systemPrompt))
		return final.FinalSummary, err
	})
}
