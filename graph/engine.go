package graph

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/xiaomayi-ant/insight-agent/graph/emit"
)

// Engine executes a workflow graph one node at a time.
//
// The Engine:
//   - Holds the nodes, their policies and the routing table (edges)
//   - Runs nodes strictly in sequence; no two nodes of a run overlap
//   - Validates and merges each node's partial update via the reducer
//   - Evaluates outgoing edges after every node, first match wins
//   - Sends the run to Failed when a node errors, unless the node is
//     degrade-tolerant
//   - Checks for cancellation at node boundaries only
//   - Emits lifecycle events and records metrics
//
// Type parameters:
//   - S: workflow state
//   - U: partial update returned by nodes
//
// Example:
//
//	engine, err := graph.New(workflow.Reduce, emitter, graph.WithMaxSteps(16))
//	engine.Add("classify", classify)
//	engine.Add("answer", answer)
//	engine.StartAt("classify")
//	engine.Connect("classify", "answer", nil)
//	engine.Connect("answer", graph.Done, nil)
//
//	final, err := engine.Run(ctx, "run-001", initial)
type Engine[S, U any] struct {
	mu sync.RWMutex

	// reducer merges partial state updates deterministically
	reducer Reducer[S, U]

	// nodes maps node IDs to Node implementations
	nodes map[string]Node[S, U]

	// policies holds per-node execution policies
	policies map[string]NodePolicy

	// edges defines conditional transitions, in registration order
	edges []Edge[S]

	// startNode is the entry point for workflow execution
	startNode string

	// emitter receives lifecycle and node events
	emitter emit.Emitter

	opts Options
}

// New creates an Engine.
//
// Parameters:
//   - reducer: merges partial updates into state (required)
//   - emitter: receives events (nil means discard)
//   - opts: functional options (WithMaxSteps, WithMetrics, ...)
//
// Returns an error if an option is invalid or the reducer is nil.
func New[S, U any](reducer Reducer[S, U], emitter emit.Emitter, opts ...Option) (*Engine[S, U], error) {
	if reducer == nil {
		return nil, &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}

	cfg := &engineConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.opts.Logger == nil {
		cfg.opts.Logger = log.Log
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	return &Engine[S, U]{
		reducer:  reducer,
		nodes:    make(map[string]Node[S, U]),
		policies: make(map[string]NodePolicy),
		emitter:  emitter,
		opts:     cfg.opts,
	}, nil
}

// Add registers a node in the workflow graph.
//
// Returns error if:
//   - nodeID is empty or collides with a terminal label
//   - node is nil
//   - a node with this ID already exists
func (e *Engine[S, U]) Add(nodeID string, node Node[S, U]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if nodeID == Done || nodeID == Failed {
		return &EngineError{Message: "node ID is reserved: " + nodeID, Code: "RESERVED_NODE"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{
			Message: "duplicate node ID: " + nodeID,
			Code:    "DUPLICATE_NODE",
		}
	}

	e.nodes[nodeID] = node
	return nil
}

// SetPolicy attaches an execution policy to a registered node.
func (e *Engine[S, U]) SetPolicy(nodeID string, policy NodePolicy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "cannot set policy, node does not exist: " + nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}
	e.policies[nodeID] = policy
	return nil
}

// StartAt sets the entry point for workflow execution.
// The node must have been registered via Add.
func (e *Engine[S, U]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}

	e.startNode = nodeID
	return nil
}

// Connect adds an edge to the routing table.
//
// Edges from the same node are evaluated in the order they were connected;
// the first whose predicate holds is taken. A nil predicate always holds.
// The destination may be a node ID or Done; it is checked at Run time so
// edges can be declared before their target nodes.
func (e *Engine[S, U]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}
	if to == Failed {
		return &EngineError{
			Message: "Failed is reached through node errors, not edges",
			Code:    "RESERVED_NODE",
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// Run executes the workflow from the start node until a terminal.
//
// Returns the final state together with:
//   - nil when the run reached Done
//   - a *NodeError when a node that is not degrade-tolerant failed (Failed)
//   - ctx.Err() when the context was cancelled between nodes
//   - an *EngineError on routing or configuration problems
//
// The state is returned in every case so callers can inspect how far the
// run got. Each node runs on a context that keeps ctx's values but not its
// cancellation: an in-flight external call is allowed to finish and the
// run stops at the next node boundary.
func (e *Engine[S, U]) Run(ctx context.Context, runID string, initial S) (S, error) {
	e.mu.RLock()
	startNode := e.startNode
	e.mu.RUnlock()

	if startNode == "" {
		return initial, &EngineError{
			Message: "start node not set (call StartAt before Run)",
			Code:    "NO_START_NODE",
		}
	}

	metrics := e.opts.Metrics
	logger := e.opts.Logger.WithField("run_id", runID)

	metrics.AddInflight(1)
	defer metrics.AddInflight(-1)

	runStart := time.Now()
	e.emitter.Emit(emit.Event{RunID: runID, Msg: emit.MsgRunStart})

	state := initial
	current := startNode

	finish := func(outcome string, err error) (S, error) {
		msg := emit.MsgRunEnd
		if outcome == "cancelled" {
			msg = emit.MsgRunCancelled
		}
		e.emitter.Emit(emit.Event{
			RunID: runID,
			Msg:   msg,
			Meta: map[string]interface{}{
				"outcome":     outcome,
				"duration_ms": time.Since(runStart).Milliseconds(),
			},
		})
		metrics.RecordRun(outcome)
		return state, err
	}

	for step := 1; ; step++ {
		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return finish("error", &EngineError{
				Message: ErrMaxStepsExceeded.Error(),
				Code:    "MAX_STEPS_EXCEEDED",
			})
		}

		if err := ctx.Err(); err != nil {
			logger.WithField("next_node", current).Info("run cancelled at node boundary")
			return finish("cancelled", err)
		}

		e.mu.RLock()
		node, exists := e.nodes[current]
		policy := e.policies[current]
		e.mu.RUnlock()

		if !exists {
			return finish("error", &EngineError{
				Message: "node not found during execution: " + current,
				Code:    "NODE_NOT_FOUND",
			})
		}

		nodeEmitter := emit.Scope(e.emitter, runID, step, current)
		nodeCtx := emit.NewContext(context.WithoutCancel(ctx), nodeEmitter)

		nodeEmitter.Emit(emit.Event{Msg: emit.MsgNodeStart})
		started := time.Now()

		result, timeoutErr := executeNodeWithTimeout(nodeCtx, node, current, state, policy, e.opts.DefaultNodeTimeout)
		elapsed := time.Since(started)

		nodeErr := result.Err
		status := "success"
		switch {
		case timeoutErr != nil:
			status = "timeout"
			if nodeErr == nil {
				nodeErr = timeoutErr
			}
		case nodeErr != nil:
			status = "error"
		}

		if v, ok := any(result.Delta).(Validator); ok {
			if err := v.Validate(); err != nil {
				status = "invalid"
				nodeErr = &NodeError{
					Message: "invalid update: " + err.Error(),
					Code:    "INVALID_DELTA",
					NodeID:  current,
					Cause:   err,
				}
				policy.DegradeTolerant = false
			}
		}

		if status != "invalid" {
			state = e.reducer(state, result.Delta)
		}

		metrics.RecordStepLatency(current, elapsed, status)
		nodeEmitter.Emit(emit.Event{
			Msg: emit.MsgNodeEnd,
			Meta: map[string]interface{}{
				"status":      status,
				"duration_ms": elapsed.Milliseconds(),
			},
		})

		nodeLog := logger.WithFields(log.Fields{
			"node_id":    current,
			"step":       step,
			"elapsed_ms": elapsed.Milliseconds(),
		})

		if nodeErr != nil {
			if policy.DegradeTolerant {
				nodeLog.WithError(nodeErr).Warn("degrade-tolerant node failed, continuing")
				metrics.IncrementDegraded(current)
				nodeEmitter.Emit(emit.Event{
					Msg:  emit.MsgNodeDegraded,
					Meta: map[string]interface{}{"error": nodeErr.Error()},
				})
			} else {
				failure := asNodeError(current, nodeErr)
				nodeLog.WithError(failure).Error("node failed")
				nodeEmitter.Emit(emit.Event{
					Msg:  emit.MsgNodeError,
					Meta: map[string]interface{}{"error": failure.Message, "code": failure.Code},
				})
				metrics.RecordRoute(current, Failed)
				return finish("failed", failure)
			}
		} else {
			nodeLog.Debug("node completed")
		}

		next := e.evaluateEdges(current, state)
		if next == "" {
			return finish("error", &EngineError{
				Message: "no valid route from node: " + current,
				Code:    "NO_ROUTE",
			})
		}

		metrics.RecordRoute(current, next)
		nodeEmitter.Emit(emit.Event{Msg: emit.MsgRoute, Meta: map[string]interface{}{"to": next}})
		nodeLog.WithField("to", next).Debug("route selected")

		if next == Done {
			return finish("done", nil)
		}
		current = next
	}
}

// evaluateEdges returns the destination of the first edge leaving fromNode
// whose predicate holds, or "" when none does.
func (e *Engine[S, U]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}

	return ""
}

// asNodeError normalizes any node failure into a *NodeError tagged with
// the failing node.
func asNodeError(nodeID string, err error) *NodeError {
	var ne *NodeError
	if errors.As(err, &ne) {
		if ne.NodeID == "" {
			ne.NodeID = nodeID
		}
		if ne.Code == "" {
			ne.Code = "NODE_FAILED"
		}
		return ne
	}

	code := "NODE_FAILED"
	var ee *EngineError
	if errors.As(err, &ee) && ee.Code != "" {
		code = ee.Code
	}

	return &NodeError{
		Message: err.Error(),
		Code:    code,
		NodeID:  nodeID,
		Cause:   err,
	}
}
