package graph

import "context"

// Node represents a processing step in the workflow graph.
//
// A node receives the current state of type S, performs its work (calling a
// model, a search backend, a database) and returns a partial update of type U.
// The engine merges the update into the running state with the configured
// reducer; nodes never mutate the state they receive.
//
// Nodes may also emit stream events (status text, token text, tool starts)
// through the emitter carried by ctx. See emit.Token and emit.ToolStart.
//
// Type parameters:
//   - S: the full workflow state
//   - U: the partial update a node returns
type Node[S, U any] interface {
	// Run executes the node's logic and returns its partial update.
	// A failing node sets Err and records the failure in its Delta.
	Run(ctx context.Context, state S) NodeResult[U]
}

// NodeResult is the output of one node execution.
type NodeResult[U any] struct {
	// Delta is the partial state update produced by this node.
	// It is validated (when U implements Validator) and then merged
	// with the current state using the engine's reducer.
	Delta U

	// Err is a node-level failure. It sends the run to the Failed terminal
	// unless the node's policy marks it degrade-tolerant.
	Err error
}

// Validator is implemented by update types that can check their own shape.
// The engine calls Validate on every Delta before merging it.
type Validator interface {
	Validate() error
}

// NodeFunc is a function adapter that implements the Node interface.
//
// Example:
//
//	classify := NodeFunc[State, Update](func(ctx context.Context, s State) NodeResult[Update] {
//	    intent := IntentSimpleChat
//	    return NodeResult[Update]{Delta: Update{Intent: &intent}}
//	})
type NodeFunc[S, U any] func(ctx context.Context, state S) NodeResult[U]

// Run implements the Node interface for NodeFunc.
func (f NodeFunc[S, U]) Run(ctx context.Context, state S) NodeResult[U] {
	return f(ctx, state)
}

// NodeError represents an error that occurred during node execution.
// It provides structured error information for observability and for the
// single summarized error message shown to callers.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error that caused this NodeError.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
