// Package graph provides the workflow execution engine: nodes, conditional
// edges, partial-update merging and degrade-aware routing.
package graph

// Terminal labels. An edge pointing at Done ends the run successfully.
// Failed is reached implicitly when a node that is not degrade-tolerant
// reports an error.
const (
	Done   = "__done__"
	Failed = "__failed__"
)

// Edge represents a transition between two nodes in the workflow graph.
//
// Edges can be:
//   - Unconditional: always traverse (When = nil)
//   - Conditional: only traverse if When(state) returns true
//
// Edges leaving the same node are evaluated in registration order and the
// first match wins, so every node resolves to exactly one next label.
//
// Type parameter S is the state type used for predicate evaluation.
type Edge[S any] struct {
	// From is the source node ID.
	From string

	// To is the destination node ID or the Done terminal.
	To string

	// When is an optional predicate evaluated against the merged state.
	When Predicate[S]
}

// Predicate evaluates state to decide whether an edge is taken.
//
// Predicates must be pure: the same state always yields the same answer.
// That keeps node order deterministic given identical external responses.
type Predicate[S any] func(state S) bool

// Always is the unconditional predicate. It reads better than nil in
// routing tables that mix conditional and unconditional edges.
func Always[S any](S) bool { return true }
