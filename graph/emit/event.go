// Package emit provides the typed event channel between workflow nodes, the
// engine, and whatever observes a run: the stream reconciler, logs, traces.
package emit

// Event is one observable occurrence during a workflow run.
//
// Engine lifecycle events (node start/end/error, routing) and node side
// effects (status text, tool starts, token text) share this shape so that a
// single ordered feed carries everything a consumer needs.
type Event struct {
	// RunID identifies the workflow execution that emitted this event.
	RunID string `json:"runID"`

	// Step is the sequential node execution number (1-indexed).
	// Zero for run-level events.
	Step int `json:"step"`

	// NodeID identifies which node emitted this event.
	// Empty for run-level events.
	NodeID string `json:"nodeID"`

	// Msg is the event kind. See the Msg* constants.
	Msg string `json:"msg"`

	// Text carries the payload of status and token events.
	Text string `json:"text,omitempty"`

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": execution duration in milliseconds
	//   - "error": error details
	//   - "status": node outcome (success, error, timeout, invalid)
	//   - "to": routing destination
	//   - "tool": external collaborator name
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// Event kinds.
const (
	MsgRunStart     = "run_start"
	MsgRunEnd       = "run_end"
	MsgRunCancelled = "run_cancelled"
	MsgNodeStart    = "node_start"
	MsgNodeEnd      = "node_end"
	MsgNodeError    = "node_error"
	MsgNodeDegraded = "node_degraded"
	MsgRoute        = "route"
	MsgToolStart    = "tool_start"
	MsgStatus       = "status"
	MsgToken        = "token"
)
