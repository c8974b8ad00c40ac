package graph

import "time"

// NodePolicy configures execution behavior for a specific node.
//
// Policies are attached with Engine.SetPolicy. A node without a policy uses
// the engine defaults: no timeout beyond Options.DefaultNodeTimeout, and any
// node error ends the run in the Failed terminal.
type NodePolicy struct {
	// Timeout is the maximum execution time allowed for this node.
	// If zero, Options.DefaultNodeTimeout is used.
	Timeout time.Duration

	// DegradeTolerant marks an optional enrichment stage. When such a node
	// reports an error, its update is still merged and routing continues
	// along its outgoing edges instead of failing the run.
	DegradeTolerant bool
}
