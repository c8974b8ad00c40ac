package graph

import (
	"context"
	"fmt"
	"time"
)

// getNodeTimeout returns the effective timeout for a node.
// The node policy wins over the engine default; zero means no timeout.
func getNodeTimeout(policy NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy.Timeout > 0 {
		return policy.Timeout
	}
	return defaultTimeout
}

// executeNodeWithTimeout runs a node, bounding it with a deadline when one
// is configured. A node that overruns its deadline still has its result
// returned, together with a NODE_TIMEOUT error.
func executeNodeWithTimeout[S, U any](
	ctx context.Context,
	node Node[S, U],
	nodeID string,
	state S,
	policy NodePolicy,
	defaultTimeout time.Duration,
) (NodeResult[U], error) {
	timeout := getNodeTimeout(policy, defaultTimeout)
	if timeout == 0 {
		return node.Run(ctx, state), nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := node.Run(timeoutCtx, state)

	if timeoutCtx.Err() == context.DeadlineExceeded {
		return result, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			Code:    "NODE_TIMEOUT",
		}
	}

	return result, nil
}
