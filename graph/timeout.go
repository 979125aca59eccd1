package graph

import (
	"context"
	"time"
)

// getNodeTimeout determines the timeout duration for a node based on
// precedence: per-node Node.Timeout override, then the executor-wide
// default, then 0 (unlimited).
func getNodeTimeout(node Node, defaultTimeout time.Duration) time.Duration {
	if node.Timeout > 0 {
		return node.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// dispatchFunc invokes a node handler and returns its output.
type dispatchFunc func(ctx context.Context) (any, error)

// runWithTimeout wraps a node dispatch with timeout enforcement per the
// precedence in getNodeTimeout, converting a deadline exceeded into a
// TIMEOUT WorkflowError.
func runWithTimeout(ctx context.Context, node Node, defaultTimeout time.Duration, dispatch dispatchFunc, errCtx ErrorContext) (any, error) {
	timeout := getNodeTimeout(node, defaultTimeout)
	if timeout == 0 {
		return dispatch(ctx)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := dispatch(timeoutCtx)
	if timeoutCtx.Err() == context.DeadlineExceeded {
		return output, NewError(ErrTimeout, "node exceeded timeout of "+timeout.String(), errCtx)
	}
	return output, err
}
