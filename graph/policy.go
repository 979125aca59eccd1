package graph

import "time"

// computeBackoff returns the delay to sleep before retry attempt n (1-based:
// n=1 is the delay before the second overall attempt), per the
// BackoffStrategy named in policy.
func computeBackoff(policy *RetryPolicy, attempt int) time.Duration {
	if policy == nil || attempt <= 0 {
		return 0
	}
	switch policy.BackoffStrategy {
	case BackoffExponential:
		delay := policy.InitialDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				delay = policy.MaxDelay
				break
			}
		}
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
		return delay
	case BackoffLinear:
		delay := policy.InitialDelay * time.Duration(attempt)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
		return delay
	case BackoffFixed:
		fallthrough
	default:
		return policy.InitialDelay
	}
}

// isRetryableError reports whether err's kind matches policy's allow-list.
// An empty RetryableErrors list means "use the error's own Retryable flag".
func isRetryableError(policy *RetryPolicy, err *WorkflowError) bool {
	if err == nil {
		return false
	}
	if policy == nil {
		return err.Retryable
	}
	if len(policy.RetryableErrors) == 0 {
		return err.Retryable
	}
	for _, k := range policy.RetryableErrors {
		if k == err.Kind {
			return true
		}
	}
	return false
}
