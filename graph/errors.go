// Package graph provides the core workflow DAG execution engine.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorKind identifies a closed taxonomy of failure categories. Every error
// the runtime raises belongs to exactly one kind.
type ErrorKind string

const (
	// ErrValidationFailed indicates the graph is structurally or semantically
	// invalid (cycles, missing endpoints, missing required config).
	ErrValidationFailed ErrorKind = "VALIDATION_FAILED"

	// ErrInitializationFailed indicates pre-execution setup failed.
	ErrInitializationFailed ErrorKind = "INITIALIZATION_FAILED"

	// ErrNodeExecutionFailed indicates a handler threw or returned an error.
	ErrNodeExecutionFailed ErrorKind = "NODE_EXECUTION_FAILED"

	// ErrTimeout indicates the overall execution timeout triggered.
	ErrTimeout ErrorKind = "TIMEOUT"

	// ErrCancelled indicates external or timeout-driven cancellation.
	ErrCancelled ErrorKind = "CANCELLED"

	// ErrResourceExceeded indicates a pool or quota limit was crossed.
	ErrResourceExceeded ErrorKind = "RESOURCE_EXCEEDED"

	// ErrMultipleNodeFailures aggregates two or more failures under continue mode.
	ErrMultipleNodeFailures ErrorKind = "MULTIPLE_NODE_FAILURES"

	// ErrStateInconsistent indicates a state transition would violate an
	// invariant, or an unknown execution/checkpoint id was referenced.
	ErrStateInconsistent ErrorKind = "STATE_INCONSISTENT"

	// ErrEdgeTraversalFailed indicates edge condition/transform evaluation failed.
	ErrEdgeTraversalFailed ErrorKind = "EDGE_TRAVERSAL_FAILED"

	// ErrConfigurationInvalid indicates assembly-time misuse (duplicate ids,
	// dangling endpoints).
	ErrConfigurationInvalid ErrorKind = "CONFIGURATION_INVALID"
)

// Severity classifies how serious an error is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ErrorContext carries structured diagnostic data attached to a WorkflowError.
// AdditionalInfo is sanitized on export: keys whose name contains "secret",
// "credential", or "token" are stripped.
type ErrorContext struct {
	ExecutionID    string
	GraphID        string
	NodeID         string
	NodeKind       NodeKind
	EdgeID         string
	ExecutionState string
	NodeCount      int
	CompletedNodes int
	FailedNodes    int
	RetryCount     int
	MaxRetries     int
	AdditionalInfo map[string]any
}

// RecoveryStrategy names an advisory recovery action attached to an error.
type RecoveryStrategy string

const (
	RecoveryRetry      RecoveryStrategy = "retry"
	RecoverySkip       RecoveryStrategy = "skip"
	RecoverySubstitute RecoveryStrategy = "substitute"
	RecoveryCompensate RecoveryStrategy = "compensate"
	RecoveryRollback   RecoveryStrategy = "rollback"
)

// RecoverySuggestion is one advisory recommendation with a confidence score
// in [0,1]. Suggestions are sorted by descending confidence.
type RecoverySuggestion struct {
	Strategy   RecoveryStrategy
	Confidence float64
	Reason     string
}

// WorkflowError is the single error type used across the runtime. It carries
// a closed Kind, Severity, Retryable flag, and structured Context.
type WorkflowError struct {
	Kind       ErrorKind
	Message    string
	Severity   Severity
	Retryable  bool
	Context    ErrorContext
	Cause      error
	StackTrace string
	Suggested  []RecoverySuggestion
}

// maxStackTraceLen truncates exported stack traces past this length.
const maxStackTraceLen = 1000

func (e *WorkflowError) Error() string {
	if e.Context.NodeID != "" {
		return fmt.Sprintf("%s: %s (node=%s)", e.Kind, e.Message, e.Context.NodeID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As chains.
func (e *WorkflowError) Unwrap() error { return e.Cause }

// NewError constructs a WorkflowError with sensible defaults for its kind and
// computes recovery suggestions.
func NewError(kind ErrorKind, message string, ctx ErrorContext) *WorkflowError {
	e := &WorkflowError{
		Kind:     kind,
		Message:  message,
		Severity: defaultSeverity(kind),
		Context:  ctx,
	}
	e.Retryable = defaultRetryable(kind, ctx)
	e.Suggested = computeSuggestions(e)
	return e
}

// Wrap wraps a foreign error as NODE_EXECUTION_FAILED unless it is already a
// *WorkflowError, in which case it is returned unchanged (re-thrown as-is),
// matching spec.md's propagation policy.
func Wrap(err error, ctx ErrorContext) *WorkflowError {
	if err == nil {
		return nil
	}
	var we *WorkflowError
	if errors.As(err, &we) {
		return we
	}
	wrapped := NewError(ErrNodeExecutionFailed, err.Error(), ctx)
	wrapped.Cause = err
	return wrapped
}

func defaultSeverity(kind ErrorKind) Severity {
	switch kind {
	case ErrCancelled:
		return SeverityWarning
	case ErrValidationFailed, ErrConfigurationInvalid:
		return SeverityError
	case ErrMultipleNodeFailures:
		return SeverityCritical
	default:
		return SeverityError
	}
}

func defaultRetryable(kind ErrorKind, ctx ErrorContext) bool {
	switch kind {
	case ErrValidationFailed, ErrCancelled, ErrConfigurationInvalid:
		return false
	case ErrNodeExecutionFailed:
		return ctx.RetryCount < ctx.MaxRetries
	case ErrInitializationFailed, ErrTimeout, ErrResourceExceeded, ErrEdgeTraversalFailed:
		return true
	case ErrStateInconsistent:
		// Retryable iff a restorable checkpoint exists; callers that know a
		// checkpoint exists should override Retryable explicitly.
		return false
	case ErrMultipleNodeFailures:
		return false
	default:
		return false
	}
}

// computeSuggestions derives advisory recovery suggestions from the error
// kind, retry counts, and (when present) checkpoint availability, sorted by
// descending confidence.
func computeSuggestions(e *WorkflowError) []RecoverySuggestion {
	var out []RecoverySuggestion

	switch e.Kind {
	case ErrNodeExecutionFailed:
		if e.Context.RetryCount < e.Context.MaxRetries {
			out = append(out, RecoverySuggestion{
				Strategy:   RecoveryRetry,
				Confidence: 0.8 - 0.1*float64(e.Context.RetryCount),
				Reason:     "node has remaining retry attempts",
			})
		}
		out = append(out, RecoverySuggestion{
			Strategy:   RecoverySkip,
			Confidence: 0.4,
			Reason:     "descendants may tolerate a missing output under continue mode",
		})
	case ErrTimeout:
		out = append(out, RecoverySuggestion{Strategy: RecoveryRetry, Confidence: 0.6, Reason: "retry with a longer budget"})
	case ErrResourceExceeded:
		out = append(out, RecoverySuggestion{Strategy: RecoveryRetry, Confidence: 0.5, Reason: "retry after pool cleanup"})
	case ErrStateInconsistent:
		if hasCheckpoint, _ := e.Context.AdditionalInfo["hasCheckpoint"].(bool); hasCheckpoint {
			out = append(out, RecoverySuggestion{Strategy: RecoveryRollback, Confidence: 0.7, Reason: "restore from the most recent checkpoint"})
		}
	case ErrMultipleNodeFailures:
		out = append(out, RecoverySuggestion{Strategy: RecoveryCompensate, Confidence: 0.3, Reason: "compensate completed siblings before retrying"})
	case ErrEdgeTraversalFailed:
		out = append(out, RecoverySuggestion{Strategy: RecoverySubstitute, Confidence: 0.3, Reason: "substitute a default transform/condition result"})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// Sanitize returns a copy of the error with secrets/credentials/tokens
// stripped from Context.AdditionalInfo and the stack trace truncated to
// maxStackTraceLen characters, per spec.md §7.
func (e *WorkflowError) Sanitize() *WorkflowError {
	clone := *e
	if e.Context.AdditionalInfo != nil {
		sanitized := make(map[string]any, len(e.Context.AdditionalInfo))
		for k, v := range e.Context.AdditionalInfo {
			lk := strings.ToLower(k)
			if strings.Contains(lk, "secret") || strings.Contains(lk, "credential") || strings.Contains(lk, "token") {
				continue
			}
			sanitized[k] = v
		}
		clone.Context.AdditionalInfo = sanitized
	}
	if len(clone.StackTrace) > maxStackTraceLen {
		clone.StackTrace = clone.StackTrace[:maxStackTraceLen] + "...(truncated)"
	}
	return &clone
}

// MultipleNodeFailures aggregates the individual failures recorded under
// errorHandling=continue. The most severe error is surfaced first.
type MultipleNodeFailures struct {
	Failures   []*WorkflowError
	MostSevere *WorkflowError
}

// NewMultipleNodeFailures builds the aggregated MULTIPLE_NODE_FAILURES error.
// Retryable iff any child failure is retryable.
func NewMultipleNodeFailures(failures []*WorkflowError, ctx ErrorContext) *WorkflowError {
	severityRank := map[Severity]int{SeverityInfo: 0, SeverityWarning: 1, SeverityError: 2, SeverityCritical: 3}
	var mostSevere *WorkflowError
	anyRetryable := false
	for _, f := range failures {
		if mostSevere == nil || severityRank[f.Severity] > severityRank[mostSevere.Severity] {
			mostSevere = f
		}
		if f.Retryable {
			anyRetryable = true
		}
	}

	ctx.AdditionalInfo = map[string]any{
		"failures":   failures,
		"mostSevere": mostSevere,
	}

	e := NewError(ErrMultipleNodeFailures, fmt.Sprintf("%d node(s) failed", len(failures)), ctx)
	e.Retryable = anyRetryable
	return e
}

// stackTraceNow is a hook point the executor uses to attach a lightweight
// call-site note; the runtime does not capture full stack traces (no
// third-party tracer dependency used for this), only a short marker with
// enough context to locate the failure.
func stackTraceNow(note string) string {
	return fmt.Sprintf("%s at %s", note, time.Now().UTC().Format(time.RFC3339Nano))
}
