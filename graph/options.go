package graph

import (
	"time"

	"golang.org/x/time/rate"
)

// Strategy is the closed set of execution strategies (§4.3).
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyHybrid     Strategy = "hybrid"
	StrategyAdaptive   Strategy = "adaptive"
)

// ErrorHandling selects fail-fast vs continue-on-failure semantics (§4.3).
type ErrorHandling string

const (
	ErrorHandlingFailFast ErrorHandling = "fail_fast"
	ErrorHandlingContinue ErrorHandling = "continue"
)

// OptimizationConfig carries no-op-by-default scheduling hints (§4.3): an
// implementation may use them, but is never required to.
type OptimizationConfig struct {
	Enabled    bool
	Strategies []string
	Threshold  float64
	Adaptive   bool
}

// Options configures one Executor. Build it with the functional With*
// constructors rather than populating the struct directly, matching the
// engine-wide configuration convention used across this runtime.
type Options struct {
	Strategy       Strategy
	MaxConcurrency int
	Timeout        time.Duration
	ErrorHandling  ErrorHandling
	Retry          RetryPolicy
	Checkpointing  CheckpointingConfig
	Optimization   OptimizationConfig
	RateLimiter    *rate.Limiter
	Metrics        *RuntimeMetrics
	Emitter        EventEmitter
	Backend        StateBackend
	AgentLookup    AgentLookup
	ToolInvoker    ToolInvoker
}

// Option mutates an Options being built; With* constructors return one.
type Option func(*Options) error

// defaultOptions mirrors the spec's stated defaults: parallel strategy,
// concurrency 4, no overall timeout, fail_fast error handling.
func defaultOptions() Options {
	return Options{
		Strategy:       StrategyParallel,
		MaxConcurrency: 4,
		ErrorHandling:  ErrorHandlingFailFast,
		Retry: RetryPolicy{
			MaxAttempts:     1,
			BackoffStrategy: BackoffFixed,
			InitialDelay:    0,
		},
		Checkpointing: CheckpointingConfig{Retention: 10},
	}
}

// NewOptions applies opts over the defaults, validating as it goes.
func NewOptions(opts ...Option) (Options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return Options{}, err
		}
	}
	if o.MaxConcurrency <= 0 {
		return Options{}, NewError(ErrStateInconsistent, "maxConcurrency must be > 0", ErrorContext{})
	}
	switch o.Strategy {
	case StrategySequential, StrategyParallel, StrategyHybrid, StrategyAdaptive:
	default:
		return Options{}, NewError(ErrStateInconsistent, "unknown strategy", ErrorContext{AdditionalInfo: map[string]any{"strategy": o.Strategy}})
	}
	return o, nil
}

// WithStrategy sets the execution strategy.
func WithStrategy(s Strategy) Option {
	return func(o *Options) error { o.Strategy = s; return nil }
}

// WithMaxConcurrency sets the resource pool size.
func WithMaxConcurrency(n int) Option {
	return func(o *Options) error { o.MaxConcurrency = n; return nil }
}

// WithTimeout sets the overall wall-clock execution timeout (0 disables it).
func WithTimeout(d time.Duration) Option {
	return func(o *Options) error { o.Timeout = d; return nil }
}

// WithErrorHandling sets fail_fast vs continue semantics.
func WithErrorHandling(eh ErrorHandling) Option {
	return func(o *Options) error { o.ErrorHandling = eh; return nil }
}

// WithRetry sets the default per-node retry policy (overridable per-node via
// Node.RetryPolicy).
func WithRetry(rp RetryPolicy) Option {
	return func(o *Options) error { o.Retry = rp; return nil }
}

// WithCheckpointing sets the checkpointing config.
func WithCheckpointing(cfg CheckpointingConfig) Option {
	return func(o *Options) error { o.Checkpointing = cfg; return nil }
}

// WithOptimization sets the optimization hints (no-op by default).
func WithOptimization(cfg OptimizationConfig) Option {
	return func(o *Options) error { o.Optimization = cfg; return nil }
}

// WithRateLimiter attaches an optional throughput cap to the resource pool.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(o *Options) error { o.RateLimiter = l; return nil }
}

// WithMetrics attaches a Prometheus-backed RuntimeMetrics sink.
func WithMetrics(m *RuntimeMetrics) Option {
	return func(o *Options) error { o.Metrics = m; return nil }
}

// WithEmitter attaches the event.Emitter driving ExecutionStep streaming.
func WithEmitter(e EventEmitter) Option {
	return func(o *Options) error { o.Emitter = e; return nil }
}

// WithBackend attaches a pluggable StateBackend (in-memory is used when
// omitted).
func WithBackend(b StateBackend) Option {
	return func(o *Options) error { o.Backend = b; return nil }
}

// WithAgentLookup attaches the `context.agents` capability.
func WithAgentLookup(a AgentLookup) Option {
	return func(o *Options) error { o.AgentLookup = a; return nil }
}

// WithToolInvoker attaches the `context.tools` capability.
func WithToolInvoker(t ToolInvoker) Option {
	return func(o *Options) error { o.ToolInvoker = t; return nil }
}
