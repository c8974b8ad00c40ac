package graph

import (
	"time"

	"github.com/apex/log"
)

// Options configures Engine execution behavior.
//
// Zero values are valid: no step limit, no node timeout, no metrics and the
// package-level apex logger.
type Options struct {
	// MaxSteps limits the number of node executions in one run.
	// The workflow graph is acyclic, so the limit only guards against
	// misconfigured routing tables. Zero disables the check.
	MaxSteps int

	// DefaultNodeTimeout bounds nodes whose policy sets no timeout.
	// Zero means nodes run until they return.
	DefaultNodeTimeout time.Duration

	// Metrics receives step latency, routing and degrade counters.
	Metrics *PrometheusMetrics

	// Logger receives structured engine logs.
	Logger log.Interface
}

// Option is a functional option for configuring the Engine.
//
// Example:
//
//	engine, err := graph.New(reduce, emitter,
//	    graph.WithMaxSteps(32),
//	    graph.WithMetrics(metrics),
//	)
type Option func(*engineConfig) error

// engineConfig accumulates options before they are applied to the Engine.
type engineConfig struct {
	opts Options
}

// WithMaxSteps limits workflow execution to n node executions.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "max steps cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the timeout applied to nodes without their own.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &EngineError{Message: "node timeout cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.DefaultNodeTimeout = d
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}

// WithLogger sets the structured logger used by the engine.
func WithLogger(logger log.Interface) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Logger = logger
		return nil
	}
}
