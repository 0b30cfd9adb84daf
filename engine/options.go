package engine

import (
	"github.com/dshills/agentgraph/emit"
	"github.com/dshills/agentgraph/metrics"
)

// Option configures a Graph at construction time.
type Option func(*config)

type config struct {
	emitter emit.Emitter
	metrics *metrics.Collector
}

// WithEmitter stores an observability sink on the Graph. The interpreter
// does not call it: no node start/end, routing, interruption, or error
// event is sent to it. By default no emitter is configured.
func WithEmitter(emitter emit.Emitter) Option {
	return func(c *config) { c.emitter = emitter }
}

// WithMetrics attaches a Prometheus/OpenTelemetry collector: node latency
// and interrupts are recorded as the interpreter advances, and checkpoint
// writes are counted whenever one is persisted. By default no collector is
// configured and the engine records nothing.
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *config) { c.metrics = collector }
}
