// Package metrics provides production observability for a running graph
// (the ambient metrics stack): Prometheus counters/histograms for node
// latency, interrupts, checkpoint writes, and tool calls, plus OpenTelemetry
// tracing spans around node execution. Adapted from the teacher's
// graph/metrics.go (PrometheusMetrics) and graph/cost.go (CostTracker),
// generalized from that package's run-scoped gauges to a long-lived
// collector shared across runs and wired through engine.WithMetrics.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Collector aggregates Prometheus metrics and OpenTelemetry tracing for one
// agentgraph deployment. Unlike the teacher's per-run PrometheusMetrics, a
// Collector is created once and shared across every Graph.Invoke/Stream
// call; run identity is carried per call as a label rather than baked into
// the collector itself.
type Collector struct {
	tracer trace.Tracer

	nodeLatency    *prometheus.HistogramVec
	interrupts     *prometheus.CounterVec
	checkpoints    *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
	tokensTotal    *prometheus.CounterVec
	costTotalUSD   *prometheus.CounterVec

	cost *CostTracker
}

// Option configures a Collector at construction time.
type Option func(*Collector)

// WithTracer attaches an OpenTelemetry tracer that wraps node execution in
// spans (one per node, named by node id). Without this option, NodeSpan
// returns a no-op span.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Collector) { c.tracer = tracer }
}

// New creates a Collector and registers its Prometheus metrics with
// registry (pass nil for prometheus.DefaultRegisterer).
func New(registry prometheus.Registerer, opts ...Option) *Collector {
	factory := promauto.With(registry)

	c := &Collector{
		cost: NewCostTracker(),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "node_latency_ms",
			Help:      "Node action execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node_id", "status"}),
		interrupts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "interrupts_total",
			Help:      "Interruptions raised while advancing a graph",
		}, []string{"node_id", "reason"}),
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "checkpoint_writes_total",
			Help:      "Checkpoints persisted by the execution engine",
		}, []string{"thread_id"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "tool_calls_total",
			Help:      "Tool invocations dispatched by the tool node",
		}, []string{"tool", "status"}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "llm_tokens_total",
			Help:      "Cumulative LLM token usage",
		}, []string{"model", "direction"}), // direction: input, output
		costTotalUSD: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "llm_cost_usd_total",
			Help:      "Cumulative estimated LLM cost in USD",
		}, []string{"model"}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NodeSpan starts (if a tracer is configured) a span named nodeID and
// returns a context carrying it plus a stop function that records both the
// span's end and the node_latency_ms histogram observation. status is one
// of "success" or "error".
func (c *Collector) NodeSpan(ctx context.Context, nodeID string) (context.Context, func(status string, err error)) {
	start := time.Now()
	spanCtx := ctx
	var span trace.Span
	if c.tracer != nil {
		spanCtx, span = c.tracer.Start(ctx, nodeID, trace.WithAttributes(attribute.String("agentgraph.node_id", nodeID)))
	}
	return spanCtx, func(status string, err error) {
		c.nodeLatency.WithLabelValues(nodeID, status).Observe(float64(time.Since(start).Milliseconds()))
		if span == nil {
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// IncInterrupt records an interruption raised at nodeID for reason
// ("interruptsBefore", "interruptsAfter", or a hook-specific reason).
func (c *Collector) IncInterrupt(nodeID, reason string) {
	c.interrupts.WithLabelValues(nodeID, reason).Inc()
}

// IncCheckpointWrite records one checkpoint persisted for threadID.
func (c *Collector) IncCheckpointWrite(threadID string) {
	c.checkpoints.WithLabelValues(threadID).Inc()
}

// IncToolCall records one tool invocation's outcome ("success" or "error").
func (c *Collector) IncToolCall(tool, status string) {
	c.toolCalls.WithLabelValues(tool, status).Inc()
}

// RecordTokenUsage records a model call's token counts and, via the
// embedded CostTracker, its estimated USD cost.
func (c *Collector) RecordTokenUsage(model string, inputTokens, outputTokens int) {
	if model == "" {
		model = "unknown"
	}
	c.tokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	c.tokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	cost := c.cost.Record(model, inputTokens, outputTokens)
	c.costTotalUSD.WithLabelValues(model).Add(cost)
}

// TotalCostUSD returns the cumulative estimated cost across every
// RecordTokenUsage call.
func (c *Collector) TotalCostUSD() float64 { return c.cost.Total() }

// CostByModel returns a per-model breakdown of estimated cost.
func (c *Collector) CostByModel() map[string]float64 { return c.cost.ByModel() }
