package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollector_RecordTokenUsage_AccumulatesCost(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.RecordTokenUsage("gpt-4o", 1_000_000, 0)
	c.RecordTokenUsage("gpt-4o", 0, 1_000_000)

	got := c.TotalCostUSD()
	want := 2.50 + 10.00
	if got != want {
		t.Errorf("TotalCostUSD() = %v, want %v", got, want)
	}
	if byModel := c.CostByModel(); byModel["gpt-4o"] != want {
		t.Errorf("CostByModel()[gpt-4o] = %v, want %v", byModel["gpt-4o"], want)
	}
}

func TestCollector_RecordTokenUsage_UnknownModelIsZeroCost(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.RecordTokenUsage("mystery-model", 1000, 1000)
	if got := c.TotalCostUSD(); got != 0 {
		t.Errorf("TotalCostUSD() = %v, want 0", got)
	}
}

func TestCollector_NodeSpan_WithoutTracerIsNoop(t *testing.T) {
	c := New(prometheus.NewRegistry())
	ctx, stop := c.NodeSpan(context.Background(), "node-a")
	if ctx == nil {
		t.Fatal("NodeSpan() returned nil context")
	}
	stop("success", nil) // must not panic with no tracer configured
}

func TestCollector_IncrementsDoNotPanic(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.IncInterrupt("node-a", "interruptsBefore")
	c.IncCheckpointWrite("thread-1")
	c.IncToolCall("search", "success")
}
