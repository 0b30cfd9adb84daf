package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/agentgraph/state"
)

func passthrough() Action {
	return func(ctx context.Context, st *state.State, cfg *RunnableConfig) (Result, error) {
		return Result{}, nil
	}
}

func newLinearGraph(t *testing.T) *StateGraph {
	t.Helper()
	g := NewStateGraph("linear", map[string]state.Strategy{"n": state.Replace})
	g.AddNode("a", func() Action { return passthrough() })
	g.AddNode("b", func() Action { return passthrough() })
	g.AddEdge("a", To("b"))
	g.AddEdge("b", To(END))
	g.SetEntry("a")
	return g
}

func TestCompile_LinearGraph(t *testing.T) {
	cg, err := Compile(newLinearGraph(t), CompileConfig{})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, ok := cg.Factory("a"); !ok {
		t.Error("Factory(\"a\") not found")
	}
	if _, ok := cg.Factory("b"); !ok {
		t.Error("Factory(\"b\") not found")
	}
	if cg.RecursionLimit() != defaultRecursionLimit {
		t.Errorf("RecursionLimit() = %d, want %d", cg.RecursionLimit(), defaultRecursionLimit)
	}
}

func TestCompile_MissingOutboundEdgeFails(t *testing.T) {
	g := NewStateGraph("broken", nil)
	g.AddNode("a", func() Action { return passthrough() })
	g.SetEntry("a")
	// "a" has no outbound edge of its own (only the START->a edge exists).

	_, err := Compile(g, CompileConfig{})
	var gerr *GraphError
	if !errors.As(err, &gerr) {
		t.Fatalf("Compile() error = %v, want *GraphError", err)
	}
	if gerr.Code != CodeMissingEdge {
		t.Errorf("Code = %v, want %v", gerr.Code, CodeMissingEdge)
	}
}

func TestCompile_EdgeToUnknownNodeFails(t *testing.T) {
	g := NewStateGraph("broken", nil)
	g.AddNode("a", func() Action { return passthrough() })
	g.AddEdge("a", To("ghost"))
	g.SetEntry("a")

	_, err := Compile(g, CompileConfig{})
	var gerr *GraphError
	if !errors.As(err, &gerr) {
		t.Fatalf("Compile() error = %v, want *GraphError", err)
	}
	if gerr.Code != CodeMissingNode {
		t.Errorf("Code = %v, want %v", gerr.Code, CodeMissingNode)
	}
}

func TestCompile_InterruptNameMustResolve(t *testing.T) {
	_, err := Compile(newLinearGraph(t), CompileConfig{InterruptsBefore: []string{"ghost"}})
	var gerr *GraphError
	if !errors.As(err, &gerr) {
		t.Fatalf("Compile() error = %v, want *GraphError", err)
	}
	if gerr.Code != CodeInterruptTargetMissing {
		t.Errorf("Code = %v, want %v", gerr.Code, CodeInterruptTargetMissing)
	}
}

func TestCompile_InterruptsResolveThroughSubGraphs(t *testing.T) {
	sub := NewStateGraph("sub", nil)
	sub.AddNode("inner", func() Action { return passthrough() })
	sub.AddEdge("inner", To(END))
	sub.SetEntry("inner")

	g := NewStateGraph("outer", nil)
	g.AddSubGraphNode("child", sub)
	g.AddEdge("child", To(END))
	g.SetEntry("child")

	cg, err := Compile(g, CompileConfig{InterruptsBefore: []string{"child"}})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !cg.InterruptBefore("child.inner") {
		t.Error("InterruptBefore(\"child.inner\") = false, want true (renamed from sub-graph entry)")
	}
}

func TestCompile_ParallelFanOutSynthesizesNode(t *testing.T) {
	g := NewStateGraph("fanout", map[string]state.Strategy{"x": state.Replace, "y": state.Replace})
	g.AddNode("start", func() Action { return passthrough() })
	g.AddNode("left", func() Action {
		return func(ctx context.Context, st *state.State, cfg *RunnableConfig) (Result, error) {
			return Result{Delta: Delta{"x": 1}}, nil
		}
	})
	g.AddNode("right", func() Action {
		return func(ctx context.Context, st *state.State, cfg *RunnableConfig) (Result, error) {
			return Result{Delta: Delta{"y": 2}}, nil
		}
	})
	g.AddEdge("start", To("left"), To("right"))
	g.AddEdge("left", To(END))
	g.AddEdge("right", To(END))
	g.SetEntry("start")

	cg, err := Compile(g, CompileConfig{})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	edge, ok := cg.Edge("start")
	if !ok || len(edge.Targets) != 1 {
		t.Fatalf("Edge(\"start\") = %+v, want single synthesized target", edge)
	}
	paraID := edge.Targets[0].ID
	factory, ok := cg.Factory(paraID)
	if !ok {
		t.Fatalf("Factory(%q) not found", paraID)
	}

	st, err := state.Create(cg.Strategies(), nil)
	if err != nil {
		t.Fatalf("state.Create() error = %v", err)
	}
	res, err := factory()(context.Background(), st, &RunnableConfig{})
	if err != nil {
		t.Fatalf("parallel action error = %v", err)
	}
	if res.Delta["x"] != 1 || res.Delta["y"] != 2 {
		t.Errorf("Delta = %+v, want x=1 y=2", res.Delta)
	}
}

func TestCompile_ParallelWithConditionalTargetFails(t *testing.T) {
	g := NewStateGraph("fanout", nil)
	g.AddNode("start", func() Action { return passthrough() })
	g.AddNode("left", func() Action { return passthrough() })
	g.AddEdge("start", To("left"), Branch(func(*state.State) (string, error) { return "x", nil }, map[string]string{"x": END}))
	g.AddEdge("left", To(END))
	g.SetEntry("start")

	_, err := Compile(g, CompileConfig{})
	var gerr *GraphError
	if !errors.As(err, &gerr) {
		t.Fatalf("Compile() error = %v, want *GraphError", err)
	}
	if gerr.Code != CodeIllegalParallelBranching {
		t.Errorf("Code = %v, want %v", gerr.Code, CodeIllegalParallelBranching)
	}
}

func TestTarget_ResolveConditional(t *testing.T) {
	target := Branch(func(*state.State) (string, error) { return "yes", nil }, map[string]string{"yes": "node-a", "no": "node-b"})
	st := state.New(nil)
	got, err := target.Resolve(st)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "node-a" {
		t.Errorf("Resolve() = %q, want %q", got, "node-a")
	}
}

func TestTarget_ResolveMissingMappingFails(t *testing.T) {
	target := Branch(func(*state.State) (string, error) { return "unknown", nil }, map[string]string{"yes": "node-a"})
	_, err := target.Resolve(state.New(nil))
	if !errors.Is(err, ErrMissingMapping) {
		t.Errorf("Resolve() error = %v, want ErrMissingMapping", err)
	}
}

func TestRecursionLimit_DefaultsWhenUnset(t *testing.T) {
	cfg := CompileConfig{}
	if got := cfg.recursionLimit(); got != defaultRecursionLimit {
		t.Errorf("recursionLimit() = %d, want %d", got, defaultRecursionLimit)
	}
	cfg.RecursionLimit = 5
	if got := cfg.recursionLimit(); got != 5 {
		t.Errorf("recursionLimit() = %d, want 5", got)
	}
}
