package graph

import (
	"fmt"

	"github.com/dshills/agentgraph/state"
)

// StateGraph is the mutable builder form of a graph: a set of nodes and the
// edges between them, plus the state strategy table every execution is
// created with. Compile validates and freezes a StateGraph into a
// CompiledGraph; the StateGraph itself is never executed directly.
type StateGraph struct {
	Name       string
	Strategies map[string]state.Strategy

	nodes map[string]*Node
	edges map[string]*Edge
}

// NewStateGraph creates an empty builder named name, whose executions manage
// state under the given per-key reduction strategies.
func NewStateGraph(name string, strategies map[string]state.Strategy) *StateGraph {
	return &StateGraph{
		Name:       name,
		Strategies: strategies,
		nodes:      make(map[string]*Node),
		edges:      make(map[string]*Edge),
	}
}

// AddNode registers a leaf node backed by factory. It returns g so calls can
// be chained.
func (g *StateGraph) AddNode(id string, factory ActionFactory) *StateGraph {
	g.nodes[id] = &Node{ID: id, Factory: factory}
	return g
}

// AddSubGraphNode registers a node whose body is another StateGraph; Compile
// flattens it into the surrounding graph, prefixing its internal node ids
// with "id." to keep them globally unique (§4.D).
func (g *StateGraph) AddSubGraphNode(id string, sub *StateGraph) *StateGraph {
	g.nodes[id] = &Node{ID: id, SubGraph: sub}
	return g
}

// AddEdge wires from to one or more targets. Passing a single unconditional
// Target models a plain transition; passing several unconditional Targets
// models parallel fan-out; a single conditional Target models a branch.
// Calling AddEdge again for the same from replaces its prior edge.
func (g *StateGraph) AddEdge(from string, targets ...Target) *StateGraph {
	g.edges[from] = &Edge{From: from, Targets: targets}
	return g
}

// SetEntry wires START to id, the graph's single entry point.
func (g *StateGraph) SetEntry(id string) *StateGraph {
	return g.AddEdge(START, To(id))
}

// Node looks up a registered node by id.
func (g *StateGraph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Edge looks up the outbound edge for a node id.
func (g *StateGraph) Edge(id string) (*Edge, bool) {
	e, ok := g.edges[id]
	return e, ok
}

// validate checks the invariants from §3: every non-END node referenced by
// an edge target exists (or is END itself), and every non-END node has
// exactly one outbound edge; START has exactly one outbound edge.
func (g *StateGraph) validate() error {
	entry, ok := g.edges[START]
	if !ok || len(entry.Targets) != 1 {
		return &GraphError{Code: CodeMissingEdge, Message: "START must have exactly one outbound edge", Cause: ErrMissingEdge}
	}

	for id := range g.nodes {
		if id == END {
			continue
		}
		e, ok := g.edges[id]
		if !ok || len(e.Targets) == 0 {
			return &GraphError{Code: CodeMissingEdge, Message: fmt.Sprintf("node %q has no outbound edge", id), NodeID: id, Cause: ErrMissingEdge}
		}
	}

	for from, e := range g.edges {
		for _, t := range e.Targets {
			if t.Conditional() {
				for _, dst := range t.Mapping {
					if err := g.requireTarget(from, dst); err != nil {
						return err
					}
				}
				continue
			}
			if err := g.requireTarget(from, t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *StateGraph) requireTarget(from, id string) error {
	if id == END {
		return nil
	}
	if _, ok := g.nodes[id]; !ok {
		return &GraphError{Code: CodeMissingNode, Message: fmt.Sprintf("edge from %q targets unknown node %q", from, id), NodeID: from, Cause: ErrMissingEdge}
	}
	return nil
}
