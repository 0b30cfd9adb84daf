package graph

import (
	"fmt"

	"github.com/dshills/agentgraph/checkpoint"
	"github.com/dshills/agentgraph/state"
)

// CompiledGraph is the frozen, validated result of Compile: per-node action
// factories, a canonicalized edge map, the state strategy table, and the
// validated interruption sets (§4.D). It is immutable and safe for
// concurrent use by many executions; the engine package drives it.
type CompiledGraph struct {
	name       string
	strategies map[string]state.Strategy
	factories  map[string]ActionFactory
	edges      map[string]*Edge

	interruptsBefore    map[string]bool
	interruptsAfter     map[string]bool
	interruptBeforeEdge bool

	checkpointSaver checkpoint.Store
	recursionLimit  int
}

func (c *CompiledGraph) Name() string                       { return c.name }
func (c *CompiledGraph) Strategies() map[string]state.Strategy { return c.strategies }
func (c *CompiledGraph) RecursionLimit() int                 { return c.recursionLimit }
func (c *CompiledGraph) CheckpointSaver() checkpoint.Store   { return c.checkpointSaver }
func (c *CompiledGraph) InterruptBeforeEdge() bool            { return c.interruptBeforeEdge }

// Factory returns the action factory for a node id, or (nil, false) if id
// does not name a real node (e.g. START, END, or unknown).
func (c *CompiledGraph) Factory(id string) (ActionFactory, bool) {
	f, ok := c.factories[id]
	return f, ok
}

// Edge returns the outbound edge for a node id.
func (c *CompiledGraph) Edge(id string) (*Edge, bool) {
	e, ok := c.edges[id]
	return e, ok
}

func (c *CompiledGraph) InterruptBefore(id string) bool { return c.interruptsBefore[id] }
func (c *CompiledGraph) InterruptAfter(id string) bool  { return c.interruptsAfter[id] }

// Compile validates g and freezes it into a CompiledGraph, applying the
// build order from §4.D: flatten sub-graphs, verify interrupt names resolve
// against the flattened node set, and synthesize or reject multi-target
// edges.
func Compile(g *StateGraph, cfg CompileConfig) (*CompiledGraph, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}

	nodes, edges, rename, err := flattenSubGraphs(g)
	if err != nil {
		return nil, err
	}

	interruptsBefore, err := resolveInterruptNames(cfg.InterruptsBefore, nodes, rename)
	if err != nil {
		return nil, err
	}
	interruptsAfter, err := resolveInterruptNames(cfg.InterruptsAfter, nodes, rename)
	if err != nil {
		return nil, err
	}

	if err := synthesizeParallelNodes(nodes, edges); err != nil {
		return nil, err
	}

	factories := make(map[string]ActionFactory, len(nodes))
	for id, n := range nodes {
		factories[id] = n.Factory
	}

	return &CompiledGraph{
		name:                g.Name,
		strategies:          cloneStrategies(g.Strategies),
		factories:           factories,
		edges:               edges,
		interruptsBefore:    interruptsBefore,
		interruptsAfter:     interruptsAfter,
		interruptBeforeEdge: cfg.InterruptBeforeEdge,
		checkpointSaver:     cfg.CheckpointSaver,
		recursionLimit:      cfg.recursionLimit(),
	}, nil
}

func cloneStrategies(in map[string]state.Strategy) map[string]state.Strategy {
	out := make(map[string]state.Strategy, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func resolveInterruptNames(names []string, nodes map[string]*Node, rename map[string]string) (map[string]bool, error) {
	out := make(map[string]bool, len(names))
	for _, name := range names {
		id := name
		if mapped, ok := rename[name]; ok {
			id = mapped
		}
		if _, ok := nodes[id]; !ok && id != END {
			return nil, &GraphError{
				Code:    CodeInterruptTargetMissing,
				Message: fmt.Sprintf("interrupt name %q does not resolve to a node", name),
				NodeID:  name,
				Cause:   ErrInterruptTargetMissing,
			}
		}
		out[id] = true
	}
	return out, nil
}

// flattenSubGraphs inlines every sub-graph node into the top-level node and
// edge maps, prefixing each inlined node id with "<subGraphNodeID>." to keep
// ids globally unique. It returns the flattened maps plus a rename table
// from original sub-graph-node id to the flattened id of its first real
// node, so interrupt names and external references can be rewritten too.
func flattenSubGraphs(g *StateGraph) (map[string]*Node, map[string]*Edge, map[string]string, error) {
	nodes := make(map[string]*Node, len(g.nodes))
	for id, n := range g.nodes {
		nodes[id] = n
	}
	edges := make(map[string]*Edge, len(g.edges))
	for id, e := range g.edges {
		targets := make([]Target, len(e.Targets))
		copy(targets, e.Targets)
		edges[id] = &Edge{From: id, Targets: targets}
	}

	rename := make(map[string]string)

	for {
		var subID string
		var subNode *Node
		for id, n := range nodes {
			if n.SubGraph != nil {
				subID, subNode = id, n
				break
			}
		}
		if subNode == nil {
			break
		}
		entryID, err := inlineSubGraph(subID, subNode, nodes, edges)
		if err != nil {
			return nil, nil, nil, err
		}
		rename[subID] = entryID
	}

	return nodes, edges, rename, nil
}

func inlineSubGraph(id string, node *Node, nodes map[string]*Node, edges map[string]*Edge) (string, error) {
	sub := node.SubGraph
	prefix := id + "."

	startEdge, ok := sub.edges[START]
	if !ok || len(startEdge.Targets) != 1 || startEdge.Targets[0].Conditional() {
		return "", &GraphError{Code: CodeMissingEdge, Message: "sub-graph START must have exactly one unconditional outbound edge", NodeID: id, Cause: ErrMissingEdge}
	}
	entryID := prefix + startEdge.Targets[0].ID

	outerEdge, ok := edges[id]
	if !ok {
		return "", &GraphError{Code: CodeMissingEdge, Message: fmt.Sprintf("sub-graph node %q has no outbound edge", id), NodeID: id, Cause: ErrMissingEdge}
	}
	delete(edges, id)
	delete(nodes, id)

	renamed := make(map[string]string, len(sub.nodes))
	for rawID, n := range sub.nodes {
		newID := prefix + rawID
		renamed[rawID] = newID
		nodes[newID] = &Node{ID: newID, Factory: n.Factory, SubGraph: n.SubGraph}
	}

	resolveDst := func(rawID string) (string, error) {
		switch {
		case rawID == END:
			if len(outerEdge.Targets) != 1 || outerEdge.Targets[0].Conditional() {
				return "", &GraphError{Code: CodeIllegalParallelBranching, Message: "sub-graph exit requires a single unconditional outer edge", NodeID: id, Cause: ErrIllegalParallelBranching}
			}
			return outerEdge.Targets[0].ID, nil
		case rawID == START:
			return entryID, nil
		default:
			if mapped, ok := renamed[rawID]; ok {
				return mapped, nil
			}
			return rawID, nil
		}
	}

	for rawFrom, e := range sub.edges {
		if rawFrom == START {
			continue
		}
		newFrom := renamed[rawFrom]
		newTargets := make([]Target, 0, len(e.Targets))
		for _, t := range e.Targets {
			if t.Conditional() {
				newMapping := make(map[string]string, len(t.Mapping))
				for label, dst := range t.Mapping {
					resolved, err := resolveDst(dst)
					if err != nil {
						return "", err
					}
					newMapping[label] = resolved
				}
				newTargets = append(newTargets, Target{Action: t.Action, Mapping: newMapping})
				continue
			}
			if t.ID == END {
				newTargets = append(newTargets, outerEdge.Targets...)
				continue
			}
			resolved, err := resolveDst(t.ID)
			if err != nil {
				return "", err
			}
			newTargets = append(newTargets, To(resolved))
		}
		edges[newFrom] = &Edge{From: newFrom, Targets: newTargets}
	}

	for _, e := range edges {
		for i, t := range e.Targets {
			if !t.Conditional() && t.ID == id {
				e.Targets[i] = To(entryID)
			} else if t.Conditional() {
				for label, dst := range t.Mapping {
					if dst == id {
						t.Mapping[label] = entryID
					}
				}
			}
		}
	}

	return entryID, nil
}

// synthesizeParallelNodes rewrites every multi-target edge into a single
// synthesized parallel node whose action runs the original targets
// concurrently and merges their deltas, per §4.D. A multi-target edge where
// any target is conditional is illegal. The branches' own outgoing edges
// must agree (fan back in to the same destination) since there is no other
// way to resume sequential execution after the parallel step.
func synthesizeParallelNodes(nodes map[string]*Node, edges map[string]*Edge) error {
	for from, e := range edges {
		if len(e.Targets) <= 1 {
			continue
		}
		for _, t := range e.Targets {
			if t.Conditional() {
				return &GraphError{
					Code:    CodeIllegalParallelBranching,
					Message: "conditional edges to multiple targets are not allowed",
					NodeID:  from,
					Cause:   ErrIllegalParallelBranching,
				}
			}
		}

		branchIDs := make([]string, len(e.Targets))
		for i, t := range e.Targets {
			branchIDs[i] = t.ID
		}

		var fanIn *Edge
		for _, branchID := range branchIDs {
			be, ok := edges[branchID]
			if !ok {
				return &GraphError{Code: CodeMissingEdge, Message: fmt.Sprintf("parallel branch %q has no outbound edge", branchID), NodeID: branchID, Cause: ErrMissingEdge}
			}
			if fanIn == nil {
				fanIn = be
			} else if !edgesEqual(fanIn, be) {
				return &GraphError{
					Code:    CodeIllegalParallelBranching,
					Message: "parallel branches must converge on the same downstream edge",
					NodeID:  from,
					Cause:   ErrIllegalParallelBranching,
				}
			}
		}

		paraID := from + ".__parallel__"
		nodes[paraID] = &Node{ID: paraID, Factory: parallelFactory(branchIDs, nodes)}
		edges[from] = &Edge{From: from, Targets: []Target{To(paraID)}}
		edges[paraID] = fanIn
	}
	return nil
}

func edgesEqual(a, b *Edge) bool {
	if len(a.Targets) != len(b.Targets) {
		return false
	}
	for i := range a.Targets {
		ta, tb := a.Targets[i], b.Targets[i]
		if ta.Conditional() != tb.Conditional() {
			return false
		}
		if !ta.Conditional() && ta.ID != tb.ID {
			return false
		}
	}
	return true
}
