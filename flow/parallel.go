package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/state"
)

// Merge names how a Parallel composer's join node combines its sub-agents'
// individual outputs into one value under JoinKey (§4.J).
type Merge int

const (
	// MergeMap joins outputs into a map keyed by agent id.
	MergeMap Merge = iota
	// MergeList joins outputs into an ordered list, agent declaration order.
	MergeList
	// MergeConcat joins string outputs with Separator.
	MergeConcat
)

const fanoutNodeID = "__fanout__"
const joinNodeID = "__join__"

// ParallelConfig configures a Parallel flow composer.
type ParallelConfig struct {
	Name       string
	Strategies map[string]state.Strategy
	Agents     []Agent
	// OutputKeys maps each agent's ID to the state key holding its result.
	OutputKeys map[string]string
	Merge      Merge
	Separator  string
	JoinKey    string
}

// Parallel builds a fan-out to 2-10 sub-agents followed by a synthesized
// join that merges their outputs per the configured Merge strategy
// (§4.J). OutputKeys values must be unique.
func Parallel(cfg ParallelConfig) (*graph.StateGraph, error) {
	if len(cfg.Agents) < 2 || len(cfg.Agents) > 10 {
		return nil, fmt.Errorf("flow: parallel composer requires 2-10 agents, got %d", len(cfg.Agents))
	}
	if cfg.JoinKey == "" {
		return nil, fmt.Errorf("flow: parallel composer requires a JoinKey")
	}
	seen := make(map[string]bool, len(cfg.Agents))
	for _, a := range cfg.Agents {
		key, ok := cfg.OutputKeys[a.ID]
		if !ok || key == "" {
			return nil, fmt.Errorf("flow: agent %q has no OutputKey", a.ID)
		}
		if seen[key] {
			return nil, fmt.Errorf("flow: duplicate outputKey %q", key)
		}
		seen[key] = true
	}

	strategies := make(map[string]state.Strategy, len(cfg.Strategies)+1+len(cfg.OutputKeys))
	for k, v := range cfg.Strategies {
		strategies[k] = v
	}
	if _, ok := strategies[cfg.JoinKey]; !ok {
		strategies[cfg.JoinKey] = state.Replace
	}
	// Every agent's OutputKey must resolve against the flattened graph's
	// own strategy table (Compile only carries the top-level StateGraph's
	// Strategies), so a bare output key not already declared by the caller
	// defaults to Replace.
	for _, key := range cfg.OutputKeys {
		if _, ok := strategies[key]; !ok {
			strategies[key] = state.Replace
		}
	}

	g := graph.NewStateGraph(cfg.Name, strategies)
	g.AddNode(fanoutNodeID, passthroughFactory())
	g.AddNode(joinNodeID, joinFactory(cfg))
	for _, a := range cfg.Agents {
		g.AddSubGraphNode(a.ID, a.Graph)
		g.AddEdge(a.ID, graph.To(joinNodeID))
	}

	targets := make([]graph.Target, len(cfg.Agents))
	for i, a := range cfg.Agents {
		targets[i] = graph.To(a.ID)
	}
	g.AddEdge(fanoutNodeID, targets...)
	g.AddEdge(joinNodeID, graph.To(graph.END))
	g.SetEntry(fanoutNodeID)
	return g, nil
}

func passthroughFactory() graph.ActionFactory {
	return func() graph.Action {
		return func(ctx context.Context, st *state.State, rc *graph.RunnableConfig) (graph.Result, error) {
			return graph.Result{}, nil
		}
	}
}

func joinFactory(cfg ParallelConfig) graph.ActionFactory {
	ids := make([]string, len(cfg.Agents))
	for i, a := range cfg.Agents {
		ids[i] = a.ID
	}
	return func() graph.Action {
		return func(ctx context.Context, st *state.State, rc *graph.RunnableConfig) (graph.Result, error) {
			switch cfg.Merge {
			case MergeMap:
				out := make(map[string]any, len(ids))
				for _, id := range ids {
					v, _ := st.Get(cfg.OutputKeys[id])
					out[id] = v
				}
				return graph.Result{Delta: graph.Delta{cfg.JoinKey: out}}, nil
			case MergeList:
				out := make([]any, len(ids))
				for i, id := range ids {
					v, _ := st.Get(cfg.OutputKeys[id])
					out[i] = v
				}
				return graph.Result{Delta: graph.Delta{cfg.JoinKey: out}}, nil
			case MergeConcat:
				parts := make([]string, 0, len(ids))
				for _, id := range ids {
					v, ok := st.Get(cfg.OutputKeys[id])
					if !ok {
						continue
					}
					s, ok := v.(string)
					if !ok {
						return graph.Result{}, fmt.Errorf("flow: MergeConcat requires string outputs, agent %q produced %T", id, v)
					}
					parts = append(parts, s)
				}
				return graph.Result{Delta: graph.Delta{cfg.JoinKey: strings.Join(parts, cfg.Separator)}}, nil
			default:
				return graph.Result{}, fmt.Errorf("flow: unknown merge strategy %d", cfg.Merge)
			}
		}
	}
}
