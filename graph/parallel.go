package graph

import (
	"context"
	"fmt"

	"github.com/dshills/agentgraph/state"
)

// parallelFactory builds the ActionFactory for a synthesized parallel node:
// each branch runs against its own state.Clone of the incoming state, and
// the branch deltas are combined into one delta the engine then merges into
// the real running state via the usual strategies. Branches are combined in
// completion order, not branchIDs order: for an Append-strategy key, the
// merge order is the order in which branches actually finish (§5).
func parallelFactory(branchIDs []string, nodes map[string]*Node) ActionFactory {
	return func() Action {
		branchActions := make([]Action, len(branchIDs))
		for i, id := range branchIDs {
			branchActions[i] = nodes[id].Factory()
		}
		return func(ctx context.Context, st *state.State, cfg *RunnableConfig) (Result, error) {
			type branchResult struct {
				id      string
				delta   Delta
				streams []<-chan StreamChunk
				err     error
			}
			done := make(chan branchResult, len(branchActions))

			for i, action := range branchActions {
				go func(id string, action Action) {
					res, err := action(ctx, st.Clone(), cfg)
					done <- branchResult{id: id, delta: res.Delta, streams: res.Streams, err: err}
				}(branchIDs[i], action)
			}

			deltas := make([]Delta, 0, len(branchActions))
			var streams []<-chan StreamChunk
			for range branchActions {
				r := <-done
				if r.err != nil {
					return Result{}, fmt.Errorf("parallel branch %q: %w", r.id, r.err)
				}
				streams = append(streams, r.streams...)
				deltas = append(deltas, r.delta)
			}
			return Result{Delta: MergeDeltas(st.Strategies(), deltas), Streams: streams}, nil
		}
	}
}

// MergeDeltas folds an ordered sequence of deltas into one, honoring each
// key's Append strategy by concatenating rather than overwriting. Order
// matters only for Append keys, where earlier deltas in the slice contribute
// earlier elements.
func MergeDeltas(strategies map[string]state.Strategy, deltas []Delta) Delta {
	merged := make(Delta)
	for _, d := range deltas {
		for k, v := range d {
			merged[k] = combineDelta(strategies[k], merged, k, v)
		}
	}
	return merged
}

// combineDelta folds a newly-arrived branch value for key into merged's
// existing value (if any), honoring the Append strategy by concatenating
// rather than overwriting.
func combineDelta(strategy state.Strategy, merged Delta, key string, value any) any {
	existing, ok := merged[key]
	if !ok || strategy != state.Append {
		return value
	}
	seq := toSequence(existing)
	seq = append(seq, toSequence(value)...)
	return seq
}

func toSequence(v any) state.Sequence {
	switch x := v.(type) {
	case nil:
		return state.Sequence{}
	case state.Sequence:
		return x
	case []any:
		return state.Sequence(x)
	default:
		return state.Sequence{x}
	}
}
