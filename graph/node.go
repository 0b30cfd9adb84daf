package graph

import (
	"context"

	"github.com/dshills/agentgraph/state"
)

// START and END are the two sentinel node ids every StateGraph is built
// around: START has exactly one outbound edge (the entry point), and END
// terminates execution wherever it appears as a target.
const (
	START = "__start__"
	END   = "__end__"
)

// Delta is the partial state update a node action returns; it is merged into
// the accumulated State under each key's reduction Strategy.
type Delta map[string]any

// StreamChunk is one element of a node's streaming output, used by model
// nodes that forward partial chat responses as they arrive (§4.E step 4c).
// The final chunk of a stream carries Done=true and the accumulated Delta
// to merge; prior chunks carry only an observable Output value.
type StreamChunk struct {
	Output any
	Delta  Delta
	Done   bool
	Err    error
}

// Result is what an Action returns to the engine. Exactly one of Delta or
// Streams is meaningful at a time: a plain node sets Delta; a streaming node
// (or a node fanning out several concurrent streams, e.g. a parallel node's
// children) sets Streams, and the engine drains every channel, forwarding
// each chunk as a NodeOutput and merging each stream's terminal Delta.
type Result struct {
	Delta   Delta
	Streams []<-chan StreamChunk
}

// Action is a node's per-execution unit of work: given the accumulated state
// and the run's config, it computes a Result. Actions must be safe to run
// concurrently with other Actions operating on cloned state (parallel nodes
// hand each child a state.Clone()).
type Action func(ctx context.Context, st *state.State, cfg *RunnableConfig) (Result, error)

// ActionFactory produces a fresh Action for each execution, keeping node
// instances free of cross-run mutable state — the compiled graph stores only
// factories, never Action values, so concurrent executions never share one.
type ActionFactory func() Action

// Node is a single vertex in a StateGraph: either a leaf node backed by an
// ActionFactory, or a sub-graph node whose SubGraph is flattened into the
// surrounding graph at Compile time.
type Node struct {
	ID       string
	Factory  ActionFactory
	SubGraph *StateGraph
}

// EdgeAction computes a routing label from the accumulated state for a
// conditional Target; the label is looked up in the Target's Mapping to find
// the next node id.
type EdgeAction func(st *state.State) (string, error)
