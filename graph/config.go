package graph

import "github.com/dshills/agentgraph/checkpoint"

// Well-known RunnableConfig.Metadata keys.
const (
	// MetaAgent names the current agent, informational only.
	MetaAgent = "_AGENT_"
	// MetaStream toggles streaming model calls (bool, default true).
	MetaStream = "_stream_"
	// MetaHumanFeedback carries an InterruptionMetadata with tool feedbacks
	// supplied by a caller resuming past a HumanInTheLoop interruption.
	MetaHumanFeedback = "HUMAN_FEEDBACK_METADATA_KEY"
	// MetaStateUpdate carries a pre-resume state delta to merge before
	// continuing execution at the recorded next node.
	MetaStateUpdate = "STATE_UPDATE_METADATA_KEY"
)

// StreamMode names what a caller asks engine.Graph.Stream to emit for each
// step. The engine does not read it: every NodeOutput carries the full
// accumulated state snapshot, whichever mode is set.
type StreamMode int

const (
	// StreamValues selects the full accumulated state after each step.
	StreamValues StreamMode = iota
	// StreamSnapshots selects per-step deltas; the engine treats it the
	// same as StreamValues.
	StreamSnapshots
)

// RunnableConfig carries the per-invocation parameters threaded through an
// execution: which thread to run against, where to resume from, and
// out-of-band metadata nodes and interceptors may read.
type RunnableConfig struct {
	ThreadID     string
	CheckpointID string
	NextNode     string
	StreamMode   StreamMode
	Metadata     map[string]any
}

// WithMetadata returns a copy of cfg with key set to value in Metadata.
func (c RunnableConfig) WithMetadata(key string, value any) RunnableConfig {
	md := make(map[string]any, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		md[k] = v
	}
	md[key] = value
	c.Metadata = md
	return c
}

// CompileConfig governs how Compile validates and freezes a StateGraph.
type CompileConfig struct {
	CheckpointSaver checkpoint.Store
	RecursionLimit  int
	InterruptsBefore []string
	InterruptsAfter  []string
	// InterruptBeforeEdge is carried onto the CompiledGraph (see
	// CompiledGraph.InterruptBeforeEdge). The engine does not consult it:
	// setting it adds no interruption and does not move the one that
	// InterruptsAfter fires, which comes after the outgoing edge is resolved.
	InterruptBeforeEdge bool
}

const defaultRecursionLimit = 25

func (c CompileConfig) recursionLimit() int {
	if c.RecursionLimit > 0 {
		return c.RecursionLimit
	}
	return defaultRecursionLimit
}
