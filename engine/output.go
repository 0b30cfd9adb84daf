package engine

import (
	"github.com/dshills/agentgraph/checkpoint"
	"github.com/dshills/agentgraph/state"
)

// OutputKind classifies a NodeOutput by where it falls in the interpreter
// loop (§4.E).
type OutputKind int

const (
	KindStart OutputKind = iota
	KindNode
	KindStreaming
	KindSubGraph
	KindEnd
)

func (k OutputKind) String() string {
	switch k {
	case KindStart:
		return "Start"
	case KindNode:
		return "Node"
	case KindStreaming:
		return "Streaming"
	case KindSubGraph:
		return "SubGraph"
	case KindEnd:
		return "End"
	default:
		return "Unknown"
	}
}

// NodeOutput is one element the interpreter emits while advancing the
// graph: the node it pertains to, a state snapshot, the element's kind, and
// — for Node-kind elements — the checkpoint written alongside it.
type NodeOutput struct {
	NodeID     string
	State      state.Snapshot
	Kind       OutputKind
	Checkpoint *checkpoint.Checkpoint
	// Chunk carries the observable payload for a Streaming-kind output
	// (e.g. a partial assistant message); nil otherwise.
	Chunk any
}

// Response is one element of the lazy output sequence CompiledGraph.stream
// produces: exactly one of Output, Result, Interrupt, or Err is set.
type Response struct {
	Output    *NodeOutput
	Result    *state.Snapshot
	Interrupt *InterruptionMetadata
	Err       error
}

// InterruptionMetadata records why and where a run paused for human input;
// it is both the terminal payload of an interrupted stream and the
// RunnableConfig.Metadata[MetaHumanFeedback] payload a caller supplies to
// resume.
type InterruptionMetadata struct {
	NodeID string
	Reason string
	// ToolFeedback carries a hook's per-tool-call approval decisions when
	// the interruption originated from a HumanInTheLoop hook.
	ToolFeedback map[string]ToolFeedback
}

// ToolFeedback is a human reviewer's decision on one pending tool call.
type ToolFeedback struct {
	Decision Decision
	// Edited, when Decision is Edited, replaces the tool call's arguments
	// before execution resumes.
	Edited string
}

// Decision is a human reviewer's resolution of a HumanInTheLoop interrupt.
type Decision string

const (
	Approved Decision = "APPROVED"
	Edited   Decision = "EDITED"
	Rejected Decision = "REJECTED"
)
