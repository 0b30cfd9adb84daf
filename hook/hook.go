// Package hook implements Hooks and the Human-in-the-Loop (HIL) mechanism
// (component K): named pieces of behavior that run at fixed points around
// the ReAct loop and may redirect control flow or suspend it for human
// review.
package hook

import (
	"context"

	"github.com/dshills/agentgraph/state"
	"github.com/dshills/agentgraph/tool"
)

// Position names a fixed point in the ReAct loop a Hook can run at.
type Position string

const (
	BeforeAgent Position = "BEFORE_AGENT"
	AfterAgent  Position = "AFTER_AGENT"
	BeforeModel Position = "BEFORE_MODEL"
	AfterModel  Position = "AFTER_MODEL"
)

// JumpTarget is a destination a hook's jump_to decision may name.
type JumpTarget string

const (
	JumpModel JumpTarget = "model"
	JumpTool  JumpTarget = "tool"
	JumpEnd   JumpTarget = "end"
)

// JumpStateKey is the well-known state key a conditional hook edge reads to
// decide whether to follow its static next node or redirect elsewhere.
const JumpStateKey = "jump_to"

// Action is a hook's unit of work at one of its declared Positions: given
// the accumulated state, it returns a delta to merge (possibly empty).
type Action func(ctx context.Context, st *state.State) (map[string]any, error)

// Hook is a named piece of behavior that runs at one or more Positions in
// the ReAct loop and may declare JumpTo targets, turning its outbound edge
// conditional on the jump_to state key.
type Hook struct {
	Name      string
	Positions []Position
	JumpTo    []JumpTarget
	Run       Action

	// Instance is the backing value a Hook was built from (e.g. a
	// *HumanInTheLoop), if any. The composer type-asserts it against
	// ToolInjection to deliver a concrete tool at build time; Hook itself
	// never calls into it.
	Instance any
}

// At reports whether h runs at position p.
func (h Hook) At(p Position) bool {
	for _, pos := range h.Positions {
		if pos == p {
			return true
		}
	}
	return false
}

// CanJumpTo reports whether h may redirect control to target.
func (h Hook) CanJumpTo(target JumpTarget) bool {
	for _, t := range h.JumpTo {
		if t == target {
			return true
		}
	}
	return false
}

// ToolInjection is implemented by a Hook's backing type when it needs a
// concrete tool.Tool instance at build time. The composer matches the
// hook's name against the registry first, else falls back to the first
// tool the registry lists; it does not match by type.
type ToolInjection interface {
	InjectTool(t tool.Tool)
}
