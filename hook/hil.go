package hook

import (
	"context"
	"fmt"

	"github.com/dshills/agentgraph/engine"
	"github.com/dshills/agentgraph/llm"
	"github.com/dshills/agentgraph/state"
)

// HumanInTheLoop is a HIL hook that runs AFTER_MODEL: when the model's
// just-produced assistant message has a tool call whose name appears in
// ApprovalOn, it writes jump_to = "end" to state. It builds no
// engine.ToolFeedback entries and does not suspend the run by itself; the
// run suspends for human review when the hook's node is listed in
// CompileConfig.InterruptsAfter.
type HumanInTheLoop struct {
	// ApprovalOn maps a tool name to the description shown to the reviewer.
	ApprovalOn map[string]string
}

// NewHumanInTheLoop builds a HIL hook gating the named tools.
func NewHumanInTheLoop(approvalOn map[string]string) *HumanInTheLoop {
	return &HumanInTheLoop{ApprovalOn: approvalOn}
}

// Hook returns the Hook value the ReAct composer wires in.
func (h *HumanInTheLoop) Hook() Hook {
	return Hook{
		Name:      "human-in-the-loop",
		Positions: []Position{AfterModel},
		Run:       h.run,
		Instance:  h,
	}
}

func (h *HumanInTheLoop) run(ctx context.Context, st *state.State) (map[string]any, error) {
	msgs, _ := state.Value[[]llm.Message](st, "messages")
	if len(msgs) == 0 {
		return nil, nil
	}
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleAssistant || len(last.ToolCalls) == 0 {
		return nil, nil
	}

	gated := false
	for _, call := range last.ToolCalls {
		if _, ok := h.ApprovalOn[call.Name]; ok {
			gated = true
			break
		}
	}
	if !gated {
		return nil, nil
	}

	// The hook declares no JumpTo targets, so the composer does not make
	// this hook's own outbound edge conditional on jump_to; suspension comes
	// from listing the hook's node in CompileConfig.InterruptsAfter.
	return map[string]any{JumpStateKey: string(JumpEnd)}, nil
}

// Resolve applies a resumed InterruptionMetadata's per-call decisions to
// the gated assistant message, producing the rewritten messages delta
// described in §4.K: APPROVED keeps the call, EDITED replaces its
// arguments, REJECTED synthesizes a refusal tool response in its place.
func (h *HumanInTheLoop) Resolve(msgs []llm.Message, meta engine.InterruptionMetadata) ([]llm.Message, error) {
	if len(msgs) == 0 {
		return msgs, nil
	}
	idx := len(msgs) - 1
	assistant := msgs[idx]
	if assistant.Role != llm.RoleAssistant {
		return msgs, nil
	}

	if len(meta.ToolFeedback) != len(assistant.ToolCalls) {
		return nil, fmt.Errorf("hook: expected %d tool feedback entries, got %d", len(assistant.ToolCalls), len(meta.ToolFeedback))
	}

	rewritten := assistant
	rewritten.ToolCalls = make([]llm.ToolCall, 0, len(assistant.ToolCalls))
	var synthesized []llm.Message

	for _, call := range assistant.ToolCalls {
		fb, ok := meta.ToolFeedback[call.ID]
		if !ok {
			return nil, fmt.Errorf("hook: no feedback for tool call %q", call.ID)
		}
		switch fb.Decision {
		case engine.Approved:
			rewritten.ToolCalls = append(rewritten.ToolCalls, call)
		case engine.Edited:
			edited := call
			edited.Input = map[string]interface{}{"raw": fb.Edited}
			rewritten.ToolCalls = append(rewritten.ToolCalls, edited)
		case engine.Rejected:
			desc := h.ApprovalOn[call.Name]
			synthesized = append(synthesized, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    fmt.Sprintf("Tool call request for %s has been rejected: %s", call.Name, desc),
			})
		default:
			return nil, fmt.Errorf("hook: unknown decision %q for tool call %q", fb.Decision, call.ID)
		}
	}

	out := make([]llm.Message, 0, len(msgs)+len(synthesized))
	out = append(out, msgs[:idx]...)
	out = append(out, rewritten)
	out = append(out, synthesized...)
	return out, nil
}
