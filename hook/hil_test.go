package hook

import (
	"context"
	"testing"

	"github.com/dshills/agentgraph/engine"
	"github.com/dshills/agentgraph/llm"
	"github.com/dshills/agentgraph/state"
)

const messagesKey = "messages"

func TestHumanInTheLoop_Run_GatesApprovalTool(t *testing.T) {
	h := NewHumanInTheLoop(map[string]string{"issue_refund": "needs manager approval"})
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "refund please"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "issue_refund"}}},
	}
	st, err := state.Create(map[string]state.Strategy{messagesKey: state.Append}, map[string]any{messagesKey: msgs})
	if err != nil {
		t.Fatalf("state.Create() error = %v", err)
	}

	delta, err := h.run(context.Background(), st)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if delta[JumpStateKey] != string(JumpEnd) {
		t.Errorf("delta[%q] = %v, want %q", JumpStateKey, delta[JumpStateKey], JumpEnd)
	}
}

func TestHumanInTheLoop_Run_IgnoresUngatedCalls(t *testing.T) {
	h := NewHumanInTheLoop(map[string]string{"issue_refund": "needs manager approval"})
	msgs := []llm.Message{
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "lookup_order"}}},
	}
	st, err := state.Create(map[string]state.Strategy{messagesKey: state.Append}, map[string]any{messagesKey: msgs})
	if err != nil {
		t.Fatalf("state.Create() error = %v", err)
	}

	delta, err := h.run(context.Background(), st)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if delta != nil {
		t.Errorf("delta = %+v, want nil (no gated calls)", delta)
	}
}

func TestHumanInTheLoop_Run_IgnoresNonAssistantMessages(t *testing.T) {
	h := NewHumanInTheLoop(map[string]string{"issue_refund": "x"})
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "hello"}}
	st, err := state.Create(map[string]state.Strategy{messagesKey: state.Append}, map[string]any{messagesKey: msgs})
	if err != nil {
		t.Fatalf("state.Create() error = %v", err)
	}
	delta, err := h.run(context.Background(), st)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if delta != nil {
		t.Errorf("delta = %+v, want nil", delta)
	}
}

func baseAssistantMessage() []llm.Message {
	return []llm.Message{
		{Role: llm.RoleUser, Content: "refund order A-100 and order B-200"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "issue_refund", Input: map[string]interface{}{"order_id": "A-100"}},
			{ID: "c2", Name: "issue_refund", Input: map[string]interface{}{"order_id": "B-200"}},
		}},
	}
}

func TestHumanInTheLoop_Resolve_Approved(t *testing.T) {
	h := NewHumanInTheLoop(map[string]string{"issue_refund": "needs approval"})
	msgs := baseAssistantMessage()
	meta := engine.InterruptionMetadata{ToolFeedback: map[string]engine.ToolFeedback{
		"c1": {Decision: engine.Approved},
		"c2": {Decision: engine.Approved},
	}}

	out, err := h.Resolve(msgs, meta)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Resolve() returned %d messages, want 2", len(out))
	}
	last := out[1]
	if len(last.ToolCalls) != 2 {
		t.Fatalf("rewritten ToolCalls = %+v, want 2 entries", last.ToolCalls)
	}
}

func TestHumanInTheLoop_Resolve_Edited(t *testing.T) {
	h := NewHumanInTheLoop(map[string]string{"issue_refund": "needs approval"})
	msgs := baseAssistantMessage()
	meta := engine.InterruptionMetadata{ToolFeedback: map[string]engine.ToolFeedback{
		"c1": {Decision: engine.Edited, Edited: `{"order_id":"A-100","amount":10}`},
		"c2": {Decision: engine.Approved},
	}}

	out, err := h.Resolve(msgs, meta)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	last := out[len(out)-1]
	if len(last.ToolCalls) != 2 {
		t.Fatalf("rewritten ToolCalls = %+v, want 2 entries", last.ToolCalls)
	}
	raw, ok := last.ToolCalls[0].Input["raw"]
	if !ok || raw != meta.ToolFeedback["c1"].Edited {
		t.Errorf("edited call Input[raw] = %v, want %q", raw, meta.ToolFeedback["c1"].Edited)
	}
}

func TestHumanInTheLoop_Resolve_Rejected(t *testing.T) {
	h := NewHumanInTheLoop(map[string]string{"issue_refund": "needs manager approval"})
	msgs := baseAssistantMessage()
	meta := engine.InterruptionMetadata{ToolFeedback: map[string]engine.ToolFeedback{
		"c1": {Decision: engine.Rejected},
		"c2": {Decision: engine.Approved},
	}}

	out, err := h.Resolve(msgs, meta)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	// assistant message keeps only the approved call; a synthesized tool
	// rejection message follows it.
	if len(out) != 3 {
		t.Fatalf("Resolve() returned %d messages, want 3", len(out))
	}
	rewritten := out[1]
	if len(rewritten.ToolCalls) != 1 || rewritten.ToolCalls[0].ID != "c2" {
		t.Errorf("rewritten.ToolCalls = %+v, want only c2", rewritten.ToolCalls)
	}
	synthesized := out[2]
	if synthesized.Role != llm.RoleTool || synthesized.ToolCallID != "c1" {
		t.Errorf("synthesized message = %+v, want RoleTool response for c1", synthesized)
	}
}

func TestHumanInTheLoop_Resolve_MismatchedFeedbackCountFails(t *testing.T) {
	h := NewHumanInTheLoop(map[string]string{"issue_refund": "x"})
	msgs := baseAssistantMessage()
	meta := engine.InterruptionMetadata{ToolFeedback: map[string]engine.ToolFeedback{
		"c1": {Decision: engine.Approved},
	}}
	if _, err := h.Resolve(msgs, meta); err == nil {
		t.Error("Resolve() error = nil, want error for mismatched feedback count")
	}
}

func TestHumanInTheLoop_Resolve_EmptyMessagesNoop(t *testing.T) {
	h := NewHumanInTheLoop(nil)
	out, err := h.Resolve(nil, engine.InterruptionMetadata{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if out != nil {
		t.Errorf("Resolve() = %+v, want nil", out)
	}
}

func TestHumanInTheLoop_Hook_ReturnsAfterModelPosition(t *testing.T) {
	h := NewHumanInTheLoop(nil)
	hk := h.Hook()
	if hk.Name != "human-in-the-loop" {
		t.Errorf("Name = %q, want human-in-the-loop", hk.Name)
	}
	if !hk.At(AfterModel) {
		t.Error("At(AfterModel) = false, want true")
	}
	if len(hk.JumpTo) != 0 {
		t.Errorf("JumpTo = %v, want empty (interruption is driven by CompileConfig.InterruptsAfter)", hk.JumpTo)
	}
}
