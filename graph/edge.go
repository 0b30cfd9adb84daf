package graph

import "github.com/dshills/agentgraph/state"

// Target is one destination of an Edge: either an unconditional jump to ID,
// or a conditional jump that runs Action against the accumulated state to
// get a label, then looks the label up in Mapping.
type Target struct {
	ID      string
	Action  EdgeAction
	Mapping map[string]string
}

// Conditional reports whether t requires evaluating Action to resolve its
// destination, as opposed to jumping straight to a fixed ID.
func (t Target) Conditional() bool { return t.Action != nil }

// To returns t's unconditional destination id for a plain Target.
func To(id string) Target { return Target{ID: id} }

// Branch returns a conditional Target: action computes a label from state,
// and mapping resolves that label to the next node id.
func Branch(action EdgeAction, mapping map[string]string) Target {
	return Target{Action: action, Mapping: mapping}
}

// Resolve computes the next node id for t given the accumulated state. For
// an unconditional Target it returns ID directly; for a conditional Target
// it runs Action and looks the resulting label up in Mapping.
func (t Target) Resolve(st *state.State) (string, error) {
	if !t.Conditional() {
		return t.ID, nil
	}
	label, err := t.Action(st)
	if err != nil {
		return "", err
	}
	next, ok := t.Mapping[label]
	if !ok {
		return "", ErrMissingMapping
	}
	return next, nil
}

// Edge is the outbound routing for one source node: one or more Targets.
// More than one Target models parallel fan-out — legal only when every
// Target is unconditional; Compile rejects multi-target edges that mix in
// a conditional Target (§4.D).
type Edge struct {
	From    string
	Targets []Target
}
