// Package graph implements the graph model (component C) and compiler
// (component D): a directed, possibly cyclic graph of nodes connected by
// edges, compiled into a validated, flattened CompiledGraph ready for
// execution by the engine package.
package graph

import "errors"

// Code classifies a GraphError by the phase and reason it occurred, mirroring
// the error taxonomy's compile-time GRAPH_STATE_ERROR family.
type Code string

const (
	// CodeMissingNode means an edge or interrupt name references a node id
	// that does not exist in the graph after flattening.
	CodeMissingNode Code = "GRAPH_STATE_ERROR"
	// CodeIllegalParallelBranching means an edge fanned out to more than one
	// target where at least one target was conditional, or the targets
	// disagreed after dedup.
	CodeIllegalParallelBranching Code = "GRAPH_STATE_ERROR"
	// CodeInterruptTargetMissing means an interruptsBefore/After name did not
	// resolve to a real node after flattening.
	CodeInterruptTargetMissing Code = "GRAPH_STATE_ERROR"
	// CodeMissingEdge means a non-END node has no outbound edge.
	CodeMissingEdge Code = "GRAPH_STATE_ERROR"
)

// GraphError is a structured compile-time error, raised by Compile and never
// by a running execution (those surface engine.RunError instead).
type GraphError struct {
	Code    Code
	Message string
	NodeID  string
	Cause   error
}

func (e *GraphError) Error() string {
	if e.NodeID != "" {
		return string(e.Code) + ": " + e.Message + " (node " + e.NodeID + ")"
	}
	return string(e.Code) + ": " + e.Message
}

func (e *GraphError) Unwrap() error { return e.Cause }

var (
	// ErrMissingEdge is wrapped into a GraphError when a non-END node has no
	// outbound edge.
	ErrMissingEdge = errors.New("graph: node has no outbound edge")
	// ErrIllegalParallelBranching is wrapped into a GraphError when a
	// multi-target edge mixes conditional targets or disagrees on identity.
	ErrIllegalParallelBranching = errors.New("graph: illegal parallel branching")
	// ErrInterruptTargetMissing is wrapped into a GraphError when an
	// interruptsBefore/After name does not resolve to a real node.
	ErrInterruptTargetMissing = errors.New("graph: interrupt target missing")
	// ErrMissingMapping is a runtime error (not compile-time): a conditional
	// edge action produced a label absent from its mapping. Declared here
	// because Target.Resolve, which the engine calls while routing, returns
	// it.
	ErrMissingMapping = errors.New("graph: conditional edge label not in mapping")
)
