package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/agentgraph/checkpoint"
	"github.com/dshills/agentgraph/emit"
	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/metrics"
	"github.com/dshills/agentgraph/state"
)

// Graph is the interpreter (component E) bound to one CompiledGraph: it
// advances one node at a time, merges deltas through the graph's
// strategies, writes checkpoints, and exposes a lazy output stream that a
// consumer drives and may cancel at any point.
type Graph struct {
	compiled *graph.CompiledGraph
	emitter  emit.Emitter
	metrics  *metrics.Collector
}

// Compile validates sg against compileCfg and returns a ready-to-run Graph.
func Compile(sg *graph.StateGraph, compileCfg graph.CompileConfig, opts ...Option) (*Graph, error) {
	cg, err := graph.Compile(sg, compileCfg)
	if err != nil {
		return nil, err
	}
	return New(cg, opts...), nil
}

// New wraps an already-compiled graph with an interpreter.
func New(cg *graph.CompiledGraph, opts ...Option) *Graph {
	c := &config{}
	for _, opt := range opts {
		opt(c)
	}
	return &Graph{compiled: cg, emitter: c.emitter, metrics: c.metrics}
}

// Invoke runs a graph to completion (or to its first interruption) and
// returns the final state snapshot. Use Stream instead to observe
// intermediate NodeOutputs.
func (g *Graph) Invoke(ctx context.Context, inputs map[string]any, cfg graph.RunnableConfig) (*state.Snapshot, error) {
	ch, err := g.Stream(ctx, inputs, cfg)
	if err != nil {
		return nil, err
	}
	var result *state.Snapshot
	for resp := range ch {
		switch {
		case resp.Err != nil:
			return nil, resp.Err
		case resp.Interrupt != nil:
			return nil, &InterruptedError{Metadata: *resp.Interrupt}
		case resp.Result != nil:
			result = resp.Result
		}
	}
	return result, nil
}

// InterruptedError is what Invoke returns when a run pauses for human
// input; the caller resumes by invoking again with the same thread id.
type InterruptedError struct {
	Metadata InterruptionMetadata
}

func (e *InterruptedError) Error() string {
	return "engine: interrupted at node " + e.Metadata.NodeID
}

// Stream starts (or resumes) a run and returns a channel of Responses. The
// channel is unbuffered: the interpreter produces its next element only
// once the previous one has been received, so a slow or stalled consumer
// naturally backpressures execution. The channel closes after a Result,
// Interrupt, or Err response.
func (g *Graph) Stream(ctx context.Context, inputs map[string]any, cfg graph.RunnableConfig) (<-chan Response, error) {
	st, current, err := g.initialPosition(ctx, cfg, inputs)
	if err != nil {
		return nil, err
	}

	out := make(chan Response)
	go g.run(ctx, st, current, cfg, out)
	return out, nil
}

func (g *Graph) initialPosition(ctx context.Context, cfg graph.RunnableConfig, inputs map[string]any) (*state.State, string, error) {
	saver := g.compiled.CheckpointSaver()
	if saver != nil && cfg.ThreadID != "" {
		cp, err := saver.Get(ctx, cfg.ThreadID, cfg.CheckpointID)
		switch {
		case err == nil:
			st := state.Restore(g.compiled.Strategies(), cp.State)
			if upd, ok := cfg.Metadata[graph.MetaStateUpdate]; ok {
				if delta, ok := upd.(map[string]any); ok {
					st, err = st.Update(delta)
					if err != nil {
						return nil, "", err
					}
				}
			}
			next := cp.NextNodeID
			if next == "" {
				next = graph.END
			}
			return st, next, nil
		case !errors.Is(err, checkpoint.ErrNotFound):
			return nil, "", &RunError{Code: CodeCheckpoint, Message: "failed to load checkpoint", Cause: err}
		}
	}

	st, err := state.Create(g.compiled.Strategies(), inputs)
	if err != nil {
		return nil, "", err
	}
	return st, graph.START, nil
}

func (g *Graph) run(ctx context.Context, st *state.State, current string, cfg graph.RunnableConfig, out chan<- Response) {
	defer close(out)

	limit := g.compiled.RecursionLimit()
	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return
		}
		if step >= limit {
			g.send(ctx, out, Response{Err: &RunError{Code: CodeRecursionLimit, Message: "recursion limit exceeded", NodeID: current, Cause: ErrRecursionLimit}})
			return
		}

		switch current {
		case graph.START:
			next, done := g.advanceStart(ctx, st, cfg, out)
			if !done {
				return
			}
			current = next

		case graph.END:
			snap := st.Snapshot()
			g.send(ctx, out, Response{Output: &NodeOutput{NodeID: graph.END, State: snap, Kind: KindEnd}})
			g.send(ctx, out, Response{Result: &snap})
			return

		default:
			next, newState, interrupted, ok := g.advanceNode(ctx, st, current, cfg, out)
			if !ok {
				return
			}
			if interrupted {
				return
			}
			st = newState
			current = next
		}
	}
}

func (g *Graph) advanceStart(ctx context.Context, st *state.State, cfg graph.RunnableConfig, out chan<- Response) (string, bool) {
	edge, ok := g.compiled.Edge(graph.START)
	if !ok || len(edge.Targets) != 1 {
		g.send(ctx, out, Response{Err: &RunError{Code: CodeRunnableError, Message: "START has no outbound edge", NodeID: graph.START, Cause: ErrMissingEdge}})
		return "", false
	}
	next, err := edge.Targets[0].Resolve(st)
	if err != nil {
		g.send(ctx, out, Response{Err: &RunError{Code: CodeRunnableError, Message: "failed to resolve START edge", NodeID: graph.START, Cause: err}})
		return "", false
	}

	snap := st.Snapshot()
	g.send(ctx, out, Response{Output: &NodeOutput{NodeID: graph.START, State: snap, Kind: KindStart}})
	if err := g.writeCheckpoint(ctx, cfg.ThreadID, graph.START, next, snap); err != nil {
		g.send(ctx, out, Response{Err: err})
		return "", false
	}
	return next, true
}

// advanceNode runs one AtNode step (§4.E.4): checks the before-interrupt,
// runs the node action, merges its delta, resolves the next node id, checks
// the after-interrupt, and writes a checkpoint.
func (g *Graph) advanceNode(ctx context.Context, st *state.State, id string, cfg graph.RunnableConfig, out chan<- Response) (next string, newState *state.State, interrupted bool, ok bool) {
	if g.compiled.InterruptBefore(id) {
		if g.metrics != nil {
			g.metrics.IncInterrupt(id, "interruptsBefore")
		}
		g.send(ctx, out, Response{Interrupt: &InterruptionMetadata{NodeID: id, Reason: "interruptsBefore"}})
		return "", nil, true, true
	}

	factory, found := g.compiled.Factory(id)
	if !found {
		g.send(ctx, out, Response{Err: &RunError{Code: CodeRunnableError, Message: "node has no action", NodeID: id, Cause: ErrMissingAction}})
		return "", nil, false, false
	}

	var stop func(status string, err error)
	if g.metrics != nil {
		ctx, stop = g.metrics.NodeSpan(ctx, id)
	}

	action := factory()
	res, err := action(ctx, st, &cfg)
	if stop != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		stop(status, err)
	}
	if err != nil {
		g.send(ctx, out, Response{Err: &RunError{Code: CodeRunnableError, Message: "node action failed", NodeID: id, Cause: err}})
		return "", nil, false, false
	}

	delta := res.Delta
	if len(res.Streams) > 0 {
		streamDelta, err := g.drainStreams(ctx, out, id, res.Streams)
		if err != nil {
			g.send(ctx, out, Response{Err: &RunError{Code: CodeRunnableError, Message: "streaming node failed", NodeID: id, Cause: err}})
			return "", nil, false, false
		}
		deltas := []graph.Delta{delta, streamDelta}
		delta = graph.MergeDeltas(g.compiled.Strategies(), deltas)
	}

	merged, err := st.Update(delta)
	if err != nil {
		g.send(ctx, out, Response{Err: &RunError{Code: CodeRunnableError, Message: "failed to merge delta", NodeID: id, Cause: err}})
		return "", nil, false, false
	}

	edge, found := g.compiled.Edge(id)
	if !found || len(edge.Targets) != 1 {
		g.send(ctx, out, Response{Err: &RunError{Code: CodeRunnableError, Message: "node has no outbound edge", NodeID: id, Cause: ErrMissingEdge}})
		return "", nil, false, false
	}
	nextID, err := edge.Targets[0].Resolve(merged)
	if err != nil {
		g.send(ctx, out, Response{Err: &RunError{Code: CodeRunnableError, Message: "failed to resolve outbound edge", NodeID: id, Cause: err}})
		return "", nil, false, false
	}

	snap := merged.Snapshot()
	cp, err := g.appendCheckpoint(ctx, cfg.ThreadID, id, nextID, snap)
	if err != nil {
		g.send(ctx, out, Response{Err: err})
		return "", nil, false, false
	}
	g.send(ctx, out, Response{Output: &NodeOutput{NodeID: id, State: snap, Kind: KindNode, Checkpoint: cp}})

	if g.compiled.InterruptAfter(id) {
		if g.metrics != nil {
			g.metrics.IncInterrupt(id, "interruptsAfter")
		}
		g.send(ctx, out, Response{Interrupt: &InterruptionMetadata{NodeID: nextID, Reason: "interruptsAfter"}})
		return "", nil, true, true
	}

	return nextID, merged, false, true
}

func (g *Graph) drainStreams(ctx context.Context, out chan<- Response, nodeID string, streams []<-chan graph.StreamChunk) (graph.Delta, error) {
	var mu sync.Mutex
	var deltas []graph.Delta
	var firstErr error
	var wg sync.WaitGroup

	for _, stream := range streams {
		wg.Add(1)
		go func(stream <-chan graph.StreamChunk) {
			defer wg.Done()
			for chunk := range stream {
				if chunk.Err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = chunk.Err
					}
					mu.Unlock()
					continue
				}
				if chunk.Done {
					mu.Lock()
					deltas = append(deltas, chunk.Delta)
					mu.Unlock()
					continue
				}
				g.send(ctx, out, Response{Output: &NodeOutput{NodeID: nodeID, Kind: KindStreaming, Chunk: chunk.Output}})
			}
		}(stream)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return graph.MergeDeltas(g.compiled.Strategies(), deltas), nil
}

func (g *Graph) send(ctx context.Context, out chan<- Response, resp Response) {
	select {
	case out <- resp:
	case <-ctx.Done():
	}
}

func (g *Graph) writeCheckpoint(ctx context.Context, threadID, nodeID, nextNodeID string, snap state.Snapshot) *RunError {
	_, err := g.appendCheckpoint(ctx, threadID, nodeID, nextNodeID, snap)
	return err
}

func (g *Graph) appendCheckpoint(ctx context.Context, threadID, nodeID, nextNodeID string, snap state.Snapshot) (*checkpoint.Checkpoint, *RunError) {
	saver := g.compiled.CheckpointSaver()
	if saver == nil {
		return nil, nil
	}
	cp := checkpoint.Checkpoint{
		ID:         uuid.NewString(),
		ThreadID:   threadID,
		NodeID:     nodeID,
		NextNodeID: nextNodeID,
		State:      snap,
		CreatedAt:  time.Now(),
	}
	if err := saver.Put(ctx, threadID, cp); err != nil {
		return nil, &RunError{Code: CodeCheckpoint, Message: "failed to write checkpoint", NodeID: nodeID, Cause: err}
	}
	if g.metrics != nil {
		g.metrics.IncCheckpointWrite(threadID)
	}
	return &cp, nil
}

// GetState returns the state snapshot recorded by a thread's checkpoint
// (the most recent one, or a specific one via cfg.CheckpointID).
func (g *Graph) GetState(ctx context.Context, cfg graph.RunnableConfig) (state.Snapshot, error) {
	saver := g.compiled.CheckpointSaver()
	if saver == nil {
		return state.Snapshot{}, errors.New("engine: no checkpoint saver configured")
	}
	cp, err := saver.Get(ctx, cfg.ThreadID, cfg.CheckpointID)
	if err != nil {
		return state.Snapshot{}, err
	}
	return cp.State, nil
}

// GetStateHistory returns every checkpointed snapshot for a thread,
// newest-first.
func (g *Graph) GetStateHistory(ctx context.Context, cfg graph.RunnableConfig) ([]state.Snapshot, error) {
	saver := g.compiled.CheckpointSaver()
	if saver == nil {
		return nil, errors.New("engine: no checkpoint saver configured")
	}
	cps, err := saver.List(ctx, cfg.ThreadID)
	if err != nil {
		return nil, err
	}
	snaps := make([]state.Snapshot, len(cps))
	for i, cp := range cps {
		snaps[i] = cp.State
	}
	return snaps, nil
}

// UpdateState merges delta into the checkpoint named by cfg, replacing it
// in place (same checkpoint id, so history length is unchanged), optionally
// attributing the update to asNode. It returns a RunnableConfig pinned to
// the updated checkpoint.
func (g *Graph) UpdateState(ctx context.Context, cfg graph.RunnableConfig, delta map[string]any, asNode string) (graph.RunnableConfig, error) {
	saver := g.compiled.CheckpointSaver()
	if saver == nil {
		return graph.RunnableConfig{}, errors.New("engine: no checkpoint saver configured")
	}
	cp, err := saver.Get(ctx, cfg.ThreadID, cfg.CheckpointID)
	if err != nil {
		return graph.RunnableConfig{}, err
	}

	st := state.Restore(g.compiled.Strategies(), cp.State)
	updated, err := st.Update(delta)
	if err != nil {
		return graph.RunnableConfig{}, err
	}

	cp.State = updated.Snapshot()
	if asNode != "" {
		cp.NodeID = asNode
	}
	if err := saver.Put(ctx, cfg.ThreadID, cp); err != nil {
		return graph.RunnableConfig{}, err
	}

	next := cfg
	next.CheckpointID = cp.ID
	return next, nil
}
