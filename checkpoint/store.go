// Package checkpoint provides the pluggable durable store of per-thread
// checkpoint history: a strictly ordered, newest-first list of checkpoints
// per thread, with append, get-latest-or-by-id, replace-by-id, and clear
// operations.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/agentgraph/state"
)

// ErrNotFound is returned when a requested thread or checkpoint id does not exist.
var ErrNotFound = errors.New("checkpoint: not found")

// Checkpoint is the immutable record persisted after every node execution:
// the node that just ran, the node execution resumes at next, a full state
// snapshot, and a creation timestamp. ID is opaque and unique within a
// thread.
type Checkpoint struct {
	// ID identifies this checkpoint within its thread.
	ID string `json:"id"`

	// ThreadID groups related checkpoints into a single resumable run.
	ThreadID string `json:"thread_id"`

	// NodeID is the node whose execution produced this checkpoint.
	NodeID string `json:"node_id"`

	// NextNodeID is the node execution resumes at when this checkpoint is
	// restored. Empty when the graph had already reached END.
	NextNodeID string `json:"next_node_id"`

	// State is the full state snapshot as of this checkpoint.
	State state.Snapshot `json:"state"`

	// CreatedAt records when the checkpoint was written.
	CreatedAt time.Time `json:"created_at"`

	// Metadata carries caller-supplied annotations (e.g. interrupt reason)
	// that ride along with the checkpoint but play no role in resumption.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Store is the pluggable checkpoint backend contract. Every operation is
// scoped to a thread id; a backend must serialize concurrent writes to the
// same thread but need not coordinate across threads.
type Store interface {
	// List returns a thread's checkpoints newest-first. An unknown thread
	// yields an empty slice, not an error.
	List(ctx context.Context, threadID string) ([]Checkpoint, error)

	// Get returns a single checkpoint. If checkpointID is empty, the most
	// recent checkpoint for the thread is returned. Returns ErrNotFound if
	// the thread has no checkpoints, or the given id does not exist in it.
	Get(ctx context.Context, threadID, checkpointID string) (Checkpoint, error)

	// Put persists cp. When cp.ID matches an existing checkpoint in the
	// thread, that entry is replaced in place rather than appended;
	// otherwise cp is appended as the new newest entry. Callers that want
	// append-only semantics pass a fresh, never-before-seen ID (engine.Graph
	// does this via uuid.NewString()).
	Put(ctx context.Context, threadID string, cp Checkpoint) error

	// Clear removes every checkpoint for a thread and reports whether any
	// were removed.
	Clear(ctx context.Context, threadID string) (bool, error)
}
