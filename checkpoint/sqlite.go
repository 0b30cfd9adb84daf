package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store implementation.
//
// Designed for:
//   - development and testing with zero setup
//   - single-process runs
//   - local executions requiring persistence across restarts
//   - prototyping before migrating to a distributed store
//
// SQLiteStore runs in WAL mode for concurrent reads and uses a single
// writer connection, matching SQLite's own concurrency model.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a SQLite-backed store at path. Pass ":memory:" for
// an ephemeral, in-process database useful in tests.
//
// The store automatically creates its table on first use, enables WAL mode,
// and sets a busy timeout so concurrent callers block briefly rather than
// failing immediately on a locked database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			next_node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			seq INTEGER NOT NULL,
			UNIQUE(thread_id, checkpoint_id)
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create checkpoints table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints(thread_id, seq DESC)"); err != nil {
		return fmt.Errorf("create idx_checkpoints_thread: %w", err)
	}
	return nil
}

func (s *SQLiteStore) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("checkpoint: store is closed")
	}
	return nil
}

// List returns a thread's checkpoints newest-first.
func (s *SQLiteStore) List(ctx context.Context, threadID string) ([]Checkpoint, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT checkpoint_id, node_id, next_node_id, state, metadata, created_at
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY seq DESC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows, threadID)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

// Get returns a single checkpoint, or the most recent one if checkpointID is
// empty.
func (s *SQLiteStore) Get(ctx context.Context, threadID, checkpointID string) (Checkpoint, error) {
	if err := s.checkClosed(); err != nil {
		return Checkpoint{}, err
	}

	var row *sql.Row
	if checkpointID == "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, node_id, next_node_id, state, metadata, created_at
			FROM checkpoints WHERE thread_id = ? ORDER BY seq DESC LIMIT 1
		`, threadID)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, node_id, next_node_id, state, metadata, created_at
			FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?
		`, threadID, checkpointID)
	}

	cp, err := scanCheckpointRow(row, threadID)
	if err == sql.ErrNoRows {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}
	return cp, nil
}

// Put replaces the matching entry by ID, or appends cp as the newest entry.
func (s *SQLiteStore) Put(ctx context.Context, threadID string, cp Checkpoint) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	metaJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	var seq int64
	err = s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE thread_id = ?`, threadID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("allocate sequence: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, checkpoint_id, node_id, next_node_id, state, metadata, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, checkpoint_id) DO UPDATE SET
			node_id = excluded.node_id,
			next_node_id = excluded.next_node_id,
			state = excluded.state,
			metadata = excluded.metadata,
			created_at = excluded.created_at
	`, threadID, cp.ID, cp.NodeID, cp.NextNodeID, string(stateJSON), string(metaJSON), cp.CreatedAt.Format(time.RFC3339Nano), seq)
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

// Clear removes every checkpoint for a thread.
func (s *SQLiteStore) Clear(ctx context.Context, threadID string) (bool, error) {
	if err := s.checkClosed(); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
	if err != nil {
		return false, fmt.Errorf("clear checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Close closes the database connection. Calling Close multiple times is
// safe.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path this store was opened with.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(rows *sql.Rows, threadID string) (Checkpoint, error) {
	return scanCheckpointRow(rows, threadID)
}

func scanCheckpointRow(row rowScanner, threadID string) (Checkpoint, error) {
	var (
		cp           Checkpoint
		stateJSON    string
		metaJSON     string
		createdAtStr string
	)
	if err := row.Scan(&cp.ID, &cp.NodeID, &cp.NextNodeID, &stateJSON, &metaJSON, &createdAtStr); err != nil {
		return Checkpoint{}, err
	}
	cp.ThreadID = threadID

	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return Checkpoint{}, fmt.Errorf("unmarshal state: %w", err)
	}
	if metaJSON != "" && metaJSON != "null" {
		if err := json.Unmarshal([]byte(metaJSON), &cp.Metadata); err != nil {
			return Checkpoint{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("parse created_at: %w", err)
	}
	cp.CreatedAt = createdAt
	return cp, nil
}
