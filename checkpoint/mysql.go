package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed Store implementation.
//
// Designed for:
//   - production runs requiring durable persistence
//   - distributed systems with multiple workers sharing thread history
//   - long-running executions that must survive process restarts
//   - audit trails
//
// MySQLStore uses connection pooling; callers should supply a DSN sourced
// from configuration or environment, never hardcoded.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a MySQL-backed store.
//
// The DSN format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Example:
//
//	user:password@tcp(127.0.0.1:3306)/agentgraph?parseTime=true
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	store := &MySQLStore{db: db}
	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return store, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			checkpoint_id VARCHAR(255) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			next_node_id VARCHAR(255) NOT NULL,
			state JSON NOT NULL,
			metadata JSON NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			seq BIGINT NOT NULL,
			UNIQUE KEY unique_thread_checkpoint (thread_id, checkpoint_id),
			INDEX idx_thread_seq (thread_id, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create checkpoints table: %w", err)
	}
	return nil
}

func (m *MySQLStore) checkClosed() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("checkpoint: store is closed")
	}
	return nil
}

// List returns a thread's checkpoints newest-first.
func (m *MySQLStore) List(ctx context.Context, threadID string) ([]Checkpoint, error) {
	if err := m.checkClosed(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
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
		cp, err := scanMySQLCheckpoint(rows, threadID)
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
func (m *MySQLStore) Get(ctx context.Context, threadID, checkpointID string) (Checkpoint, error) {
	if err := m.checkClosed(); err != nil {
		return Checkpoint{}, err
	}

	var row *sql.Row
	if checkpointID == "" {
		row = m.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, node_id, next_node_id, state, metadata, created_at
			FROM checkpoints WHERE thread_id = ? ORDER BY seq DESC LIMIT 1
		`, threadID)
	} else {
		row = m.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, node_id, next_node_id, state, metadata, created_at
			FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?
		`, threadID, checkpointID)
	}

	cp, err := scanMySQLCheckpointRow(row, threadID)
	if err == sql.ErrNoRows {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}
	return cp, nil
}

// Put replaces the matching entry by ID, or appends cp as the newest entry.
func (m *MySQLStore) Put(ctx context.Context, threadID string, cp Checkpoint) error {
	if err := m.checkClosed(); err != nil {
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
	if err := m.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE thread_id = ?`, threadID).Scan(&seq); err != nil {
		return fmt.Errorf("allocate sequence: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, checkpoint_id, node_id, next_node_id, state, metadata, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			node_id = VALUES(node_id),
			next_node_id = VALUES(next_node_id),
			state = VALUES(state),
			metadata = VALUES(metadata),
			created_at = VALUES(created_at)
	`, threadID, cp.ID, cp.NodeID, cp.NextNodeID, stateJSON, metaJSON, cp.CreatedAt, seq)
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

// Clear removes every checkpoint for a thread.
func (m *MySQLStore) Clear(ctx context.Context, threadID string) (bool, error) {
	if err := m.checkClosed(); err != nil {
		return false, err
	}

	res, err := m.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
	if err != nil {
		return false, fmt.Errorf("clear checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Close closes the database connection pool. Calling Close multiple times is
// safe.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	if err := m.checkClosed(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Stats returns database connection pool statistics, useful for monitoring
// connection usage and pool health.
func (m *MySQLStore) Stats() sql.DBStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db.Stats()
}

// WithTransaction executes fn within a database transaction, committing on a
// nil return and rolling back otherwise. Useful for callers that need to
// pair a checkpoint write with another transactional side effect against the
// same database.
func (m *MySQLStore) WithTransaction(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	if err := m.checkClosed(); err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func scanMySQLCheckpoint(rows *sql.Rows, threadID string) (Checkpoint, error) {
	return scanMySQLCheckpointRow(rows, threadID)
}

func scanMySQLCheckpointRow(row rowScanner, threadID string) (Checkpoint, error) {
	var (
		cp        Checkpoint
		stateJSON []byte
		metaJSON  []byte
	)
	if err := row.Scan(&cp.ID, &cp.NodeID, &cp.NextNodeID, &stateJSON, &metaJSON, &cp.CreatedAt); err != nil {
		return Checkpoint{}, err
	}
	cp.ThreadID = threadID

	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		return Checkpoint{}, fmt.Errorf("unmarshal state: %w", err)
	}
	if len(metaJSON) > 0 && string(metaJSON) != "null" {
		if err := json.Unmarshal(metaJSON, &cp.Metadata); err != nil {
			return Checkpoint{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return cp, nil
}
