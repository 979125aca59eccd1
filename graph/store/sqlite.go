package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/flowforge/graphrun/graph"
)

// SQLiteBackend implements graph.StateBackend on a single-file SQLite
// database. Designed for local persistence and prototyping before moving to
// a shared MySQL deployment; uses WAL mode so reads don't block on writes.
type SQLiteBackend struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteBackend opens (and migrates) a SQLite-backed StateBackend. path
// may be a file path or ":memory:" for an ephemeral database.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	b := &SQLiteBackend{db: db}
	if err := b.Initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) Initialize() error {
	ctx := context.Background()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS execution_state (
			execution_id TEXT NOT NULL PRIMARY KEY,
			state TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS execution_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			checkpoint TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(execution_id, checkpoint_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_execution_id ON execution_checkpoints(execution_id)`,
	}
	for _, stmt := range statements {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (b *SQLiteBackend) StoreState(executionID string, state *graph.ExecutionState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("sqlite backend is closed")
	}

	data, err := json.Marshal(state.Export())
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	_, err = b.db.ExecContext(context.Background(), `
		INSERT INTO execution_state (execution_id, state, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(execution_id) DO UPDATE SET state = excluded.state, updated_at = CURRENT_TIMESTAMP
	`, executionID, data)
	if err != nil {
		return fmt.Errorf("store state: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) LoadState(executionID string) (*graph.ExecutionState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var raw string
	err := b.db.QueryRowContext(context.Background(),
		`SELECT state FROM execution_state WHERE execution_id = ?`, executionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	var data graph.ExecutionStateData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return graph.RehydrateExecutionState(data), nil
}

func (b *SQLiteBackend) StoreCheckpoint(executionID string, cp *graph.Checkpoint) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("sqlite backend is closed")
	}

	data, err := json.Marshal(cp.Export())
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	_, err = b.db.ExecContext(context.Background(), `
		INSERT INTO execution_checkpoints (execution_id, checkpoint_id, checkpoint)
		VALUES (?, ?, ?)
		ON CONFLICT(execution_id, checkpoint_id) DO UPDATE SET checkpoint = excluded.checkpoint
	`, executionID, cp.ID, data)
	if err != nil {
		return fmt.Errorf("store checkpoint: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) LoadCheckpoints(executionID string) ([]*graph.Checkpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.db.QueryContext(context.Background(),
		`SELECT checkpoint FROM execution_checkpoints WHERE execution_id = ? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoints: %w", err)
	}
	defer rows.Close()

	var result []*graph.Checkpoint
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		var data graph.CheckpointData
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
		}
		result = append(result, graph.RehydrateCheckpoint(data))
	}
	return result, rows.Err()
}

func (b *SQLiteBackend) Cleanup(executionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx := context.Background()
	if _, err := b.db.ExecContext(ctx, `DELETE FROM execution_state WHERE execution_id = ?`, executionID); err != nil {
		return fmt.Errorf("cleanup state: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM execution_checkpoints WHERE execution_id = ?`, executionID); err != nil {
		return fmt.Errorf("cleanup checkpoints: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
