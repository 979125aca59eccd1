package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/flowforge/graphrun/graph"
)

// MySQLBackend implements graph.StateBackend against MySQL/MariaDB. Intended
// for production deployments where multiple Executor processes share
// execution state, and where workflows must survive process restarts.
type MySQLBackend struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLBackend opens (and migrates) a MySQL-backed StateBackend. dsn
// follows the go-sql-driver/mysql DSN format, e.g.
// "user:pass@tcp(localhost:3306)/graphrun?parseTime=true".
func NewMySQLBackend(dsn string) (*MySQLBackend, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	b := &MySQLBackend{db: db}
	if err := b.Initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *MySQLBackend) Initialize() error {
	ctx := context.Background()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS execution_state (
			execution_id VARCHAR(255) NOT NULL PRIMARY KEY,
			state LONGTEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS execution_checkpoints (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			execution_id VARCHAR(255) NOT NULL,
			checkpoint_id VARCHAR(255) NOT NULL,
			checkpoint LONGTEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uniq_execution_checkpoint (execution_id, checkpoint_id),
			KEY idx_execution_id (execution_id)
		) ENGINE=InnoDB`,
	}
	for _, stmt := range statements {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (b *MySQLBackend) StoreState(executionID string, state *graph.ExecutionState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("mysql backend is closed")
	}

	data, err := json.Marshal(state.Export())
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	_, err = b.db.ExecContext(context.Background(), `
		INSERT INTO execution_state (execution_id, state) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE state = VALUES(state)
	`, executionID, data)
	if err != nil {
		return fmt.Errorf("store state: %w", err)
	}
	return nil
}

func (b *MySQLBackend) LoadState(executionID string) (*graph.ExecutionState, error) {
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

func (b *MySQLBackend) StoreCheckpoint(executionID string, cp *graph.Checkpoint) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("mysql backend is closed")
	}

	data, err := json.Marshal(cp.Export())
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	_, err = b.db.ExecContext(context.Background(), `
		INSERT INTO execution_checkpoints (execution_id, checkpoint_id, checkpoint) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE checkpoint = VALUES(checkpoint)
	`, executionID, cp.ID, data)
	if err != nil {
		return fmt.Errorf("store checkpoint: %w", err)
	}
	return nil
}

func (b *MySQLBackend) LoadCheckpoints(executionID string) ([]*graph.Checkpoint, error) {
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

func (b *MySQLBackend) Cleanup(executionID string) error {
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

func (b *MySQLBackend) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
