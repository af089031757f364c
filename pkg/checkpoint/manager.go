// Package checkpoint persists and loads opaque resumption tokens for
// in-flight tasks. One live checkpoint exists per task; it is deleted
// on successful completion and retained on failure so the next
// attempt can resume.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a task has no live checkpoint.
var ErrNotFound = errors.New("checkpoint: not found")

// ErrTooLarge is returned when a checkpoint blob exceeds the configured cap.
var ErrTooLarge = errors.New("checkpoint: data exceeds size cap")

// Checkpoint is the opaque resumption token for one task.
type Checkpoint struct {
	TaskID    string
	Token     string
	Data      json.RawMessage
	SizeBytes int
	CreatedAt time.Time
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS checkpoints (
    task_id TEXT PRIMARY KEY,
    token TEXT NOT NULL,
    data TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

// Manager is the Checkpoint Manager: saveCheckpoint/loadCheckpoint/deleteCheckpoint.
type Manager struct {
	db      *sql.DB
	dialect string
	maxSize int
}

// NewManager opens a Manager against db. maxSize bounds a checkpoint's
// serialized data; 0 means use the 1 MiB default.
func NewManager(db *sql.DB, dialect string, maxSize int) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("checkpoint: database connection is required")
	}
	if maxSize <= 0 {
		maxSize = 1 << 20
	}
	normalized := dialect
	if normalized == "sqlite3" {
		normalized = "sqlite"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("checkpoint: init schema: %w", err)
	}

	return &Manager{db: db, dialect: normalized, maxSize: maxSize}, nil
}

func (m *Manager) param(n int) string {
	if m.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// SaveCheckpoint upserts the task's current checkpoint.
func (m *Manager) SaveCheckpoint(ctx context.Context, taskID, token string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal data for %s: %w", taskID, err)
	}
	if len(raw) > m.maxSize {
		return fmt.Errorf("%w: %d bytes > %d cap", ErrTooLarge, len(raw), m.maxSize)
	}

	now := time.Now().UTC()
	switch m.dialect {
	case "postgres":
		query := fmt.Sprintf(`INSERT INTO checkpoints (task_id, token, data, size_bytes, created_at)
			VALUES (%s, %s, %s, %s, %s)
			ON CONFLICT (task_id) DO UPDATE SET token=EXCLUDED.token, data=EXCLUDED.data,
			size_bytes=EXCLUDED.size_bytes, created_at=EXCLUDED.created_at`,
			m.param(1), m.param(2), m.param(3), m.param(4), m.param(5))
		_, err = m.db.ExecContext(ctx, query, taskID, token, string(raw), len(raw), now)
	case "mysql":
		query := `INSERT INTO checkpoints (task_id, token, data, size_bytes, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE token=VALUES(token), data=VALUES(data),
			size_bytes=VALUES(size_bytes), created_at=VALUES(created_at)`
		_, err = m.db.ExecContext(ctx, query, taskID, token, string(raw), len(raw), now)
	default: // sqlite
		query := `INSERT INTO checkpoints (task_id, token, data, size_bytes, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (task_id) DO UPDATE SET token=excluded.token, data=excluded.data,
			size_bytes=excluded.size_bytes, created_at=excluded.created_at`
		_, err = m.db.ExecContext(ctx, query, taskID, token, string(raw), len(raw), now)
	}
	if err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", taskID, err)
	}
	return nil
}

// LoadCheckpoint returns the task's live checkpoint, or ErrNotFound.
func (m *Manager) LoadCheckpoint(ctx context.Context, taskID string) (*Checkpoint, error) {
	query := fmt.Sprintf(`SELECT task_id, token, data, size_bytes, created_at FROM checkpoints WHERE task_id = %s`, m.param(1))
	row := m.db.QueryRowContext(ctx, query, taskID)

	var c Checkpoint
	var raw string
	if err := row.Scan(&c.TaskID, &c.Token, &raw, &c.SizeBytes, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("checkpoint: load %s: %w", taskID, err)
	}
	c.Data = json.RawMessage(raw)
	return &c, nil
}

// DeleteCheckpoint removes a task's checkpoint; it is idempotent.
func (m *Manager) DeleteCheckpoint(ctx context.Context, taskID string) error {
	query := fmt.Sprintf(`DELETE FROM checkpoints WHERE task_id = %s`, m.param(1))
	_, err := m.db.ExecContext(ctx, query, taskID)
	if err != nil {
		return fmt.Errorf("checkpoint: delete %s: %w", taskID, err)
	}
	return nil
}

// CheckpointCallback is the curried partial an executor calls at its
// own discretion to record progress under a token for the bound task.
type CheckpointCallback func(ctx context.Context, token string, data any) error

// CreateCheckpointCallback returns a callback bound to taskID.
func (m *Manager) CreateCheckpointCallback(taskID string) CheckpointCallback {
	return func(ctx context.Context, token string, data any) error {
		return m.SaveCheckpoint(ctx, taskID, token, data)
	}
}
