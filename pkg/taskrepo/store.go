package taskrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a task id has no matching row.
var ErrNotFound = errors.New("taskrepo: task not found")

const (
	createTableSQL = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    phase TEXT NOT NULL,
    type TEXT NOT NULL,
    target TEXT NOT NULL,
    input_json TEXT NOT NULL,
    retries INTEGER NOT NULL DEFAULT 0,
    budget_ms BIGINT NOT NULL DEFAULT 0,
    budget_tokens BIGINT NOT NULL DEFAULT 0,
    idempotence_key TEXT NOT NULL,
    status TEXT NOT NULL,
    worker_id TEXT,
    started_at TIMESTAMP,
    completed_at TIMESTAMP,
    last_heartbeat_at TIMESTAMP,
    result_json TEXT,
    error TEXT,
    cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
    tokens_used BIGINT NOT NULL DEFAULT 0,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    priority_class TEXT,
    overridable BOOLEAN NOT NULL DEFAULT FALSE,
    preempted BOOLEAN NOT NULL DEFAULT FALSE,
    preemption_reason TEXT,
    preempted_at TIMESTAMP,
    resumed_at TIMESTAMP,
    preemption_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

	createPhaseIdxSQL     = `CREATE INDEX IF NOT EXISTS idx_tasks_phase ON tasks(phase)`
	createStatusIdxSQL    = `CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`
	createHeartbeatIdxSQL = `CREATE INDEX IF NOT EXISTS idx_tasks_heartbeat ON tasks(last_heartbeat_at)`
	createIdemIdxSQL      = `CREATE INDEX IF NOT EXISTS idx_tasks_idempotence_key ON tasks(idempotence_key)`

	createPreemptionHistorySQL = `
CREATE TABLE IF NOT EXISTS preemption_history (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    reason TEXT,
    resource TEXT,
    preempted_at TIMESTAMP NOT NULL,
    resumed_at TIMESTAMP
)`
)

// Store is a relational Task Repository: durable state of every task.
type Store struct {
	db      *sql.DB
	dialect string
}

// New opens a Store against db, normalizing the dialect the way the
// rest of the module does ("sqlite3" -> "sqlite" for query building).
func New(db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("taskrepo: database connection is required")
	}
	normalized := dialect
	if normalized == "sqlite3" {
		normalized = "sqlite"
	}
	switch normalized {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("taskrepo: unsupported dialect %q", dialect)
	}

	s := &Store{db: db, dialect: normalized}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("taskrepo: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, stmt := range []string{createTableSQL, createPhaseIdxSQL, createStatusIdxSQL, createHeartbeatIdxSQL, createIdemIdxSQL, createPreemptionHistorySQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) param(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Create inserts a new task from spec with status=pending and returns its id.
func (s *Store) Create(ctx context.Context, spec TaskSpec) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	inputJSON, err := json.Marshal(spec.Input)
	if err != nil {
		return "", fmt.Errorf("taskrepo: marshal input: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO tasks
		(id, phase, type, target, input_json, retries, budget_ms, budget_tokens, idempotence_key, status, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.param(1), s.param(2), s.param(3), s.param(4), s.param(5), s.param(6),
		s.param(7), s.param(8), s.param(9), s.param(10), s.param(11), s.param(12))

	_, err = s.db.ExecContext(ctx, query,
		id, spec.Phase, spec.Type, spec.Target, string(inputJSON), spec.Retries,
		spec.Budget.MS, spec.Budget.Tokens, spec.IdempotenceKey, StatusPending, now, now)
	if err != nil {
		return "", fmt.Errorf("taskrepo: create: %w", err)
	}
	return id, nil
}

// GetByID loads a task by id.
func (s *Store) GetByID(ctx context.Context, id string) (*Task, error) {
	query := fmt.Sprintf(`SELECT id, phase, type, target, input_json, retries, budget_ms, budget_tokens,
		idempotence_key, status, worker_id, started_at, completed_at, last_heartbeat_at, result_json, error,
		cost_usd, tokens_used, duration_ms, priority_class, overridable, preempted, preemption_reason,
		preempted_at, resumed_at, preemption_count, created_at, updated_at
		FROM tasks WHERE id = %s`, s.param(1))

	row := s.db.QueryRowContext(ctx, query, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taskrepo: get %s: %w", id, err)
	}
	return t, nil
}

// GetByIdempotenceKey loads the task row a dequeued message maps back
// to; the queue carries a TaskSpec, not a row id, so workers resolve
// the durable task by the same key the scheduler derived it with.
func (s *Store) GetByIdempotenceKey(ctx context.Context, key string) (*Task, error) {
	query := fmt.Sprintf(`SELECT id, phase, type, target, input_json, retries, budget_ms, budget_tokens,
		idempotence_key, status, worker_id, started_at, completed_at, last_heartbeat_at, result_json, error,
		cost_usd, tokens_used, duration_ms, priority_class, overridable, preempted, preemption_reason,
		preempted_at, resumed_at, preemption_count, created_at, updated_at
		FROM tasks WHERE idempotence_key = %s`, s.param(1))

	row := s.db.QueryRowContext(ctx, query, key)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taskrepo: get by idempotence key: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var inputJSON, resultJSON sql.NullString
	var workerID, errStr, priorityClass, preemptionReason sql.NullString
	var startedAt, completedAt, lastHeartbeatAt, preemptedAt, resumedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.Phase, &t.Type, &t.Target, &inputJSON, &t.Retries, &t.Budget.MS, &t.Budget.Tokens,
		&t.IdempotenceKey, &t.Status, &workerID, &startedAt, &completedAt, &lastHeartbeatAt, &resultJSON, &errStr,
		&t.CostUSD, &t.TokensUsed, &t.DurationMS, &priorityClass, &t.Overridable, &t.Preempted, &preemptionReason,
		&preemptedAt, &resumedAt, &t.PreemptionCount, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if inputJSON.Valid && inputJSON.String != "" {
		_ = json.Unmarshal([]byte(inputJSON.String), &t.Input)
	}
	if resultJSON.Valid && resultJSON.String != "" {
		_ = json.Unmarshal([]byte(resultJSON.String), &t.Result)
	}
	t.WorkerID = workerID.String
	t.Error = errStr.String
	t.PriorityClass = PriorityClass(priorityClass.String)
	t.PreemptionReason = preemptionReason.String
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if lastHeartbeatAt.Valid {
		t.LastHeartbeatAt = &lastHeartbeatAt.Time
	}
	if preemptedAt.Valid {
		t.PreemptedAt = &preemptedAt.Time
	}
	if resumedAt.Valid {
		t.ResumedAt = &resumedAt.Time
	}
	return &t, nil
}

// UpdateStatus transitions a task's status; transitioning to 'running'
// additionally stamps started_at=now and records workerID.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status, workerID string) error {
	now := time.Now().UTC()
	if status == StatusRunning {
		query := fmt.Sprintf(`UPDATE tasks SET status=%s, worker_id=%s, started_at=%s, updated_at=%s WHERE id=%s`,
			s.param(1), s.param(2), s.param(3), s.param(4), s.param(5))
		_, err := s.db.ExecContext(ctx, query, status, workerID, now, now, id)
		return err
	}
	query := fmt.Sprintf(`UPDATE tasks SET status=%s, updated_at=%s WHERE id=%s`, s.param(1), s.param(2), s.param(3))
	_, err := s.db.ExecContext(ctx, query, status, now, id)
	return err
}

// UpdateHeartbeat stamps last_heartbeat_at=now for a running task.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC()
	query := fmt.Sprintf(`UPDATE tasks SET last_heartbeat_at=%s, updated_at=%s WHERE id=%s`, s.param(1), s.param(2), s.param(3))
	_, err := s.db.ExecContext(ctx, query, now, now, id)
	return err
}

// Complete stamps completed_at=now and records the final result/metrics.
func (s *Store) Complete(ctx context.Context, id string, result map[string]any, m Metrics) error {
	now := time.Now().UTC()
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("taskrepo: marshal result: %w", err)
	}
	query := fmt.Sprintf(`UPDATE tasks SET status=%s, result_json=%s, cost_usd=%s, tokens_used=%s,
		duration_ms=%s, completed_at=%s, updated_at=%s WHERE id=%s`,
		s.param(1), s.param(2), s.param(3), s.param(4), s.param(5), s.param(6), s.param(7), s.param(8))
	_, err = s.db.ExecContext(ctx, query, StatusCompleted, string(resultJSON), m.CostUSD, m.Tokens, m.DurationMS, now, now, id)
	if err != nil {
		return fmt.Errorf("taskrepo: complete %s: %w", id, err)
	}
	return nil
}

// Fail stamps completed_at=now, records the error and sets retries to
// the count the caller passes.
func (s *Store) Fail(ctx context.Context, id string, cause error, retries int) error {
	now := time.Now().UTC()
	query := fmt.Sprintf(`UPDATE tasks SET status=%s, error=%s, retries=%s, completed_at=%s, updated_at=%s WHERE id=%s`,
		s.param(1), s.param(2), s.param(3), s.param(4), s.param(5), s.param(6))
	_, err := s.db.ExecContext(ctx, query, StatusFailed, cause.Error(), retries, now, now, id)
	if err != nil {
		return fmt.Errorf("taskrepo: fail %s: %w", id, err)
	}
	return nil
}

// GetByPhase lists tasks for a phase, optionally filtered by status.
func (s *Store) GetByPhase(ctx context.Context, phase string, status *Status) ([]*Task, error) {
	var rows *sql.Rows
	var err error
	if status != nil {
		query := fmt.Sprintf(`SELECT id, phase, type, target, input_json, retries, budget_ms, budget_tokens,
			idempotence_key, status, worker_id, started_at, completed_at, last_heartbeat_at, result_json, error,
			cost_usd, tokens_used, duration_ms, priority_class, overridable, preempted, preemption_reason,
			preempted_at, resumed_at, preemption_count, created_at, updated_at
			FROM tasks WHERE phase = %s AND status = %s`, s.param(1), s.param(2))
		rows, err = s.db.QueryContext(ctx, query, phase, *status)
	} else {
		query := fmt.Sprintf(`SELECT id, phase, type, target, input_json, retries, budget_ms, budget_tokens,
			idempotence_key, status, worker_id, started_at, completed_at, last_heartbeat_at, result_json, error,
			cost_usd, tokens_used, duration_ms, priority_class, overridable, preempted, preemption_reason,
			preempted_at, resumed_at, preemption_count, created_at, updated_at
			FROM tasks WHERE phase = %s`, s.param(1))
		rows, err = s.db.QueryContext(ctx, query, phase)
	}
	if err != nil {
		return nil, fmt.Errorf("taskrepo: get by phase %s: %w", phase, err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("taskrepo: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetStalledTasks returns running tasks whose last heartbeat is older than idle.
func (s *Store) GetStalledTasks(ctx context.Context, idle time.Duration) ([]*Task, error) {
	cutoff := time.Now().UTC().Add(-idle)
	query := fmt.Sprintf(`SELECT id, phase, type, target, input_json, retries, budget_ms, budget_tokens,
		idempotence_key, status, worker_id, started_at, completed_at, last_heartbeat_at, result_json, error,
		cost_usd, tokens_used, duration_ms, priority_class, overridable, preempted, preemption_reason,
		preempted_at, resumed_at, preemption_count, created_at, updated_at
		FROM tasks WHERE status = %s AND (last_heartbeat_at IS NULL OR last_heartbeat_at < %s)`,
		s.param(1), s.param(2))

	rows, err := s.db.QueryContext(ctx, query, StatusRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("taskrepo: get stalled tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("taskrepo: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetStatsByPhase aggregates task outcomes for a phase.
func (s *Store) GetStatsByPhase(ctx context.Context, phase string) (Stats, error) {
	tasks, err := s.GetByPhase(ctx, phase, nil)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Phase: phase, Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		case StatusPreempted:
			stats.Preempted++
		}
	}
	return stats, nil
}

// CancelPhase marks all pending|running tasks of a phase as cancelled,
// returning the count affected.
func (s *Store) CancelPhase(ctx context.Context, phase string) (int, error) {
	now := time.Now().UTC()
	query := fmt.Sprintf(`UPDATE tasks SET status=%s, completed_at=%s, updated_at=%s
		WHERE phase=%s AND status IN (%s, %s)`,
		s.param(1), s.param(2), s.param(3), s.param(4), s.param(5), s.param(6))
	res, err := s.db.ExecContext(ctx, query, StatusCancelled, now, now, phase, StatusPending, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("taskrepo: cancel phase %s: %w", phase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		slog.Warn("taskrepo: rows affected unavailable for this driver", "phase", phase)
		return 0, nil
	}
	return int(n), nil
}
