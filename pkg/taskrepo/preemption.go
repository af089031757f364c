package taskrepo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AssignPriority sets a task's priority_class. If a prior assignment
// exists and overridable is false on that prior assignment, the call
// fails (overridable governs re-assignment, not preemption eligibility).
func (s *Store) AssignPriority(ctx context.Context, id string, class PriorityClass, overridable bool) error {
	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.PriorityClass != "" && !existing.Overridable {
		return fmt.Errorf("taskrepo: priority for %s already assigned to %s and not overridable", id, existing.PriorityClass)
	}
	query := fmt.Sprintf(`UPDATE tasks SET priority_class=%s, overridable=%s, updated_at=%s WHERE id=%s`,
		s.param(1), s.param(2), s.param(3), s.param(4))
	_, err = s.db.ExecContext(ctx, query, class, overridable, time.Now().UTC(), id)
	return err
}

// Preempt performs the coupled task-row + preemption_history write in a
// single transaction: preempted=true, preemption_reason, preempted_at=now,
// preemption_count+=1, status='preempted'.
func (s *Store) Preempt(ctx context.Context, id, reason, resource string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("taskrepo: begin preempt tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	updateQuery := fmt.Sprintf(`UPDATE tasks SET status=%s, preempted=%s, preemption_reason=%s,
		preempted_at=%s, preemption_count = preemption_count + 1, updated_at=%s WHERE id=%s`,
		s.param(1), s.param(2), s.param(3), s.param(4), s.param(5), s.param(6))
	if _, err := tx.ExecContext(ctx, updateQuery, StatusPreempted, true, reason, now, now, id); err != nil {
		return fmt.Errorf("taskrepo: preempt %s: %w", id, err)
	}

	histQuery := fmt.Sprintf(`INSERT INTO preemption_history (id, task_id, reason, resource, preempted_at)
		VALUES (%s, %s, %s, %s, %s)`, s.param(1), s.param(2), s.param(3), s.param(4), s.param(5))
	if _, err := tx.ExecContext(ctx, histQuery, uuid.NewString(), id, reason, resource, now); err != nil {
		return fmt.Errorf("taskrepo: preemption_history insert for %s: %w", id, err)
	}

	return tx.Commit()
}

// Resume clears the preempted flag, sets status=pending, resumed_at=now,
// and stamps the most recent preemption_history row's resumed_at.
func (s *Store) Resume(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("taskrepo: begin resume tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	updateQuery := fmt.Sprintf(`UPDATE tasks SET status=%s, preempted=%s, resumed_at=%s, updated_at=%s WHERE id=%s`,
		s.param(1), s.param(2), s.param(3), s.param(4), s.param(5))
	if _, err := tx.ExecContext(ctx, updateQuery, StatusPending, false, now, now, id); err != nil {
		return fmt.Errorf("taskrepo: resume %s: %w", id, err)
	}

	latestIDQuery := fmt.Sprintf(`SELECT id FROM preemption_history WHERE task_id=%s AND resumed_at IS NULL
		ORDER BY preempted_at DESC LIMIT 1`, s.param(1))
	var histID string
	err = tx.QueryRowContext(ctx, latestIDQuery, id).Scan(&histID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("taskrepo: locate preemption_history for %s: %w", id, err)
	}
	if histID != "" {
		resumeQuery := fmt.Sprintf(`UPDATE preemption_history SET resumed_at=%s WHERE id=%s`, s.param(1), s.param(2))
		if _, err := tx.ExecContext(ctx, resumeQuery, now, histID); err != nil {
			return fmt.Errorf("taskrepo: stamp preemption_history %s: %w", histID, err)
		}
	}

	return tx.Commit()
}

// PreemptionCount returns the task's current preemption_count.
func (s *Store) PreemptionCount(ctx context.Context, id string) (int, error) {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return t.PreemptionCount, nil
}

// GetRunningByClasses lists running tasks whose priority_class is one
// of classes, ordered oldest-started first (used by selection strategies).
func (s *Store) GetRunningByClasses(ctx context.Context, classes []PriorityClass) ([]*Task, error) {
	if len(classes) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(classes))
	args := make([]any, 0, len(classes)+1)
	args = append(args, StatusRunning)
	for i, c := range classes {
		placeholders[i] = s.param(i + 2)
		args = append(args, c)
	}
	query := fmt.Sprintf(`SELECT id, phase, type, target, input_json, retries, budget_ms, budget_tokens,
		idempotence_key, status, worker_id, started_at, completed_at, last_heartbeat_at, result_json, error,
		cost_usd, tokens_used, duration_ms, priority_class, overridable, preempted, preemption_reason,
		preempted_at, resumed_at, preemption_count, created_at, updated_at
		FROM tasks WHERE status=%s AND priority_class IN (%s) ORDER BY started_at ASC`,
		s.param(1), joinPlaceholders(placeholders))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("taskrepo: get running by classes: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func joinPlaceholders(ps []string) string {
	out := ps[0]
	for _, p := range ps[1:] {
		out += ", " + p
	}
	return out
}
