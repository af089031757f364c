package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrFrameNotFound is returned when a frame ID has no stored record.
var ErrFrameNotFound = errors.New("vault: frame not found")

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS vault_frames (
    id TEXT PRIMARY KEY,
    scope TEXT NOT NULL,
    theme TEXT NOT NULL,
    summary TEXT NOT NULL,
    claims TEXT NOT NULL,
    citations TEXT NOT NULL,
    parents TEXT,
    children TEXT,
    version TEXT NOT NULL,
    provenance TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    ttl_ms INTEGER,
    pinned BOOLEAN NOT NULL DEFAULT FALSE,
    tags TEXT,
    run_id TEXT,
    phase TEXT
);

CREATE TABLE IF NOT EXISTS vault_qa_bindings (
    id TEXT PRIMARY KEY,
    question TEXT NOT NULL,
    answer TEXT NOT NULL,
    validator_score REAL NOT NULL,
    grounding REAL NOT NULL,
    contradictions INTEGER NOT NULL,
    citations TEXT NOT NULL,
    run_id TEXT,
    phase TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS vault_artifacts (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    uri TEXT NOT NULL,
    sha256 TEXT NOT NULL,
    phase TEXT,
    run_id TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS vault_signals (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    value REAL NOT NULL,
    tags TEXT,
    run_id TEXT,
    phase TEXT,
    created_at TIMESTAMP NOT NULL
)`

// Store is the Memory Vault's SQL-backed persistence layer.
type Store struct {
	db      *sql.DB
	dialect string
}

// NewStore opens a Store against db, creating its tables if absent.
func NewStore(db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("vault: database connection is required")
	}
	normalized := dialect
	if normalized == "sqlite3" {
		normalized = "sqlite"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range strings.Split(createSchemaSQL, ";\n\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("vault: init schema: %w", err)
		}
	}
	return &Store{db: db, dialect: normalized}, nil
}

func (s *Store) param(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func joinCSV(vals []string) string { return strings.Join(vals, "\x1f") }

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x1f")
}

// UpsertFrame inserts or replaces a frame by ID.
func (s *Store) UpsertFrame(ctx context.Context, f Frame) error {
	prov, err := json.Marshal(f.Provenance)
	if err != nil {
		return fmt.Errorf("vault: marshal provenance for %s: %w", f.ID, err)
	}

	var query string
	switch s.dialect {
	case "postgres":
		query = fmt.Sprintf(`INSERT INTO vault_frames
			(id, scope, theme, summary, claims, citations, parents, children, version, provenance, created_at, updated_at, ttl_ms, pinned, tags, run_id, phase)
			VALUES (%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s)
			ON CONFLICT (id) DO UPDATE SET scope=EXCLUDED.scope, theme=EXCLUDED.theme, summary=EXCLUDED.summary,
			claims=EXCLUDED.claims, citations=EXCLUDED.citations, parents=EXCLUDED.parents, children=EXCLUDED.children,
			version=EXCLUDED.version, provenance=EXCLUDED.provenance, updated_at=EXCLUDED.updated_at,
			ttl_ms=EXCLUDED.ttl_ms, pinned=EXCLUDED.pinned, tags=EXCLUDED.tags, run_id=EXCLUDED.run_id, phase=EXCLUDED.phase`,
			s.param(1), s.param(2), s.param(3), s.param(4), s.param(5), s.param(6), s.param(7), s.param(8),
			s.param(9), s.param(10), s.param(11), s.param(12), s.param(13), s.param(14), s.param(15), s.param(16), s.param(17))
	case "mysql":
		query = `INSERT INTO vault_frames
			(id, scope, theme, summary, claims, citations, parents, children, version, provenance, created_at, updated_at, ttl_ms, pinned, tags, run_id, phase)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON DUPLICATE KEY UPDATE scope=VALUES(scope), theme=VALUES(theme), summary=VALUES(summary),
			claims=VALUES(claims), citations=VALUES(citations), parents=VALUES(parents), children=VALUES(children),
			version=VALUES(version), provenance=VALUES(provenance), updated_at=VALUES(updated_at),
			ttl_ms=VALUES(ttl_ms), pinned=VALUES(pinned), tags=VALUES(tags), run_id=VALUES(run_id), phase=VALUES(phase)`
	default: // sqlite
		query = `INSERT INTO vault_frames
			(id, scope, theme, summary, claims, citations, parents, children, version, provenance, created_at, updated_at, ttl_ms, pinned, tags, run_id, phase)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (id) DO UPDATE SET scope=excluded.scope, theme=excluded.theme, summary=excluded.summary,
			claims=excluded.claims, citations=excluded.citations, parents=excluded.parents, children=excluded.children,
			version=excluded.version, provenance=excluded.provenance, updated_at=excluded.updated_at,
			ttl_ms=excluded.ttl_ms, pinned=excluded.pinned, tags=excluded.tags, run_id=excluded.run_id, phase=excluded.phase`
	}

	_, err = s.db.ExecContext(ctx, query, f.ID, string(f.Scope), f.Theme, f.Summary,
		joinCSV(f.Claims), joinCSV(f.Citations), joinCSV(f.Parents), joinCSV(f.Children),
		f.Version, string(prov), f.CreatedAt, f.UpdatedAt, f.TTLMS, f.Pinned, joinCSV(f.Tags), f.RunID, f.Phase)
	if err != nil {
		return fmt.Errorf("vault: upsert frame %s: %w", f.ID, err)
	}
	return nil
}

func (s *Store) scanFrame(row interface {
	Scan(dest ...any) error
}) (Frame, error) {
	var f Frame
	var scope, claims, citations, parents, children, prov, tags string
	var runID, phase sql.NullString
	var ttlMS sql.NullInt64

	err := row.Scan(&f.ID, &scope, &f.Theme, &f.Summary, &claims, &citations, &parents, &children,
		&f.Version, &prov, &f.CreatedAt, &f.UpdatedAt, &ttlMS, &f.Pinned, &tags, &runID, &phase)
	if err != nil {
		return Frame{}, err
	}

	f.Scope = Scope(scope)
	f.Claims = splitCSV(claims)
	f.Citations = splitCSV(citations)
	f.Parents = splitCSV(parents)
	f.Children = splitCSV(children)
	f.Tags = splitCSV(tags)
	f.RunID = runID.String
	f.Phase = phase.String
	if ttlMS.Valid {
		f.TTLMS = &ttlMS.Int64
	}
	if err := json.Unmarshal([]byte(prov), &f.Provenance); err != nil {
		return Frame{}, fmt.Errorf("vault: unmarshal provenance for %s: %w", f.ID, err)
	}
	return f, nil
}

// GetFrame loads one frame by ID.
func (s *Store) GetFrame(ctx context.Context, id string) (Frame, error) {
	query := fmt.Sprintf(`SELECT id, scope, theme, summary, claims, citations, parents, children, version, provenance,
		created_at, updated_at, ttl_ms, pinned, tags, run_id, phase FROM vault_frames WHERE id = %s`, s.param(1))
	row := s.db.QueryRowContext(ctx, query, id)
	f, err := s.scanFrame(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Frame{}, ErrFrameNotFound
		}
		return Frame{}, fmt.Errorf("vault: get frame %s: %w", id, err)
	}
	return f, nil
}

// ListFrames returns every stored frame, optionally restricted to a scope.
func (s *Store) ListFrames(ctx context.Context, scope Scope) ([]Frame, error) {
	var rows *sql.Rows
	var err error
	if scope != "" {
		query := fmt.Sprintf(`SELECT id, scope, theme, summary, claims, citations, parents, children, version, provenance,
			created_at, updated_at, ttl_ms, pinned, tags, run_id, phase FROM vault_frames WHERE scope = %s`, s.param(1))
		rows, err = s.db.QueryContext(ctx, query, string(scope))
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id, scope, theme, summary, claims, citations, parents, children, version, provenance,
			created_at, updated_at, ttl_ms, pinned, tags, run_id, phase FROM vault_frames`)
	}
	if err != nil {
		return nil, fmt.Errorf("vault: list frames: %w", err)
	}
	defer rows.Close()

	var out []Frame
	for rows.Next() {
		f, err := s.scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("vault: scan frame: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFrame removes a frame by ID. It is idempotent.
func (s *Store) DeleteFrame(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM vault_frames WHERE id = %s`, s.param(1))
	_, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("vault: delete frame %s: %w", id, err)
	}
	return nil
}

// UpdateTTL sets a frame's TTL in milliseconds. A nil ttlMS clears it
// (the frame never expires by age alone).
func (s *Store) UpdateTTL(ctx context.Context, id string, ttlMS *int64) error {
	query := fmt.Sprintf(`UPDATE vault_frames SET ttl_ms = %s, updated_at = %s WHERE id = %s`, s.param(1), s.param(2), s.param(3))
	res, err := s.db.ExecContext(ctx, query, ttlMS, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("vault: update ttl for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFrameNotFound
	}
	return nil
}

// SetPinned sets a frame's pinned flag. Pinned frames ignore TTL and
// are never removed by Forget.
func (s *Store) SetPinned(ctx context.Context, id string, pinned bool) error {
	query := fmt.Sprintf(`UPDATE vault_frames SET pinned = %s, updated_at = %s WHERE id = %s`, s.param(1), s.param(2), s.param(3))
	res, err := s.db.ExecContext(ctx, query, pinned, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("vault: set pinned for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFrameNotFound
	}
	return nil
}

// InsertQABinding stores a Q&A pair.
func (s *Store) InsertQABinding(ctx context.Context, qa QABinding) error {
	query := fmt.Sprintf(`INSERT INTO vault_qa_bindings
		(id, question, answer, validator_score, grounding, contradictions, citations, run_id, phase, created_at)
		VALUES (%s,%s,%s,%s,%s,%s,%s,%s,%s,%s)`,
		s.param(1), s.param(2), s.param(3), s.param(4), s.param(5), s.param(6), s.param(7), s.param(8), s.param(9), s.param(10))
	_, err := s.db.ExecContext(ctx, query, qa.ID, qa.Question, qa.Answer, qa.ValidatorScore, qa.Grounding,
		qa.Contradictions, joinCSV(qa.Citations), qa.RunID, qa.Phase, qa.CreatedAt)
	if err != nil {
		return fmt.Errorf("vault: insert qa binding %s: %w", qa.ID, err)
	}
	return nil
}

// InsertArtifact stores an artifact reference.
func (s *Store) InsertArtifact(ctx context.Context, a Artifact) error {
	query := fmt.Sprintf(`INSERT INTO vault_artifacts (id, type, uri, sha256, phase, run_id, created_at)
		VALUES (%s,%s,%s,%s,%s,%s,%s)`, s.param(1), s.param(2), s.param(3), s.param(4), s.param(5), s.param(6), s.param(7))
	_, err := s.db.ExecContext(ctx, query, a.ID, a.Type, a.URI, a.SHA256, a.Phase, a.RunID, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("vault: insert artifact %s: %w", a.ID, err)
	}
	return nil
}

// ListArtifacts returns every stored artifact, optionally restricted to a run.
func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]Artifact, error) {
	var rows *sql.Rows
	var err error
	if runID != "" {
		query := fmt.Sprintf(`SELECT id, type, uri, sha256, phase, run_id, created_at FROM vault_artifacts WHERE run_id = %s`, s.param(1))
		rows, err = s.db.QueryContext(ctx, query, runID)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id, type, uri, sha256, phase, run_id, created_at FROM vault_artifacts`)
	}
	if err != nil {
		return nil, fmt.Errorf("vault: list artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		var phase, rid sql.NullString
		if err := rows.Scan(&a.ID, &a.Type, &a.URI, &a.SHA256, &phase, &rid, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("vault: scan artifact: %w", err)
		}
		a.Phase, a.RunID = phase.String, rid.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertSignal stores a telemetry signal.
func (s *Store) InsertSignal(ctx context.Context, sig Signal) error {
	tags, err := json.Marshal(sig.Tags)
	if err != nil {
		return fmt.Errorf("vault: marshal tags for signal %s: %w", sig.ID, err)
	}
	query := fmt.Sprintf(`INSERT INTO vault_signals (id, name, value, tags, run_id, phase, created_at)
		VALUES (%s,%s,%s,%s,%s,%s,%s)`, s.param(1), s.param(2), s.param(3), s.param(4), s.param(5), s.param(6), s.param(7))
	_, err = s.db.ExecContext(ctx, query, sig.ID, sig.Name, sig.Value, string(tags), sig.RunID, sig.Phase, sig.CreatedAt)
	if err != nil {
		return fmt.Errorf("vault: insert signal %s: %w", sig.ID, err)
	}
	return nil
}
