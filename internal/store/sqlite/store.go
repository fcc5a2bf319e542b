package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crewforge/internal/domain"

	_ "modernc.org/sqlite"
)

var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	user_request TEXT NOT NULL,
	status TEXT NOT NULL,
	fact_sheet TEXT NOT NULL DEFAULT '{}',
	last_error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	producer_agent TEXT NOT NULL,
	kind TEXT NOT NULL,
	uri TEXT NOT NULL,
	checksum TEXT NOT NULL,
	metadata TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id, created_at);

CREATE TABLE IF NOT EXISTS decision_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_decision_log_run ON decision_log(run_id, created_at);

CREATE TABLE IF NOT EXISTS file_change_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	path TEXT NOT NULL,
	allowed INTEGER NOT NULL,
	reason TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_file_change_log_run ON file_change_log(run_id, created_at);
`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}
	factSheet := string(run.FactSheet)
	if factSheet == "" {
		factSheet = "{}"
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs(id, user_request, status, fact_sheet, last_error, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.UserRequest, string(run.Status), factSheet, run.LastError,
		run.CreatedAt.Unix(), run.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRunFactSheet replaces the stored fact sheet snapshot of a run.
func (s *Store) UpdateRunFactSheet(ctx context.Context, runID string, factSheet []byte) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET fact_sheet = ?, updated_at = ? WHERE id = ?`,
		string(factSheet), time.Now().UTC().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("update run fact sheet: %w", err)
	}
	return requireAffected(res, runID)
}

func (s *Store) FinishRun(ctx context.Context, runID string, status domain.RunStatus, lastError string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(status), lastError, time.Now().UTC().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return requireAffected(res, runID)
}

func (s *Store) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, user_request, status, fact_sheet, last_error, created_at, updated_at
		FROM runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, user_request, status, fact_sheet, last_error, created_at, updated_at
		FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return result, nil
}

func (s *Store) CreateArtifact(ctx context.Context, artifact domain.Artifact) error {
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	if artifact.Metadata == nil {
		artifact.Metadata = []byte("{}")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO artifacts(id, run_id, producer_agent, kind, uri, checksum, metadata, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.ID, artifact.RunID, artifact.ProducerAgent, artifact.Kind, artifact.URI,
		artifact.Checksum, string(artifact.Metadata), artifact.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	return nil
}

func (s *Store) ListRunArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, producer_agent, kind, uri, checksum, metadata, created_at
		FROM artifacts WHERE run_id = ? ORDER BY created_at ASC, rowid ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list run artifacts: %w", err)
	}
	defer rows.Close()

	var result []domain.Artifact
	for rows.Next() {
		var item domain.Artifact
		var metadata string
		var createdAt int64
		if err := rows.Scan(
			&item.ID, &item.RunID, &item.ProducerAgent, &item.Kind, &item.URI,
			&item.Checksum, &metadata, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		item.Metadata = []byte(metadata)
		item.CreatedAt = unixToTime(createdAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return result, nil
}

func (s *Store) LogDecision(ctx context.Context, entry domain.DecisionLog) error {
	payload := string(entry.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO decision_log(run_id, actor, action, reason, payload, created_at)
		VALUES(?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.Actor, entry.Action, entry.Reason, payload, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// ListRunDecisions returns the newest decisions first.
func (s *Store) ListRunDecisions(ctx context.Context, runID string, limit int) ([]domain.DecisionLog, error) {
	if limit <= 0 {
		limit = 300
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, actor, action, reason, payload, created_at
		FROM decision_log
		WHERE run_id = ?
		ORDER BY id DESC
		LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list run decisions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.DecisionLog, 0)
	for rows.Next() {
		var item domain.DecisionLog
		var payload string
		var createdAt int64
		if err := rows.Scan(&item.ID, &item.RunID, &item.Actor, &item.Action, &item.Reason, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		item.Payload = []byte(payload)
		item.CreatedAt = unixToTime(createdAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return result, nil
}

func (s *Store) LogFileChange(ctx context.Context, entry domain.FileChangeLog) error {
	allowed := 0
	if entry.Allowed {
		allowed = 1
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO file_change_log(run_id, agent_id, operation, path, allowed, reason, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.AgentID, string(entry.Operation), entry.Path, allowed, entry.Reason, entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("log file change: %w", err)
	}
	return nil
}

func (s *Store) ListRunFileChanges(ctx context.Context, runID string) ([]domain.FileChangeLog, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, agent_id, operation, path, allowed, reason, created_at
		FROM file_change_log WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list run file changes: %w", err)
	}
	defer rows.Close()

	var result []domain.FileChangeLog
	for rows.Next() {
		var item domain.FileChangeLog
		var operation string
		var allowed int
		var createdAt int64
		if err := rows.Scan(&item.ID, &item.RunID, &item.AgentID, &operation, &item.Path, &allowed, &item.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan file change: %w", err)
		}
		item.Operation = domain.FileOperation(operation)
		item.Allowed = allowed == 1
		item.CreatedAt = unixToTime(createdAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file changes: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.Run, error) {
	var run domain.Run
	var status, factSheet string
	var created, updated int64
	if err := row.Scan(&run.ID, &run.UserRequest, &status, &factSheet, &run.LastError, &created, &updated); err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.RunStatus(status)
	run.FactSheet = []byte(factSheet)
	run.CreatedAt = unixToTime(created)
	run.UpdatedAt = unixToTime(updated)
	return run, nil
}

func requireAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}
