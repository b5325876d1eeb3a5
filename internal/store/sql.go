package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	// Database drivers for the two supported backends.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQL is the durable store. It runs over postgres (shared deployments) or
// embedded sqlite (local mode); sqlx.Rebind bridges the placeholder
// dialects.
type SQL struct {
	db *sqlx.DB
}

// Open connects to the backing database and applies pending migrations.
// driver is "postgres" or "sqlite".
func Open(driver, dsn string) (*SQL, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	if driver == "sqlite" {
		// A single writer sidesteps SQLITE_BUSY under concurrent appends.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}
	if err := MigrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQL{db: db}, nil
}

// NewSQL wraps an existing connection. Migrations are the caller's concern.
func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db}
}

func (s *SQL) BeginRun(ctx context.Context, suiteName, environment, connection string) (*Run, error) {
	run := &Run{
		ID:          uuid.New().String(),
		SuiteName:   suiteName,
		Status:      RunRunning,
		StartedAt:   time.Now().UTC(),
		Environment: environment,
		Connection:  connection,
	}

	query := s.db.Rebind(`
		INSERT INTO runs (id, suite_name, status, started_at, bytes_scanned, query_ids, environment, connection, error_message)
		VALUES (?, ?, ?, ?, 0, '[]', ?, ?, '')`)
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.SuiteName, run.Status, run.StartedAt, run.Environment, run.Connection)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	return run, nil
}

func (s *SQL) AppendTest(ctx context.Context, runID string, test RunTest) error {
	status, err := s.runStatus(ctx, runID)
	if err != nil {
		return err
	}
	if status.Terminal() {
		return ErrRunFinalized
	}

	var exists int
	check := s.db.Rebind(`SELECT COUNT(*) FROM run_tests WHERE run_id = ? AND name = ?`)
	if err := s.db.GetContext(ctx, &exists, check, runID, test.Name); err != nil {
		return fmt.Errorf("append test: %w", err)
	}
	if exists > 0 {
		return ErrDuplicateTest
	}

	if test.ID == "" {
		test.ID = uuid.New().String()
	}
	observed, err := marshalJSONField(test.Observed)
	if err != nil {
		return fmt.Errorf("append test: %w", err)
	}
	expected, err := marshalJSONField(test.Expected)
	if err != nil {
		return fmt.Errorf("append test: %w", err)
	}

	query := s.db.Rebind(`
		INSERT INTO run_tests (id, run_id, name, type, status, started_at, finished_at, duration_ms, observed, expected, query_id, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		test.ID, runID, test.Name, test.Kind, test.Status,
		test.StartedAt, test.FinishedAt, test.DurationMS,
		observed, expected, test.QueryID, test.ErrorMessage)
	if err != nil {
		return fmt.Errorf("append test: %w", err)
	}
	return nil
}

func (s *SQL) FinalizeRun(ctx context.Context, runID string, fin Finalize) error {
	queryIDs, err := json.Marshal(fin.QueryIDs)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	if fin.QueryIDs == nil {
		queryIDs = []byte("[]")
	}

	// The status guard in the WHERE clause makes terminal monotonicity
	// atomic: a second finalize matches zero rows.
	query := s.db.Rebind(`
		UPDATE runs
		SET status = ?, finished_at = ?, duration_ms = ?, query_ids = ?, bytes_scanned = ?, error_message = ?
		WHERE id = ? AND status IN ('pending', 'running')`)
	result, err := s.db.ExecContext(ctx, query,
		fin.Status, fin.FinishedAt, fin.DurationMS, string(queryIDs),
		fin.BytesScanned, fin.ErrorMessage, runID)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	if affected == 0 {
		if _, err := s.runStatus(ctx, runID); err != nil {
			return err
		}
		return ErrRunFinalized
	}
	return nil
}

func (s *SQL) AppendArtifact(ctx context.Context, runID string, artifact Artifact) error {
	if _, err := s.runStatus(ctx, runID); err != nil {
		return err
	}

	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	query := s.db.Rebind(`
		INSERT INTO artifacts (id, run_id, kind, path, url, size_bytes, content_type, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		artifact.ID, runID, artifact.Kind, artifact.Path, artifact.URL,
		artifact.SizeBytes, artifact.ContentType, artifact.CreatedAt, artifact.ExpiresAt)
	if err != nil {
		return fmt.Errorf("append artifact: %w", err)
	}
	return nil
}

type runRow struct {
	ID           string         `db:"id"`
	SuiteName    string         `db:"suite_name"`
	Status       RunStatus      `db:"status"`
	StartedAt    time.Time      `db:"started_at"`
	FinishedAt   *time.Time     `db:"finished_at"`
	DurationMS   *int64         `db:"duration_ms"`
	BytesScanned int64          `db:"bytes_scanned"`
	QueryIDs     string         `db:"query_ids"`
	Environment  string         `db:"environment"`
	Connection   string         `db:"connection"`
	ErrorMessage sql.NullString `db:"error_message"`
}

func (r runRow) toRun() (Run, error) {
	run := Run{
		ID:           r.ID,
		SuiteName:    r.SuiteName,
		Status:       r.Status,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		DurationMS:   r.DurationMS,
		BytesScanned: r.BytesScanned,
		Environment:  r.Environment,
		Connection:   r.Connection,
		ErrorMessage: r.ErrorMessage.String,
	}
	if r.QueryIDs != "" {
		if err := json.Unmarshal([]byte(r.QueryIDs), &run.QueryIDs); err != nil {
			return Run{}, fmt.Errorf("decode query_ids for run %s: %w", r.ID, err)
		}
	}
	return run, nil
}

func (s *SQL) GetRun(ctx context.Context, runID string) (*Run, error) {
	var row runRow
	query := s.db.Rebind(`SELECT * FROM runs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	run, err := row.toRun()
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQL) ListRuns(ctx context.Context, filter ListFilter) ([]Run, error) {
	query := `SELECT * FROM runs WHERE 1=1`
	var args []any
	if filter.SuiteName != "" {
		query += ` AND suite_name = ?`
		args = append(args, filter.SuiteName)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

type testRow struct {
	ID           string         `db:"id"`
	RunID        string         `db:"run_id"`
	Name         string         `db:"name"`
	Kind         string         `db:"type"`
	Status       TestStatus     `db:"status"`
	StartedAt    time.Time      `db:"started_at"`
	FinishedAt   time.Time      `db:"finished_at"`
	DurationMS   int64          `db:"duration_ms"`
	Observed     sql.NullString `db:"observed"`
	Expected     sql.NullString `db:"expected"`
	QueryID      sql.NullString `db:"query_id"`
	ErrorMessage sql.NullString `db:"error_message"`
}

func (s *SQL) ListTests(ctx context.Context, runID string, limit, offset int) ([]RunTest, error) {
	if _, err := s.runStatus(ctx, runID); err != nil {
		return nil, err
	}

	query := `SELECT * FROM run_tests WHERE run_id = ? ORDER BY finished_at ASC`
	args := []any{runID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	if offset > 0 {
		query += ` OFFSET ?`
		args = append(args, offset)
	}

	var rows []testRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}

	tests := make([]RunTest, 0, len(rows))
	for _, row := range rows {
		test := RunTest{
			ID:           row.ID,
			RunID:        row.RunID,
			Name:         row.Name,
			Kind:         row.Kind,
			Status:       row.Status,
			StartedAt:    row.StartedAt,
			FinishedAt:   row.FinishedAt,
			DurationMS:   row.DurationMS,
			QueryID:      row.QueryID.String,
			ErrorMessage: row.ErrorMessage.String,
		}
		if err := unmarshalJSONField(row.Observed, &test.Observed); err != nil {
			return nil, fmt.Errorf("decode observed for test %s: %w", row.ID, err)
		}
		if err := unmarshalJSONField(row.Expected, &test.Expected); err != nil {
			return nil, fmt.Errorf("decode expected for test %s: %w", row.ID, err)
		}
		tests = append(tests, test)
	}
	return tests, nil
}

func (s *SQL) ListArtifacts(ctx context.Context, runID string) ([]Artifact, error) {
	if _, err := s.runStatus(ctx, runID); err != nil {
		return nil, err
	}

	var artifacts []Artifact
	query := s.db.Rebind(`
		SELECT id, run_id, kind, path, url, size_bytes, content_type, created_at, expires_at
		FROM artifacts WHERE run_id = ? ORDER BY created_at ASC`)
	if err := s.db.SelectContext(ctx, &artifacts, query, runID); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return artifacts, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) runStatus(ctx context.Context, runID string) (RunStatus, error) {
	var status RunStatus
	query := s.db.Rebind(`SELECT status FROM runs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &status, query, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrRunNotFound
		}
		return "", fmt.Errorf("run status: %w", err)
	}
	return status, nil
}

func marshalJSONField(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func unmarshalJSONField(raw sql.NullString, target *map[string]any) error {
	if !raw.Valid || raw.String == "" || raw.String == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), target)
}
