// Package store implements the Orchestrator's durable persistence: queryable
// artifact/job tables backed by SQLite, plus (in snapshot.go) a crash-safe
// JSON mirror of the full per-project state document.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sral/selfrefine/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a SQLite-backed connection holding the artifacts and
// dispatched_jobs tables.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if necessary) the SQLite database at dbPath and
// applies the embedded schema. dbPath may be ":memory:" for tests.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("store: execute schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertArtifact inserts a new artifact row, or replaces it in place when
// id already exists (a generation callback arriving after a retry, or a
// status update from pending to SUCCESS/FAILED).
func (s *Store) UpsertArtifact(ctx context.Context, a *domain.ArtifactRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, project_id, wave_number, r2_path, status, quality_score, evaluation_details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			r2_path = excluded.r2_path,
			status = excluded.status,
			quality_score = excluded.quality_score,
			evaluation_details = excluded.evaluation_details`,
		a.ID, a.ProjectID, a.WaveNumber, nullString(a.BlobPath), string(a.Status),
		nullFloat(a.QualityScore), nullString(a.EvaluationDetails), a.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: upsert artifact %s: %w", a.ID, err)
	}
	return nil
}

// GetArtifact loads a single artifact by id.
func (s *Store) GetArtifact(ctx context.Context, id string) (*domain.ArtifactRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, wave_number, r2_path, status, quality_score, evaluation_details, created_at
		FROM artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: artifact %s: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("store: get artifact %s: %w", id, err)
	}
	return a, nil
}

// ListArtifactsByWave returns every artifact dispatched in a given wave,
// ordered by id for deterministic top-K tie-breaking downstream.
func (s *Store) ListArtifactsByWave(ctx context.Context, projectID string, wave int) ([]*domain.ArtifactRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, wave_number, r2_path, status, quality_score, evaluation_details, created_at
		FROM artifacts WHERE project_id = ? AND wave_number = ? ORDER BY id ASC`, projectID, wave)
	if err != nil {
		return nil, fmt.Errorf("store: list artifacts %s/%d: %w", projectID, wave, err)
	}
	defer rows.Close()

	var out []*domain.ArtifactRecord
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountViableArtifacts returns how many artifacts across all waves of a
// project have a quality score at or above threshold, used to evaluate the
// cumulative minViableCandidates termination condition.
func (s *Store) CountViableArtifacts(ctx context.Context, projectID string, threshold float64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM artifacts WHERE project_id = ? AND quality_score >= ?`, projectID, threshold).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count viable artifacts %s: %w", projectID, err)
	}
	return count, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanArtifact(row scannable) (*domain.ArtifactRecord, error) {
	var (
		a          domain.ArtifactRecord
		blobPath   sql.NullString
		status     string
		quality    sql.NullFloat64
		details    sql.NullString
		createdAt  string
	)
	if err := row.Scan(&a.ID, &a.ProjectID, &a.WaveNumber, &blobPath, &status, &quality, &details, &createdAt); err != nil {
		return nil, err
	}
	a.BlobPath = blobPath.String
	a.Status = domain.ArtifactStatus(status)
	a.EvaluationDetails = details.String
	if quality.Valid {
		a.QualityScore = &quality.Float64
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	a.CreatedAt = t
	return &a, nil
}

// UpsertDispatchedJob inserts or updates a dispatched job row, used both on
// initial dispatch and on every status transition (complete/failed/timed_out,
// retry increment).
func (s *Store) UpsertDispatchedJob(ctx context.Context, j *domain.DispatchedJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatched_jobs (job_id, project_id, artifact_id, wave_number, kind, status, retries, created_at, deadline_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			retries = excluded.retries,
			deadline_at = excluded.deadline_at`,
		j.JobID, j.ProjectID, nullString(j.ArtifactID), j.WaveNumber, string(j.Kind), string(j.Status),
		j.Retries, j.CreatedAt.Format(time.RFC3339Nano), j.DeadlineAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: upsert job %s: %w", j.JobID, err)
	}
	return nil
}

// GetDispatchedJob loads a single job by id.
func (s *Store) GetDispatchedJob(ctx context.Context, jobID string) (*domain.DispatchedJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, project_id, artifact_id, wave_number, kind, status, retries, created_at, deadline_at
		FROM dispatched_jobs WHERE job_id = ?`, jobID)
	j, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: job %s: %w", jobID, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("store: get job %s: %w", jobID, err)
	}
	return j, nil
}

// ListJobsByWave returns every job dispatched in a given wave.
func (s *Store) ListJobsByWave(ctx context.Context, projectID string, wave int) ([]*domain.DispatchedJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, project_id, artifact_id, wave_number, kind, status, retries, created_at, deadline_at
		FROM dispatched_jobs WHERE project_id = ? AND wave_number = ? ORDER BY job_id ASC`, projectID, wave)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs %s/%d: %w", projectID, wave, err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListOverdueJobs returns every non-terminal job whose deadline has already
// passed as of now, across all projects. Orchestrator startup does not call
// it; Rehydrate re-arms timers from ListPendingJobsByProject.
func (s *Store) ListOverdueJobs(ctx context.Context, now time.Time) ([]*domain.DispatchedJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, project_id, artifact_id, wave_number, kind, status, retries, created_at, deadline_at
		FROM dispatched_jobs WHERE status = ? AND deadline_at <= ? ORDER BY deadline_at ASC`,
		string(domain.JobPending), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("store: list overdue jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListPendingJobsByProject returns every still-pending job for a project,
// used on Orchestrator startup to rehydrate in-flight wave state.
func (s *Store) ListPendingJobsByProject(ctx context.Context, projectID string) ([]*domain.DispatchedJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, project_id, artifact_id, wave_number, kind, status, retries, created_at, deadline_at
		FROM dispatched_jobs WHERE project_id = ? AND status = ? ORDER BY job_id ASC`,
		projectID, string(domain.JobPending))
	if err != nil {
		return nil, fmt.Errorf("store: list pending jobs %s: %w", projectID, err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*domain.DispatchedJob, error) {
	var out []*domain.DispatchedJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row scannable) (*domain.DispatchedJob, error) {
	var (
		j           domain.DispatchedJob
		artifactID  sql.NullString
		kind        string
		status      string
		createdAt   string
		deadlineAt  string
	)
	if err := row.Scan(&j.JobID, &j.ProjectID, &artifactID, &j.WaveNumber, &kind, &status, &j.Retries, &createdAt, &deadlineAt); err != nil {
		return nil, err
	}
	j.ArtifactID = artifactID.String
	j.Kind = domain.JobKind(kind)
	j.Status = domain.JobStatus(status)
	ct, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	j.CreatedAt = ct
	dt, err := time.Parse(time.RFC3339Nano, deadlineAt)
	if err != nil {
		return nil, fmt.Errorf("parse deadline_at: %w", err)
	}
	j.DeadlineAt = dt
	return &j, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
