// Copyright 2025 James Ross
package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/caseworks/reportpipeline/internal/report"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore is the production Store, backed by the "jobs" table (see
// migrations/0001_init.up.sql).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgresStore over an already-opened database
// handle, following the teacher's job-budgeting convention of accepting a
// *sql.DB rather than opening its own connection.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Enqueue(ctx context.Context, req EnqueueRequest, estimatedCompletion time.Duration, estimatedSource string) (string, error) {
	jobID := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, priority, created_at, estimated_completion_ms, estimated_duration_source,
			job_source, user_role, report_type, target_system, data_format, chunk_size, tenant_id,
			request_data, bearer_token, status, progress, processed_records, parent_job_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		jobID, req.Priority, time.Now().UTC(), estimatedCompletion.Milliseconds(), estimatedSource,
		string(req.JobSource), req.UserRole, req.ReportType, req.TargetSystem, string(req.DataFormat),
		req.ChunkSize, req.TenantID, req.RequestData, req.BearerToken, string(report.StatusQueued), 0, 0,
		nullableString(req.ParentJobID))
	if err != nil {
		return "", fmt.Errorf("jobstore: enqueue: %w", err)
	}
	return jobID, nil
}

// Claim performs the claim-once compare-and-set: only a row currently in
// QUEUED transitions to PROCESSING. A zero RowsAffected means the job was
// already claimed by another worker (spec §4.7 claim(jobId)).
func (s *PostgresStore) Claim(ctx context.Context, jobID string) (*report.Job, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, started_at = $2
		WHERE job_id = $3 AND status = $4`,
		string(report.StatusProcessing), time.Now().UTC(), jobID, string(report.StatusQueued))
	if err != nil {
		return nil, fmt.Errorf("jobstore: claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("jobstore: claim: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return s.FindByID(ctx, jobID)
}

func (s *PostgresStore) TopQueued(ctx context.Context, n int) ([]report.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = $1
		ORDER BY priority DESC, created_at ASC LIMIT $2`, string(report.StatusQueued), n)
	if err != nil {
		return nil, fmt.Errorf("jobstore: topQueued: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, jobID string, status report.Status, errMsg string) error {
	var completedAt any
	if status == report.StatusCompleted || status == report.StatusFailed || status == report.StatusCancelled {
		completedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, error_message = $2, completed_at = COALESCE(completed_at, $3)
		WHERE job_id = $4`, string(status), nullableString(errMsg), completedAt, jobID)
	if err != nil {
		return fmt.Errorf("jobstore: updateStatus: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetProgress(ctx context.Context, jobID string, processed, total int64) error {
	progress := 0
	if total > 0 {
		progress = int(100 * processed / total)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET processed_records = $1, total_records = $2, progress = $3 WHERE job_id = $4`,
		processed, total, progress, jobID)
	if err != nil {
		return fmt.Errorf("jobstore: setProgress: %w", err)
	}
	return nil
}

// SetResult finalizes a job as COMPLETED. Idempotent: a second call on an
// already-completed job is a no-op so a retried or racing completion never
// clobbers CompletedAt or ProcessedRecords (spec §8).
func (s *PostgresStore) SetResult(ctx context.Context, jobID string, path string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, progress = 100, result_path = $2, completed_at = $3,
			processed_records = COALESCE(total_records, processed_records)
		WHERE job_id = $4 AND status <> $5`,
		string(report.StatusCompleted), path, time.Now().UTC(), jobID, string(report.StatusCompleted))
	if err != nil {
		return fmt.Errorf("jobstore: setResult: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetSource(ctx context.Context, jobID string, source report.Source) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET job_source = $1 WHERE job_id = $2`, string(source), jobID)
	if err != nil {
		return fmt.Errorf("jobstore: setSource: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, jobID string) (*report.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobstore: findById: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) FindByStatus(ctx context.Context, status report.Status) ([]report.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = $1`, string(status))
	if err != nil {
		return nil, fmt.Errorf("jobstore: findByStatus: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *PostgresStore) FindByUserRole(ctx context.Context, role string) ([]report.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE user_role = $1`, role)
	if err != nil {
		return nil, fmt.Errorf("jobstore: findByUserRole: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *PostgresStore) FindAll(ctx context.Context) ([]report.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs`)
	if err != nil {
		return nil, fmt.Errorf("jobstore: findAll: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *PostgresStore) FindCompletedByReportTypes(ctx context.Context, role string, reportTypes []string) (map[string]bool, error) {
	found := make(map[string]bool, len(reportTypes))
	if len(reportTypes) == 0 {
		return found, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT report_type FROM jobs
		WHERE user_role = $1 AND status = $2 AND report_type = ANY($3)`,
		role, string(report.StatusCompleted), pqStringArray(reportTypes))
	if err != nil {
		return nil, fmt.Errorf("jobstore: findCompletedByReportTypes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rt string
		if err := rows.Scan(&rt); err != nil {
			return nil, fmt.Errorf("jobstore: findCompletedByReportTypes: %w", err)
		}
		found[rt] = true
	}
	return found, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
