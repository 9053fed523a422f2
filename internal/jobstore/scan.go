// Copyright 2025 James Ross
package jobstore

import (
	"database/sql"
	"time"

	"github.com/caseworks/reportpipeline/internal/report"
	"github.com/lib/pq"
)

const jobColumns = `job_id, priority, created_at, started_at, completed_at, estimated_completion_ms,
	estimated_duration_source, job_source, user_role, report_type, target_system, data_format,
	chunk_size, tenant_id, request_data, bearer_token, status, progress, total_records,
	processed_records, result_path, error_message, parent_job_id`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*report.Job, error) {
	var j report.Job
	var (
		startedAt, completedAt           sql.NullTime
		estimatedMs                      int64
		totalRecords                     sql.NullInt64
		resultPath, errorMessage         sql.NullString
		parentJobID                      sql.NullString
	)
	err := row.Scan(&j.JobID, &j.Priority, &j.CreatedAt, &startedAt, &completedAt, &estimatedMs,
		&j.EstimatedDurationSource, &j.JobSource, &j.UserRole, &j.ReportType, &j.TargetSystem,
		&j.DataFormat, &j.ChunkSize, &j.TenantID, &j.RequestData, &j.BearerToken, &j.Status,
		&j.Progress, &totalRecords, &j.ProcessedRecords, &resultPath, &errorMessage, &parentJobID)
	if err != nil {
		return nil, err
	}
	j.EstimatedCompletionTime = time.Duration(estimatedMs) * time.Millisecond
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	if totalRecords.Valid {
		j.TotalRecords = &totalRecords.Int64
	}
	j.ResultPath = resultPath.String
	j.ErrorMessage = errorMessage.String
	j.ParentJobID = parentJobID.String
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]report.Job, error) {
	var out []report.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func pqStringArray(ss []string) any {
	return pq.Array(ss)
}
