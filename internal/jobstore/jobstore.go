// Copyright 2025 James Ross

// Package jobstore owns Job lifetime: durable records, claim-once state
// transitions, priority-ordered reads, progress updates, and result
// finalization (spec §4.7).
package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/caseworks/reportpipeline/internal/report"
)

// ErrNotFound is returned when a lookup by id finds nothing.
var ErrNotFound = errors.New("jobstore: job not found")

// EnqueueRequest is the input to Enqueue.
type EnqueueRequest struct {
	UserRole     string
	ReportType   string
	TargetSystem string
	DataFormat   report.DataFormat
	ChunkSize    int
	TenantID     string
	RequestData  string
	BearerToken  string
	JobSource    report.Source
	Priority     int
	ParentJobID  string
}

// Store is the durable Job repository (spec §4.7).
type Store interface {
	Enqueue(ctx context.Context, req EnqueueRequest, estimatedCompletion time.Duration, estimatedSource string) (string, error)
	Claim(ctx context.Context, jobID string) (*report.Job, error)
	TopQueued(ctx context.Context, n int) ([]report.Job, error)
	UpdateStatus(ctx context.Context, jobID string, status report.Status, errMsg string) error
	SetProgress(ctx context.Context, jobID string, processed, total int64) error
	SetResult(ctx context.Context, jobID string, path string) error
	SetSource(ctx context.Context, jobID string, source report.Source) error
	FindByID(ctx context.Context, jobID string) (*report.Job, error)
	FindByStatus(ctx context.Context, status report.Status) ([]report.Job, error)
	FindByUserRole(ctx context.Context, role string) ([]report.Job, error)
	FindAll(ctx context.Context) ([]report.Job, error)
	// FindCompletedByReportTypes returns, for a given userRole, the set of
	// distinct reportTypes among that role's COMPLETED jobs — used by the
	// dependency engine's fan-in check (spec §4.9).
	FindCompletedByReportTypes(ctx context.Context, role string, reportTypes []string) (map[string]bool, error)
}

// FilterVisible applies the §4.7.1 visibility filter in-process. ADMIN and
// SYSTEM_SCHEDULER callers see everything; every other role sees only jobs
// matching their own role and tenant (or the "ALL" tenant sentinel).
func FilterVisible(jobs []report.Job, callerRole, callerTenant string, callerHasTenant bool) []report.Job {
	if callerRole == "ADMIN" || callerRole == "SYSTEM_SCHEDULER" {
		return jobs
	}
	var out []report.Job
	for _, j := range jobs {
		if j.Visible(callerRole, callerTenant, callerHasTenant) {
			out = append(out, j)
		}
	}
	return out
}
