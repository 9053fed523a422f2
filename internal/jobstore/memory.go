// Copyright 2025 James Ross
package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/caseworks/reportpipeline/internal/report"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and local fixtures. A single
// mutex serializes all access, mirroring the row-level-locking semantics
// the Postgres store gets from the database.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*report.Job
}

// NewMemory constructs an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*report.Job)}
}

func (m *MemoryStore) Enqueue(_ context.Context, req EnqueueRequest, estimatedCompletion time.Duration, estimatedSource string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobID := uuid.New().String()
	m.jobs[jobID] = &report.Job{
		JobID:                   jobID,
		Priority:                req.Priority,
		CreatedAt:               time.Now().UTC(),
		EstimatedCompletionTime: estimatedCompletion,
		EstimatedDurationSource: estimatedSource,
		JobSource:               req.JobSource,
		UserRole:                req.UserRole,
		ReportType:              req.ReportType,
		TargetSystem:            req.TargetSystem,
		DataFormat:              req.DataFormat,
		ChunkSize:               req.ChunkSize,
		TenantID:                req.TenantID,
		RequestData:             req.RequestData,
		BearerToken:             req.BearerToken,
		Status:                  report.StatusQueued,
		ParentJobID:             req.ParentJobID,
	}
	return jobID, nil
}

func (m *MemoryStore) Claim(_ context.Context, jobID string) (*report.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != report.StatusQueued {
		return nil, nil
	}
	now := time.Now().UTC()
	j.Status = report.StatusProcessing
	j.StartedAt = &now
	copied := *j
	return &copied, nil
}

func (m *MemoryStore) TopQueued(_ context.Context, n int) ([]report.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var queued []report.Job
	for _, j := range m.jobs {
		if j.Status == report.StatusQueued {
			queued = append(queued, *j)
		}
	}
	sort.SliceStable(queued, func(i, k int) bool {
		if queued[i].Priority != queued[k].Priority {
			return queued[i].Priority > queued[k].Priority
		}
		return queued[i].CreatedAt.Before(queued[k].CreatedAt)
	})
	if len(queued) > n {
		queued = queued[:n]
	}
	return queued, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, jobID string, status report.Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	j.ErrorMessage = errMsg
	if status == report.StatusCompleted || status == report.StatusFailed || status == report.StatusCancelled {
		if j.CompletedAt == nil {
			now := time.Now().UTC()
			j.CompletedAt = &now
		}
	}
	return nil
}

func (m *MemoryStore) SetProgress(_ context.Context, jobID string, processed, total int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.ProcessedRecords = processed
	j.TotalRecords = &total
	if total > 0 {
		j.Progress = int(100 * processed / total)
	}
	return nil
}

// SetResult finalizes a job as COMPLETED. Idempotent: a second call on an
// already-completed job is a no-op so a retried or racing completion never
// clobbers CompletedAt or ProcessedRecords (spec §8).
func (m *MemoryStore) SetResult(_ context.Context, jobID string, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if j.Status == report.StatusCompleted {
		return nil
	}
	now := time.Now().UTC()
	j.Status = report.StatusCompleted
	j.Progress = 100
	j.ResultPath = path
	j.CompletedAt = &now
	if j.TotalRecords != nil {
		j.ProcessedRecords = *j.TotalRecords
	}
	return nil
}

func (m *MemoryStore) SetSource(_ context.Context, jobID string, source report.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.JobSource = source
	return nil
}

func (m *MemoryStore) FindByID(_ context.Context, jobID string) (*report.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *j
	return &copied, nil
}

func (m *MemoryStore) FindByStatus(_ context.Context, status report.Status) ([]report.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []report.Job
	for _, j := range m.jobs {
		if j.Status == status {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *MemoryStore) FindByUserRole(_ context.Context, role string) ([]report.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []report.Job
	for _, j := range m.jobs {
		if j.UserRole == role {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *MemoryStore) FindAll(_ context.Context) ([]report.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]report.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (m *MemoryStore) FindCompletedByReportTypes(_ context.Context, role string, reportTypes []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(reportTypes))
	for _, rt := range reportTypes {
		wanted[rt] = true
	}
	found := make(map[string]bool)
	for _, j := range m.jobs {
		if j.UserRole == role && j.Status == report.StatusCompleted && wanted[j.ReportType] {
			found[j.ReportType] = true
		}
	}
	return found, nil
}

var _ Store = (*MemoryStore)(nil)
