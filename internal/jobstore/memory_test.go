// Copyright 2025 James Ross
package jobstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/caseworks/reportpipeline/internal/report"
	"github.com/stretchr/testify/require"
)

func TestEnqueueClaimLifecycle(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	jobID, err := s.Enqueue(ctx, EnqueueRequest{UserRole: "CASE_WORKER", ReportType: "DAILY_SUMMARY", TenantID: "Orange"}, time.Minute, "CONFIG")
	require.NoError(t, err)

	claimed, err := s.Claim(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, report.StatusProcessing, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	again, err := s.Claim(ctx, jobID)
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestClaimOnceUnderConcurrency(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	jobID, err := s.Enqueue(ctx, EnqueueRequest{UserRole: "CASE_WORKER"}, 0, "CONFIG")
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	successes := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			claimed, err := s.Claim(ctx, jobID)
			require.NoError(t, err)
			successes[idx] = claimed != nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestTopQueuedOrdersByPriorityThenCreatedAt(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	low, _ := s.Enqueue(ctx, EnqueueRequest{Priority: 1}, 0, "CONFIG")
	time.Sleep(time.Millisecond)
	high, _ := s.Enqueue(ctx, EnqueueRequest{Priority: 5}, 0, "CONFIG")

	top, err := s.TopQueued(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, high, top[0].JobID)
	require.Equal(t, low, top[1].JobID)
}

func TestSetResultFinalizesJob(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	jobID, _ := s.Enqueue(ctx, EnqueueRequest{}, 0, "CONFIG")
	require.NoError(t, s.SetProgress(ctx, jobID, 50, 100))
	require.NoError(t, s.SetResult(ctx, jobID, "reports/report_x.json"))

	j, err := s.FindByID(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, report.StatusCompleted, j.Status)
	require.Equal(t, 100, j.Progress)
	require.EqualValues(t, 100, j.ProcessedRecords)
	require.Equal(t, "reports/report_x.json", j.ResultPath)
}

func TestSetResultSecondCallIsNoOp(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	jobID, _ := s.Enqueue(ctx, EnqueueRequest{}, 0, "CONFIG")
	require.NoError(t, s.SetProgress(ctx, jobID, 50, 100))
	require.NoError(t, s.SetResult(ctx, jobID, "reports/report_x.json"))

	first, err := s.FindByID(ctx, jobID)
	require.NoError(t, err)

	require.NoError(t, s.SetResult(ctx, jobID, "reports/report_y.json"))

	second, err := s.FindByID(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, first.CompletedAt, second.CompletedAt)
	require.Equal(t, first.ResultPath, second.ResultPath)
	require.Equal(t, first.ProcessedRecords, second.ProcessedRecords)
}

func TestFilterVisibleAdminSeesEverything(t *testing.T) {
	jobs := []report.Job{{UserRole: "CASE_WORKER", TenantID: "Orange"}}
	out := FilterVisible(jobs, "ADMIN", "", false)
	require.Len(t, out, 1)
}

func TestFilterVisibleRestrictsToMatchingTenant(t *testing.T) {
	jobs := []report.Job{
		{UserRole: "CASE_WORKER", TenantID: "Orange"},
		{UserRole: "CASE_WORKER", TenantID: "Dutchess"},
		{UserRole: "CASE_WORKER", TenantID: "ALL"},
	}
	out := FilterVisible(jobs, "CASE_WORKER", "Orange", true)
	require.Len(t, out, 2)
}
