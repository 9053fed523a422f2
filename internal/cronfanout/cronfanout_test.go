// Copyright 2025 James Ross
package cronfanout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/caseworks/reportpipeline/internal/forecast"
	"github.com/caseworks/reportpipeline/internal/jobstore"
	"github.com/caseworks/reportpipeline/internal/notify"
	"github.com/caseworks/reportpipeline/internal/report"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMinter struct {
	mu    sync.Mutex
	calls []string // "<rolePrefix>:<county>"
}

func (m *fakeMinter) MintServiceToken(_ context.Context, rolePrefix, countyCode, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, rolePrefix+":"+countyCode)
	return "svc-token-" + rolePrefix + "-" + countyCode, nil
}

func newTestScheduler(t *testing.T, profiles map[Cadence]ProfileSet) (*Scheduler, jobstore.Store, *fakeMinter) {
	t.Helper()
	store := jobstore.NewMemory()
	minter := &fakeMinter{}
	notifier := notify.New(zap.NewNop())
	s := New(store, minter, notifier, forecast.NewEstimator(nil), Config{
		Profiles:  profiles,
		Passwords: map[string]string{"orange-supervisor": "pw"},
	}, zap.NewNop())
	return s, store, minter
}

func TestComputeDateRangeDaily(t *testing.T) {
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	start, end := ComputeDateRange(CadenceDaily, now)
	require.Equal(t, time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestComputeDateRangeWeeklyPreviousISOWeek(t *testing.T) {
	// 2026-08-01 is a Saturday; current ISO week started Monday 2026-07-27.
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	start, end := ComputeDateRange(CadenceWeekly, now)
	require.Equal(t, time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC), end)
}

func TestComputeDateRangeMonthlyPreviousCalendarMonth(t *testing.T) {
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	start, end := ComputeDateRange(CadenceMonthly, now)
	require.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestComputeDateRangeQuarterlyPreviousQuarter(t *testing.T) {
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC) // Q3
	start, end := ComputeDateRange(CadenceQuarterly, now)
	require.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestFireEmptyCountiesEmitsSingleJobWithOneMint(t *testing.T) {
	profiles := map[Cadence]ProfileSet{
		CadenceDaily: {
			Profiles: []report.CronProfile{
				{ProfileKey: "system-admin", Role: "ADMIN", Counties: nil, ReportTypes: []string{"DAILY_SUMMARY"}},
			},
			DataFormat: report.FormatJSON,
			ChunkSize:  500,
		},
	}
	s, store, minter := newTestScheduler(t, profiles)
	s.Fire(context.Background(), CadenceDaily)

	jobs, err := store.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "", jobs[0].TenantID)
	require.Equal(t, report.SourceScheduled, jobs[0].JobSource)
	require.Len(t, minter.calls, 1)
}

func TestFireSingleCountyEmitsOneJob(t *testing.T) {
	profiles := map[Cadence]ProfileSet{
		CadenceDaily: {
			Profiles: []report.CronProfile{
				{ProfileKey: "orange-supervisor", Role: "SUPERVISOR", Counties: []string{"Orange"}, ReportTypes: []string{"DAILY_SUMMARY"}},
			},
			DataFormat: report.FormatCSV,
			ChunkSize:  500,
		},
	}
	s, store, _ := newTestScheduler(t, profiles)
	s.Fire(context.Background(), CadenceDaily)

	jobs, err := store.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "Orange", jobs[0].TenantID)
	require.Equal(t, report.FormatCSV, jobs[0].DataFormat)
}

func TestFireMultiCountyEmitsOneJobPerCountyWithDistinctTokens(t *testing.T) {
	profiles := map[Cadence]ProfileSet{
		CadenceDaily: {
			Profiles: []report.CronProfile{
				{ProfileKey: "multi-supervisor", Role: "SUPERVISOR", Counties: []string{"Orange", "Dutchess"}, ReportTypes: []string{"DAILY_SUMMARY"}},
			},
			DataFormat: report.FormatJSON,
		},
	}
	s, store, minter := newTestScheduler(t, profiles)
	s.Fire(context.Background(), CadenceDaily)

	jobs, err := store.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.ElementsMatch(t, []string{"Orange", "Dutchess"}, []string{jobs[0].TenantID, jobs[1].TenantID})
	require.ElementsMatch(t, []string{"supervisor:orange", "supervisor:dutchess"}, minter.calls)
}

func TestFireProfileUsedByTestHarnessOnlyEmitsSelectedProfile(t *testing.T) {
	profiles := map[Cadence]ProfileSet{
		CadenceTest: {
			Profiles: []report.CronProfile{
				{ProfileKey: "smoke", Role: "SUPERVISOR", Counties: []string{"Orange"}, ReportTypes: []string{"DAILY_SUMMARY", "WEEKLY_SUMMARY"}},
			},
			DataFormat: report.FormatJSON,
		},
	}
	s, store, _ := newTestScheduler(t, profiles)
	s.FireProfile(context.Background(), CadenceTest, "smoke", "DAILY_SUMMARY")

	jobs, err := store.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "DAILY_SUMMARY", jobs[0].ReportType)
}

func TestTestHarnessStopsAfterMaxRuns(t *testing.T) {
	profiles := map[Cadence]ProfileSet{
		CadenceTest: {
			Profiles: []report.CronProfile{
				{ProfileKey: "smoke", Role: "SUPERVISOR", Counties: nil, ReportTypes: []string{"DAILY_SUMMARY"}},
			},
			DataFormat: report.FormatJSON,
		},
	}
	s, store, _ := newTestScheduler(t, profiles)
	h := NewTestHarness(s, TestHarnessConfig{
		Cadence: CadenceTest, ProfileKey: "smoke", ReportType: "DAILY_SUMMARY",
		MaxRuns: 3, RunInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	h.Start(ctx)

	require.Eventually(t, func() bool {
		jobs, err := store.FindAll(context.Background())
		return err == nil && len(jobs) == 3
	}, 400*time.Millisecond, 10*time.Millisecond)

	require.Eventually(t, func() bool { return h.Runs() == 3 }, 200*time.Millisecond, 10*time.Millisecond)
}
