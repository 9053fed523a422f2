// Copyright 2025 James Ross
package streamer

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caseworks/reportpipeline/internal/fetcher"
	"github.com/caseworks/reportpipeline/internal/jobstore"
	"github.com/caseworks/reportpipeline/internal/masking"
	"github.com/caseworks/reportpipeline/internal/queryplan"
	"github.com/caseworks/reportpipeline/internal/report"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func unverifiedToken(t *testing.T) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	body := base64.RawURLEncoding.EncodeToString([]byte(`{
		"preferred_username": "CASE_WORKER",
		"countyId": "Orange",
		"field_masking_rules": ["hours:NONE:FULL_ACCESS:true"]
	}`))
	sig := base64.RawURLEncoding.EncodeToString([]byte("x"))
	return header + "." + body + "." + sig
}

func TestStreamerRunCompletesJSONReport(t *testing.T) {
	dir := t.TempDir()
	store := jobstore.NewMemory()
	ctx := context.Background()

	fix := &fetcher.Fixture{Rows: []fetcher.Row{
		{"timesheetId": "T-1", "countyId": "Orange", "hours": 8.0},
		{"timesheetId": "T-2", "countyId": "Orange", "hours": 4.0},
	}}
	masker := masking.New(nil)

	jobID, err := store.Enqueue(ctx, jobstore.EnqueueRequest{
		UserRole: "CASE_WORKER", ReportType: "DAILY_SUMMARY", DataFormat: report.FormatJSON,
		ChunkSize: 1000, TenantID: "Orange", BearerToken: unverifiedToken(t),
	}, time.Minute, "CONFIG")
	require.NoError(t, err)
	job, err := store.Claim(ctx, jobID)
	require.NoError(t, err)

	s := New(store, fix, masker, Config{ReportsDir: dir}, zap.NewNop())
	plan, err := queryplan.Build(queryplan.Request{Role: "CASE_WORKER", TenantID: "Orange", HasTenant: true})
	require.NoError(t, err)

	s.Run(ctx, *job, plan)

	final, err := store.FindByID(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, report.StatusCompleted, final.Status)
	require.Equal(t, 100, final.Progress)
	require.FileExists(t, final.ResultPath)
	require.Equal(t, dir, filepath.Dir(final.ResultPath))
}

func TestStreamerRunHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	store := jobstore.NewMemory()
	ctx := context.Background()

	fix := &fetcher.Fixture{Rows: []fetcher.Row{
		{"timesheetId": "T-1", "countyId": "Orange"},
	}}
	masker := masking.New(nil)

	jobID, err := store.Enqueue(ctx, jobstore.EnqueueRequest{
		UserRole: "CASE_WORKER", ReportType: "DAILY_SUMMARY", DataFormat: report.FormatCSV,
		ChunkSize: 1, TenantID: "Orange", BearerToken: unverifiedToken(t),
	}, 0, "CONFIG")
	require.NoError(t, err)
	job, err := store.Claim(ctx, jobID)
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(ctx, jobID, report.StatusCancelled, ""))

	s := New(store, fix, masker, Config{ReportsDir: dir}, zap.NewNop())
	plan, err := queryplan.Build(queryplan.Request{Role: "CASE_WORKER", TenantID: "Orange", HasTenant: true})
	require.NoError(t, err)

	s.Run(ctx, *job, plan)

	final, err := store.FindByID(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, report.StatusCancelled, final.Status)
	require.Empty(t, final.ErrorMessage)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "partial file should have been deleted")
}

func TestStreamerRunFailsOnMaskingRulesUnavailable(t *testing.T) {
	dir := t.TempDir()
	store := jobstore.NewMemory()
	ctx := context.Background()

	fix := &fetcher.Fixture{}
	masker := masking.New(nil)

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	body := base64.RawURLEncoding.EncodeToString([]byte(`{"preferred_username":"CASE_WORKER","countyId":"Orange"}`))
	token := header + "." + body + "." + base64.RawURLEncoding.EncodeToString([]byte("x"))

	jobID, err := store.Enqueue(ctx, jobstore.EnqueueRequest{
		UserRole: "CASE_WORKER", ReportType: "DAILY_SUMMARY", DataFormat: report.FormatJSON,
		ChunkSize: 10, TenantID: "Orange", BearerToken: token,
	}, 0, "CONFIG")
	require.NoError(t, err)
	job, err := store.Claim(ctx, jobID)
	require.NoError(t, err)

	s := New(store, fix, masker, Config{ReportsDir: dir}, zap.NewNop())
	plan, err := queryplan.Build(queryplan.Request{Role: "CASE_WORKER", TenantID: "Orange", HasTenant: true})
	require.NoError(t, err)

	s.Run(ctx, *job, plan)

	final, err := store.FindByID(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, report.StatusFailed, final.Status)
	require.Contains(t, final.ErrorMessage, "masking rules unavailable")
}
