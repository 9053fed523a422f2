// Copyright 2025 James Ross
package admission

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/caseworks/reportpipeline/internal/forecast"
	"github.com/caseworks/reportpipeline/internal/jobstore"
	"github.com/caseworks/reportpipeline/internal/report"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func tokenFor(role, county string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	body := base64.RawURLEncoding.EncodeToString([]byte(`{"preferred_username":"` + role + `","countyId":"` + county + `"}`))
	sig := base64.RawURLEncoding.EncodeToString([]byte("x"))
	return header + "." + body + "." + sig
}

func newTestRouter(t *testing.T) (*mux.Router, jobstore.Store) {
	t.Helper()
	store := jobstore.NewMemory()
	h := NewHandler(store, forecast.NewEstimator(nil), zap.NewNop())
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return router, store
}

func TestEnqueueAcceptsValidRequest(t *testing.T) {
	router, store := newTestRouter(t)

	body, _ := json.Marshal(enqueueRequestBody{ReportType: "DAILY_SUMMARY", DataFormat: "JSON", TargetSystem: "MMIS"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tokenFor("CASE_WORKER", "Orange"))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	jobID, _ := resp["jobId"].(string)
	require.NotEmpty(t, jobID)

	job, err := store.FindByID(req.Context(), jobID)
	require.NoError(t, err)
	require.Equal(t, "Orange", job.TenantID)
	require.Equal(t, report.SourceAPI, job.JobSource)
}

func TestEnqueueRejectsMissingReportType(t *testing.T) {
	router, _ := newTestRouter(t)

	body, _ := json.Marshal(enqueueRequestBody{DataFormat: "JSON"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tokenFor("CASE_WORKER", "Orange"))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetReturns404ForOtherTenantsJob(t *testing.T) {
	router, store := newTestRouter(t)
	jobID, err := store.Enqueue(context.Background(), jobstore.EnqueueRequest{
		UserRole: "CASE_WORKER", ReportType: "DAILY_SUMMARY", DataFormat: report.FormatJSON,
		TenantID: "Dutchess", BearerToken: tokenFor("CASE_WORKER", "Dutchess"),
	}, 0, "CONFIG")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+jobID, nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor("CASE_WORKER", "Orange"))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelDeniedForDifferentTenant(t *testing.T) {
	router, store := newTestRouter(t)
	jobID, err := store.Enqueue(context.Background(), jobstore.EnqueueRequest{
		UserRole: "CASE_WORKER", ReportType: "DAILY_SUMMARY", DataFormat: report.FormatJSON,
		TenantID: "Dutchess", BearerToken: tokenFor("CASE_WORKER", "Dutchess"),
	}, 0, "CONFIG")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/"+jobID+"/cancel", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor("CASE_WORKER", "Orange"))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCancelAllowedByAdmin(t *testing.T) {
	router, store := newTestRouter(t)
	jobID, err := store.Enqueue(context.Background(), jobstore.EnqueueRequest{
		UserRole: "CASE_WORKER", ReportType: "DAILY_SUMMARY", DataFormat: report.FormatJSON,
		TenantID: "Dutchess", BearerToken: tokenFor("CASE_WORKER", "Dutchess"),
	}, 0, "CONFIG")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/"+jobID+"/cancel", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor("ADMIN", ""))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	job, err := store.FindByID(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, report.StatusCancelled, job.Status)
}
