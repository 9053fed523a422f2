// Copyright 2025 James Ross

// Package admission is the thin HTTP front door onto the pipeline: it
// authenticates nothing itself, accepts a request plus its bearer token,
// enqueues a job, and otherwise reads status/result straight through the
// job store, grounded on the teacher's internal/admin-api handler/router
// shape (spec §6 "Admission").
package admission

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/caseworks/reportpipeline/internal/authz"
	"github.com/caseworks/reportpipeline/internal/forecast"
	"github.com/caseworks/reportpipeline/internal/jobstore"
	"github.com/caseworks/reportpipeline/internal/report"
	"github.com/caseworks/reportpipeline/internal/tokeninspect"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// enqueueRequestBody is the wire shape of a POST /api/v1/reports body.
type enqueueRequestBody struct {
	ReportType   string `json:"reportType"`
	TargetSystem string `json:"targetSystem"`
	DataFormat   string `json:"dataFormat"`
	ChunkSize    int    `json:"chunkSize"`
	TenantID     string `json:"tenantId"`
	RequestData  string `json:"requestData"`
	Priority     int    `json:"priority"`
}

// Handler wires HTTP requests onto the job store. It never inspects a
// caller's authorization beyond the bearer token's own claims; it is the
// store's visibility filter and the query planner that enforce tenant and
// ownership scoping.
type Handler struct {
	store     jobstore.Store
	estimator *forecast.Estimator
	logger    *zap.Logger
}

// NewHandler constructs an admission Handler.
func NewHandler(store jobstore.Store, estimator *forecast.Estimator, logger *zap.Logger) *Handler {
	return &Handler{store: store, estimator: estimator, logger: logger}
}

// RegisterRoutes mounts the admission endpoints on router.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/reports", h.Enqueue).Methods("POST")
	router.HandleFunc("/api/v1/reports", h.List).Methods("GET")
	router.HandleFunc("/api/v1/reports/{jobId}", h.Get).Methods("GET")
	router.HandleFunc("/api/v1/reports/{jobId}/cancel", h.Cancel).Methods("POST")
	router.HandleFunc("/health", h.Health).Methods("GET")
}

// Enqueue accepts a report request and hands it to the job store.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	view, err := tokeninspect.Inspect(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid bearer token")
		return
	}

	var body enqueueRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.ReportType == "" || body.DataFormat == "" {
		writeError(w, http.StatusBadRequest, "reportType and dataFormat are required")
		return
	}
	if body.ChunkSize <= 0 {
		body.ChunkSize = 1000
	}
	tenantID := body.TenantID
	if tenantID == "" {
		tenantID = view.TenantID
	}

	estimate, source := h.estimator.Estimate(body.ReportType)

	jobID, err := h.store.Enqueue(r.Context(), jobstore.EnqueueRequest{
		UserRole:     view.Role,
		ReportType:   body.ReportType,
		TargetSystem: body.TargetSystem,
		DataFormat:   report.DataFormat(body.DataFormat),
		ChunkSize:    body.ChunkSize,
		TenantID:     tenantID,
		RequestData:  body.RequestData,
		BearerToken:  token,
		JobSource:    report.SourceAPI,
		Priority:     body.Priority,
	}, estimate, source)
	if err != nil {
		h.logger.Error("admission: enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue report")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":                   jobID,
		"status":                  report.StatusQueued,
		"estimatedCompletionTime": estimate.String(),
	})
}

// Get returns a single job, scoped by the caller's visibility.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	view, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	jobID := mux.Vars(r)["jobId"]

	job, err := h.store.FindByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("admission: find by id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	if view.Role != "ADMIN" && view.Role != "SYSTEM_SCHEDULER" && !job.Visible(view.Role, view.TenantID, view.HasTenant) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// List returns the caller's visible jobs.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	view, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	jobs, err := h.store.FindByUserRole(r.Context(), view.Role)
	if err != nil {
		h.logger.Error("admission: find by role failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	visible := jobstore.FilterVisible(jobs, view.Role, view.TenantID, view.HasTenant)
	writeJSON(w, http.StatusOK, map[string]any{"jobs": visible})
}

// Cancel requests cancellation of a queued or processing job. The streamer
// observes the CANCELLED status on its next cancellation check and stops.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	view, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	jobID := mux.Vars(r)["jobId"]

	job, err := h.store.FindByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("admission: find by id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !authz.CanCancel(view.Role, view.TenantID, view.HasTenant, job.UserRole, job.TenantID) {
		writeError(w, http.StatusForbidden, "not permitted to cancel this job")
		return
	}
	if job.Status != report.StatusQueued && job.Status != report.StatusProcessing {
		writeError(w, http.StatusConflict, "job is not cancellable in its current status")
		return
	}

	if err := h.store.UpdateStatus(r.Context(), jobID, report.StatusCancelled, ""); err != nil {
		h.logger.Error("admission: cancel failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobId": jobID, "status": report.StatusCancelled})
}

// Health is an unauthenticated liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (tokeninspect.View, bool) {
	view, err := tokeninspect.Inspect(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid bearer token")
		return tokeninspect.View{}, false
	}
	return view, true
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
