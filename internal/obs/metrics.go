// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/caseworks/reportpipeline/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_jobs_enqueued_total",
		Help: "Total number of report jobs enqueued",
	})
	JobsClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_jobs_claimed_total",
		Help: "Total number of report jobs claimed by a worker",
	})
	JobsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_jobs_completed_total",
		Help: "Total number of successfully completed report jobs",
	})
	JobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_jobs_failed_total",
		Help: "Total number of failed report jobs",
	})
	JobsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_jobs_cancelled_total",
		Help: "Total number of cancelled report jobs",
	})
	ChunkFetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "report_chunk_fetch_duration_seconds",
		Help:    "Histogram of per-chunk fetch durations",
		Buckets: prometheus.DefBuckets,
	})
	ChunkRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_chunk_fetch_retries_total",
		Help: "Total number of chunk fetch retries",
	})
	MaskingCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_masking_cache_hits_total",
		Help: "Total number of masking rule cache hits",
	})
	MaskingCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_masking_cache_misses_total",
		Help: "Total number of masking rule cache misses",
	})
	DependencyJobsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_dependency_jobs_enqueued_total",
		Help: "Total number of dependent jobs enqueued by the dependency engine",
	})
	CronJobsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_cron_jobs_emitted_total",
		Help: "Total number of jobs emitted by the cron fan-out",
	})
	WorkerActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "report_worker_active",
		Help: "Number of active report worker goroutines",
	})
)

func init() {
	prometheus.MustRegister(
		JobsEnqueued, JobsClaimed, JobsCompleted, JobsFailed, JobsCancelled,
		ChunkFetchDuration, ChunkRetries, MaskingCacheHits, MaskingCacheMisses,
		DependencyJobsEnqueued, CronJobsEmitted, WorkerActive,
	)
}

// StartMetricsServer exposes /metrics and /healthz, mirroring the teacher's
// combined metrics+health HTTP server.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
