// Copyright 2025 James Ross

// Package streamer implements the chunk streamer (spec §4.5), the hottest
// path of the pipeline: it fetches data a chunk at a time, masks each row,
// streams to a format writer, tracks progress, honors cancellation, and
// retries transient fetch failures with linear backoff.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caseworks/reportpipeline/internal/dependency"
	"github.com/caseworks/reportpipeline/internal/fetcher"
	"github.com/caseworks/reportpipeline/internal/jobstore"
	"github.com/caseworks/reportpipeline/internal/masking"
	"github.com/caseworks/reportpipeline/internal/notify"
	"github.com/caseworks/reportpipeline/internal/obs"
	"github.com/caseworks/reportpipeline/internal/queryplan"
	"github.com/caseworks/reportpipeline/internal/report"
	"github.com/caseworks/reportpipeline/internal/tokeninspect"
	"github.com/caseworks/reportpipeline/internal/writer"
	"go.uber.org/zap"
)

// ErrJobCancelled is raised when the job's status flips to CANCELLED
// mid-stream (spec §7 JobCancelled — terminal, no error text recorded).
var ErrJobCancelled = errors.New("streamer: job cancelled")

// ErrTransientFetchExhausted is returned when a chunk fetch exhausts its
// retry budget (spec §7 TransientFetchError).
var ErrTransientFetchExhausted = errors.New("streamer: fetch retry budget exhausted")

const consecutiveEmptyChunksLimit = 3

// Config bounds the streamer's retry and chunking behavior.
type Config struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	DefaultChunkSize int
	ReportsDir      string
}

// MaskResolver is satisfied by both masking.Engine and masking.CachedEngine.
type MaskResolver interface {
	Resolve(ctx context.Context, role, reportType string, tokenRules []report.MaskingRule) (report.RuleSet, error)
}

// Streamer drives a single claimed job from plan to finished file.
type Streamer struct {
	store      jobstore.Store
	fetch      fetcher.Fetcher
	masker     MaskResolver
	cfg        Config
	logger     *zap.Logger
	clock      func() time.Time
	notifier   *notify.Notifier
	dependency *dependency.Engine
}

// WithNotifier attaches a best-effort notification hook fired on every
// terminal transition (spec §4.11). Optional; a nil notifier is a no-op.
func (s *Streamer) WithNotifier(n *notify.Notifier) *Streamer {
	s.notifier = n
	return s
}

// WithDependencyEngine attaches the dependency engine so a successful
// completion can fan out to dependent jobs (spec §4.9). Optional.
func (s *Streamer) WithDependencyEngine(e *dependency.Engine) *Streamer {
	s.dependency = e
	return s
}

// New constructs a Streamer.
func New(store jobstore.Store, fetch fetcher.Fetcher, masker MaskResolver, cfg Config, logger *zap.Logger) *Streamer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.DefaultChunkSize <= 0 {
		cfg.DefaultChunkSize = 1000
	}
	if cfg.ReportsDir == "" {
		cfg.ReportsDir = "reports"
	}
	return &Streamer{store: store, fetch: fetch, masker: masker, cfg: cfg, logger: logger, clock: time.Now}
}

// Run executes the full streaming pipeline for a claimed job, leaving the
// job in a terminal state (COMPLETED, FAILED, or CANCELLED) on return.
func (s *Streamer) Run(ctx context.Context, job report.Job, plan queryplan.Plan) {
	err := s.run(ctx, job, plan)
	switch {
	case err == nil:
		obs.JobsCompleted.Inc()
		s.onCompleted(ctx, job)
		return
	case errors.Is(err, ErrJobCancelled):
		obs.JobsCancelled.Inc()
		return
	default:
		obs.JobsFailed.Inc()
		msg := err.Error()
		if len(msg) > 2000 {
			msg = msg[:2000]
		}
		if updateErr := s.store.UpdateStatus(ctx, job.JobID, report.StatusFailed, msg); updateErr != nil {
			s.logger.Error("streamer: failed to persist FAILED status", zap.String("jobId", job.JobID), zap.Error(updateErr))
		}
		if s.notifier != nil {
			s.notifier.Failed(ctx, job.JobID, msg)
		}
	}
}

// onCompleted re-reads the finalized job and fires the best-effort
// notification hook and the dependency fan-out, neither of which can ever
// fail the job itself (spec §4.9.3, §4.11).
func (s *Streamer) onCompleted(ctx context.Context, job report.Job) {
	final, err := s.store.FindByID(ctx, job.JobID)
	if err != nil {
		s.logger.Error("streamer: re-read completed job failed", zap.String("jobId", job.JobID), zap.Error(err))
		return
	}
	if s.notifier != nil {
		s.notifier.Completed(ctx, final.JobID, final.TargetSystem, final.ResultPath, final.ProcessedRecords)
	}
	if s.dependency != nil {
		s.dependency.OnCompleted(ctx, *final)
	}
}

func (s *Streamer) run(ctx context.Context, job report.Job, plan queryplan.Plan) error {
	chunkSize := job.ChunkSize
	if chunkSize <= 0 {
		chunkSize = s.cfg.DefaultChunkSize
	}

	tokenView, err := tokeninspect.Inspect(job.BearerToken)
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	ruleSet, err := s.masker.Resolve(ctx, job.UserRole, job.ReportType, tokenView.MaskingRules)
	if err != nil {
		return fmt.Errorf("masking rules unavailable: %w", err)
	}

	_, totalCount, err := s.fetch.Fetch(ctx, plan, 0, 1)
	if err != nil {
		return fmt.Errorf("sizing fetch failed: %w", err)
	}
	if err := s.store.SetProgress(ctx, job.JobID, 0, totalCount); err != nil {
		return fmt.Errorf("persist total: %w", err)
	}

	resultPath := resultPath(s.cfg.ReportsDir, job, s.clock())
	if err := os.MkdirAll(filepath.Dir(resultPath), 0o755); err != nil {
		return fmt.Errorf("create reports dir: %w", err)
	}

	if writer.Streaming(job.DataFormat) {
		return s.runStreaming(ctx, job, plan, ruleSet, chunkSize, totalCount, resultPath)
	}
	return s.runCollected(ctx, job, plan, ruleSet, chunkSize, totalCount, resultPath)
}

func (s *Streamer) runStreaming(ctx context.Context, job report.Job, plan queryplan.Plan, ruleSet report.RuleSet, chunkSize int, totalCount int64, resultPath string) error {
	f, err := os.Create(resultPath)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	w, err := writer.New(job.DataFormat, f)
	if err != nil {
		f.Close()
		return err
	}

	if err := w.WriteHeader(writer.Metadata{
		ReportID: job.JobID, ReportType: job.ReportType, UserRole: job.UserRole,
		TargetSystem: job.TargetSystem, GeneratedAt: s.clock(), DataFormat: string(job.DataFormat),
	}); err != nil {
		f.Close()
		return fmt.Errorf("write header: %w", err)
	}

	var processed int64
	var offset int
	var consecutiveEmpty int

	for {
		if cancelled, err := s.checkCancelled(ctx, job.JobID); err != nil {
			f.Close()
			return err
		} else if cancelled {
			w.Close()
			os.Remove(resultPath)
			return ErrJobCancelled
		}

		rows, err := s.fetchWithRetry(ctx, plan, offset, chunkSize)
		if err != nil {
			w.Close()
			os.Remove(resultPath)
			return err
		}

		for _, row := range rows {
			masked := masking.Apply(row, ruleSet)
			if err := w.WriteRow(rowToRecord(job, masked, s.clock())); err != nil {
				w.Close()
				os.Remove(resultPath)
				return fmt.Errorf("write row: %w", err)
			}
		}

		processed += int64(len(rows))
		offset += len(rows)
		if err := s.store.SetProgress(ctx, job.JobID, processed, totalCount); err != nil {
			w.Close()
			return fmt.Errorf("persist progress: %w", err)
		}

		if len(rows) == 0 {
			consecutiveEmpty++
		} else {
			consecutiveEmpty = 0
		}

		if processed >= totalCount || len(rows) < chunkSize || consecutiveEmpty >= consecutiveEmptyChunksLimit {
			break
		}
	}

	if err := w.WriteFooter(); err != nil {
		w.Close()
		return fmt.Errorf("write footer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}

	return s.store.SetResult(ctx, job.JobID, resultPath)
}

func (s *Streamer) runCollected(ctx context.Context, job report.Job, plan queryplan.Plan, ruleSet report.RuleSet, chunkSize int, totalCount int64, resultPath string) error {
	f, err := os.Create(resultPath)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	w, err := writer.New(job.DataFormat, f)
	if err != nil {
		f.Close()
		return err
	}
	if err := w.WriteHeader(writer.Metadata{
		ReportID: job.JobID, ReportType: job.ReportType, UserRole: job.UserRole,
		TargetSystem: job.TargetSystem, GeneratedAt: s.clock(), DataFormat: string(job.DataFormat),
	}); err != nil {
		f.Close()
		return fmt.Errorf("write header: %w", err)
	}

	var processed int64
	var offset int
	var consecutiveEmpty int

	for {
		if cancelled, err := s.checkCancelled(ctx, job.JobID); err != nil {
			f.Close()
			return err
		} else if cancelled {
			f.Close()
			os.Remove(resultPath)
			return ErrJobCancelled
		}

		rows, err := s.fetchWithRetry(ctx, plan, offset, chunkSize)
		if err != nil {
			f.Close()
			os.Remove(resultPath)
			return err
		}

		for _, row := range rows {
			masked := masking.Apply(row, ruleSet)
			if err := w.WriteRow(rowToRecord(job, masked, s.clock())); err != nil {
				f.Close()
				os.Remove(resultPath)
				return fmt.Errorf("buffer row: %w", err)
			}
		}

		processed += int64(len(rows))
		offset += len(rows)
		if err := s.store.SetProgress(ctx, job.JobID, processed, totalCount); err != nil {
			f.Close()
			return fmt.Errorf("persist progress: %w", err)
		}

		if len(rows) == 0 {
			consecutiveEmpty++
		} else {
			consecutiveEmpty = 0
		}
		if processed >= totalCount || len(rows) < chunkSize || consecutiveEmpty >= consecutiveEmptyChunksLimit {
			break
		}
	}

	if err := w.WriteFooter(); err != nil {
		f.Close()
		return fmt.Errorf("render: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}

	return s.store.SetResult(ctx, job.JobID, resultPath)
}

func (s *Streamer) checkCancelled(ctx context.Context, jobID string) (bool, error) {
	j, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("re-read job: %w", err)
	}
	return j.Status == report.StatusCancelled, nil
}

// fetchWithRetry retries up to cfg.MaxAttempts times with linear backoff
// (attempt * InitialBackoff), matching the teacher's smart-retry-strategies
// linear-backoff formula generalized to this domain's fixed policy.
func (s *Streamer) fetchWithRetry(ctx context.Context, plan queryplan.Plan, offset, limit int) ([]fetcher.Row, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		rows, _, err := s.fetch.Fetch(ctx, plan, offset, limit)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		obs.ChunkRetries.Inc()
		if attempt < s.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * s.cfg.InitialBackoff):
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrTransientFetchExhausted, lastErr)
}

func rowToRecord(job report.Job, masked map[string]any, now time.Time) writer.Record {
	timesheetID, _ := masked["timesheetId"].(string)
	return writer.Record{
		TimesheetID: timesheetID,
		UserRole:    job.UserRole,
		ReportType:  job.ReportType,
		MaskedAt:    now,
		Fields:      masked,
	}
}

func resultPath(dir string, job report.Job, now time.Time) string {
	stamp := now.UTC().Format("20060102_150405")
	ext := writer.Extension(job.DataFormat)
	return filepath.Join(dir, fmt.Sprintf("report_%s_%s.%s", job.JobID, stamp, ext))
}
