// Copyright 2025 James Ross
package dispatcher

import (
	"context"
	"time"

	"github.com/caseworks/reportpipeline/internal/jobstore"
	"github.com/caseworks/reportpipeline/internal/obs"
	"github.com/caseworks/reportpipeline/internal/queryplan"
	"github.com/caseworks/reportpipeline/internal/report"
	"github.com/caseworks/reportpipeline/internal/tokeninspect"
	"go.uber.org/zap"
)

// Config drives the dispatcher's poll cadence and batching (spec §4.8).
type Config struct {
	PollInterval   time.Duration
	MaxJobsPerPoll int
	Enabled        bool
}

// Runner executes a single claimed job (implemented by streamer.Streamer).
type Runner interface {
	Run(ctx context.Context, job report.Job, plan queryplan.Plan)
}

// Dispatcher polls the job store and hands claimed jobs to a bounded pool.
type Dispatcher struct {
	store  jobstore.Store
	pool   *WorkerPool
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Dispatcher. MaxJobsPerPoll is clamped to the pool's total
// size here only to reject a nonsensical config value; the effective
// per-tick cap is recomputed against the pool's *current* free slots inside
// tick() itself, since long-running jobs from a prior tick can still be
// occupying slots (spec §4.8's "min(config.maxJobsPerPoll, free channel
// capacity)" before calling topQueued).
func New(store jobstore.Store, pool *WorkerPool, runner Runner, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxJobsPerPoll <= 0 || cfg.MaxJobsPerPoll > cap(pool.sem) {
		cfg.MaxJobsPerPoll = cap(pool.sem)
	}
	return &Dispatcher{store: store, pool: pool, runner: runner, cfg: cfg, logger: logger}
}

// Run blocks, ticking at cfg.PollInterval, until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.pool.Wait()
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	if !d.cfg.Enabled {
		return
	}

	limit := d.cfg.MaxJobsPerPoll
	if free := d.pool.FreeSlots(); free < limit {
		limit = free
	}
	if limit <= 0 {
		// Pool is saturated by jobs still running from a prior tick; leave
		// everything QUEUED and try again next tick (spec §4.8).
		return
	}

	batch, err := d.store.TopQueued(ctx, limit)
	if err != nil {
		d.logger.Error("dispatcher: topQueued failed", zap.Error(err))
		return
	}

	for _, job := range batch {
		claimed, err := d.store.Claim(ctx, job.JobID)
		if err != nil {
			d.logger.Error("dispatcher: claim failed", zap.String("jobId", job.JobID), zap.Error(err))
			continue
		}
		if claimed == nil {
			// Lost the race to another dispatcher/worker; silently skip (spec §4.8.4).
			continue
		}
		obs.JobsClaimed.Inc()

		plan, err := buildPlan(*claimed)
		if err != nil {
			d.logger.Error("dispatcher: query plan build failed", zap.String("jobId", claimed.JobID), zap.Error(err))
			_ = d.store.UpdateStatus(ctx, claimed.JobID, report.StatusFailed, err.Error())
			continue
		}

		job := *claimed
		submitted := d.pool.TrySubmit(func() {
			d.runner.Run(ctx, job, plan)
		})
		if !submitted {
			// Should not happen: limit was computed against FreeSlots before
			// this loop started, and nothing else submits to the pool
			// concurrently with a tick.
			d.logger.Warn("dispatcher: pool saturated after free-slots clamp, job stuck in PROCESSING", zap.String("jobId", job.JobID))
		}
	}
}

func buildPlan(job report.Job) (queryplan.Plan, error) {
	view, err := tokeninspect.Inspect(job.BearerToken)
	if err != nil {
		return queryplan.Plan{}, err
	}
	req := queryplan.Request{
		Role:      job.UserRole,
		TenantID:  job.TenantID,
		HasTenant: job.TenantID != "",
		UserID:    view.UserID,
		HasUserID: view.UserID != "",
	}
	return queryplan.Build(req)
}
