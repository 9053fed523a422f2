// Copyright 2025 James Ross
package cronfanout

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TestHarnessConfig selects the single (profile, reportType) pair the
// bounded test driver exercises end to end (spec §4.10 "Test harness").
type TestHarnessConfig struct {
	Cadence     Cadence
	ProfileKey  string
	ReportType  string
	MaxRuns     int
	RunInterval time.Duration
}

// TestHarness is a fixed-rate, bounded-run-count scheduler used to smoke
// test the pipeline without waiting for a real cron firing. It owns its
// own start/stop/reset state rather than relying on package-level globals.
type TestHarness struct {
	scheduler *Scheduler
	cfg       TestHarnessConfig

	mu      sync.Mutex
	runs    int
	stopCh  chan struct{}
	running bool
}

// NewTestHarness constructs a TestHarness bounded to cfg.MaxRuns firings
// (default 5) spaced cfg.RunInterval apart (default 2 minutes).
func NewTestHarness(scheduler *Scheduler, cfg TestHarnessConfig) *TestHarness {
	if cfg.MaxRuns <= 0 {
		cfg.MaxRuns = 5
	}
	if cfg.RunInterval <= 0 {
		cfg.RunInterval = 2 * time.Minute
	}
	return &TestHarness{scheduler: scheduler, cfg: cfg}
}

// Start begins firing on cfg.RunInterval until MaxRuns is reached or Stop
// is called. Starting an already-running harness is a no-op.
func (h *TestHarness) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	stopCh := h.stopCh
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(h.cfg.RunInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				h.finish()
				return
			case <-stopCh:
				return
			case <-ticker.C:
				if h.tick(ctx) {
					h.finish()
					return
				}
			}
		}
	}()
}

// Stop halts the harness without waiting for MaxRuns, and resets the run
// counter so a subsequent Start begins a fresh bounded run.
func (h *TestHarness) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	close(h.stopCh)
	h.running = false
	h.runs = 0
}

// Runs reports how many firings the current (or most recent) run has completed.
func (h *TestHarness) Runs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs
}

// tick fires once and reports whether MaxRuns has now been reached.
func (h *TestHarness) tick(ctx context.Context) bool {
	h.scheduler.FireProfile(ctx, h.cfg.Cadence, h.cfg.ProfileKey, h.cfg.ReportType)
	h.mu.Lock()
	h.runs++
	done := h.runs >= h.cfg.MaxRuns
	h.mu.Unlock()
	return done
}

func (h *TestHarness) finish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	h.scheduler.logger.Info("cronfanout: test harness run complete", zap.Int("runs", h.runs))
}
