// Copyright 2025 James Ross

// Package forecast estimates a job's completion time at enqueue time.
// Each report type starts from its configured estimate and is refined by
// an exponentially weighted moving average over observed durations,
// grounded on the teacher's internal/forecasting EWMA model (spec A8).
package forecast

import (
	"sync"
	"time"
)

const defaultAlpha = 0.3

// minSamplesForLearned is the number of Observe calls required before the
// EWMA estimate is trusted enough to influence Estimate's result (spec
// §4.19).
const minSamplesForLearned = 3

// Estimator tracks a per-report-type EWMA of observed completion durations.
type Estimator struct {
	alpha        float64
	configured   map[string]time.Duration // reportType -> config default
	mu           sync.Mutex
	learned      map[string]time.Duration
	observations map[string]int
}

// NewEstimator constructs an Estimator seeded with the configured
// per-report-type minutes (config key `reportType.estimatedMinutes.<type>`).
func NewEstimator(configured map[string]time.Duration) *Estimator {
	return &Estimator{
		alpha:        defaultAlpha,
		configured:   configured,
		learned:      make(map[string]time.Duration),
		observations: make(map[string]int),
	}
}

// Estimate returns (duration, source) for reportType. Once at least
// minSamplesForLearned observations have been recorded, it returns
// max(configured estimate, EWMA estimate) as "LEARNED"; until then it
// returns the configured (or default) estimate as "CONFIG" (spec §4.19).
func (e *Estimator) Estimate(reportType string) (time.Duration, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	configured, hasConfigured := e.configured[reportType]
	if !hasConfigured {
		configured = 10 * time.Minute
	}
	if e.observations[reportType] >= minSamplesForLearned {
		learned := e.learned[reportType]
		if learned > configured {
			return learned, "LEARNED"
		}
		return configured, "LEARNED"
	}
	return configured, "CONFIG"
}

// Observe updates the EWMA for reportType with an actual completion duration.
func (e *Estimator) Observe(reportType string, actual time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.learned[reportType]
	if !ok {
		prev, ok = e.configured[reportType]
	}
	if !ok {
		prev = actual
	}
	e.learned[reportType] = time.Duration(e.alpha*float64(actual) + (1-e.alpha)*float64(prev))
	e.observations[reportType]++
}
