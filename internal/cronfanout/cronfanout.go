// Copyright 2025 James Ross

// Package cronfanout is the time-driven half of admission: a registry of
// named cadences that, on each firing, expand a set of configured profiles
// into one or more SCHEDULED jobs, grounded on the teacher's calendar-view
// date-window arithmetic and wired onto robfig/cron for the scheduling loop
// itself (spec §4.10).
package cronfanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/caseworks/reportpipeline/internal/forecast"
	"github.com/caseworks/reportpipeline/internal/jobstore"
	"github.com/caseworks/reportpipeline/internal/notify"
	"github.com/caseworks/reportpipeline/internal/obs"
	"github.com/caseworks/reportpipeline/internal/report"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Cadence names one of the fixed firing schedules (spec §4.10).
type Cadence string

const (
	CadenceDaily     Cadence = "DAILY"
	CadenceWeekly    Cadence = "WEEKLY"
	CadenceMonthly   Cadence = "MONTHLY"
	CadenceQuarterly Cadence = "QUARTERLY"
	CadenceYearly    Cadence = "YEARLY"
	CadenceTest      Cadence = "TEST"
)

// TokenMinter mints a county-scoped service bearer token (implemented by
// idprovider.Client; a test double satisfies this for unit tests).
type TokenMinter interface {
	MintServiceToken(ctx context.Context, rolePrefix, countyCode, password string) (string, error)
}

// ProfileSet is a cadence's configured profiles plus the default
// dispatch parameters (format/target/chunking) applied to every job it emits.
type ProfileSet struct {
	Profiles     []report.CronProfile
	DataFormat   report.DataFormat
	TargetSystem string
	ChunkSize    int
	Priority     int
}

// Config drives the fan-out registry (spec §6 `cron.<cadence>`).
type Config struct {
	Expressions map[Cadence]string // robfig/cron expression per cadence
	Profiles    map[Cadence]ProfileSet
	// Passwords maps a CronProfile.ProfileKey to the service identity
	// password used when minting its tokens.
	Passwords map[string]string
}

// Scheduler runs the cron registry and the bounded test harness.
type Scheduler struct {
	cron      *cron.Cron
	store     jobstore.Store
	minter    TokenMinter
	notifier  *notify.Notifier
	estimator *forecast.Estimator
	cfg       Config
	logger    *zap.Logger
	clock     func() time.Time
}

// New constructs a Scheduler. clock defaults to time.Now and is overridable
// for deterministic date-range tests.
func New(store jobstore.Store, minter TokenMinter, notifier *notify.Notifier, estimator *forecast.Estimator, cfg Config, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		store:     store,
		minter:    minter,
		notifier:  notifier,
		estimator: estimator,
		cfg:       cfg,
		logger:    logger,
		clock:     time.Now,
	}
}

// Start registers every configured cadence's cron expression and begins
// the scheduler loop. Returns an error if any expression fails to parse.
func (s *Scheduler) Start() error {
	for cadence, expr := range s.cfg.Expressions {
		cadence := cadence
		if _, err := s.cron.AddFunc(expr, func() { s.Fire(context.Background(), cadence) }); err != nil {
			return fmt.Errorf("cronfanout: bad expression for %s: %w", cadence, err)
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight firing to complete.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Fire expands every profile configured for cadence into jobs and emits a
// batch-summary notification. Errors enqueueing one profile never prevent
// the rest of the batch from running (spec §4.9.3's "never fail the
// parent" philosophy applied symmetrically here).
func (s *Scheduler) Fire(ctx context.Context, cadence Cadence) {
	set, ok := s.cfg.Profiles[cadence]
	if !ok {
		return
	}
	start, end := ComputeDateRange(cadence, s.clock())

	var total, success, failure int
	for _, profile := range set.Profiles {
		for _, reportType := range profile.ReportTypes {
			jobIDs, err := s.emitProfile(ctx, set, profile, reportType, start, end)
			total += len(jobIDs)
			if err != nil {
				failure++
				s.logger.Error("cronfanout: profile emission failed",
					zap.String("cadence", string(cadence)),
					zap.String("profile", profile.ProfileKey),
					zap.String("reportType", reportType),
					zap.Error(err))
				continue
			}
			success += len(jobIDs)
		}
	}
	obs.CronJobsEmitted.Add(float64(total))
	s.notifier.BatchCompleted(ctx, total, success, failure)
}

// emitProfile expands one (profile, reportType) pair into one job per the
// county-cardinality rule in spec §4.10, returning the enqueued job ids.
func (s *Scheduler) emitProfile(ctx context.Context, set ProfileSet, profile report.CronProfile, reportType string, start, end time.Time) ([]string, error) {
	counties := profile.Counties
	if len(counties) == 0 {
		jobID, err := s.emitJob(ctx, set, profile, reportType, "", start, end)
		if err != nil {
			return nil, err
		}
		return []string{jobID}, nil
	}
	if len(counties) == 1 {
		jobID, err := s.emitJob(ctx, set, profile, reportType, counties[0], start, end)
		if err != nil {
			return nil, err
		}
		return []string{jobID}, nil
	}

	jobIDs := make([]string, 0, len(counties))
	var firstErr error
	for _, county := range counties {
		jobID, err := s.emitJob(ctx, set, profile, reportType, county, start, end)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		jobIDs = append(jobIDs, jobID)
	}
	return jobIDs, firstErr
}

func (s *Scheduler) emitJob(ctx context.Context, set ProfileSet, profile report.CronProfile, reportType, county string, start, end time.Time) (string, error) {
	token, err := s.minter.MintServiceToken(ctx, strings.ToLower(profile.Role), county, s.cfg.Passwords[profile.ProfileKey])
	if err != nil {
		return "", fmt.Errorf("cronfanout: mint token for profile %s: %w", profile.ProfileKey, err)
	}

	requestData, err := json.Marshal(map[string]any{
		"dateRangeStart": start.Format(time.RFC3339),
		"dateRangeEnd":   end.Format(time.RFC3339),
		"profileKey":     profile.ProfileKey,
	})
	if err != nil {
		return "", err
	}

	estimate, source := s.estimator.Estimate(reportType)
	return s.store.Enqueue(ctx, jobstore.EnqueueRequest{
		UserRole:     profile.Role,
		ReportType:   reportType,
		TargetSystem: set.TargetSystem,
		DataFormat:   set.DataFormat,
		ChunkSize:    set.ChunkSize,
		TenantID:     county,
		RequestData:  string(requestData),
		BearerToken:  token,
		JobSource:    report.SourceScheduled,
		Priority:     set.Priority,
	}, estimate, source)
}

// FireProfile fires a single (profile, reportType) pair under cadence,
// used by the bounded test harness (spec §4.10 "Test harness") rather than
// expanding every configured profile.
func (s *Scheduler) FireProfile(ctx context.Context, cadence Cadence, profileKey, reportType string) {
	set, ok := s.cfg.Profiles[cadence]
	if !ok {
		return
	}
	var profile report.CronProfile
	var found bool
	for _, p := range set.Profiles {
		if p.ProfileKey == profileKey {
			profile, found = p, true
			break
		}
	}
	if !found {
		s.logger.Warn("cronfanout: test harness profile not found", zap.String("profileKey", profileKey))
		return
	}

	start, end := ComputeDateRange(cadence, s.clock())
	jobIDs, err := s.emitProfile(ctx, set, profile, reportType, start, end)
	success, failure := len(jobIDs), 0
	if err != nil {
		failure = 1
		s.logger.Error("cronfanout: test harness emission failed", zap.String("profile", profileKey), zap.Error(err))
	}
	obs.CronJobsEmitted.Add(float64(len(jobIDs)))
	s.notifier.BatchCompleted(ctx, len(jobIDs), success, failure)
}

// ComputeDateRange returns the [start, end) window a cadence's firing
// covers, evaluated relative to now (spec §4.10).
func ComputeDateRange(cadence Cadence, now time.Time) (time.Time, time.Time) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch cadence {
	case CadenceDaily:
		yesterday := today.AddDate(0, 0, -1)
		return yesterday, today
	case CadenceWeekly:
		weekday := int(today.Weekday())
		if weekday == 0 {
			weekday = 7 // ISO: Sunday is 7
		}
		thisMonday := today.AddDate(0, 0, -(weekday - 1))
		prevMonday := thisMonday.AddDate(0, 0, -7)
		return prevMonday, thisMonday
	case CadenceMonthly:
		firstOfThisMonth := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		firstOfPrevMonth := firstOfThisMonth.AddDate(0, -1, 0)
		return firstOfPrevMonth, firstOfThisMonth
	case CadenceQuarterly:
		qStartMonth := time.Month(((int(today.Month())-1)/3)*3 + 1)
		firstOfThisQuarter := time.Date(today.Year(), qStartMonth, 1, 0, 0, 0, 0, today.Location())
		firstOfPrevQuarter := firstOfThisQuarter.AddDate(0, -3, 0)
		return firstOfPrevQuarter, firstOfThisQuarter
	case CadenceYearly:
		firstOfThisYear := time.Date(today.Year(), 1, 1, 0, 0, 0, 0, today.Location())
		firstOfPrevYear := firstOfThisYear.AddDate(-1, 0, 0)
		return firstOfPrevYear, firstOfThisYear
	default: // CadenceTest: today only
		return today, today.AddDate(0, 0, 1)
	}
}
