// Copyright 2025 James Ross

// Package dependency implements the dependency engine (spec §4.9): on a
// job's COMPLETED transition, evaluate matching rules and enqueue
// dependents, single-parent or fan-in.
package dependency

import (
	"context"
	"errors"
	"fmt"

	"github.com/caseworks/reportpipeline/internal/jobstore"
	"github.com/caseworks/reportpipeline/internal/obs"
	"github.com/caseworks/reportpipeline/internal/report"
	"go.uber.org/zap"
)

// ErrCycle is returned by ValidateRules when the configured rule set
// contains a dependency cycle (decided in DESIGN.md's open-question #1:
// detected at load time, not at runtime).
var ErrCycle = errors.New("dependency: cycle detected in rule set")

// Engine evaluates dependency rules against a completed job.
type Engine struct {
	store  jobstore.Store
	rules  []report.DependencyRule
	logger *zap.Logger
}

// New constructs an Engine over an already-validated rule set.
func New(store jobstore.Store, rules []report.DependencyRule, logger *zap.Logger) *Engine {
	return &Engine{store: store, rules: rules, logger: logger}
}

// ValidateRules runs a cycle check over the reportType dependency graph
// implied by rules: parentReportType(s) -> dependentReportType edges.
// Call this once at startup before constructing an Engine.
func ValidateRules(rules []report.DependencyRule) error {
	graph := make(map[string][]string)
	for _, r := range rules {
		parents := r.ParentReportTypes
		if len(parents) == 0 {
			parents = []string{r.ParentReportType}
		}
		for _, p := range parents {
			graph[p] = append(graph[p], r.DependentReportType)
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)
	var visit func(node string) error
	visit = func(node string) error {
		switch state[node] {
		case visiting:
			return fmt.Errorf("%w: at %q", ErrCycle, node)
		case done:
			return nil
		}
		state[node] = visiting
		for _, next := range graph[node] {
			if err := visit(next); err != nil {
				return err
			}
		}
		state[node] = done
		return nil
	}
	for node := range graph {
		if err := visit(node); err != nil {
			return err
		}
	}
	return nil
}

// OnCompleted evaluates every configured rule against a job that just
// transitioned to COMPLETED. Errors are logged, never propagated (spec
// §4.9.3, §7 DependencyError).
func (e *Engine) OnCompleted(ctx context.Context, parent report.Job) {
	for _, rule := range e.rules {
		if !rule.TriggeredBy(parent.Status) {
			continue
		}
		if err := e.evaluate(ctx, rule, parent); err != nil {
			e.logger.Error("dependency: rule evaluation failed",
				zap.String("rule", rule.Name), zap.String("parentJobId", parent.JobID), zap.Error(err))
		}
	}
}

func (e *Engine) evaluate(ctx context.Context, rule report.DependencyRule, parent report.Job) error {
	if rule.IsFanIn() {
		return e.evaluateFanIn(ctx, rule, parent)
	}
	return e.evaluateSingle(ctx, rule, parent)
}

func (e *Engine) evaluateSingle(ctx context.Context, rule report.DependencyRule, parent report.Job) error {
	if !rule.Matches(parent.ReportType, parent.UserRole) {
		return nil
	}
	return e.enqueueDependent(ctx, rule, parent)
}

func (e *Engine) evaluateFanIn(ctx context.Context, rule report.DependencyRule, parent report.Job) error {
	inList := false
	for _, rt := range rule.ParentReportTypes {
		if rt == parent.ReportType {
			inList = true
			break
		}
	}
	if !inList {
		return nil
	}
	if rule.ParentRole != "" && rule.ParentRole != parent.UserRole {
		return nil
	}

	completed, err := e.store.FindCompletedByReportTypes(ctx, parent.UserRole, rule.ParentReportTypes)
	if err != nil {
		return fmt.Errorf("check fan-in completion: %w", err)
	}
	for _, rt := range rule.ParentReportTypes {
		if !completed[rt] {
			return nil // a later sibling's completion re-evaluates (spec §4.9.2)
		}
	}
	return e.enqueueDependent(ctx, rule, parent)
}

func (e *Engine) enqueueDependent(ctx context.Context, rule report.DependencyRule, parent report.Job) error {
	req := jobstore.EnqueueRequest{
		UserRole:     firstNonEmpty(rule.DependentRole, parent.UserRole),
		ReportType:   rule.DependentReportType,
		TargetSystem: firstNonEmpty(rule.DependentTargetSystem, parent.TargetSystem),
		DataFormat:   orFormat(rule.DependentDataFormat, parent.DataFormat),
		ChunkSize:    orInt(rule.DependentChunkSize, parent.ChunkSize),
		TenantID:     parent.TenantID,
		RequestData:  parent.RequestData,
		BearerToken:  parent.BearerToken,
		JobSource:    parent.JobSource,
		Priority:     orInt(rule.DependentPriority, parent.Priority),
		ParentJobID:  parent.JobID,
	}
	jobID, err := e.store.Enqueue(ctx, req, 0, "CONFIG")
	if err != nil {
		return fmt.Errorf("enqueue dependent: %w", err)
	}
	obs.DependencyJobsEnqueued.Inc()
	e.logger.Info("dependency: enqueued dependent job",
		zap.String("rule", rule.Name), zap.String("parentJobId", parent.JobID), zap.String("dependentJobId", jobID))
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func orFormat(a, b report.DataFormat) report.DataFormat {
	if a != "" {
		return a
	}
	return b
}

func orInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}
