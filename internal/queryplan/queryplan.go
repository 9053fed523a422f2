// Copyright 2025 James Ross

// Package queryplan maps a caller identity and requested filters onto a
// bounded parameterized query plan, enforcing the tenant/ownership policy
// before any row is ever fetched.
package queryplan

import (
	"errors"
	"time"
)

// ErrMissingTenant is returned when a tenant-restricted role omits tenantId.
var ErrMissingTenant = errors.New("queryplan: MissingTenant: tenant id required for this role")

// ErrMissingUserID is returned when an owner-restricted role omits userId.
var ErrMissingUserID = errors.New("queryplan: user id required for this role")

// Role names recognized by the planner policy. Any other role is treated
// like CASE_WORKER (tenant-restricted) since that is the more conservative
// default.
const (
	RoleAdmin           = "ADMIN"
	RoleSystemScheduler = "SYSTEM_SCHEDULER"
	RoleSupervisor      = "SUPERVISOR"
	RoleCaseWorker      = "CASE_WORKER"
	RoleProvider        = "PROVIDER"
	RoleRecipient       = "RECIPIENT"
)

// DateRange is an inclusive [Start, End] predicate. Zero value means "no filter".
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (d DateRange) present() bool {
	return !d.Start.IsZero() || !d.End.IsZero()
}

// Request is the planner's input (spec §4.3).
type Request struct {
	Role         string
	TenantID     string
	HasTenant    bool
	UserID       string
	HasUserID    bool
	DateRange    DateRange
	ExtraFilters map[string]string
}

// Plan is the bounded, parameterized query description consumed by the data fetcher.
type Plan struct {
	Role           string
	TenantID       string
	TenantFilter   bool
	OwnerUserID    string
	OwnerFilter    bool
	DateRange      DateRange
	DateFilter     bool
	ExtraFilters   map[string]string
}

// Build applies the per-role tenant/ownership policy and returns a Plan, or
// an error if a required identity fact is missing.
func Build(req Request) (Plan, error) {
	plan := Plan{
		Role:         req.Role,
		DateRange:    req.DateRange,
		DateFilter:   req.DateRange.present(),
		ExtraFilters: req.ExtraFilters,
	}

	switch req.Role {
	case RoleAdmin, RoleSystemScheduler:
		if req.HasTenant {
			plan.TenantID = req.TenantID
			plan.TenantFilter = true
		}
	case RoleProvider, RoleRecipient:
		if !req.HasUserID {
			return Plan{}, ErrMissingUserID
		}
		plan.OwnerUserID = req.UserID
		plan.OwnerFilter = true
		if req.HasTenant {
			plan.TenantID = req.TenantID
			plan.TenantFilter = true
		}
	default:
		// SUPERVISOR, CASE_WORKER, and any unrecognized role default to the
		// more conservative tenant-restricted policy.
		if !req.HasTenant {
			return Plan{}, ErrMissingTenant
		}
		plan.TenantID = req.TenantID
		plan.TenantFilter = true
	}

	return plan, nil
}
