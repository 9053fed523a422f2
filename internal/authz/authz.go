// Copyright 2025 James Ross

// Package authz centralizes the small set of role-based access decisions
// shared by the admission layer and the job store's visibility filter,
// grounded on the teacher's multi-tenant-isolation module generalized from
// per-tenant Redis namespacing to per-tenant job visibility.
package authz

// Privileged roles see every job regardless of tenant or role match (spec §4.7.1).
func IsPrivileged(role string) bool {
	return role == "ADMIN" || role == "SYSTEM_SCHEDULER"
}

// CanCancel reports whether callerRole may cancel a job owned by jobRole in
// jobTenant, given the caller's own tenant. Privileged roles may cancel
// anything; everyone else may only cancel their own role/tenant's jobs,
// mirroring the §4.7.1 visibility predicate.
func CanCancel(callerRole, callerTenant string, callerHasTenant bool, jobRole, jobTenant string) bool {
	if IsPrivileged(callerRole) {
		return true
	}
	if callerRole != jobRole {
		return false
	}
	if jobTenant == "ALL" {
		return true
	}
	if !callerHasTenant {
		return jobTenant == ""
	}
	return jobTenant == callerTenant
}
