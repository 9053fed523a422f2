// Copyright 2025 James Ross
package report

// DependencyRule is static configuration (spec §3 "Dependency rule"); the
// rule set is immutable at runtime and discovered by scanning a static list.
type DependencyRule struct {
	Name string

	// Exactly one of ParentReportType / ParentReportTypes is set.
	ParentReportType  string
	ParentReportTypes []string // fan-in

	ParentRole string // optional filter

	// TriggerOn names the parent status that fires this rule; defaults to
	// StatusCompleted when empty.
	TriggerOn Status

	DependentReportType   string
	DependentRole         string
	DependentTargetSystem string
	DependentDataFormat   DataFormat
	DependentPriority     int
	DependentChunkSize    int
}

// IsFanIn reports whether this rule requires multiple parent report types.
func (r DependencyRule) IsFanIn() bool {
	return len(r.ParentReportTypes) > 0
}

// Matches reports whether the given parent job's report type (and, if set,
// role) satisfies this rule's parent predicate.
func (r DependencyRule) Matches(parentReportType, parentRole string) bool {
	if r.ParentRole != "" && r.ParentRole != parentRole {
		return false
	}
	if r.IsFanIn() {
		for _, t := range r.ParentReportTypes {
			if t == parentReportType {
				return true
			}
		}
		return false
	}
	return r.ParentReportType == parentReportType
}

// triggerStatus returns the configured trigger status, defaulting to COMPLETED.
func (r DependencyRule) triggerStatus() Status {
	if r.TriggerOn == "" {
		return StatusCompleted
	}
	return r.TriggerOn
}

// TriggeredBy reports whether a parent's transition to `status` fires this rule.
func (r DependencyRule) TriggeredBy(status Status) bool {
	return status == r.triggerStatus()
}
