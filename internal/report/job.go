// Copyright 2025 James Ross
package report

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a Job (spec §3).
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// DataFormat is the requested output encoding for a report.
type DataFormat string

const (
	FormatJSON DataFormat = "JSON"
	FormatCSV  DataFormat = "CSV"
	FormatXML  DataFormat = "XML"
	FormatPDF  DataFormat = "PDF"
)

// Source records who originated a job.
type Source string

const (
	SourceManual    Source = "MANUAL"
	SourceScheduled Source = "SCHEDULED"
	SourceAPI       Source = "API"
)

// validTransitions is the adjacency list of legal status transitions (spec §3, §8).
var validTransitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether moving from `from` to `to` is a legal
// status transition under spec §3's invariant.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Job is the central durable entity of the pipeline (spec §3).
type Job struct {
	JobID       string `json:"jobId"`
	Priority    int    `json:"priority"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	EstimatedCompletionTime   time.Duration `json:"estimatedCompletionTime"`
	EstimatedDurationSource   string        `json:"estimatedDurationSource"` // CONFIG | LEARNED
	JobSource                 Source        `json:"jobSource"`

	UserRole     string     `json:"userRole"`
	ReportType   string     `json:"reportType"`
	TargetSystem string     `json:"targetSystem"`
	DataFormat   DataFormat `json:"dataFormat"`
	ChunkSize    int        `json:"chunkSize"`
	TenantID     string     `json:"tenantId"`
	RequestData  string     `json:"requestData"` // serialized original request
	BearerToken  string     `json:"bearerToken"`

	Status           Status `json:"status"`
	Progress         int    `json:"progress"`
	TotalRecords     *int64 `json:"totalRecords,omitempty"`
	ProcessedRecords int64  `json:"processedRecords"`
	ResultPath       string `json:"resultPath,omitempty"`
	ErrorMessage     string `json:"errorMessage,omitempty"`

	ParentJobID string `json:"parentJobId,omitempty"`
}

// Marshal serializes the whole job as JSON, matching
// the teacher's queue.Job wire-shape convention of a small JSON envelope.
func (j Job) Marshal() (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalJob parses a JSON-encoded Job.
func UnmarshalJob(s string) (Job, error) {
	var j Job
	err := json.Unmarshal([]byte(s), &j)
	return j, err
}

// Visible implements the §4.7.1 visibility filter for non-privileged callers.
// ADMIN and SYSTEM_SCHEDULER see everything and should be special-cased by
// the caller before reaching here.
func (j Job) Visible(callerRole, callerTenant string, callerHasTenant bool) bool {
	if j.UserRole != callerRole {
		return false
	}
	if j.TenantID == "ALL" {
		return true
	}
	if !callerHasTenant {
		return j.TenantID == ""
	}
	return j.TenantID == callerTenant
}
