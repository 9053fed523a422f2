// Copyright 2025 James Ross
package report

// CronProfile is a named (role, counties, reportTypes) tuple expanded by the
// cron fan-out into one job per (profile × reportType × county) on each tick
// (spec §3 "Cron profile").
type CronProfile struct {
	ProfileKey  string
	Role        string
	Counties    []string // empty == unrestricted
	ReportTypes []string
}
