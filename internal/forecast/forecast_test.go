// Copyright 2025 James Ross
package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEstimateFallsBackToConfig(t *testing.T) {
	e := NewEstimator(map[string]time.Duration{"DAILY_SUMMARY": 5 * time.Minute})
	d, source := e.Estimate("DAILY_SUMMARY")
	require.Equal(t, 5*time.Minute, d)
	require.Equal(t, "CONFIG", source)
}

func TestEstimateUnknownReportTypeDefaultsToTenMinutes(t *testing.T) {
	e := NewEstimator(nil)
	d, source := e.Estimate("UNKNOWN_TYPE")
	require.Equal(t, 10*time.Minute, d)
	require.Equal(t, "CONFIG", source)
}

func TestEstimateStaysConfigBeforeThreeSamples(t *testing.T) {
	e := NewEstimator(map[string]time.Duration{"DAILY_SUMMARY": 5 * time.Minute})
	e.Observe("DAILY_SUMMARY", 8*time.Minute)
	e.Observe("DAILY_SUMMARY", 8*time.Minute)
	d, source := e.Estimate("DAILY_SUMMARY")
	require.Equal(t, "CONFIG", source)
	require.Equal(t, 5*time.Minute, d)
}

func TestObserveSwitchesSourceToLearnedAfterThreeSamples(t *testing.T) {
	e := NewEstimator(map[string]time.Duration{"DAILY_SUMMARY": 5 * time.Minute})
	e.Observe("DAILY_SUMMARY", 8*time.Minute)
	e.Observe("DAILY_SUMMARY", 8*time.Minute)
	e.Observe("DAILY_SUMMARY", 8*time.Minute)
	d, source := e.Estimate("DAILY_SUMMARY")
	require.Equal(t, "LEARNED", source)
	require.True(t, d > 5*time.Minute && d <= 8*time.Minute)
}

func TestEstimateLearnedNeverFallsBelowConfig(t *testing.T) {
	e := NewEstimator(map[string]time.Duration{"DAILY_SUMMARY": 5 * time.Minute})
	e.Observe("DAILY_SUMMARY", 1*time.Minute)
	e.Observe("DAILY_SUMMARY", 1*time.Minute)
	e.Observe("DAILY_SUMMARY", 1*time.Minute)
	d, source := e.Estimate("DAILY_SUMMARY")
	require.Equal(t, "LEARNED", source)
	require.Equal(t, 5*time.Minute, d)
}
