// Copyright 2025 James Ross
package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("REPORTS_WORKER_POOL_SIZE")
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WorkerPool.Size != 8 {
		t.Fatalf("expected default worker pool size 8, got %d", cfg.WorkerPool.Size)
	}
	if cfg.Redis.Addr == "" {
		t.Fatalf("expected default redis addr")
	}
	if cfg.Chunk.DefaultSize != 1000 {
		t.Fatalf("expected default chunk size 1000, got %d", cfg.Chunk.DefaultSize)
	}
}

func TestEstimatedMinutesFallsBackToDefault(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.EstimatedMinutes("DAILY_SUMMARY"); got != 5 {
		t.Fatalf("expected configured estimate 5, got %d", got)
	}
	if got := cfg.EstimatedMinutes("UNKNOWN_TYPE"); got != 10 {
		t.Fatalf("expected fallback estimate 10, got %d", got)
	}
}
