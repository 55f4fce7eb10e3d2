package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: "9090"
pipeline:
  max_attempts: 5
  worker_concurrency: 2
  chain_across_beats: true
scheduler:
  stall_after_minutes: 45
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DATABASE_URL", "postgres://db/test")
	t.Setenv("WORKER_CONCURRENCY", "8")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Database.URL != "postgres://db/test" {
		t.Fatalf("unexpected server/database config: %+v %+v", cfg.Server, cfg.Database)
	}
	if cfg.Pipeline.WorkerConcurrency != 8 || !cfg.Pipeline.ChainAcrossBeats {
		t.Fatalf("pipeline = %+v", cfg.Pipeline)
	}
	// Untouched keys keep their defaults.
	if cfg.Redis.Addr != "localhost:6379" || cfg.Pipeline.LaneConcurrency != 2 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.Scheduler.StallAfter() != 45*time.Minute {
		t.Fatalf("stall after = %v", cfg.Scheduler.StallAfter())
	}
	p := cfg.Pipeline.RetryPolicy()
	if p.MaxAttempts != 5 || p.InitialInterval != 2*time.Second {
		t.Fatalf("policy = %+v", p)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.MaxAttempts != 3 {
		t.Fatalf("max attempts = %d", cfg.Pipeline.MaxAttempts)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("pipeline:\n  max_attempts: 0\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}

	t.Setenv("WORKER_CONCURRENCY", "many")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected parse error for WORKER_CONCURRENCY")
	}
}

func TestLoadRejectsStallWindowShorterThanRetriedCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	// 3 x 300s attempts plus 2 x 30s backoff is 16 minutes.
	os.WriteFile(path, []byte("scheduler:\n  stall_after_minutes: 15\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected a 15 minute stall window to be rejected")
	}

	os.WriteFile(path, []byte("scheduler:\n  stall_after_minutes: 17\n"), 0o644)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Pipeline.WorstCaseCall(); got != 16*time.Minute {
		t.Fatalf("worst-case call = %s, want 16m", got)
	}
}

func TestDefaultStallWindowOutlastsRetriedCall(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}
