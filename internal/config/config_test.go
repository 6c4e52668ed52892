package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadIncludesPipelineDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("MAX_ATTEMPTS", "")
	t.Setenv("INITIAL_BACKOFF_SECONDS", "")
	t.Setenv("LOCK_STALENESS_MINUTES", "")
	t.Setenv("DELIVERY_SIZE_CEILING_MB", "")
	t.Setenv("DELIVER_INTERVAL_SECONDS", "")
	t.Setenv("SWEEP_SCHEDULE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("expected default max attempts 5, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialBackoffSeconds != 2 {
		t.Fatalf("expected default initial backoff 2s, got %d", cfg.InitialBackoffSeconds)
	}
	if cfg.LockStalenessMinutes != 30 {
		t.Fatalf("expected default lock staleness 30m, got %d", cfg.LockStalenessMinutes)
	}
	if cfg.DeliverySizeCeilingMB != 49 {
		t.Fatalf("expected default size ceiling 49MB, got %d", cfg.DeliverySizeCeilingMB)
	}
	if cfg.DeliverIntervalSeconds != 3 {
		t.Fatalf("expected default deliver interval 3s, got %d", cfg.DeliverIntervalSeconds)
	}
	if cfg.SweepSchedule != "*/10 * * * *" {
		t.Fatalf("expected default sweep schedule, got %q", cfg.SweepSchedule)
	}
}

func TestLoadParsesEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("MAX_ATTEMPTS", "3")
	t.Setenv("DELIVERY_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "artifacts-test")
	t.Setenv("WORKER_COUNT", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("expected max attempts 3, got %d", cfg.MaxAttempts)
	}
	if cfg.DeliveryBackend != "s3" {
		t.Fatalf("expected delivery backend s3, got %q", cfg.DeliveryBackend)
	}
	if cfg.S3Bucket != "artifacts-test" {
		t.Fatalf("expected bucket override, got %q", cfg.S3Bucket)
	}
	if cfg.WorkerCount != 8 {
		t.Fatalf("expected worker count 8, got %d", cfg.WorkerCount)
	}
}

func TestLoadOverlaysConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte("max_attempts: 7\nnats_subject: documents.custom\n")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_ATTEMPTS", "3")
	t.Setenv("NATS_QUEUE_GROUP", "workers-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxAttempts != 7 {
		t.Fatalf("expected file value 7 to win, got %d", cfg.MaxAttempts)
	}
	if cfg.NATSSubject != "documents.custom" {
		t.Fatalf("expected file subject, got %q", cfg.NATSSubject)
	}
	if cfg.NATSQueueGroup != "workers-env" {
		t.Fatalf("expected env queue group kept, got %q", cfg.NATSQueueGroup)
	}
}

func TestLoadRejectsMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
