package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Timeline.GPUTimeBudgetNs != 16_666_666 {
		t.Errorf("GPUTimeBudgetNs = %d, want default 16666666", cfg.Timeline.GPUTimeBudgetNs)
	}
	if cfg.EventBus.ExpectedCapacity != 1024 {
		t.Errorf("ExpectedCapacity = %d, want default 1024", cfg.EventBus.ExpectedCapacity)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	content := `
[timeline]
num_gpu_queues = 2
gpu_time_budget_ns = 8333333

[event_bus]
expected_capacity = 4096
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Timeline.NumGPUQueues != 2 {
		t.Errorf("NumGPUQueues = %d, want 2", cfg.Timeline.NumGPUQueues)
	}
	if cfg.Timeline.GPUTimeBudgetNs != 8_333_333 {
		t.Errorf("GPUTimeBudgetNs = %d, want 8333333", cfg.Timeline.GPUTimeBudgetNs)
	}
	if cfg.EventBus.ExpectedCapacity != 4096 {
		t.Errorf("ExpectedCapacity = %d, want 4096", cfg.EventBus.ExpectedCapacity)
	}
	// Untouched keys keep their defaults.
	if cfg.Timeline.AdaptiveThreshold != 0.90 {
		t.Errorf("AdaptiveThreshold = %f, want default 0.90", cfg.Timeline.AdaptiveThreshold)
	}
}

func TestLoadBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	if err := os.WriteFile(path, []byte("timeline = {{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed TOML should error")
	}
}
