package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/vixen/engine/core"
)

// TimelineConfig configures the capacity tracker and task queues.
type TimelineConfig struct {
	NumGPUQueues  uint32 `toml:"num_gpu_queues"`
	NumCPUThreads uint32 `toml:"num_cpu_threads"`

	GPUTimeBudgetNs uint64 `toml:"gpu_time_budget_ns"`
	CPUTimeBudgetNs uint64 `toml:"cpu_time_budget_ns"`

	HistoryDepth uint32 `toml:"history_depth"`

	AdaptiveThreshold  float32 `toml:"adaptive_threshold"`
	HysteresisDamping  float32 `toml:"hysteresis_damping"`
	HysteresisDeadband float32 `toml:"hysteresis_deadband"`
}

// EventBusConfig configures the message queue reservation.
type EventBusConfig struct {
	ExpectedCapacity int  `toml:"expected_capacity"`
	AllowGrowth      bool `toml:"allow_growth"`
}

// MemoryConfig configures the budget manager.
type MemoryConfig struct {
	DeviceBudgetBytes uint64 `toml:"device_budget_bytes"`
	HostBudgetBytes   uint64 `toml:"host_budget_bytes"`
}

// EngineConfig is the root of engine.toml.
type EngineConfig struct {
	Timeline TimelineConfig `toml:"timeline"`
	EventBus EventBusConfig `toml:"event_bus"`
	Memory   MemoryConfig   `toml:"memory"`
}

// Default returns the built-in configuration: one GPU queue with a 60 FPS
// budget, one CPU thread with an 8 ms budget.
func Default() EngineConfig {
	return EngineConfig{
		Timeline: TimelineConfig{
			NumGPUQueues:       1,
			NumCPUThreads:      1,
			GPUTimeBudgetNs:    16_666_666,
			CPUTimeBudgetNs:    8_000_000,
			HistoryDepth:       60,
			AdaptiveThreshold:  0.90,
			HysteresisDamping:  0.10,
			HysteresisDeadband: 0.05,
		},
		EventBus: EventBusConfig{
			ExpectedCapacity: 1024,
			AllowGrowth:      true,
		},
	}
}

// Load reads a TOML file over the defaults. A missing file returns the
// defaults without error.
func Load(path string) (EngineConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			core.LogDebug("config %s not found; using defaults", path)
			return cfg, nil
		}
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Default(), err
	}
	return cfg, nil
}
