package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/vixen/engine/eventbus"
)

func TestWatcherPublishesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	if err := os.WriteFile(path, []byte("[timeline]\ngpu_time_budget_ns = 16666666\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.NewMessageBus()
	var reloaded *EngineConfig
	bus.Subscribe(eventbus.MessageBudgetConfigChanged, func(msg *eventbus.Message) bool {
		reloaded, _ = msg.Payload.(*EngineConfig)
		return false
	})

	watcher, err := NewWatcher(path, bus)
	if err != nil {
		t.Fatalf("NewWatcher = %v", err)
	}
	defer watcher.Close()

	if err := os.WriteFile(path, []byte("[timeline]\ngpu_time_budget_ns = 8333333\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The notification arrives asynchronously; drain until seen.
	deadline := time.Now().Add(5 * time.Second)
	for reloaded == nil && time.Now().Before(deadline) {
		bus.ProcessMessages()
		time.Sleep(10 * time.Millisecond)
	}

	if reloaded == nil {
		t.Fatal("no BudgetConfigChanged message after file change")
	}
	if reloaded.Timeline.GPUTimeBudgetNs != 8_333_333 {
		t.Errorf("reloaded GPUTimeBudgetNs = %d, want 8333333", reloaded.Timeline.GPUTimeBudgetNs)
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.NewMessageBus()
	watcher, err := NewWatcher(path, bus)
	if err != nil {
		t.Fatalf("NewWatcher = %v", err)
	}
	defer watcher.Close()

	if err := os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)
	bus.ProcessMessages()
	if stats := bus.GetStats(); stats.TotalPublished != 0 {
		t.Errorf("published %d messages for a sibling file, want 0", stats.TotalPublished)
	}
}
