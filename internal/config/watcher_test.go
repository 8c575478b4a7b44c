package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gelfstream/gelfd/internal/logging"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
}

func TestWatcherReload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeConfigFile(t, configPath, "storage:\n  max_messages: 100\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(configPath, logging.Nop(), func(cfg *Config) {
		reloaded <- cfg
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	// Give the watch a moment to establish before the first change
	time.Sleep(100 * time.Millisecond)

	writeConfigFile(t, configPath, "storage:\n  max_messages: 200\n")

	select {
	case cfg := <-reloaded:
		if cfg.Storage.MaxMessages != 200 {
			t.Errorf("Expected reloaded max messages 200, got %d", cfg.Storage.MaxMessages)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for config reload")
	}
}

func TestWatcherKeepsRunningAfterBadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeConfigFile(t, configPath, "storage:\n  max_messages: 100\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(configPath, logging.Nop(), func(cfg *Config) {
		reloaded <- cfg
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)

	// Invalid config must not reach the callback
	writeConfigFile(t, configPath, "storage:\n  max_messages: -1\n")

	select {
	case cfg := <-reloaded:
		t.Fatalf("Unexpected reload with invalid config: %+v", cfg)
	case <-time.After(600 * time.Millisecond):
	}

	// A later valid config still triggers a reload
	writeConfigFile(t, configPath, "storage:\n  max_messages: 300\n")

	select {
	case cfg := <-reloaded:
		if cfg.Storage.MaxMessages != 300 {
			t.Errorf("Expected reloaded max messages 300, got %d", cfg.Storage.MaxMessages)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for config reload after recovery")
	}
}

func TestWatcherStopIsClean(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeConfigFile(t, configPath, "storage:\n  max_messages: 100\n")

	w, err := NewWatcher(configPath, logging.Nop(), func(cfg *Config) {})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
}
