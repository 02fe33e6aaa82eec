package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Queues = append(cfg.Queues, QueueConfig{Name: "audio", Threads: 1})
	cfg.Frame.Interval = Duration(8 * time.Millisecond)

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file was not created: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Queues) != 4 || loaded.Queues[3].Name != "audio" {
		t.Errorf("expected saved audio queue, got %+v", loaded.Queues)
	}
	if loaded.Frame.Interval.Std() != 8*time.Millisecond {
		t.Errorf("expected interval 8ms, got %v", loaded.Frame.Interval.Std())
	}
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	first := DefaultConfig()
	first.Logging.Level = "warn"
	if err := Save(first, path); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}

	second := DefaultConfig()
	second.Logging.Level = "error"
	if err := Save(second, path); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Logging.Level != "error" {
		t.Errorf("expected level error, got %q", loaded.Logging.Level)
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.MainQueue = ""

	err := Save(cfg, path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Save() error = %v, want ErrInvalidConfig", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("invalid config should not be written")
	}
}
