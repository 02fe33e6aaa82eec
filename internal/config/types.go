package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes as a Go duration string
// ("250us", "5ms", "1s") in JSON.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// QueueConfig declares one worker queue and how many goroutines drain it.
type QueueConfig struct {
	Name    string `json:"name"`
	Threads int    `json:"threads"`
}

// LoggingConfig selects level, handler format and an optional log file.
type LoggingConfig struct {
	Level  string `json:"level"`          // debug, info, warn, error
	Format string `json:"format"`         // text or json
	File   string `json:"file,omitempty"` // empty logs to stderr
}

// JournalConfig controls the SQLite run journal.
type JournalConfig struct {
	Enabled         bool     `json:"enabled"`
	Path            string   `json:"path"`
	MaxRetries      uint64   `json:"max_retries"`
	BreakerFailures uint32   `json:"breaker_failures"` // consecutive failures before the breaker opens
	BreakerTimeout  Duration `json:"breaker_timeout"`  // how long the breaker stays open
}

// BackoffConfig bounds the wait after a task is requeued because its
// dependencies have not started.
type BackoffConfig struct {
	Initial Duration `json:"initial"`
	Max     Duration `json:"max"`
}

// FrameConfig shapes the frame loop used by the run and monitor commands.
type FrameConfig struct {
	Jobs        int      `json:"jobs"`         // update jobs per frame
	WorkerQueue string   `json:"worker_queue"` // queue receiving update jobs
	RenderQueue string   `json:"render_queue"` // queue receiving the render-sync job
	JobCost     Duration `json:"job_cost"`     // simulated work per update job
	Interval    Duration `json:"interval"`     // minimum frame period, 0 runs unpaced
}

// Config is the top-level configuration.
type Config struct {
	MainQueue   string        `json:"main_queue"`
	Queues      []QueueConfig `json:"queues"`
	Logging     LoggingConfig `json:"logging"`
	Journal     JournalConfig `json:"journal"`
	IdleBackoff BackoffConfig `json:"idle_backoff"`
	Frame       FrameConfig   `json:"frame"`
}
