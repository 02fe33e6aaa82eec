package config

import "time"

// DefaultConfig returns the built-in queue layout and settings.
func DefaultConfig() *Config {
	return &Config{
		MainQueue: "main",
		Queues: []QueueConfig{
			{Name: "workers", Threads: 4},
			{Name: "render", Threads: 1},
			{Name: "io", Threads: 2},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Journal: JournalConfig{
			Enabled:         true,
			Path:            ".jobqueue/journal.db",
			MaxRetries:      3,
			BreakerFailures: 5,
			BreakerTimeout:  Duration(10 * time.Second),
		},
		IdleBackoff: BackoffConfig{
			Initial: Duration(50 * time.Microsecond),
			Max:     Duration(5 * time.Millisecond),
		},
		Frame: FrameConfig{
			Jobs:        8,
			WorkerQueue: "workers",
			RenderQueue: "render",
			JobCost:     Duration(200 * time.Microsecond),
			Interval:    Duration(16 * time.Millisecond),
		},
	}
}
