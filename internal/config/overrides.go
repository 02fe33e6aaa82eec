package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: frame.jobs is read from
// JOBQUEUE_FRAME_JOBS.
const EnvPrefix = "JOBQUEUE"

// Override keys. Command-line flags are bound to the same keys.
const (
	KeyMainQueue          = "main_queue"
	KeyQueues             = "queues"
	KeyLogLevel           = "logging.level"
	KeyLogFormat          = "logging.format"
	KeyLogFile            = "logging.file"
	KeyJournalEnabled     = "journal.enabled"
	KeyJournalPath        = "journal.path"
	KeyIdleBackoffInitial = "idle_backoff.initial"
	KeyIdleBackoffMax     = "idle_backoff.max"
	KeyFrameJobs          = "frame.jobs"
	KeyFrameInterval      = "frame.interval"
	KeyFrameJobCost       = "frame.job_cost"
)

// NewViper returns a viper instance that reads JOBQUEUE_* environment
// variables. Nested keys use underscores in the variable name.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides copies every key set in v (by environment or a changed
// flag) onto cfg. Files are loaded first, so overrides win.
func ApplyOverrides(cfg *Config, v *viper.Viper) error {
	strs := []struct {
		key string
		dst *string
	}{
		{KeyMainQueue, &cfg.MainQueue},
		{KeyLogLevel, &cfg.Logging.Level},
		{KeyLogFormat, &cfg.Logging.Format},
		{KeyLogFile, &cfg.Logging.File},
		{KeyJournalPath, &cfg.Journal.Path},
	}
	for _, s := range strs {
		if v.IsSet(s.key) {
			*s.dst = v.GetString(s.key)
		}
	}

	if v.IsSet(KeyQueues) {
		queues, err := ParseQueues(v.GetString(KeyQueues))
		if err != nil {
			return fmt.Errorf("%s: %w", KeyQueues, err)
		}
		cfg.Queues = queues
	}
	if v.IsSet(KeyJournalEnabled) {
		cfg.Journal.Enabled = v.GetBool(KeyJournalEnabled)
	}
	if v.IsSet(KeyFrameJobs) {
		cfg.Frame.Jobs = v.GetInt(KeyFrameJobs)
	}

	durations := []struct {
		key string
		dst *Duration
	}{
		{KeyIdleBackoffInitial, &cfg.IdleBackoff.Initial},
		{KeyIdleBackoffMax, &cfg.IdleBackoff.Max},
		{KeyFrameInterval, &cfg.Frame.Interval},
		{KeyFrameJobCost, &cfg.Frame.JobCost},
	}
	for _, d := range durations {
		if !v.IsSet(d.key) {
			continue
		}
		// GetDuration swallows parse errors; parse explicitly to report them.
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = Duration(parsed)
	}
	return nil
}
