package config

import (
	"encoding/json"
	"time"
)

// Config represents the bridge configuration
type Config struct {
	// Server holds the HTTP/WebSocket transport settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Queue holds scheduler settings
	Queue QueueConfig `json:"queue" mapstructure:"queue"`

	// Session holds session tracking settings
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Exec holds execution engine settings
	Exec ExecConfig `json:"exec" mapstructure:"exec"`

	// Archive holds the response archive settings
	Archive ArchiveConfig `json:"archive" mapstructure:"archive"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing holds span sampling settings
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds transport settings
type ServerConfig struct {
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
}

// QueueConfig holds scheduler settings
type QueueConfig struct {
	// Capacity is the total pending-request cap across all lanes.
	Capacity int `json:"capacity" mapstructure:"capacity"`
	// ReadBatch is the per-tick read dispatch cap.
	ReadBatch int `json:"read_batch" mapstructure:"read_batch"`
	// TickInterval drives the drain loop.
	TickInterval time.Duration `json:"tick_interval" mapstructure:"tick_interval"`
	// ResponseTTL bounds how long an unretrieved response is held.
	ResponseTTL time.Duration `json:"response_ttl" mapstructure:"response_ttl"`
}

// SessionConfig holds session tracking settings
type SessionConfig struct {
	// IdleTimeout prunes sessions with no activity past this duration.
	IdleTimeout time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	// ActionLogSize bounds the per-session action log.
	ActionLogSize int `json:"action_log_size" mapstructure:"action_log_size"`
	// PruneSchedule is a cron expression for the prune job.
	PruneSchedule string `json:"prune_schedule" mapstructure:"prune_schedule"`
}

// ExecConfig holds execution engine settings
type ExecConfig struct {
	// Strategy selects the code execution strategy: interp or toolchain.
	Strategy string `json:"strategy" mapstructure:"strategy"`
	// Timeout bounds a single fragment run (toolchain strategy only;
	// the interp strategy runs on the drain goroutine by contract).
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// ExcludedModules are facade and test-only modules removed from the
	// compilation reference set.
	ExcludedModules []string `json:"excluded_modules" mapstructure:"excluded_modules"`
	// WorkDir overrides the scratch directory root for the toolchain
	// strategy. Empty means the system temp dir.
	WorkDir string `json:"work_dir" mapstructure:"work_dir"`
}

// ArchiveConfig holds response archive settings
type ArchiveConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// TracingConfig holds span sampling settings
type TracingConfig struct {
	// SampleRatio is the head-sampling ratio in [0, 1].
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               8760,
			RateLimitPerMinute: 300,
		},
		Queue: QueueConfig{
			Capacity:     256,
			ReadBatch:    5,
			TickInterval: 100 * time.Millisecond,
			ResponseTTL:  5 * time.Minute,
		},
		Session: SessionConfig{
			IdleTimeout:   30 * time.Minute,
			ActionLogSize: 100,
			PruneSchedule: "*/5 * * * *",
		},
		Exec: ExecConfig{
			Strategy: "interp",
			Timeout:  30 * time.Second,
			ExcludedModules: []string{
				"testing",
				"net/http/httptest",
				"runtime/pprof",
			},
		},
		Archive: ArchiveConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Tracing: TracingConfig{
			SampleRatio: 1.0,
		},
	}
}

// String returns a JSON representation, useful for debugging.
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "<invalid config>"
	}
	return string(data)
}
