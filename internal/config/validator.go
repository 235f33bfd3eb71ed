package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate checks configuration values that would otherwise fail deep inside
// a subsystem at runtime.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", cfg.Server.Port)
	}
	if cfg.Queue.Capacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", cfg.Queue.Capacity)
	}
	if cfg.Queue.ReadBatch <= 0 {
		return fmt.Errorf("queue read batch must be positive, got %d", cfg.Queue.ReadBatch)
	}
	if cfg.Queue.TickInterval <= 0 {
		return fmt.Errorf("queue tick interval must be positive, got %s", cfg.Queue.TickInterval)
	}
	if cfg.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session idle timeout must be positive, got %s", cfg.Session.IdleTimeout)
	}
	if cfg.Session.ActionLogSize <= 0 {
		return fmt.Errorf("session action log size must be positive, got %d", cfg.Session.ActionLogSize)
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio must be within [0, 1], got %g", cfg.Tracing.SampleRatio)
	}

	switch cfg.Exec.Strategy {
	case "interp", "toolchain":
	default:
		return fmt.Errorf("unknown exec strategy: %q", cfg.Exec.Strategy)
	}

	if cfg.Session.PruneSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(cfg.Session.PruneSchedule); err != nil {
			return fmt.Errorf("invalid prune schedule: %w", err)
		}
	}

	return nil
}
