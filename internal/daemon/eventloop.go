package daemon

import (
	"context"
	"time"
)

// EventLoop is the tick driver: one goroutine waking at the configured
// interval, each wake running a single drain round and broadcasting the
// resolved responses to event stream clients.
type EventLoop struct {
	daemon *Daemon
}

// NewEventLoop creates the tick driver.
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{daemon: d}
}

// Run drives ticks until ctx is cancelled.
func (e *EventLoop) Run(ctx context.Context) {
	interval := e.daemon.config.Queue.TickInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	e.daemon.logger.Info().Dur("interval", interval).Msg("Drain loop started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Info().Msg("Drain loop stopping")
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick runs one drain round on this goroutine, the bridge's single
// execution context.
func (e *EventLoop) tick(ctx context.Context) {
	responses := e.daemon.scheduler.DrainTick(ctx)
	for _, resp := range responses {
		e.daemon.server.Hub().Broadcast("response", resp)
	}
}
