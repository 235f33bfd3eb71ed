// Package daemon wires the bridge together: scheduler, execution engine,
// session tracker, archive and transport, driven by one drain loop and a
// handful of cron maintenance jobs.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/config"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/logger"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/observability"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/tracing"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/archive"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/command"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/execengine"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/queue"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/server"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/session"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/unity"
)

// Daemon is the bridge service.
type Daemon struct {
	config     *config.Config
	configPath string
	logger     *logger.Logger

	host      unity.Host
	tracker   *session.Tracker
	registry  *command.Registry
	engine    *execengine.Engine
	scheduler *queue.Scheduler
	store     *archive.Store
	server    *server.Server

	cron    *cron.Cron
	watcher *config.Watcher

	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Option configures the daemon.
type Option func(*Daemon)

// WithHost overrides the editor host implementation. The default is the
// in-memory fake, which makes standalone runs and tests self-contained.
func WithHost(h unity.Host) Option {
	return func(d *Daemon) {
		d.host = h
	}
}

// WithConfigPath enables hot reload of the given config file.
func WithConfigPath(path string) Option {
	return func(d *Daemon) {
		d.configPath = path
	}
}

// New creates a daemon instance.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	err := tracing.InitOpenTelemetry(tracing.ProviderConfig{
		ServiceName: "unity-bridge",
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes: map[string]string{
			"bridge.exec_strategy": cfg.Exec.Strategy,
			"bridge.bind_addr":     fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
	} else {
		log.Info().Msg("Tracing initialized")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.host == nil {
		d.host = unity.NewFakeHost()
	}

	if err := d.initialize(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, err
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

func (d *Daemon) initialize() error {
	zl := d.logger.GetZerolog()

	d.tracker = session.NewTracker(
		session.WithIdleTimeout(d.config.Session.IdleTimeout),
		session.WithActionLogSize(d.config.Session.ActionLogSize),
	)
	d.logger.Info().
		Dur("idle_timeout", d.config.Session.IdleTimeout).
		Msg("Session tracker initialized")

	d.registry = command.NewRegistry()
	if err := command.RegisterBuiltins(d.registry, d.host); err != nil {
		return fmt.Errorf("failed to register built-in commands: %w", err)
	}
	d.logger.Info().Int("commands", len(d.registry.List())).Msg("Command registry initialized")

	var strategy execengine.Strategy
	switch d.config.Exec.Strategy {
	case "toolchain":
		strategy = execengine.NewToolchain(
			d.config.Exec.WorkDir,
			d.config.Exec.Timeout,
			d.config.Exec.ExcludedModules,
		)
	default:
		strategy = execengine.NewInterp(d.config.Exec.ExcludedModules)
	}
	d.engine = execengine.New(strategy, zl)
	d.logger.Info().Str("strategy", strategy.Name()).Msg("Execution engine initialized")

	if d.config.Archive.Enabled {
		path := d.config.Archive.Path
		if path == "" {
			path = filepath.Join(d.dataDir(), "archive.db")
		}
		store, err := archive.Open(path, zl)
		if err != nil {
			return fmt.Errorf("failed to open response archive: %w", err)
		}
		d.store = store
	}

	schedOpts := []queue.SchedulerOption{
		queue.WithCapacity(d.config.Queue.Capacity),
		queue.WithReadBatch(d.config.Queue.ReadBatch),
	}
	if d.store != nil {
		store := d.store
		schedOpts = append(schedOpts, queue.WithRetrievedHook(func(req *queue.Request, resp *queue.Response) {
			if err := store.Save(resp); err != nil {
				d.logger.Warn().Err(err).Str("request_id", resp.ID).Msg("Failed to archive response")
			}
		}))
	}
	d.scheduler = queue.NewScheduler(d.tracker, newDispatcher(d.registry, d.engine), zl, schedOpts...)
	d.logger.Info().
		Int("capacity", d.config.Queue.Capacity).
		Int("read_batch", d.config.Queue.ReadBatch).
		Msg("Request scheduler initialized")

	srv, err := server.New(server.Options{
		Host:               d.config.Server.Host,
		Port:               d.config.Server.Port,
		RateLimitPerMinute: d.config.Server.RateLimitPerMinute,
	}, d.scheduler, d.tracker, d.registry, d.store, zl)
	if err != nil {
		return fmt.Errorf("failed to create bridge server: %w", err)
	}
	d.server = srv

	if err := d.scheduleMaintenance(); err != nil {
		return fmt.Errorf("failed to schedule maintenance jobs: %w", err)
	}

	return nil
}

// scheduleMaintenance registers the cron jobs: session pruning, response
// sweeping and scratch/archive cleanup.
func (d *Daemon) scheduleMaintenance() error {
	d.cron = cron.New()

	if _, err := d.cron.AddFunc(d.config.Session.PruneSchedule, d.pruneSessions); err != nil {
		return fmt.Errorf("invalid prune schedule: %w", err)
	}
	if _, err := d.cron.AddFunc("@every 1m", d.sweepResponses); err != nil {
		return err
	}
	if _, err := d.cron.AddFunc("@hourly", d.sweepArtifacts); err != nil {
		return err
	}
	return nil
}

// pruneSessions ages out idle sessions and abandons their pending work.
func (d *Daemon) pruneSessions() {
	removed := d.tracker.Prune(time.Now())
	if len(removed) == 0 {
		return
	}
	abandoned := d.scheduler.AbandonSessions(removed)
	d.logger.Info().
		Int("sessions", len(removed)).
		Int("abandoned_requests", abandoned).
		Msg("Idle sessions pruned")
}

// sweepResponses drops unretrieved responses past their TTL.
func (d *Daemon) sweepResponses() {
	d.scheduler.SweepResponses(time.Now(), d.config.Queue.ResponseTTL)
}

// sweepArtifacts trims the archive and clears stale toolchain scratch dirs
// left behind by a crash mid-run.
func (d *Daemon) sweepArtifacts() {
	if d.store != nil {
		if _, err := d.store.Trim(time.Now().Add(-7 * 24 * time.Hour)); err != nil {
			d.logger.Warn().Err(err).Msg("Archive trim failed")
		}
	}
	d.sweepScratchDirs(time.Now())
}

func (d *Daemon) sweepScratchDirs(now time.Time) {
	root := d.config.Exec.WorkDir
	if root == "" {
		root = os.TempDir()
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "uxb") {
			continue
		}
		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) < time.Hour {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			d.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove scratch dir")
		} else {
			d.logger.Debug().Str("path", path).Msg("Removed stale scratch dir")
		}
	}
}

// Start brings the daemon up: PID file, cron, config watcher, drain loop
// and transport. It does not block.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	d.cron.Start()

	if d.configPath != "" {
		watcher, err := config.NewWatcher(d.configPath, d.applyConfig)
		if err != nil {
			d.logger.Warn().Err(err).Msg("Config watcher unavailable, hot reload disabled")
		} else if err := watcher.Start(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to start config watcher")
		} else {
			d.watcher = watcher
			d.logger.Info().Str("path", d.configPath).Msg("Config hot reload enabled")
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Start(); err != nil {
			d.logger.Error().Err(err).Msg("Bridge server exited")
		}
	}()

	d.logger.Info().Msg("Daemon started")
	return nil
}

// applyConfig adopts the hot-reloadable settings from a changed config
// file; everything else requires a restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
		d.logger.Warn().Err(err).Msg("Ignoring invalid log level from config reload")
	}
	d.scheduler.SetReadBatch(cfg.Queue.ReadBatch)

	d.mu.Lock()
	d.config.Logging.Level = cfg.Logging.Level
	d.config.Queue.ReadBatch = cfg.Queue.ReadBatch
	d.mu.Unlock()

	d.logger.Info().
		Str("log_level", cfg.Logging.Level).
		Int("read_batch", cfg.Queue.ReadBatch).
		Msg("Config reloaded")
}

// Stop shuts everything down in reverse dependency order.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping daemon")

	if d.watcher != nil {
		_ = d.watcher.Stop()
	}

	cronCtx := d.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(5 * time.Second):
		d.logger.Warn().Msg("Cron jobs did not finish in time")
	}

	if err := d.server.Stop(); err != nil {
		d.logger.Warn().Err(err).Msg("Bridge server shutdown error")
	}

	d.cancel()
	d.wg.Wait()

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to close archive")
		}
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			d.logger.Warn().Err(err).Msg("Tracing shutdown error")
		}
		d.tracingEnabled = false
	}

	if err := d.lifecycle.Stop(); err != nil {
		d.logger.Warn().Err(err).Msg("Lifecycle cleanup error")
	}

	d.logger.Info().Msg("Daemon stopped")
	return nil
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	d.logger.Info().Str("signal", received.String()).Msg("Shutdown signal received")

	return d.Stop()
}

// Status describes the running daemon.
type Status struct {
	Running  bool          `json:"running"`
	Uptime   time.Duration `json:"uptime"`
	Pending  int           `json:"pending"`
	Sessions int           `json:"sessions"`
	Strategy string        `json:"strategy"`
}

// Status reports the daemon's current state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Status{
		Running:  d.running,
		Pending:  d.scheduler.PendingCount(),
		Sessions: d.tracker.Count(),
		Strategy: d.engine.StrategyName(),
	}
	if d.running {
		s.Uptime = time.Since(d.startTime)
	}
	return s
}

// Scheduler exposes the request scheduler, mainly for tests.
func (d *Daemon) Scheduler() *queue.Scheduler {
	return d.scheduler
}

func (d *Daemon) dataDir() string {
	if d.config.DataDir != "" {
		return d.config.DataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".unity-bridge")
}
