package daemon

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/config"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/logger"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/queue"
)

func newTestDaemon(t *testing.T, mutate func(*config.Config)) *Daemon {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Archive.Enabled = false
	cfg.Queue.TickInterval = 10 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	d, err := New(cfg, log)
	require.NoError(t, err)
	return d
}

func TestNew_InitializesComponents(t *testing.T) {
	d := newTestDaemon(t, nil)

	status := d.Status()
	assert.False(t, status.Running)
	assert.Equal(t, "interp", status.Strategy)
	assert.Zero(t, status.Pending)
	assert.Zero(t, status.Sessions)
}

func TestDaemon_DrainRoundTrip(t *testing.T) {
	d := newTestDaemon(t, nil)

	req, err := d.scheduler.Submit("sess-1", queue.KindExecute, map[string]interface{}{
		"source": "return 6 * 7",
	})
	require.NoError(t, err)

	d.eventLoop.tick(context.Background())

	info, err := d.scheduler.Poll(req.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusCompleted, info.Status)
	assert.EqualValues(t, 42, info.Response.Body["result"])
}

func TestPruneSessions_AbandonsPendingWork(t *testing.T) {
	d := newTestDaemon(t, func(cfg *config.Config) {
		cfg.Session.IdleTimeout = time.Millisecond
	})

	req, err := d.scheduler.Submit("stale", queue.KindWrite, map[string]interface{}{
		"command": "assets.refresh",
	})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	d.pruneSessions()

	assert.Zero(t, d.tracker.Count())

	info, err := d.scheduler.Poll(req.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCancelled, info.Status)
	assert.Equal(t, "session timed out", info.Response.Body["error"])
}

func TestApplyConfig_AdjustsReadBatch(t *testing.T) {
	d := newTestDaemon(t, nil)

	for i := 0; i < 3; i++ {
		_, err := d.scheduler.Submit("sess-1", queue.KindRead, map[string]interface{}{
			"command": "editor.state",
		})
		require.NoError(t, err)
	}

	next := config.DefaultConfig()
	next.Queue.ReadBatch = 1
	next.Logging.Level = "warn"
	d.applyConfig(next)

	responses := d.scheduler.DrainTick(context.Background())
	assert.Len(t, responses, 1)
}

func TestLifecycle_PIDFile(t *testing.T) {
	d := newTestDaemon(t, nil)

	require.NoError(t, d.lifecycle.Start())
	pid, err := d.lifecycle.PID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, d.lifecycle.IsRunning())

	require.NoError(t, d.lifecycle.Stop())
	_, err = d.lifecycle.PID()
	assert.Error(t, err)
}

func TestSweepScratchDirs(t *testing.T) {
	scratch := t.TempDir()
	d := newTestDaemon(t, func(cfg *config.Config) {
		cfg.Exec.WorkDir = scratch
	})

	stale := scratch + "/uxb123"
	require.NoError(t, os.Mkdir(stale, 0o755))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := scratch + "/uxb456"
	require.NoError(t, os.Mkdir(fresh, 0o755))

	unrelated := scratch + "/keep"
	require.NoError(t, os.Mkdir(unrelated, 0o755))
	require.NoError(t, os.Chtimes(unrelated, old, old))

	d.sweepScratchDirs(time.Now())

	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, unrelated)
}
