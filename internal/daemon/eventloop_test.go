package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/queue"
)

func TestEventLoop_DrainsOnTick(t *testing.T) {
	d := newTestDaemon(t, nil)

	req, err := d.scheduler.Submit("sess-1", queue.KindRead, map[string]interface{}{
		"command": "editor.state",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.eventLoop.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		info, perr := d.scheduler.Poll(req.ID)
		return perr == nil && info.Status == queue.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not stop")
	}
}
