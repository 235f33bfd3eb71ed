package daemon

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/command"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/execengine"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/queue"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/unity"
)

func newTestDispatcher(t *testing.T) (*dispatcher, *unity.FakeHost) {
	t.Helper()

	host := unity.NewFakeHost()
	registry := command.NewRegistry()
	require.NoError(t, command.RegisterBuiltins(registry, host))

	engine := execengine.New(execengine.NewInterp(nil), zerolog.Nop())
	return newDispatcher(registry, engine), host
}

func dispatchRequest(kind queue.Kind, payload map[string]interface{}) *queue.Request {
	return &queue.Request{ID: "req-1", SessionID: "sess-1", Kind: kind, Payload: payload}
}

func TestDispatch_ReadCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	result := d.Dispatch(context.Background(), dispatchRequest(queue.KindRead, map[string]interface{}{
		"command": "editor.state",
	}))

	require.Equal(t, queue.StatusCompleted, result.Status)
	assert.Equal(t, true, result.Body["success"])
	state := result.Body["result"].(map[string]interface{})
	assert.Contains(t, state, "playing")
}

func TestDispatch_WriteCommandReachesHost(t *testing.T) {
	d, host := newTestDispatcher(t)

	result := d.Dispatch(context.Background(), dispatchRequest(queue.KindWrite, map[string]interface{}{
		"command": "menu.execute",
		"params":  map[string]interface{}{"path": "Assets/Refresh"},
	}))

	require.Equal(t, queue.StatusCompleted, result.Status)
	assert.Equal(t, []string{"Assets/Refresh"}, host.MenuCalls())
}

func TestDispatch_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	result := d.Dispatch(context.Background(), dispatchRequest(queue.KindRead, map[string]interface{}{
		"command": "nope",
	}))

	require.Equal(t, queue.StatusFailed, result.Status)
	assert.Contains(t, result.Body["error"], "unknown command")
}

func TestDispatch_MissingCommandField(t *testing.T) {
	d, _ := newTestDispatcher(t)

	result := d.Dispatch(context.Background(), dispatchRequest(queue.KindRead, nil))

	require.Equal(t, queue.StatusFailed, result.Status)
	assert.Contains(t, result.Body["error"], "command field")
}

func TestDispatch_KindMismatch(t *testing.T) {
	d, host := newTestDispatcher(t)

	// menu.execute mutates the editor; a read-lane submission must not
	// smuggle it past the write budget.
	result := d.Dispatch(context.Background(), dispatchRequest(queue.KindRead, map[string]interface{}{
		"command": "menu.execute",
		"params":  map[string]interface{}{"path": "Assets/Refresh"},
	}))

	require.Equal(t, queue.StatusFailed, result.Status)
	assert.Empty(t, host.MenuCalls())
}

func TestDispatch_ValidationFailure(t *testing.T) {
	d, _ := newTestDispatcher(t)

	result := d.Dispatch(context.Background(), dispatchRequest(queue.KindWrite, map[string]interface{}{
		"command": "menu.execute",
		"params":  map[string]interface{}{},
	}))

	require.Equal(t, queue.StatusFailed, result.Status)
	assert.Contains(t, result.Body["error"], "invalid parameters")
}

func TestDispatch_Execute(t *testing.T) {
	d, _ := newTestDispatcher(t)

	result := d.Dispatch(context.Background(), dispatchRequest(queue.KindExecute, map[string]interface{}{
		"source": "return 1 + 1",
	}))

	require.Equal(t, queue.StatusCompleted, result.Status)
	assert.Equal(t, true, result.Body["success"])
	assert.EqualValues(t, 2, result.Body["result"])
}

func TestDispatch_ExecuteMissingSource(t *testing.T) {
	d, _ := newTestDispatcher(t)

	result := d.Dispatch(context.Background(), dispatchRequest(queue.KindExecute, map[string]interface{}{
		"source": "   ",
	}))

	require.Equal(t, queue.StatusFailed, result.Status)
	assert.Contains(t, result.Body["error"], "source field")
}

func TestDispatch_ExecuteCompileFailure(t *testing.T) {
	d, _ := newTestDispatcher(t)

	result := d.Dispatch(context.Background(), dispatchRequest(queue.KindExecute, map[string]interface{}{
		"source": "return undefinedSymbol",
	}))

	require.Equal(t, queue.StatusFailed, result.Status)
	assert.Equal(t, "Compilation failed", result.Body["error"])
	assert.NotEmpty(t, result.Body["errors"])
}
