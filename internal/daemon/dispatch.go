package daemon

import (
	"context"
	"fmt"
	"strings"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/command"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/execengine"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/queue"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/serialize"
)

// dispatcher routes dequeued requests to their executor: execute-kind
// payloads go to the execution engine, everything else to the command
// registry. It runs on the drain goroutine.
type dispatcher struct {
	registry *command.Registry
	engine   *execengine.Engine
}

func newDispatcher(registry *command.Registry, engine *execengine.Engine) *dispatcher {
	return &dispatcher{registry: registry, engine: engine}
}

// Dispatch executes one request. Every failure is folded into a failed
// Result; the scheduler never sees an error from here.
func (d *dispatcher) Dispatch(ctx context.Context, req *queue.Request) queue.Result {
	if req.Kind == queue.KindExecute {
		return d.dispatchExecute(ctx, req)
	}
	return d.dispatchCommand(ctx, req)
}

func (d *dispatcher) dispatchExecute(ctx context.Context, req *queue.Request) queue.Result {
	source, _ := req.Payload["source"].(string)
	if strings.TrimSpace(source) == "" {
		return failure("execute payload requires a source field")
	}

	outcome := d.engine.Execute(ctx, source)
	if outcome.OK {
		return queue.Result{Status: queue.StatusCompleted, Body: outcome.Tree}
	}
	return queue.Result{Status: queue.StatusFailed, Body: outcome.Payload()}
}

func (d *dispatcher) dispatchCommand(ctx context.Context, req *queue.Request) queue.Result {
	name, _ := req.Payload["command"].(string)
	if name == "" {
		return failure("command payload requires a command field")
	}

	def := d.registry.Get(name)
	if def == nil {
		return failure(fmt.Sprintf("unknown command: %s", name))
	}
	if string(def.Kind) != string(req.Kind) {
		return failure(fmt.Sprintf(
			"command %s is %s-kind but was submitted as %s", name, def.Kind, req.Kind))
	}

	params, _ := req.Payload["params"].(map[string]interface{})
	value, err := d.registry.Execute(ctx, name, params)
	if err != nil {
		return failure(err.Error())
	}

	return queue.Result{Status: queue.StatusCompleted, Body: serialize.Result(value)}
}

func failure(message string) queue.Result {
	return queue.Result{
		Status: queue.StatusFailed,
		Body: map[string]interface{}{
			"success": false,
			"error":   message,
		},
	}
}
