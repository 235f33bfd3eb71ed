// Package execengine compiles caller-supplied source fragments into runnable
// units and invokes them on the scheduler's drain goroutine, the single
// context permitted to touch the host.
package execengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/observability"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/tracing"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/serialize"
)

// Strategy turns a source fragment into a raw value. Implementations report
// compile problems as *CompileError and user-code failures as *RuntimeError;
// any other error is an engine fault.
type Strategy interface {
	Name() string
	Run(ctx context.Context, source string) (interface{}, error)
}

// CompileError carries per-line diagnostics. It is a normal, reportable
// outcome, not a fault.
type CompileError struct {
	Diagnostics []string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compilation failed with %d error(s)", len(e.Diagnostics))
}

// RuntimeError carries the user code's own failure, with the wrapper layers
// already peeled off, plus the stack at the point of failure.
type RuntimeError struct {
	Message string
	Stack   string
}

func (e *RuntimeError) Error() string {
	return e.Message
}

// Outcome is the serialized result union for one execute request.
type Outcome struct {
	OK          bool
	Tree        map[string]interface{}
	Error       string
	Diagnostics []string
	Stack       string
}

// Payload renders the outcome as a transport envelope body.
func (o Outcome) Payload() map[string]interface{} {
	if o.OK {
		return o.Tree
	}
	body := map[string]interface{}{
		"success": false,
		"error":   o.Error,
	}
	if len(o.Diagnostics) > 0 {
		body["errors"] = o.Diagnostics
	}
	if o.Stack != "" {
		body["detail"] = o.Stack
	}
	return body
}

// Engine drives a Strategy and serializes whatever comes back.
type Engine struct {
	strategy Strategy
	logger   zerolog.Logger
}

// New creates an engine around the given strategy.
func New(strategy Strategy, logger zerolog.Logger) *Engine {
	observability.EnsureRegistered()
	return &Engine{
		strategy: strategy,
		logger:   logger.With().Str("component", "execengine").Logger(),
	}
}

// StrategyName reports the active strategy.
func (e *Engine) StrategyName() string {
	return e.strategy.Name()
}

// Execute runs one source fragment to completion. It never returns an
// error: every failure mode is folded into the Outcome so a bad fragment
// cannot abort the drain loop.
func (e *Engine) Execute(ctx context.Context, source string) Outcome {
	ctx, span := tracing.StartSpan(
		ctx,
		"bridge.execengine",
		"execengine.execute",
		attribute.String("strategy", e.strategy.Name()),
		attribute.Int("source_bytes", len(source)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger)

	start := time.Now()
	value, err := e.strategy.Run(ctx, source)
	duration := time.Since(start)
	observability.ObserveExecuteDuration(duration)

	if err == nil {
		logger.Debug().Dur("duration", duration).Msg("Fragment executed")
		return Outcome{OK: true, Tree: serialize.Result(value)}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		observability.RecordCompileFailure()
		logger.Debug().
			Int("errors", len(compileErr.Diagnostics)).
			Dur("duration", duration).
			Msg("Fragment rejected by compiler")
		return Outcome{
			Error:       "Compilation failed",
			Diagnostics: compileErr.Diagnostics,
		}
	}

	var runtimeErr *RuntimeError
	if errors.As(err, &runtimeErr) {
		logger.Debug().
			Str("error", runtimeErr.Message).
			Dur("duration", duration).
			Msg("Fragment raised")
		return Outcome{
			Error: runtimeErr.Message,
			Stack: runtimeErr.Stack,
		}
	}

	logger.Warn().Err(err).Msg("Execution strategy fault")
	return Outcome{Error: err.Error()}
}
