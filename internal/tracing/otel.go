package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ProviderConfig is the daemon-level identity stamped onto every span.
type ProviderConfig struct {
	ServiceName string

	// SampleRatio is the head-sampling ratio in [0, 1]. Values above 1 are
	// clamped; zero keeps only spans whose parent was sampled.
	SampleRatio float64

	// Attributes are extra resource attributes, e.g. the configured
	// execution strategy and bind address.
	Attributes map[string]string
}

var (
	initOnce sync.Once
	tpMu     sync.RWMutex
	tp       *sdktrace.TracerProvider
	initErr  error
)

// InitOpenTelemetry builds the process-wide tracer provider from the bridge
// configuration. Later calls are no-ops returning the first outcome.
func InitOpenTelemetry(pc ProviderConfig) error {
	initOnce.Do(func() {
		attrs := []attribute.KeyValue{semconv.ServiceName(pc.ServiceName)}
		for k, v := range pc.Attributes {
			attrs = append(attrs, attribute.String(k, v))
		}

		res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
		if err != nil {
			initErr = fmt.Errorf("building tracing resource: %w", err)
			return
		}

		ratio := pc.SampleRatio
		if ratio > 1 {
			ratio = 1
		}

		provider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
			sdktrace.WithResource(res),
		)

		tpMu.Lock()
		tp = provider
		tpMu.Unlock()

		otel.SetTracerProvider(provider)
	})

	return initErr
}

// ShutdownOpenTelemetry flushes and shuts down the tracer provider, if one
// was initialized.
func ShutdownOpenTelemetry(ctx context.Context) error {
	tpMu.RLock()
	provider := tp
	tpMu.RUnlock()
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

// StartSpan opens a span named for the operation and mirrors its trace id
// into the bridge context keys so log lines and spans correlate.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if sc := span.SpanContext(); sc.IsValid() && GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, sc.TraceID().String())
	}

	return ctx, span
}
