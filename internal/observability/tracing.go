// Package observability wires OpenTelemetry tracing into Genkit's
// TracerProvider. Spans are exported over OTLP HTTP to whatever
// collector the endpoint points at.
package observability

import (
	"context"
	"os"
	"time"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pubrag/pubrag/internal/log"
)

// Config for the OTLP trace exporter.
type Config struct {
	// Endpoint is the collector's OTLP HTTP host:port. Empty disables
	// tracing entirely.
	Endpoint string
	// Environment is the deployment environment tag (dev, staging, prod).
	Environment string
	// ServiceName is the service name attached to exported spans.
	ServiceName string
}

// Setup registers an OTLP span processor with Genkit's TracerProvider
// and returns a shutdown function that flushes pending spans.
//
// Must run before genkit.Init so the TracerProvider picks up the
// resource attributes. Exporter construction failures disable tracing
// rather than aborting startup.
func Setup(ctx context.Context, cfg Config, logger log.Logger) func() {
	noop := func() {}
	if cfg.Endpoint == "" {
		return noop
	}

	// SAFETY: os.Setenv is not concurrent-safe, but Setup runs exactly
	// once during startup before any goroutines are spawned.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return noop
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("tracing enabled",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	shutdown := tracing.TracerProvider().Shutdown

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}
