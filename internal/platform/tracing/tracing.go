// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tracing wires the OpenTelemetry tracer provider used by the GA4
// client's package-level tracer (`var ga4Tracer = tracing.Tracer(...)`) and
// the HTTP layer's otelgin middleware, following services/orchestrator/main.go's setup.
// When OTEL_EXPORTER_OTLP_ENDPOINT is unset, traces fall back to the stdout
// exporter so local runs and tests never need a collector.
package tracing

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Shutdown flushes and closes the configured span exporter.
type Shutdown func(context.Context)

// Init installs a global TracerProvider tagged with serviceName and returns
// the shutdown hook. It never fails the caller's startup: a broken
// collector endpoint degrades to the stdout exporter with a warning, the
// same graceful-degradation style applied to the Weaviate connection
// elsewhere in this module.
func Init(ctx context.Context, serviceName string, logger *slog.Logger) Shutdown {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		res = resource.Default()
	}

	exporter, shutdown := buildExporter(ctx, logger)

	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		shutdown(ctx)
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("tracer provider shutdown failed", "error", err)
		}
	}
}

func buildExporter(ctx context.Context, logger *slog.Logger) (sdktrace.SpanExporter, func(context.Context)) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		logger.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing to stdout")
		exp, err := stdouttrace.New(stdouttrace.WithoutTimestamps())
		if err != nil {
			logger.Warn("failed to build stdout trace exporter, tracing disabled", "error", err)
			return noopExporter{}, func(context.Context) {}
		}
		return exp, func(ctx context.Context) { _ = exp.Shutdown(ctx) }
	}

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Warn("failed to dial OTLP collector, tracing to stdout", "endpoint", endpoint, "error", err)
		exp, _ := stdouttrace.New(stdouttrace.WithoutTimestamps())
		return exp, func(ctx context.Context) { _ = exp.Shutdown(ctx) }
	}
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		logger.Warn("failed to build OTLP exporter, tracing to stdout", "error", err)
		fallback, _ := stdouttrace.New(stdouttrace.WithoutTimestamps())
		return fallback, func(ctx context.Context) { _ = fallback.Shutdown(ctx) }
	}
	return exp, func(ctx context.Context) { _ = exp.Shutdown(ctx) }
}

// noopExporter is the last-resort fallback if even the stdout exporter
// fails to construct; it discards spans rather than panicking at startup.
type noopExporter struct{}

func (noopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (noopExporter) Shutdown(context.Context) error                             { return nil }

// Tracer is a thin alias over otel.Tracer; internal/ga4 uses it as
// `var ga4Tracer = tracing.Tracer("croanalysis.ga4")`.
func Tracer(name string) trace.Tracer { return otel.Tracer(name) }
