package swiftstream

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter. Both resolve against the global providers,
// which are no-ops until the application installs real ones.
var (
	tracer = otel.Tracer("github.com/oleg578/swiftstream")
	meter  = otel.Meter("github.com/oleg578/swiftstream")
)

var (
	buildDuration metric.Float64Histogram
	recordsTotal  metric.Int64Counter
	streamErrors  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildDuration, err = meter.Float64Histogram(
			"swiftstream_build_duration_seconds",
			metric.WithDescription("Time to resolve a source and read its headers"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		recordsTotal, err = meter.Int64Counter(
			"swiftstream_records_total",
			metric.WithDescription("Total number of records yielded to consumers"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		streamErrors, err = meter.Int64Counter(
			"swiftstream_stream_errors_total",
			metric.WithDescription("Total number of sequences terminated by an error"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startBuildSpan starts the span wrapping Builder.Build.
func startBuildSpan(ctx context.Context, source string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "swiftstream.Build",
		trace.WithAttributes(attribute.String("swiftstream.source", source)),
	)
}

// endBuildSpan records the build outcome on span and the duration histogram.
func endBuildSpan(ctx context.Context, span trace.Span, start time.Time, err error) {
	defer span.End()
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if initMetrics() != nil {
		return
	}
	buildDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// recordRecords adds n yielded records for an engine running in mode.
func recordRecords(ctx context.Context, mode Mode, n int64) {
	if n == 0 || initMetrics() != nil {
		return
	}
	recordsTotal.Add(ctx, n, metric.WithAttributes(attribute.String("mode", mode.String())))
}

// recordStreamError counts a terminal streaming error.
func recordStreamError(ctx context.Context, code ErrorCode) {
	if initMetrics() != nil {
		return
	}
	streamErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", string(code))))
}
