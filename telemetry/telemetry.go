// Package telemetry wraps the OpenTelemetry global providers behind the
// small set of instruments the platform records: counters for published
// events, citation verification outcomes and legislation failovers, and a
// histogram for pipeline stage durations. Configure the global providers at
// process start (otel.SetMeterProvider / SetTracerProvider); all recorders
// are no-ops against the default providers.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// instrumentation scope shared by every instrument and span.
const scope = "github.com/clearline-ai/clearline"

func meter() metric.Meter { return otel.Meter(scope) }

// Tracer returns the platform tracer.
func Tracer() trace.Tracer { return otel.Tracer(scope) }

// CountEvent records one published fabric event, tagged by its type.
func CountEvent(ctx context.Context, eventType string) {
	counter, err := meter().Int64Counter("events_published_total")
	if err != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// CountVerification records one citation verification outcome.
func CountVerification(ctx context.Context, status string) {
	counter, err := meter().Int64Counter("citation_verifications_total")
	if err != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// CountFailover records one legislation endpoint transition.
func CountFailover(ctx context.Context, to string) {
	counter, err := meter().Int64Counter("legislation_failovers_total")
	if err != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

// RecordStageDuration records how long a named pipeline stage ran.
func RecordStageDuration(ctx context.Context, stage string, d time.Duration) {
	histogram, err := meter().Float64Histogram("stage_duration_seconds")
	if err != nil {
		return
	}
	histogram.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}
