// Package metrics exposes the pipeline's instruments through the OpenTelemetry
// metric API. The exporter is whatever MeterProvider the process installs globally.
package metrics

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "leadpipeline_backend"

// Recorder holds the instruments. A nil *Recorder records nothing.
type Recorder struct {
	parseTotal         metric.Int64Counter
	validationFailures metric.Int64Counter
	dossierLatency     metric.Float64Histogram
	emailOutcome       metric.Int64Counter
	breakerOpened      metric.Int64Counter
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Recorder, error) {
	var errs []error
	r := &Recorder{}
	var err error

	r.parseTotal, err = meter.Int64Counter("leadfeed.parse.total",
		metric.WithDescription("Lead documents parsed, by parser and outcome"))
	errs = append(errs, err)

	r.validationFailures, err = meter.Int64Counter("leadfeed.validation.failures",
		metric.WithDescription("Strict schema validation failures"))
	errs = append(errs, err)

	r.dossierLatency, err = meter.Float64Histogram("handover.dossier.latency",
		metric.WithUnit("s"),
		metric.WithDescription("Dossier generation latency"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2, 5, 10, 15))
	errs = append(errs, err)

	r.emailOutcome, err = meter.Int64Counter("handover.email.outcome",
		metric.WithDescription("Handover email outcomes by status"))
	errs = append(errs, err)

	r.breakerOpened, err = meter.Int64Counter("delivery.breaker.opened",
		metric.WithDescription("Circuit breaker open events by dependency"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

// NewGlobal creates the instruments on the global MeterProvider.
func NewGlobal() (*Recorder, error) {
	return New(otel.Meter(meterName))
}

// Noop returns a recorder backed by the no-op provider.
func Noop() *Recorder {
	r, _ := New(noop.NewMeterProvider().Meter(meterName))
	return r
}

// ParseCompleted counts one parsed document.
func (r *Recorder) ParseCompleted(ctx context.Context, parser string, success bool) {
	if r == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	r.parseTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("parser", parser),
		attribute.String("outcome", outcome),
	))
}

// ValidationFailed counts one strict validation failure.
func (r *Recorder) ValidationFailed(ctx context.Context, schemaVersion string) {
	if r == nil {
		return
	}
	r.validationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("schema_version", schemaVersion)))
}

// DossierGenerated records generation latency tagged with the dossier source.
func (r *Recorder) DossierGenerated(ctx context.Context, elapsed time.Duration, source string) {
	if r == nil {
		return
	}
	r.dossierLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("source", source)))
}

// EmailOutcome counts a handover email reaching status.
func (r *Recorder) EmailOutcome(ctx context.Context, status string) {
	if r == nil {
		return
	}
	r.emailOutcome.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// BreakerOpened counts a breaker trip.
func (r *Recorder) BreakerOpened(ctx context.Context, dependency string) {
	if r == nil {
		return
	}
	r.breakerOpened.Add(ctx, 1, metric.WithAttributes(attribute.String("dependency", dependency)))
}
