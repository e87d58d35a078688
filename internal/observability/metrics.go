package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// Metrics records pipeline-level measurements.
type Metrics struct {
	stageDuration metric.Float64Histogram
	runsCompleted metric.Int64Counter
}

// NewMetrics creates a Metrics recorder on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("testpipe")

	stageDuration, err := meter.Float64Histogram(
		"testpipe_stage_duration_seconds",
		metric.WithDescription("Duration of each pipeline stage"),
	)
	if err != nil {
		return nil, err
	}

	runsCompleted, err := meter.Int64Counter(
		"testpipe_runs_completed_total",
		metric.WithDescription("Completed pipeline runs by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		stageDuration: stageDuration,
		runsCompleted: runsCompleted,
	}, nil
}

// RecordStage records the duration of a single pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stageDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("stage", stage),
	))
}

// RecordRunCompleted counts a finished run with its outcome.
func (m *Metrics) RecordRunCompleted(ctx context.Context, versionTag, outcome string) {
	if m == nil {
		return
	}
	m.runsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("version_tag", versionTag),
		attribute.String("outcome", outcome),
	))
}
