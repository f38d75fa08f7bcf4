package generation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/sanvibhowmick/forge/internal/generation"

// Metrics records generation calls on the global OpenTelemetry meter.
type Metrics struct {
	duration metric.Float64Histogram
	calls    metric.Int64Counter
	retries  metric.Int64Counter
}

// NewMetrics creates the instruments. Failures leave the affected
// instrument nil and are logged; recording then becomes a no-op.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{}

	var err error
	m.duration, err = meter.Float64Histogram(
		"forge.generation.duration",
		metric.WithDescription("Duration of generation calls including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 20, 40, 60, 120, 300),
	)
	if err != nil {
		logger.Warn("failed to create generation duration histogram", zap.Error(err))
	}

	m.calls, err = meter.Int64Counter(
		"forge.generation.calls",
		metric.WithDescription("Generation calls by provider and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create generation call counter", zap.Error(err))
	}

	m.retries, err = meter.Int64Counter(
		"forge.generation.retries",
		metric.WithDescription("Retried generation attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		logger.Warn("failed to create generation retry counter", zap.Error(err))
	}
	return m
}

func (m *Metrics) recordCall(ctx context.Context, provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if m.calls != nil {
		m.calls.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) recordRetry(ctx context.Context, provider string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}
