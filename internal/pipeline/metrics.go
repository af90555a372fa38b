package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	requests metric.Int64Counter
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("speechgate/pipeline")

	requests, err := meter.Int64Counter("speechgate.requests",
		metric.WithDescription("Upload requests processed, by outcome"))
	if err != nil {
		return nil, err
	}
	attempts, err := meter.Int64Counter("speechgate.engine.attempts",
		metric.WithDescription("Recognition engine attempts, by engine and outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("speechgate.pipeline.duration",
		metric.WithDescription("End-to-end pipeline duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &metrics{requests: requests, attempts: attempts, duration: duration}, nil
}

func (m *metrics) recordRequest(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) recordAttempt(ctx context.Context, engineID string, success bool) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("engine", engineID),
		attribute.Bool("success", success),
	))
}
