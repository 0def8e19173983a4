package checkout

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/metinatakli/ride-checkout/internal/checkout"

type metrics struct {
	attempts       metric.Int64Counter
	commitDuration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	attempts, err := meter.Int64Counter("checkout.attempts",
		metric.WithDescription("Payment attempts by how they ended"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, err
	}

	commitDuration, err := meter.Float64Histogram("checkout.commit.duration",
		metric.WithDescription("Duration of booking commit requests"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &metrics{attempts: attempts, commitDuration: commitDuration}, nil
}

func (m *metrics) attemptEnded(outcome, reason string) {
	m.attempts.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", reason)))
}

func (m *metrics) commitFinished(kind string, elapsed time.Duration) {
	m.commitDuration.Record(context.Background(), elapsed.Seconds(), metric.WithAttributes(
		attribute.String("result", kind)))
}
