package ledger

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "estateagency/ledger"

type rpcMetrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

func newRPCMetrics(provider metric.MeterProvider) *rpcMetrics {
	meter := provider.Meter(meterName)
	calls, err := meter.Int64Counter("estate.ledger.rpc.calls",
		metric.WithDescription("Ledger RPC round-trips by kind, method and outcome."))
	if err != nil {
		calls, _ = noop.NewMeterProvider().Meter(meterName).Int64Counter("estate.ledger.rpc.calls")
	}
	duration, err := meter.Float64Histogram("estate.ledger.rpc.duration",
		metric.WithDescription("Ledger RPC latency."),
		metric.WithUnit("s"))
	if err != nil {
		duration, _ = noop.NewMeterProvider().Meter(meterName).Float64Histogram("estate.ledger.rpc.duration")
	}
	return &rpcMetrics{calls: calls, duration: duration}
}

func (m *rpcMetrics) record(ctx context.Context, kind, method string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	)
	m.calls.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
