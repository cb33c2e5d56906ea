package broker

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// RegisterMetrics exposes the broker's window state as observable gauges so
// quota pressure is visible without polling the status endpoint.
func (b *Broker) RegisterMetrics() error {
	meter := otel.Meter("broker")

	usedGauge, err := meter.Int64ObservableGauge("token_broker.used_tokens")
	if err != nil {
		return fmt.Errorf("register used gauge: %w", err)
	}
	lockedGauge, err := meter.Int64ObservableGauge("token_broker.locked_tokens")
	if err != nil {
		return fmt.Errorf("register locked gauge: %w", err)
	}
	availGauge, err := meter.Int64ObservableGauge("token_broker.available_tokens")
	if err != nil {
		return fmt.Errorf("register available gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o otelmetric.Observer) error {
		st := b.Status()
		o.ObserveInt64(usedGauge, int64(st.UsedTokens))
		o.ObserveInt64(lockedGauge, int64(st.LockedTokens))
		o.ObserveInt64(availGauge, int64(st.AvailableTokens))
		return nil
	}, usedGauge, lockedGauge, availGauge)
	if err != nil {
		return fmt.Errorf("register broker metrics callback: %w", err)
	}
	return nil
}
