package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome labels. Failed operations are labelled with the key manager
// condition code instead, so dashboards can tell a stale height from a
// corrupted store.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// BusinessMetrics records key manager operations.
type BusinessMetrics interface {
	// RecordOperation counts one operation of component ("gate", "policy",
	// "master", "ephemeral", "replication") with its outcome.
	RecordOperation(ctx context.Context, component, operation, outcome string)

	// RecordDuration records how long an operation took, in seconds.
	RecordDuration(ctx context.Context, component, operation string, duration time.Duration, outcome string)

	// RecordRelease counts a secret handed to an enclave. sealed reports
	// whether it left sealed to the session's encryption key.
	RecordRelease(ctx context.Context, kind string, sealed bool)
}

type businessMetrics struct {
	operations metric.Int64Counter
	durations  metric.Float64Histogram
	releases   metric.Int64Counter
}

// NewBusinessMetrics creates BusinessMetrics whose instruments are prefixed with namespace.
func NewBusinessMetrics(meterProvider metric.MeterProvider, namespace string) (BusinessMetrics, error) {
	meter := meterProvider.Meter(namespace)

	operations, err := meter.Int64Counter(
		fmt.Sprintf("%s_operations_total", namespace),
		metric.WithDescription("Total number of key manager operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation counter: %w", err)
	}

	durations, err := meter.Float64Histogram(
		fmt.Sprintf("%s_operation_duration_seconds", namespace),
		metric.WithDescription("Duration of key manager operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	releases, err := meter.Int64Counter(
		fmt.Sprintf("%s_secrets_released_total", namespace),
		metric.WithDescription("Total number of secrets released to enclaves"),
		metric.WithUnit("{secret}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create release counter: %w", err)
	}

	return &businessMetrics{
		operations: operations,
		durations:  durations,
		releases:   releases,
	}, nil
}

func operationAttributes(component, operation, outcome string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
}

func (b *businessMetrics) RecordOperation(ctx context.Context, component, operation, outcome string) {
	b.operations.Add(ctx, 1, operationAttributes(component, operation, outcome))
}

func (b *businessMetrics) RecordDuration(
	ctx context.Context,
	component, operation string,
	duration time.Duration,
	outcome string,
) {
	b.durations.Record(ctx, duration.Seconds(), operationAttributes(component, operation, outcome))
}

func (b *businessMetrics) RecordRelease(ctx context.Context, kind string, sealed bool) {
	delivery := "plaintext"
	if sealed {
		delivery = "sealed"
	}
	b.releases.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("delivery", delivery),
	))
}

// NoOpBusinessMetrics discards everything. It is used when metrics are disabled.
type NoOpBusinessMetrics struct{}

// NewNoOpBusinessMetrics creates a no-op BusinessMetrics implementation.
func NewNoOpBusinessMetrics() BusinessMetrics {
	return &NoOpBusinessMetrics{}
}

func (n *NoOpBusinessMetrics) RecordOperation(context.Context, string, string, string) {}

func (n *NoOpBusinessMetrics) RecordDuration(context.Context, string, string, time.Duration, string) {}

func (n *NoOpBusinessMetrics) RecordRelease(context.Context, string, bool) {}
