package license

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const MeterName = "licsrv/license"

// Metrics holds the license instruments. A nil *Metrics records nothing.
type Metrics struct {
	Validations        metric.Int64Counter
	ValidationDuration metric.Float64Histogram
	Bindings           metric.Int64Counter
	AdminOperations    metric.Int64Counter
	GenerateCollisions metric.Int64Counter
}

// NewMetrics creates the license instruments on meter, or on the global meter
// provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}

	validations, err := meter.Int64Counter(
		"license_validations_total",
		metric.WithDescription("Total number of key validations by verdict reason"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("Key validation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	bindings, err := meter.Int64Counter(
		"license_bindings_total",
		metric.WithDescription("Total number of first-use device bindings"),
	)
	if err != nil {
		return nil, err
	}

	adminOps, err := meter.Int64Counter(
		"license_admin_operations_total",
		metric.WithDescription("Total number of successful admin operations"),
	)
	if err != nil {
		return nil, err
	}

	collisions, err := meter.Int64Counter(
		"license_generate_collisions_total",
		metric.WithDescription("Token collisions retried during key generation"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Validations:        validations,
		ValidationDuration: duration,
		Bindings:           bindings,
		AdminOperations:    adminOps,
		GenerateCollisions: collisions,
	}, nil
}

func (m *Metrics) recordValidation(ctx context.Context, v Verdict, elapsed time.Duration) {
	if m == nil {
		return
	}
	reason := string(v.Reason)
	if v.Valid {
		reason = "valid"
	}
	attrs := metric.WithAttributes(attribute.String("reason", reason))
	m.Validations.Add(ctx, 1, attrs)
	m.ValidationDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) recordBinding(ctx context.Context) {
	if m == nil {
		return
	}
	m.Bindings.Add(ctx, 1)
}

func (m *Metrics) recordAdmin(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.AdminOperations.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

func (m *Metrics) recordCollision(ctx context.Context) {
	if m == nil {
		return
	}
	m.GenerateCollisions.Add(ctx, 1)
}
