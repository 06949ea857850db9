package license

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ValidationMetrics holds the OpenTelemetry instruments of the engine
type ValidationMetrics struct {
	validationsTotal   metric.Int64Counter
	validationDuration metric.Float64Histogram
	passphrasePrompts  metric.Int64Counter
	deviceRegistrations metric.Int64Counter
}

// NewValidationMetrics creates the engine instruments on the given meter,
// falling back to the global meter when nil.
func NewValidationMetrics(meter metric.Meter) (*ValidationMetrics, error) {
	if meter == nil {
		meter = otel.Meter("lcpcli")
	}

	validationsTotal, err := meter.Int64Counter(
		"lcp_validations_total",
		metric.WithDescription("Total number of license validation runs by outcome"),
	)
	if err != nil {
		return nil, err
	}

	validationDuration, err := meter.Float64Histogram(
		"lcp_validation_duration_seconds",
		metric.WithDescription("License validation run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	passphrasePrompts, err := meter.Int64Counter(
		"lcp_passphrase_prompts_total",
		metric.WithDescription("Total number of interactive passphrase prompts"),
	)
	if err != nil {
		return nil, err
	}

	deviceRegistrations, err := meter.Int64Counter(
		"lcp_device_registrations_total",
		metric.WithDescription("Total number of device registration attempts"),
	)
	if err != nil {
		return nil, err
	}

	return &ValidationMetrics{
		validationsTotal:    validationsTotal,
		validationDuration:  validationDuration,
		passphrasePrompts:   passphrasePrompts,
		deviceRegistrations: deviceRegistrations,
	}, nil
}

// RecordValidation records one terminal validation outcome
func (m *ValidationMetrics) RecordValidation(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.validationsTotal.Add(ctx, 1, attrs)
	m.validationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordPassphrasePrompt records one interactive passphrase prompt
func (m *ValidationMetrics) RecordPassphrasePrompt(ctx context.Context) {
	m.passphrasePrompts.Add(ctx, 1)
}

// RecordDeviceRegistration records one device registration attempt
func (m *ValidationMetrics) RecordDeviceRegistration(ctx context.Context, success bool) {
	m.deviceRegistrations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}
