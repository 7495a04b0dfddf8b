// Package otelobs implements observability.Provider on the OpenTelemetry API.
//
// Spans and metric instruments come from the configured TracerProvider and
// MeterProvider, defaulting to the global ones installed with
// otel.SetTracerProvider and otel.SetMeterProvider. The SDK and exporters
// are the application's choice; without them every call is a no-op. Log
// calls go to a slog.Logger and carry the trace and span IDs of the
// context's span.
package otelobs
