// Package telemetry wraps OpenTelemetry SDK initialization. It provides the
// global TracerProvider the coordinator uses for per-intervention spans; when
// telemetry is disabled, noop providers are used and no external service is
// contacted.
package telemetry
