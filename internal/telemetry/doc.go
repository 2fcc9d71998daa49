// Package telemetry holds the gateway's Prometheus collectors and the
// OpenTelemetry tracer provider setup.
package telemetry
