// Package internaldefs holds the shared metric name/help table and bucket
// helpers used by the exporter packages. It exists so the Prometheus and
// OpenTelemetry exporters render identical series without duplicating the
// definitions.
package internaldefs
