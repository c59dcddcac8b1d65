// Package otel bridges engine metrics into OpenTelemetry observable
// instruments. Values are pulled from snapshots in a registered callback,
// so collection cost lands on the meter's read cycle rather than on
// engine operations.
package otel
