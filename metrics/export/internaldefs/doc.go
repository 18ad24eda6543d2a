// Package internaldefs holds the metric names and histogram bounds shared by
// the exporters so Prometheus and OpenTelemetry output stay in step.
package internaldefs
