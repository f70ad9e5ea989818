// Package metrics exposes Meridian's Prometheus metrics and the health and
// readiness endpoints. Metric variables are package-level and shared across
// the bootstrap packages; the Collector bridges lifecycle events from the
// broker into gauges. Readiness gates on the parcelport, router and barrier
// components, so /readyz flips only after the boot barrier reaches CONNECTED.
package metrics
