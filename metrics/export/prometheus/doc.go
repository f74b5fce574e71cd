// Package prometheus exposes cmsauth service metrics to Prometheus.
//
// [NewCollector] adapts a service snapshot to a prometheus.Collector that
// callers register wherever they like; [Handler] wraps one in a private
// registry and returns a ready /metrics handler. Counter names are
// cmsauth_*_total and the only histogram is cmsauth_verify_latency_seconds.
package prometheus
