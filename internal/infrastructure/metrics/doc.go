// Package metrics exposes the bridge's process-wide Prometheus metrics.
//
// Per-device counters live on the device registry; this package covers the
// pipeline itself: routed and dropped messages, persistence queue pressure,
// store failures, command outcomes and registry population.
//
//	m := metrics.New(prometheus.DefaultRegisterer)
//	m.MessageRouted("sensor-data")
package metrics
