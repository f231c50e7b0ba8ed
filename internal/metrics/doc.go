/*
Package metrics provides Prometheus metrics collection for the cinefront buffer subsystem.

# Overview

Collector implements types.MetricsCollector. It keeps Prometheus metrics on a private
registry for monitoring systems and a small per-kind prefetch summary for debugging.

	┌─────────────┐
	│  Collector  │  ← types.MetricsCollector
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼────────┐
	│  Prometheus  │         │  HTTP Endpoints  │
	│   Registry   │         │  /metrics        │
	│              │         │  /health         │
	│ - Counters   │         │  /debug/prefetch │
	│ - Histograms │         └──────────────────┘
	│ - Gauges     │
	└──────────────┘

# Exported Metrics

With the default namespace "cinefront" and subsystem "buffer":

	cinefront_buffer_prefetch_total{kind,status}
	cinefront_buffer_prefetch_duration_seconds{kind}
	cinefront_buffer_prefetch_size_bytes{kind}
	cinefront_buffer_requests_total{type,kind}
	cinefront_buffer_evictions_total
	cinefront_buffer_items
	cinefront_buffer_prefetch_in_flight
	cinefront_buffer_prefetch_queue_depth
	cinefront_buffer_quality_decisions_total{impl,decision}

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "cinefront",
	}, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

A disabled collector accepts every call and records nothing.
*/
package metrics
