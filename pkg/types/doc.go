/*
Package types provides the core data structures and collaborator interfaces for cinefront.

This package is the foundation of the buffer subsystem: it defines the items held by the
priority buffer store, the tunable configuration shared by the store and the prefetcher,
and the contracts of the external collaborators the subsystem talks to.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│         Playback / Feed collaborators       │
	└─────────────────────────────────────────────┘
	          │ InteractionContext       ▲ GetFromBuffer
	┌─────────┴───────────────────────────┴───────┐
	│              Engine (internal/engine)        │
	└─────────────────────────────────────────────┘
	     │            │              │          │
	┌────┴─────┐ ┌────┴──────┐ ┌─────┴────┐ ┌───┴─────┐
	│Predictor │ │Prefetcher │ │  Store   │ │ Quality │
	└──────────┘ └───────────┘ └──────────┘ └─────────┘
	                  │ Fetcher
	            ┌─────┴──────┐
	            │ S3 / other │
	            └────────────┘

# Data Structures

BufferItem:
One cached payload keyed by ID. Re-inserting an ID replaces payload, priority,
timestamp and probability.

BufferConfig / ConfigUpdate:
Validated configuration and its partial-update form. Apply merges an update and
rejects invalid results without touching the receiver.

InteractionContext:
Viewer state decoded from the feed layer. Unknown JSON fields are ignored.

# Interface Contracts

Fetcher:
Supplies payload bytes for (id, kind). Implementations must be safe for concurrent
use; errors are treated as best-effort failures by the prefetcher.

Clock:
Injected time source so tests can control insertion timestamps.

MetricsCollector:
Observation sink implemented by internal/metrics. NopMetrics discards everything.
*/
package types
