/*
Package cache provides the bounded prefetch buffer for cinefront.

The package holds three cooperating pieces: a priority store that keeps a bounded
number of payloads in memory, a rule-based behavior predictor that ranks what a
viewer is likely to open next, and a prefetch scheduler that fetches those
candidates under a fixed concurrency budget and writes the results into the store.

# Buffer Architecture

	┌─────────────────────────────────────────────┐
	│          InteractionContext (feed)          │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            BehaviorPredictor                │
	│   • feed score or positional prior          │
	│   • category affinity, dwell, scroll        │
	└─────────────────────────────────────────────┘
	                      │ candidates > threshold
	┌─────────────────────────────────────────────┐
	│               Prefetcher                    │
	│   • FIFO queue                              │
	│   • ≤ MaxConcurrentRequests in flight       │
	│   • per-fetch deadline, optional rate limit │
	└─────────────────────────────────────────────┘
	                      │ types.Fetcher
	┌─────────────────────────────────────────────┐
	│             PriorityStore                   │
	│   • upsert by ID                            │
	│   • size ≤ BufferSize after every Put       │
	└─────────────────────────────────────────────┘

# Eviction Order

Items are ranked by, in order and all descending:

 1. priority rank (High=2, Medium=1, Low=0)
 2. predicted probability rounded to one decimal
 3. insertion time
 4. insertion sequence

The last key is unique, so the ranking is total and eviction never depends on map
iteration order. Reads do not change rank.

# Failure Handling

Prefetching is best effort. Fetch errors, deadline expiry and panics in the fetcher
are logged, counted in PrefetchStats and released; nothing is retried.

# Usage

	store, err := cache.NewPriorityStore(types.DefaultBufferConfig(), nil)
	if err != nil {
		return err
	}
	prefetcher, err := cache.NewPrefetcher(store, fetcher, cache.NewBehaviorPredictor(8), &cache.PrefetcherConfig{
		FetchTimeout: cache.DefaultFetchTimeout,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	prefetcher.RunPredictionCycle(ctx, interaction)
*/
package cache
