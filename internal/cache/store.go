package cache

import (
	"math"
	"sort"
	"sync"

	"github.com/cinefront/cinefront/pkg/types"
)

// PriorityStore is a bounded, keyed, in-memory buffer with composite-priority
// eviction. Items are ranked by (priority rank, probability rounded to one
// decimal, insertion time, insertion sequence), all descending; everything
// past the first BufferSize items in that order is evicted.
type PriorityStore struct {
	mu     sync.Mutex
	items  map[string]*storeEntry
	config types.BufferConfig
	clock  types.Clock
	seq    uint64

	onEvict func(ids []string)

	// Statistics
	stats types.CacheStats
}

type storeEntry struct {
	item types.BufferItem
	seq  uint64
}

// NewPriorityStore creates a store bounded by config.BufferSize. A nil clock
// uses the system clock.
func NewPriorityStore(config types.BufferConfig, clock types.Clock) (*PriorityStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = types.SystemClock
	}

	return &PriorityStore{
		items:  make(map[string]*storeEntry),
		config: config,
		clock:  clock,
	}, nil
}

// OnEvict registers fn to be called with the IDs removed by each eviction
// pass. fn runs after the store lock is released.
func (s *PriorityStore) OnEvict(fn func(ids []string)) {
	s.mu.Lock()
	s.onEvict = fn
	s.mu.Unlock()
}

// Put upserts item. If the store grows past BufferSize an eviction pass runs
// before Put returns. Items without an ID are ignored; a zero InsertedAt is
// stamped with the store clock.
func (s *PriorityStore) Put(item types.BufferItem) {
	if item.ID == "" {
		return
	}

	s.mu.Lock()
	if item.InsertedAt.IsZero() {
		item.InsertedAt = s.clock.Now()
	}
	item.PredictedProbability = clampUnit(item.PredictedProbability)

	s.seq++
	if existing, ok := s.items[item.ID]; ok {
		s.stats.Bytes -= int64(len(existing.item.Payload))
		existing.item = item
		existing.seq = s.seq
	} else {
		s.items[item.ID] = &storeEntry{item: item, seq: s.seq}
	}
	s.stats.Bytes += int64(len(item.Payload))
	s.stats.Upserts++

	var evicted []string
	if len(s.items) > s.config.BufferSize {
		evicted = s.evictLocked()
	}
	observer := s.onEvict
	s.mu.Unlock()

	if observer != nil && len(evicted) > 0 {
		observer(evicted)
	}
}

// Get returns the cached payload for id. A miss returns (nil, false).
// Get never changes an item's rank.
func (s *PriorityStore) Get(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[id]
	if !ok {
		s.stats.Misses++
		s.updateHitRate()
		return nil, false
	}

	s.stats.Hits++
	s.updateHitRate()

	// Return a copy of the data
	result := make([]byte, len(entry.item.Payload))
	copy(result, entry.item.Payload)
	return result, true
}

// Peek returns the item metadata for id without touching hit statistics.
// The returned item shares its payload with the store and must not be modified.
func (s *PriorityStore) Peek(id string) (types.BufferItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[id]
	if !ok {
		return types.BufferItem{}, false
	}
	return entry.item, true
}

// Evict runs an eviction pass and returns the removed IDs, lowest ranked last.
func (s *PriorityStore) Evict() []string {
	s.mu.Lock()
	evicted := s.evictLocked()
	observer := s.onEvict
	s.mu.Unlock()

	if observer != nil && len(evicted) > 0 {
		observer(evicted)
	}
	return evicted
}

// SetConfig merges update into the current configuration. An invalid result
// is rejected and the current configuration is kept. Shrinking BufferSize
// evicts immediately.
func (s *PriorityStore) SetConfig(update types.ConfigUpdate) error {
	s.mu.Lock()
	merged, err := s.config.Apply(update)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.config = merged

	var evicted []string
	if len(s.items) > s.config.BufferSize {
		evicted = s.evictLocked()
	}
	observer := s.onEvict
	s.mu.Unlock()

	if observer != nil && len(evicted) > 0 {
		observer(evicted)
	}
	return nil
}

// Config returns the current configuration
func (s *PriorityStore) Config() types.BufferConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Len returns the number of buffered items
func (s *PriorityStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Keys returns the buffered IDs in rank order, highest first.
func (s *PriorityStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ranked := s.rankedLocked()
	keys := make([]string, len(ranked))
	for i, e := range ranked {
		keys[i] = e.item.ID
	}
	return keys
}

// Stats returns store statistics
func (s *PriorityStore) Stats() types.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.Items = len(s.items)
	stats.Capacity = s.config.BufferSize
	return stats
}

// evictLocked removes every item ranked below the first BufferSize.
// Caller must hold s.mu.
func (s *PriorityStore) evictLocked() []string {
	if len(s.items) <= s.config.BufferSize {
		return nil
	}

	ranked := s.rankedLocked()
	victims := ranked[s.config.BufferSize:]
	evicted := make([]string, 0, len(victims))
	for _, e := range victims {
		s.stats.Bytes -= int64(len(e.item.Payload))
		delete(s.items, e.item.ID)
		evicted = append(evicted, e.item.ID)
	}
	s.stats.Evictions += uint64(len(evicted))
	return evicted
}

func (s *PriorityStore) rankedLocked() []*storeEntry {
	ranked := make([]*storeEntry, 0, len(s.items))
	for _, e := range s.items {
		ranked = append(ranked, e)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranksAbove(ranked[i], ranked[j])
	})
	return ranked
}

// ranksAbove reports whether a should be kept in preference to b. The
// insertion sequence is unique, so the order is total.
func ranksAbove(a, b *storeEntry) bool {
	if ra, rb := a.item.Priority.Rank(), b.item.Priority.Rank(); ra != rb {
		return ra > rb
	}
	if pa, pb := probabilityBucket(a.item.PredictedProbability), probabilityBucket(b.item.PredictedProbability); pa != pb {
		return pa > pb
	}
	if !a.item.InsertedAt.Equal(b.item.InsertedAt) {
		return a.item.InsertedAt.After(b.item.InsertedAt)
	}
	return a.seq > b.seq
}

// probabilityBucket rounds p to one decimal place, as tenths.
func probabilityBucket(p float64) int {
	return int(math.Round(p * 10))
}

func clampUnit(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

func (s *PriorityStore) updateHitRate() {
	total := s.stats.Hits + s.stats.Misses
	if total > 0 {
		s.stats.HitRate = float64(s.stats.Hits) / float64(total)
	}
}
