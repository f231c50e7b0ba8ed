package types

import (
	"fmt"
	"strings"
	"time"
)

// ItemKind identifies what a buffered payload is.
type ItemKind int

const (
	KindMedia ItemKind = iota
	KindQuery
	KindImage
)

// String returns the lowercase name of the kind
func (k ItemKind) String() string {
	switch k {
	case KindMedia:
		return "media"
	case KindQuery:
		return "query"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// ParseItemKind parses a kind name. It accepts any letter case.
func ParseItemKind(s string) (ItemKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "media", "":
		return KindMedia, nil
	case "query":
		return KindQuery, nil
	case "image":
		return KindImage, nil
	default:
		return KindMedia, fmt.Errorf("invalid item kind: %s", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (k ItemKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *ItemKind) UnmarshalText(text []byte) error {
	parsed, err := ParseItemKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Priority is the eviction tier of a buffered item.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// Rank returns the ordering weight of the priority; higher survives eviction longer.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// PriorityForProbability maps a prediction probability to the priority a
// freshly prefetched item is stored with.
func PriorityForProbability(p float64) Priority {
	if p > 0.8 {
		return PriorityHigh
	}
	return PriorityMedium
}

// BufferItem is one cached payload. The store owns Payload once inserted.
type BufferItem struct {
	ID                   string    `json:"id"`
	Kind                 ItemKind  `json:"kind"`
	Payload              []byte    `json:"-"`
	Priority             Priority  `json:"priority"`
	InsertedAt           time.Time `json:"inserted_at"`
	PredictedProbability float64   `json:"predicted_probability"`
}

// PredictionCandidate is a ranked guess about what the viewer requests next.
type PredictionCandidate struct {
	TargetID    string   `json:"target_id"`
	Kind        ItemKind `json:"kind"`
	Probability float64  `json:"probability"`
}

// ContentRef is a piece of content visible to the viewer that could be requested next.
type ContentRef struct {
	ID         string   `json:"id"`
	Kind       ItemKind `json:"kind"`
	CategoryID string   `json:"categoryId,omitempty"`
	// Score is an optional feed-supplied relevance in (0,1].
	Score float64 `json:"score,omitempty"`
}

// InteractionContext is the viewer state supplied by the feed/UI layer.
// Only the declared fields are read; unknown JSON fields are ignored.
type InteractionContext struct {
	CurrentContentID  string       `json:"currentContentId"`
	RecentCategoryIDs []string     `json:"recentCategoryIds"` // most recent first
	ScrollVelocity    float64      `json:"scrollVelocity"`    // px/s
	DwellTimeMs       int64        `json:"dwellTimeMs"`
	Related           []ContentRef `json:"related"`
}

// CacheStats represents buffer store statistics
type CacheStats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Upserts   uint64  `json:"upserts"`
	Items     int     `json:"items"`
	Capacity  int     `json:"capacity"`
	HitRate   float64 `json:"hit_rate"`
	Bytes     int64   `json:"bytes"`
}

// PrefetchStats tracks prefetch scheduler activity
type PrefetchStats struct {
	Requested     uint64 `json:"requested"`
	Deduplicated  uint64 `json:"deduplicated"`
	Completed     uint64 `json:"completed"`
	Failed        uint64 `json:"failed"`
	Dropped       uint64 `json:"dropped"`
	BytesFetched  int64  `json:"bytes_fetched"`
	InFlight      int    `json:"in_flight"`
	PeakInFlight  int    `json:"peak_in_flight"`
	QueueDepth    int    `json:"queue_depth"`
	CyclesRun     uint64 `json:"cycles_run"`
	CandidatesHit uint64 `json:"candidates_scheduled"`
}
