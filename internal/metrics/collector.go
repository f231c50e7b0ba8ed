package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cinefront/cinefront/pkg/types"
)

// Collector implements types.MetricsCollector on top of a private Prometheus registry
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	// Prometheus metrics
	prefetchCounter  *prometheus.CounterVec
	prefetchDuration *prometheus.HistogramVec
	prefetchSize     *prometheus.HistogramVec
	cacheCounter     *prometheus.CounterVec
	evictionCounter  prometheus.Counter
	bufferItems      prometheus.Gauge
	inFlightGauge    prometheus.Gauge
	queueDepthGauge  prometheus.Gauge
	qualityCounter   *prometheus.CounterVec

	// Internal tracking
	operations map[string]*OperationMetrics
	startedAt  time.Time

	// HTTP server for metrics endpoint
	server   *http.Server
	listener net.Listener
}

var _ types.MetricsCollector = (*Collector)(nil)

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// OperationMetrics tracks prefetch metrics for one item kind
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
}

// DefaultConfig returns the default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "cinefront",
		Subsystem: "buffer",
		Labels:    make(map[string]string),
	}
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config, logger *slog.Logger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	if !config.Enabled {
		return &Collector{config: config, logger: logger}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		logger:     logger.With("component", "metrics"),
		operations: make(map[string]*OperationMetrics),
		startedAt:  time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Registry returns the underlying registry, or nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the HTTP handler serving the metrics and debug endpoints
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if !c.config.Enabled {
		return mux
	}

	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/prefetch", c.debugPrefetchHandler)
	return mux
}

// Start starts the metrics server. It returns once the listener is bound.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on metrics port %d: %w", c.config.Port, err)
	}

	c.mu.Lock()
	c.listener = listener
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server error", "error", err)
		}
	}()

	c.logger.Info("Metrics server started", "addr", listener.Addr().String(), "path", c.config.Path)
	return nil
}

// Addr returns the bound address of a started server
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordPrefetch records one finished prefetch
func (c *Collector) RecordPrefetch(kind string, duration time.Duration, size int64, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	if m, exists := c.operations[kind]; exists {
		m.Count++
		m.TotalDuration += duration
		m.TotalSize += size
		if !success {
			m.Errors++
		}
		m.LastOperation = time.Now()
		m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
		m.AvgSize = float64(m.TotalSize) / float64(m.Count)
	} else {
		m := &OperationMetrics{
			Count:         1,
			TotalDuration: duration,
			TotalSize:     size,
			LastOperation: time.Now(),
			AvgDuration:   duration,
			AvgSize:       float64(size),
		}
		if !success {
			m.Errors = 1
		}
		c.operations[kind] = m
	}
	c.mu.Unlock()

	c.prefetchCounter.With(prometheus.Labels{
		"kind":   kind,
		"status": statusLabel(success),
	}).Inc()
	c.prefetchDuration.With(prometheus.Labels{"kind": kind}).Observe(duration.Seconds())

	if success && size > 0 {
		c.prefetchSize.With(prometheus.Labels{"kind": kind}).Observe(float64(size))
	}
}

// RecordCacheHit records a buffer hit
func (c *Collector) RecordCacheHit(kind string) {
	if !c.config.Enabled {
		return
	}
	c.cacheCounter.With(prometheus.Labels{"type": "hit", "kind": kind}).Inc()
}

// RecordCacheMiss records a buffer miss
func (c *Collector) RecordCacheMiss() {
	if !c.config.Enabled {
		return
	}
	c.cacheCounter.With(prometheus.Labels{"type": "miss", "kind": "unknown"}).Inc()
}

// RecordEviction records evicted items
func (c *Collector) RecordEviction(count int) {
	if !c.config.Enabled || count <= 0 {
		return
	}
	c.evictionCounter.Add(float64(count))
}

// SetBufferItems updates the buffered item gauge
func (c *Collector) SetBufferItems(n int) {
	if !c.config.Enabled {
		return
	}
	c.bufferItems.Set(float64(n))
}

// SetPrefetchInFlight updates the in-flight gauge
func (c *Collector) SetPrefetchInFlight(n int) {
	if !c.config.Enabled {
		return
	}
	c.inFlightGauge.Set(float64(n))
}

// SetPrefetchQueueDepth updates the queue depth gauge
func (c *Collector) SetPrefetchQueueDepth(n int) {
	if !c.config.Enabled {
		return
	}
	c.queueDepthGauge.Set(float64(n))
}

// RecordQualityDecision counts a quality decision by implementation
func (c *Collector) RecordQualityDecision(impl, decision string) {
	if !c.config.Enabled {
		return
	}
	c.qualityCounter.With(prometheus.Labels{"impl": impl, "decision": decision}).Inc()
}

// Helper methods

func (c *Collector) initMetrics() {
	c.prefetchCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "prefetch_total",
			Help:        "Total number of finished prefetches",
			ConstLabels: c.config.Labels,
		},
		[]string{"kind", "status"},
	)

	c.prefetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "prefetch_duration_seconds",
			Help:        "Duration of prefetch fetches in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			ConstLabels: c.config.Labels,
		},
		[]string{"kind"},
	)

	c.prefetchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "prefetch_size_bytes",
			Help:        "Size of prefetched payloads in bytes",
			Buckets:     prometheus.ExponentialBuckets(1024, 2, 20), // 1KB to ~1GB
			ConstLabels: c.config.Labels,
		},
		[]string{"kind"},
	)

	c.cacheCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "requests_total",
			Help:        "Total number of buffer lookups",
			ConstLabels: c.config.Labels,
		},
		[]string{"type", "kind"},
	)

	c.evictionCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "evictions_total",
			Help:        "Total number of evicted items",
			ConstLabels: c.config.Labels,
		},
	)

	c.bufferItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "items",
			Help:        "Number of buffered items",
			ConstLabels: c.config.Labels,
		},
	)

	c.inFlightGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "prefetch_in_flight",
			Help:        "Number of prefetches currently in flight",
			ConstLabels: c.config.Labels,
		},
	)

	c.queueDepthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "prefetch_queue_depth",
			Help:        "Number of prefetches waiting for a slot",
			ConstLabels: c.config.Labels,
		},
	)

	c.qualityCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "quality_decisions_total",
			Help:        "Total number of quality decisions",
			ConstLabels: c.config.Labels,
		},
		[]string{"impl", "decision"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.prefetchCounter,
		c.prefetchDuration,
		c.prefetchSize,
		c.cacheCounter,
		c.evictionCounter,
		c.bufferItems,
		c.inFlightGauge,
		c.queueDepthGauge,
		c.qualityCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"cinefront-metrics"}`))
}

func (c *Collector) debugPrefetchHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")

	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("Prefetch Summary\n")
	writef("================\n\n")
	writef("Uptime: %v\n", time.Since(c.startedAt).Truncate(time.Second))
	writef("Started: %v\n\n", c.startedAt.Format(time.RFC3339))

	if len(c.operations) == 0 {
		writef("No prefetches recorded.\n")
		return
	}

	kinds := make([]string, 0, len(c.operations))
	for k := range c.operations {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	writef("%-10s %10s %10s %12s %12s %10s\n",
		"Kind", "Count", "Errors", "Avg Duration", "Avg Size", "Last")
	writef("%-10s %10s %10s %12s %12s %10s\n",
		"----", "-----", "------", "------------", "--------", "----")

	for _, name := range kinds {
		op := c.operations[name]
		writef("%-10s %10d %10d %12v %12.0f %10s\n",
			name, op.Count, op.Errors, op.AvgDuration.Truncate(time.Microsecond),
			op.AvgSize, op.LastOperation.Format("15:04:05"))
	}
}
