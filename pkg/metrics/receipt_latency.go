package metrics

import (
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Latency Tracking (sliding window)
// =============================================================================

// LatencyTracker records operation latencies over a fixed-size window.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []int64 // microseconds
	window  int
	next    int
	filled  bool
}

// NewLatencyTracker creates a tracker holding up to windowSize samples.
func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &LatencyTracker{
		samples: make([]int64, 0, windowSize),
		window:  windowSize,
	}
}

// Record adds a latency sample.
func (lt *LatencyTracker) Record(d time.Duration) {
	us := d.Microseconds()

	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.samples) < lt.window {
		lt.samples = append(lt.samples, us)
		return
	}

	// Ring buffer once the window is full
	lt.samples[lt.next] = us
	lt.next = (lt.next + 1) % lt.window
	lt.filled = true
}

// Stats computes summary statistics over the current window.
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	sorted := make([]int64, len(lt.samples))
	copy(sorted, lt.samples)
	lt.mu.Unlock()

	if len(sorted) == 0 {
		return LatencyStats{}
	}

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, v := range sorted {
		sum += v
	}

	return LatencyStats{
		Count: len(sorted),
		MinUS: sorted[0],
		MaxUS: sorted[len(sorted)-1],
		AvgUS: sum / int64(len(sorted)),
		P50US: percentileOf(sorted, 0.50),
		P95US: percentileOf(sorted, 0.95),
		P99US: percentileOf(sorted, 0.99),
	}
}

// Reset clears all samples.
func (lt *LatencyTracker) Reset() {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.samples = lt.samples[:0]
	lt.next = 0
	lt.filled = false
}

func percentileOf(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// LatencyStats is a point-in-time latency summary.
type LatencyStats struct {
	Count int   `json:"count"`
	MinUS int64 `json:"min_us"`
	MaxUS int64 `json:"max_us"`
	AvgUS int64 `json:"avg_us"`
	P50US int64 `json:"p50_us"`
	P95US int64 `json:"p95_us"`
	P99US int64 `json:"p99_us"`
}

// ToMap converts stats to a map with millisecond values for API responses.
func (s LatencyStats) ToMap() map[string]any {
	return map[string]any{
		"count":  s.Count,
		"min_ms": float64(s.MinUS) / 1000.0,
		"max_ms": float64(s.MaxUS) / 1000.0,
		"avg_ms": float64(s.AvgUS) / 1000.0,
		"p50_ms": float64(s.P50US) / 1000.0,
		"p95_ms": float64(s.P95US) / 1000.0,
		"p99_ms": float64(s.P99US) / 1000.0,
	}
}

// =============================================================================
// Multi-Operation Latency Registry
// =============================================================================

// LatencyRegistry manages latency trackers keyed by operation name.
type LatencyRegistry struct {
	mu       sync.RWMutex
	trackers map[string]*LatencyTracker
	window   int
}

// NewLatencyRegistry creates a new latency registry.
func NewLatencyRegistry(windowSize int) *LatencyRegistry {
	return &LatencyRegistry{
		trackers: make(map[string]*LatencyTracker),
		window:   windowSize,
	}
}

// Record records a latency for the given operation.
func (r *LatencyRegistry) Record(op string, d time.Duration) {
	r.mu.RLock()
	tracker, ok := r.trackers[op]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		// Double-check after acquiring write lock
		if tracker, ok = r.trackers[op]; !ok {
			tracker = NewLatencyTracker(r.window)
			r.trackers[op] = tracker
		}
		r.mu.Unlock()
	}

	tracker.Record(d)
}

// Stats returns latency statistics for a specific operation.
func (r *LatencyRegistry) Stats(op string) LatencyStats {
	r.mu.RLock()
	tracker, ok := r.trackers[op]
	r.mu.RUnlock()

	if !ok {
		return LatencyStats{}
	}
	return tracker.Stats()
}

// AllStats returns latency statistics for all operations.
func (r *LatencyRegistry) AllStats() map[string]LatencyStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]LatencyStats, len(r.trackers))
	for name, tracker := range r.trackers {
		result[name] = tracker.Stats()
	}
	return result
}

// =============================================================================
// Global Registry (Singleton)
// =============================================================================

var (
	globalRegistry     *LatencyRegistry
	globalRegistryOnce sync.Once
)

// GlobalRegistry returns the global latency registry.
func GlobalRegistry() *LatencyRegistry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewLatencyRegistry(1000)
	})
	return globalRegistry
}

// RecordLatency records a latency to the global registry.
func RecordLatency(op string, d time.Duration) {
	GlobalRegistry().Record(op, d)
}

// GetAllLatencyStats returns all stats from the global registry.
func GetAllLatencyStats() map[string]LatencyStats {
	return GlobalRegistry().AllStats()
}
