// Package cache provides the tiered in-memory TTL cache used to memoize
// computed lineage and test-report payloads between requests.
package cache

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Cache layers and their default TTLs. A custom TTL on Set overrides the
// layer default; the layer tag is what invalidation operates on.
const (
	LayerHot  = "hot"
	LayerWarm = "warm"
	LayerCold = "cold"

	HotTTL  = 5 * time.Minute
	WarmTTL = 45 * time.Minute
	ColdTTL = 24 * time.Hour
)

// ErrUnknownLayer indicates a layer tag outside hot/warm/cold.
var ErrUnknownLayer = errors.New("unknown cache layer")

type (
	// TieredCache is a thread-safe key→bytes store with hot/warm/cold TTL
	// layers and per-key hit/miss/eviction counters.
	//
	// The statistics map never outgrows the entry map: a key's statistics
	// record is created on Set and deleted in the same operation that removes
	// the entry (expiry on Get, Delete, Clear, layer invalidation). Counters
	// for keys that no longer live in the cache survive only in the aggregate
	// totals.
	TieredCache struct {
		logger *slog.Logger

		// now is the clock; tests substitute it to drive expiry.
		now func() time.Time

		// mu guards entries and stats. Reads (fresh Get, Stats, DebugInfo)
		// take it in read mode; counter updates inside the read section are
		// atomic so they do not need the write mode.
		mu      sync.RWMutex
		entries map[string]*entry
		stats   map[string]*keyStats

		aggregate aggregateCounters
	}

	// entry is one cached value with its expiry bookkeeping.
	entry struct {
		value    []byte
		layer    string
		ttl      time.Duration
		storedAt time.Time
	}

	// keyStats holds the live counters for one key. Atomics allow hit
	// accounting under the read lock.
	keyStats struct {
		hits      atomic.Int64
		misses    atomic.Int64
		evictions atomic.Int64
	}

	// KeyStats is the exported snapshot of one key's counters.
	KeyStats struct {
		Hits      int64 `json:"hits"`
		Misses    int64 `json:"misses"`
		Evictions int64 `json:"evictions"`
	}

	// aggregateCounters accumulate across the cache lifetime; they survive
	// entry removal and feed the hit-rate calculation.
	aggregateCounters struct {
		hits        atomic.Int64
		misses      atomic.Int64
		evictions   atomic.Int64
		expirations atomic.Int64
	}

	// AggregateStats is the exported snapshot of the lifetime counters.
	AggregateStats struct {
		Hits        int64   `json:"hits"`
		Misses      int64   `json:"misses"`
		Evictions   int64   `json:"evictions"`
		Expirations int64   `json:"expirations"`
		HitRate     float64 `json:"hitRate"`
	}

	// EntryInfo is one row of the debug dump: entry metadata plus the live
	// counters for the key.
	EntryInfo struct {
		Key              string   `json:"key"`
		Layer            string   `json:"layer"`
		TTLSeconds       float64  `json:"ttlSeconds"`
		AgeSeconds       float64  `json:"ageSeconds"`
		ExpiresInSeconds float64  `json:"expiresInSeconds"`
		Stats            KeyStats `json:"stats"`
	}
)

// New creates an empty tiered cache.
func New(logger *slog.Logger) *TieredCache {
	if logger == nil {
		logger = slog.Default()
	}

	return &TieredCache{
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
		stats:   make(map[string]*keyStats),
	}
}

// DefaultTTL returns the default TTL for a layer tag.
func DefaultTTL(layer string) (time.Duration, error) {
	switch layer {
	case LayerHot:
		return HotTTL, nil
	case LayerWarm:
		return WarmTTL, nil
	case LayerCold:
		return ColdTTL, nil
	default:
		return 0, ErrUnknownLayer
	}
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) >= e.ttl
}

// Get returns the value stored under key. An expired entry is removed
// together with its statistics record in the same operation, and the lookup
// counts as a miss.
func (c *TieredCache) Get(key string) ([]byte, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[key]

	if ok && !e.expired(now) {
		if st := c.stats[key]; st != nil {
			st.hits.Add(1)
		}

		value := e.value
		c.mu.RUnlock()

		c.aggregate.hits.Add(1)

		return value, true
	}
	c.mu.RUnlock()

	if ok {
		// Expired: re-check under the write lock, since another goroutine
		// may have replaced the entry since the read section ended.
		c.mu.Lock()
		if current, still := c.entries[key]; still && current.expired(now) {
			delete(c.entries, key)
			delete(c.stats, key)
			c.aggregate.expirations.Add(1)
		}
		c.mu.Unlock()
	}

	c.aggregate.misses.Add(1)

	return nil, false
}

// Set stores value under key in the given layer. A zero ttl uses the layer
// default; a positive ttl overrides it. Overwriting an existing key keeps
// its accumulated counters.
func (c *TieredCache) Set(key string, value []byte, layer string, ttl time.Duration) error {
	defaultTTL, err := DefaultTTL(layer)
	if err != nil {
		return err
	}

	if ttl <= 0 {
		ttl = defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &entry{
		value:    value,
		layer:    layer,
		ttl:      ttl,
		storedAt: c.now(),
	}

	if _, exists := c.stats[key]; !exists {
		c.stats[key] = &keyStats{}
	}

	return nil
}

// Delete removes the entry and its statistics record. Returns whether an
// entry existed.
func (c *TieredCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]

	delete(c.entries, key)
	delete(c.stats, key)

	return ok
}

// Clear removes every entry and every statistics record, returning the
// number of entries removed.
func (c *TieredCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := len(c.entries)
	c.entries = make(map[string]*entry)
	c.stats = make(map[string]*keyStats)

	return removed
}

// InvalidateLayer removes every entry carrying the layer tag. Each removal
// is counted as an eviction; the per-key counter bump is visible only in the
// aggregate totals because the statistics record dies with the entry.
func (c *TieredCache) InvalidateLayer(layer string) (int, error) {
	if _, err := DefaultTTL(layer); err != nil {
		return 0, err
	}

	c.mu.Lock()

	count := 0

	for key, e := range c.entries {
		if e.layer != layer {
			continue
		}

		if st := c.stats[key]; st != nil {
			st.evictions.Add(1)
		}

		delete(c.entries, key)
		delete(c.stats, key)
		c.aggregate.evictions.Add(1)

		count++
	}
	c.mu.Unlock()

	c.logger.Info("cache layer invalidated",
		slog.String("layer", layer),
		slog.Int("evicted", count),
	)

	return count, nil
}

// DeleteMatching removes every entry whose key satisfies match, counting the
// removals as evictions. Used for targeted invalidation (for example, every
// key embedding a node id).
func (c *TieredCache) DeleteMatching(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0

	for key := range c.entries {
		if !match(key) {
			continue
		}

		if st := c.stats[key]; st != nil {
			st.evictions.Add(1)
		}

		delete(c.entries, key)
		delete(c.stats, key)
		c.aggregate.evictions.Add(1)

		count++
	}

	return count
}

// Stats returns the live counters for one key. The second return is false
// when the key has no live entry (statistics never outlive entries).
func (c *TieredCache) Stats(key string) (KeyStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st, ok := c.stats[key]
	if !ok {
		return KeyStats{}, false
	}

	return st.snapshot(), true
}

// AllStats returns a snapshot of every live key's counters.
func (c *TieredCache) AllStats() map[string]KeyStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]KeyStats, len(c.stats))
	for key, st := range c.stats {
		out[key] = st.snapshot()
	}

	return out
}

// Aggregate returns the lifetime counters and the derived hit rate.
func (c *TieredCache) Aggregate() AggregateStats {
	hits := c.aggregate.hits.Load()
	misses := c.aggregate.misses.Load()

	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}

	return AggregateStats{
		Hits:        hits,
		Misses:      misses,
		Evictions:   c.aggregate.evictions.Load(),
		Expirations: c.aggregate.expirations.Load(),
		HitRate:     rate,
	}
}

// Len returns the live entry count.
func (c *TieredCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// LayerCounts returns the live entry count per layer tag.
func (c *TieredCache) LayerCounts() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := map[string]int{LayerHot: 0, LayerWarm: 0, LayerCold: 0}
	for _, e := range c.entries {
		counts[e.layer]++
	}

	return counts
}

// DebugInfo dumps every live entry with its expiry bookkeeping and counters,
// sorted by key. A non-empty layer restricts the dump to that layer.
func (c *TieredCache) DebugInfo(layer string) []EntryInfo {
	now := c.now()

	c.mu.RLock()

	infos := make([]EntryInfo, 0, len(c.entries))

	for key, e := range c.entries {
		if layer != "" && e.layer != layer {
			continue
		}

		age := now.Sub(e.storedAt)

		info := EntryInfo{
			Key:              key,
			Layer:            e.layer,
			TTLSeconds:       e.ttl.Seconds(),
			AgeSeconds:       age.Seconds(),
			ExpiresInSeconds: (e.ttl - age).Seconds(),
		}

		if st := c.stats[key]; st != nil {
			info.Stats = st.snapshot()
		}

		infos = append(infos, info)
	}
	c.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	return infos
}

func (s *keyStats) snapshot() KeyStats {
	return KeyStats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
	}
}
