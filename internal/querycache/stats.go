package querycache

import (
	"math"
	"sync/atomic"
)

// typeCounters tracks hits, misses, and estimated savings for one cache
// type using atomics only; the hot path never takes a lock.
type typeCounters struct {
	hits      int64
	misses    int64
	costSaved uint64 // float64 bits, updated via CAS
}

func (tc *typeCounters) hit(cost float64) {
	atomic.AddInt64(&tc.hits, 1)
	if cost > 0 {
		addFloat64(&tc.costSaved, cost)
	}
}

func (tc *typeCounters) miss() {
	atomic.AddInt64(&tc.misses, 1)
}

func (tc *typeCounters) reset() {
	atomic.StoreInt64(&tc.hits, 0)
	atomic.StoreInt64(&tc.misses, 0)
	atomic.StoreUint64(&tc.costSaved, 0)
}

// addFloat64 atomically adds delta to the float64 stored in addr.
func addFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}

func loadFloat64(addr *uint64) float64 {
	return math.Float64frombits(atomic.LoadUint64(addr))
}

// TypeStats is a point-in-time snapshot for one cache type.
type TypeStats struct {
	Type         Type    `json:"type"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	Entries      int64   `json:"entries"`
	CostSavedUSD float64 `json:"cost_saved_usd"`
}

// Stats snapshots every type. Entry counts come from the persistent tier;
// a count failure degrades to zero rather than failing the snapshot.
func (c *Cache) Stats() []TypeStats {
	counts, err := c.persist.CountQueryCache()
	if err != nil {
		counts = map[string]int64{}
	}

	out := make([]TypeStats, 0, len(Types))
	for _, t := range Types {
		tc := c.stats[t]
		hits := atomic.LoadInt64(&tc.hits)
		misses := atomic.LoadInt64(&tc.misses)
		var rate float64
		if hits+misses > 0 {
			rate = float64(hits) / float64(hits+misses)
		}
		out = append(out, TypeStats{
			Type:         t,
			Hits:         hits,
			Misses:       misses,
			HitRate:      rate,
			Entries:      counts[string(t)],
			CostSavedUSD: loadFloat64(&tc.costSaved),
		})
	}
	return out
}

// TotalCostSavedUSD sums estimated savings across all types.
func (c *Cache) TotalCostSavedUSD() float64 {
	var total float64
	for _, t := range Types {
		total += loadFloat64(&c.stats[t].costSaved)
	}
	return total
}

// ResetStats zeroes all counters. Cached entries are untouched.
func (c *Cache) ResetStats() {
	for _, t := range Types {
		c.stats[t].reset()
	}
}
