// Package metrics tracks process-wide request counters: uploads, query
// routes, and SQL workflow activity. The query caches keep their own
// per-type hit accounting; this collector covers everything above them.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/ragcache/ragcache/internal/router"
)

// Collector tracks live metrics using atomic counters for lock-free,
// concurrent-safe updates.
type Collector struct {
	totalUploads    int64
	uploadCacheHits int64
	totalQueries    int64
	routeData       int64
	routeDocuments  int64
	routeHybrid     int64
	sqlGenerated    int64
	sqlExecuted     int64
	sqlRejected     int64
	activeRequests  int64

	startTime time.Time
}

// Stats is a point-in-time snapshot of the collector's counters, suitable
// for JSON serialisation.
type Stats struct {
	Uptime          string  `json:"uptime"`
	TotalUploads    int64   `json:"total_uploads"`
	UploadCacheHits int64   `json:"upload_cache_hits"`
	UploadHitRate   float64 `json:"upload_hit_rate"`
	TotalQueries    int64   `json:"total_queries"`
	RouteData       int64   `json:"route_data"`
	RouteDocuments  int64   `json:"route_documents"`
	RouteHybrid     int64   `json:"route_hybrid"`
	SQLGenerated    int64   `json:"sql_generated"`
	SQLExecuted     int64   `json:"sql_executed"`
	SQLRejected     int64   `json:"sql_rejected"`
	ActiveRequests  int64   `json:"active_requests"`
}

// NewCollector creates a Collector with all counters at zero and the start
// time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// RecordUpload counts one upload; cached marks a content-digest dedup hit.
func (c *Collector) RecordUpload(cached bool) {
	atomic.AddInt64(&c.totalUploads, 1)
	if cached {
		atomic.AddInt64(&c.uploadCacheHits, 1)
	}
}

// RecordQuery counts one query against the route it took.
func (c *Collector) RecordQuery(route router.Route) {
	atomic.AddInt64(&c.totalQueries, 1)
	switch route {
	case router.RouteData:
		atomic.AddInt64(&c.routeData, 1)
	case router.RouteDocuments:
		atomic.AddInt64(&c.routeDocuments, 1)
	case router.RouteHybrid:
		atomic.AddInt64(&c.routeHybrid, 1)
	}
}

// RecordSQLGenerated counts one SQL generation.
func (c *Collector) RecordSQLGenerated() {
	atomic.AddInt64(&c.sqlGenerated, 1)
}

// RecordSQLDecision counts the outcome of an approval decision.
func (c *Collector) RecordSQLDecision(executed bool) {
	if executed {
		atomic.AddInt64(&c.sqlExecuted, 1)
	} else {
		atomic.AddInt64(&c.sqlRejected, 1)
	}
}

// IncrementActive marks a request entering the service.
func (c *Collector) IncrementActive() {
	atomic.AddInt64(&c.activeRequests, 1)
}

// DecrementActive marks a request leaving the service.
func (c *Collector) DecrementActive() {
	atomic.AddInt64(&c.activeRequests, -1)
}

// Stats returns a consistent-enough snapshot for display; counters are
// read individually without a global lock.
func (c *Collector) Stats() *Stats {
	uploads := atomic.LoadInt64(&c.totalUploads)
	hits := atomic.LoadInt64(&c.uploadCacheHits)
	var hitRate float64
	if uploads > 0 {
		hitRate = float64(hits) / float64(uploads)
	}
	return &Stats{
		Uptime:          formatDuration(time.Since(c.startTime)),
		TotalUploads:    uploads,
		UploadCacheHits: hits,
		UploadHitRate:   hitRate,
		TotalQueries:    atomic.LoadInt64(&c.totalQueries),
		RouteData:       atomic.LoadInt64(&c.routeData),
		RouteDocuments:  atomic.LoadInt64(&c.routeDocuments),
		RouteHybrid:     atomic.LoadInt64(&c.routeHybrid),
		SQLGenerated:    atomic.LoadInt64(&c.sqlGenerated),
		SQLExecuted:     atomic.LoadInt64(&c.sqlExecuted),
		SQLRejected:     atomic.LoadInt64(&c.sqlRejected),
		ActiveRequests:  atomic.LoadInt64(&c.activeRequests),
	}
}

// formatDuration produces a human-readable duration string like "2d 5h 32m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return formatWithUnits(days, "d", hours, "h", minutes, "m")
	}
	if hours > 0 {
		return formatWithUnits(hours, "h", minutes, "m", 0, "")
	}
	return formatWithUnits(minutes, "m", 0, "", 0, "")
}

// formatWithUnits builds a compact duration string from up to three components.
func formatWithUnits(v1 int, u1 string, v2 int, u2 string, v3 int, u3 string) string {
	s := ""
	if v1 > 0 {
		s += intStr(v1) + u1
	}
	if v2 > 0 {
		if s != "" {
			s += " "
		}
		s += intStr(v2) + u2
	}
	if v3 > 0 && u3 != "" {
		if s != "" {
			s += " "
		}
		s += intStr(v3) + u3
	}
	if s == "" {
		return "0m"
	}
	return s
}

// intStr converts an int to its string representation without importing strconv.
func intStr(n int) string {
	if n == 0 {
		return "0"
	}
	if n < 0 {
		return "-" + intStr(-n)
	}
	digits := make([]byte, 0, 10)
	for n > 0 {
		digits = append(digits, byte('0'+n%10))
		n /= 10
	}
	// reverse
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
