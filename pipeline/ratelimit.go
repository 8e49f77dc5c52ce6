package pipeline

import (
	"strconv"
	"time"

	"github.com/clipfetch/clipfetch/metrics"
	gocache "github.com/patrickmn/go-cache"
)

// RateLimiter admits at most one request per user within the minimum
// interval. Entries expire on their own, so the map never grows unbounded.
type RateLimiter struct {
	entries *gocache.Cache
}

func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		entries: gocache.New(minInterval, 5*time.Minute),
	}
}

// Allow reports whether uid may proceed. Add is atomic test-and-set: it fails
// while a live entry exists, which is exactly the gate.
func (r *RateLimiter) Allow(uid int64) bool {
	err := r.entries.Add(strconv.FormatInt(uid, 10), struct{}{}, gocache.DefaultExpiration)
	if err != nil {
		metrics.Metrics.RateLimitedCount.Inc()
		return false
	}
	return true
}
