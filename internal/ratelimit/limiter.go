package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Bucket defines rate limit parameters for one endpoint class.
type Bucket struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultBuckets cover the API surface; the mutating endpoints get the
// tightest limits.
var DefaultBuckets = map[string]Bucket{
	"api":      {MaxRequests: 120, Window: time.Minute},
	"sites":    {MaxRequests: 30, Window: time.Minute},
	"feedback": {MaxRequests: 20, Window: time.Minute},
	"cleanup":  {MaxRequests: 3, Window: 5 * time.Minute},
}

// Limiter maintains a token bucket per key. Idle buckets are swept
// periodically so the map does not grow with client churn.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*entry
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a new rate limiter.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*entry)}
}

// Allow reports whether a request identified by key is within the
// bucket's limit.
func (l *Limiter) Allow(key string, bucket Bucket) bool {
	l.mu.Lock()
	e, ok := l.buckets[key]
	if !ok {
		limit := rate.Every(bucket.Window / time.Duration(bucket.MaxRequests))
		e = &entry{limiter: rate.NewLimiter(limit, bucket.MaxRequests)}
		l.buckets[key] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()

	return e.limiter.Allow()
}

// Sweep drops buckets idle longer than maxIdle and returns how many
// were removed.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Check writes an http.StatusTooManyRequests response if the client is
// rate limited for the given bucket name. Returns true if the request
// was rejected.
func (l *Limiter) Check(w http.ResponseWriter, r *http.Request, bucketName string) bool {
	bucket, ok := DefaultBuckets[bucketName]
	if !ok {
		bucket = Bucket{MaxRequests: 60, Window: time.Minute}
	}

	ip := r.RemoteAddr
	if fwd := r.Header.Get("X-Real-IP"); fwd != "" {
		ip = fwd
	}
	key := bucketName + ":" + ip

	if l.Allow(key, bucket) {
		return false
	}

	retry := strconv.Itoa(int(bucket.Window.Seconds()))
	w.Header().Set("Retry-After", retry)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"Rate limited","retry_after_seconds":` + retry + `}`))
	return true
}
