package intercept

import (
	"sync"
	"time"
)

// DefaultRingSize bounds how many captured transactions are retained in
// memory. Older captures fall off; long dev-mode sessions hold steady
// instead of growing without bound.
const DefaultRingSize = 512

// CapturedTransaction is one intercepted HTTP exchange, trimmed for
// classification and display. Bodies are excerpted, never stored whole.
type CapturedTransaction struct {
	Domain      string    `json:"domain"`
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	Status      int       `json:"status"`
	RequestSize int64     `json:"request_size"`
	ReplySize   int64     `json:"reply_size"`
	Excerpt     string    `json:"excerpt,omitempty"`
	TLS         bool      `json:"tls"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Ring is a fixed-capacity capture buffer. Writers never block and
// never allocate past capacity.
type Ring struct {
	mu    sync.Mutex
	buf   []CapturedTransaction
	next  int
	count int
	total uint64
}

// NewRing creates a ring holding up to size captures; size <= 0 uses
// DefaultRingSize.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{buf: make([]CapturedTransaction, size)}
}

// Add records a capture, evicting the oldest when full.
func (r *Ring) Add(tx CapturedTransaction) {
	r.mu.Lock()
	r.buf[r.next] = tx
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.total++
	r.mu.Unlock()
}

// Len returns how many captures are currently retained.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Total returns how many captures have ever been recorded.
func (r *Ring) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Snapshot returns retained captures, newest first.
func (r *Ring) Snapshot() []CapturedTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]CapturedTransaction, 0, r.count)
	for i := 1; i <= r.count; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Reset drops all retained captures. The lifetime total is preserved.
func (r *Ring) Reset() {
	r.mu.Lock()
	r.next = 0
	r.count = 0
	r.mu.Unlock()
}
