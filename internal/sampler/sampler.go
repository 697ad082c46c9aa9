// Package sampler polls the operating system's TCP connection table and
// turns it into a stream of connection lifecycle events for the
// classification pipeline.
package sampler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netguard/netguard-go/internal/netguard"
	"github.com/netguard/netguard-go/internal/server"
)

// DefaultInterval matches the poll cadence the rest of the pipeline is
// tuned for.
const DefaultInterval = 2 * time.Second

// DefaultIdleTimeout is how long a connection may be absent from the OS
// table before a closed event is emitted. Short-lived table flaps (one
// missed enumeration) do not churn the event stream.
const DefaultIdleTimeout = 10 * time.Second

// eventBuffer bounds the event channel. A consumer that falls behind
// loses events rather than stalling the poll loop.
const eventBuffer = 1024

// EventType distinguishes connection lifecycle transitions.
type EventType string

const (
	EventNew    EventType = "new"
	EventClosed EventType = "closed"
)

// Conn is one remote TCP connection tracked across polls. FirstSeen and
// LastSeen are filled in by the sampler, not the platform enumerators.
type Conn struct {
	Proto      string    `json:"proto"` // "tcp" or "tcp6"
	LocalAddr  string    `json:"local_addr"`
	LocalPort  int       `json:"local_port"`
	RemoteAddr string    `json:"remote_addr"`
	RemotePort int       `json:"remote_port"`
	PID        int       `json:"pid,omitempty"`
	State      string    `json:"state"`
	FirstSeen  time.Time `json:"first_seen,omitzero"`
	LastSeen   time.Time `json:"last_seen,omitzero"`
}

func (c Conn) key() string {
	return c.Proto + "|" + c.LocalAddr + "|" + itoa(c.LocalPort) + "|" + c.RemoteAddr + "|" + itoa(c.RemotePort)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Event is one lifecycle transition, enriched with the remote host's
// reverse DNS name when one resolves.
type Event struct {
	Type   EventType `json:"type"`
	Conn   Conn      `json:"conn"`
	Domain string    `json:"domain,omitempty"`
	Seen   time.Time `json:"seen"`
}

// Counters are cumulative sampler statistics.
type Counters struct {
	Passes        uint64 `json:"passes"`
	Active        int    `json:"active"`
	DroppedEvents uint64 `json:"dropped_events"`
	BytesRecv     uint64 `json:"bytes_recv"`
	BytesSent     uint64 `json:"bytes_sent"`
}

// Sampler diffs successive snapshots of the TCP table. Local and
// private-range remotes are ignored; everything else produces events.
type Sampler struct {
	log         *slog.Logger
	resolver    *RDNS
	interval    time.Duration
	idleTimeout time.Duration

	events    chan Event
	enumerate func() ([]Conn, error)

	mu    sync.Mutex
	known map[string]Conn

	passes  atomic.Uint64
	active  atomic.Int64
	dropped atomic.Uint64
}

// New creates a sampler. resolver may be nil to skip reverse DNS
// enrichment; interval <= 0 uses DefaultInterval, idle <= 0 uses
// DefaultIdleTimeout.
func New(log *slog.Logger, resolver *RDNS, interval, idle time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Sampler{
		log:         log,
		resolver:    resolver,
		interval:    interval,
		idleTimeout: idle,
		events:      make(chan Event, eventBuffer),
		enumerate:   osEnumerate,
		known:       make(map[string]Conn),
	}
}

// Events returns the lifecycle event stream.
func (s *Sampler) Events() <-chan Event {
	return s.events
}

// Connections returns a copy of the most recent snapshot of tracked
// remote connections.
func (s *Sampler) Connections() []Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conn, 0, len(s.known))
	for _, c := range s.known {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}

// Counters returns a snapshot of the sampler's statistics.
func (s *Sampler) Counters() Counters {
	c := Counters{
		Passes:        s.passes.Load(),
		Active:        int(s.active.Load()),
		DroppedEvents: s.dropped.Load(),
	}
	if rx, tx, err := readNetCounters(); err == nil {
		c.BytesRecv, c.BytesSent = rx, tx
	}
	return c
}

// Run polls until ctx is cancelled. A pass that outlives the interval
// simply delays the next one; passes never overlap.
func (s *Sampler) Run(ctx context.Context) {
	s.log.Info("sampler started", "interval", s.interval)
	server.Every(ctx, s.interval, func(ctx context.Context) {
		start := time.Now()
		if err := s.pass(ctx); err != nil {
			s.log.Error("sampler pass failed", "error", err)
		}
		if d := time.Since(start); d > s.interval {
			s.log.Warn("sampler pass overran interval", "took", d)
		}
	})
	s.log.Info("sampler stopped")
}

func (s *Sampler) pass(ctx context.Context) error {
	conns, err := s.enumerate()
	if err != nil {
		return err
	}
	s.passes.Add(1)

	current := make(map[string]Conn, len(conns))
	for _, c := range conns {
		if netguard.IsLocalAddr(c.RemoteAddr) {
			continue
		}
		current[c.key()] = c
	}
	s.active.Store(int64(len(current)))

	now := time.Now().UTC()

	s.mu.Lock()
	var opened, closed []Conn
	for k, c := range current {
		if prev, ok := s.known[k]; ok {
			prev.State = c.State
			prev.LastSeen = now
			s.known[k] = prev
			continue
		}
		c.FirstSeen, c.LastSeen = now, now
		s.known[k] = c
		opened = append(opened, c)
	}
	// Entries absent from the table are only retired once they have been
	// gone longer than the idle timeout.
	for k, c := range s.known {
		if _, ok := current[k]; ok {
			continue
		}
		if now.Sub(c.LastSeen) >= s.idleTimeout {
			delete(s.known, k)
			closed = append(closed, c)
		}
	}
	s.mu.Unlock()

	for _, c := range opened {
		s.emit(Event{Type: EventNew, Conn: c, Domain: s.resolve(ctx, c.RemoteAddr), Seen: now})
	}
	for _, c := range closed {
		s.emit(Event{Type: EventClosed, Conn: c, Seen: now})
	}
	return nil
}

func (s *Sampler) resolve(ctx context.Context, addr string) string {
	if s.resolver == nil {
		return ""
	}
	return s.resolver.Lookup(ctx, addr)
}

func (s *Sampler) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		if s.dropped.Add(1)%100 == 1 {
			s.log.Warn("event channel full, dropping", "dropped_total", s.dropped.Load())
		}
	}
}
