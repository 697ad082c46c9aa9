package sampler

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

const (
	rdnsTTL      = 1 * time.Hour
	rdnsNegTTL   = 10 * time.Minute
	rdnsCapacity = 4096
	rdnsTimeout  = 500 * time.Millisecond
)

type rdnsEntry struct {
	name    string
	expires time.Time
}

// RDNS resolves and caches PTR records. A miss costs one UDP query
// against the system resolver; hits and negative results are cached so
// the poll loop never stalls on repeat addresses.
type RDNS struct {
	log    *slog.Logger
	client *dns.Client
	server string

	mu    sync.RWMutex
	cache map[string]rdnsEntry
}

// NewRDNS builds a resolver against the first nameserver in resolvConf
// (usually /etc/resolv.conf). An unreadable config disables lookups
// rather than failing startup.
func NewRDNS(log *slog.Logger, resolvConf string) *RDNS {
	r := &RDNS{
		log:    log,
		client: &dns.Client{Timeout: rdnsTimeout},
		cache:  make(map[string]rdnsEntry),
	}
	cfg, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil || len(cfg.Servers) == 0 {
		log.Warn("no usable nameserver, reverse dns disabled", "path", resolvConf, "error", err)
		return r
	}
	r.server = net.JoinHostPort(cfg.Servers[0], cfg.Port)
	return r
}

// Lookup returns the PTR name for ip, or "" when none resolves. Safe
// for concurrent use.
func (r *RDNS) Lookup(ctx context.Context, ip string) string {
	if r.server == "" {
		return ""
	}

	r.mu.RLock()
	entry, ok := r.cache[ip]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.name
	}

	name := r.query(ctx, ip)

	ttl := rdnsTTL
	if name == "" {
		ttl = rdnsNegTTL
	}
	r.mu.Lock()
	if len(r.cache) >= rdnsCapacity {
		r.evictLocked()
	}
	r.cache[ip] = rdnsEntry{name: name, expires: time.Now().Add(ttl)}
	r.mu.Unlock()
	return name
}

func (r *RDNS) query(ctx context.Context, ip string) string {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return ""
	}
	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		r.log.Debug("ptr lookup failed", "ip", ip, "error", err)
		return ""
	}
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, ".")
		}
	}
	return ""
}

// evictLocked drops expired entries, then arbitrary ones until the
// cache is under capacity. Caller holds the write lock.
func (r *RDNS) evictLocked() {
	now := time.Now()
	for ip, e := range r.cache {
		if now.After(e.expires) {
			delete(r.cache, ip)
		}
	}
	for ip := range r.cache {
		if len(r.cache) < rdnsCapacity {
			break
		}
		delete(r.cache, ip)
	}
}
