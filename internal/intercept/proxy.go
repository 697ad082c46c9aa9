// Package intercept runs the local HTTP(S) proxy used in dev mode to
// look inside traffic instead of judging domains from the outside. The
// proxy terminates TLS with locally-minted certificates, captures a
// bounded excerpt of each exchange and forwards the rest untouched.
package intercept

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAddr is where the proxy listens unless configured otherwise.
const DefaultAddr = "127.0.0.1:8888"

const (
	dialTimeout     = 20 * time.Second
	defaultExchange = 30 * time.Second
	excerptLimit    = 4096
)

// ErrCaptureTimeout marks an exchange that exceeded the per-exchange
// deadline; the connection is torn down, not retried.
var ErrCaptureTimeout = errors.New("intercept: exchange deadline exceeded")

// InterceptionError wraps a failure tied to one domain so callers can
// log and count it without losing the underlying cause.
type InterceptionError struct {
	Domain string
	Op     string
	Err    error
}

func (e *InterceptionError) Error() string {
	return fmt.Sprintf("intercepting %s (%s): %v", e.Domain, e.Op, e.Err)
}

func (e *InterceptionError) Unwrap() error { return e.Err }

// GateFunc reports whether a domain must be blocked at the proxy.
type GateFunc func(domain string) bool

// Proxy is an explicit forward proxy. Blocked domains get a block page;
// in dev mode everything else is intercepted and captured, otherwise
// CONNECT traffic is tunneled blind.
type Proxy struct {
	log  *slog.Logger
	ca   *CA
	ring *Ring
	gate GateFunc

	// onCapture, when set, receives every capture after it lands in the
	// ring. Used to feed content back into classification.
	onCapture func(CapturedTransaction)

	devMode  atomic.Bool
	exchange time.Duration

	ln   net.Listener
	wg   sync.WaitGroup
	done chan struct{}
}

// Config wires a proxy's collaborators.
type Config struct {
	Log             *slog.Logger
	CA              *CA
	Ring            *Ring
	Gate            GateFunc
	OnCapture       func(CapturedTransaction)
	ExchangeTimeout time.Duration
}

// Start listens on addr and begins accepting. The returned proxy runs
// until Close.
func Start(addr string, cfg Config) (*Proxy, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("proxy listen %s: %w", addr, err)
	}
	p := &Proxy{
		log:       cfg.Log,
		ca:        cfg.CA,
		ring:      cfg.Ring,
		gate:      cfg.Gate,
		onCapture: cfg.OnCapture,
		exchange:  cfg.ExchangeTimeout,
		ln:        ln,
		done:      make(chan struct{}),
	}
	if p.exchange <= 0 {
		p.exchange = defaultExchange
	}
	p.wg.Add(1)
	go p.acceptLoop()
	p.log.Info("proxy listening", "addr", ln.Addr().String())
	return p, nil
}

// Addr returns the bound listen address.
func (p *Proxy) Addr() string { return p.ln.Addr().String() }

// SetDevMode toggles TLS interception. Off, CONNECT traffic is tunneled
// without inspection.
func (p *Proxy) SetDevMode(on bool) { p.devMode.Store(on) }

// DevMode reports whether interception is active.
func (p *Proxy) DevMode() bool { return p.devMode.Load() }

// Close stops accepting and waits for in-flight connections.
func (p *Proxy) Close() error {
	close(p.done)
	err := p.ln.Close()
	p.wg.Wait()
	return err
}

func (p *Proxy) acceptLoop() {
	defer p.wg.Done()
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			select {
			case <-p.done:
				return
			default:
				continue
			}
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.handleConn(conn); err != nil {
				p.log.Debug("proxy connection ended", "error", err)
			}
		}()
	}
}

func (p *Proxy) handleConn(c net.Conn) error {
	defer c.Close()
	br := bufio.NewReader(c)
	req, err := http.ReadRequest(br)
	if err != nil {
		return err
	}
	defer req.Body.Close()

	if strings.EqualFold(req.Method, http.MethodConnect) {
		return p.handleConnect(c, req)
	}
	return p.handleHTTP(c, req)
}

func (p *Proxy) handleConnect(client net.Conn, req *http.Request) error {
	host, _, err := net.SplitHostPort(req.Host)
	if err != nil {
		host = req.Host
	}

	if p.gate != nil && p.gate(host) {
		return p.serveBlockPageTLS(client, host)
	}

	if !p.devMode.Load() || p.ca == nil {
		return p.tunnel(client, req.Host, host)
	}
	return p.mitm(client, req.Host, host)
}

// tunnel is the non-inspecting path: raw byte copy both ways.
func (p *Proxy) tunnel(client net.Conn, hostPort, host string) error {
	up, err := net.DialTimeout("tcp", hostPort, dialTimeout)
	if err != nil {
		io.WriteString(client, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return &InterceptionError{Domain: host, Op: "dial", Err: err}
	}
	defer up.Close()
	io.WriteString(client, "HTTP/1.1 200 Connection Established\r\n\r\n")

	errCh := make(chan error, 2)
	go func() { _, e := io.Copy(up, client); errCh <- e }()
	go func() { _, e := io.Copy(client, up); errCh <- e }()
	<-errCh
	return nil
}

// mitm terminates TLS toward the client with a minted leaf, opens its
// own TLS session upstream, and relays exchanges one at a time so each
// can be captured.
func (p *Proxy) mitm(client net.Conn, hostPort, host string) error {
	leaf, err := p.ca.Leaf(host)
	if err != nil {
		io.WriteString(client, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return &InterceptionError{Domain: host, Op: "mint", Err: err}
	}

	up, err := tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, "tcp", hostPort, &tls.Config{ServerName: host})
	if err != nil {
		io.WriteString(client, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return &InterceptionError{Domain: host, Op: "dial-tls", Err: err}
	}
	defer up.Close()

	io.WriteString(client, "HTTP/1.1 200 Connection Established\r\n\r\n")
	down := tls.Server(client, &tls.Config{Certificates: []tls.Certificate{*leaf}})
	defer down.Close()
	if err := down.Handshake(); err != nil {
		return &InterceptionError{Domain: host, Op: "handshake", Err: err}
	}

	br := bufio.NewReader(down)
	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &InterceptionError{Domain: host, Op: "read-request", Err: err}
		}
		if err := p.relay(down, up, req, host, true, true); err != nil {
			return err
		}
	}
}

// relay forwards one exchange under a deadline. The capture (ring entry,
// excerpt, callback) only happens when capture is set; outside dev mode
// traffic is observed at the connection level only.
func (p *Proxy) relay(client net.Conn, upstream net.Conn, req *http.Request, host string, isTLS, capture bool) error {
	deadline := time.Now().Add(p.exchange)
	client.SetDeadline(deadline)
	upstream.SetDeadline(deadline)
	defer client.SetDeadline(time.Time{})
	defer upstream.SetDeadline(time.Time{})

	if err := req.Write(upstream); err != nil {
		return p.exchangeErr(host, "write-request", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(upstream), req)
	if err != nil {
		return p.exchangeErr(host, "read-response", err)
	}
	defer resp.Body.Close()

	if !capture {
		if err := resp.Write(client); err != nil {
			return p.exchangeErr(host, "write-response", err)
		}
		return nil
	}

	cr := &capturingReader{src: resp.Body, want: captureWanted(resp.Header.Get("Content-Type"))}
	resp.Body = io.NopCloser(cr)
	if err := resp.Write(client); err != nil {
		return p.exchangeErr(host, "write-response", err)
	}

	p.record(CapturedTransaction{
		Domain:      host,
		Method:      req.Method,
		Path:        req.URL.Path,
		Status:      resp.StatusCode,
		RequestSize: max64(req.ContentLength, 0),
		ReplySize:   cr.n,
		Excerpt:     cr.excerpt(),
		TLS:         isTLS,
		CapturedAt:  time.Now().UTC(),
	})
	return nil
}

func (p *Proxy) exchangeErr(host, op string, err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		err = fmt.Errorf("%w: %v", ErrCaptureTimeout, err)
	}
	return &InterceptionError{Domain: host, Op: op, Err: err}
}

func (p *Proxy) record(tx CapturedTransaction) {
	if p.ring != nil {
		p.ring.Add(tx)
	}
	if p.onCapture != nil {
		p.onCapture(tx)
	}
}

// handleHTTP proxies a plain (absolute-URI) request.
func (p *Proxy) handleHTTP(client net.Conn, req *http.Request) error {
	host := req.URL.Hostname()
	if host == "" {
		host = req.Host
	}
	if p.gate != nil && p.gate(host) {
		return writeBlockPage(client, host)
	}

	port := req.URL.Port()
	if port == "" {
		port = "80"
	}
	up, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), dialTimeout)
	if err != nil {
		io.WriteString(client, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return &InterceptionError{Domain: host, Op: "dial", Err: err}
	}
	defer up.Close()

	// http.ReadRequest leaves RequestURI set, which Request.Write
	// rejects on the client side.
	req.RequestURI = ""
	return p.relay(client, up, req, host, false, p.devMode.Load())
}

func (p *Proxy) serveBlockPageTLS(client net.Conn, host string) error {
	if p.ca == nil {
		io.WriteString(client, "HTTP/1.1 403 Forbidden\r\n\r\n")
		return nil
	}
	leaf, err := p.ca.Leaf(host)
	if err != nil {
		io.WriteString(client, "HTTP/1.1 403 Forbidden\r\n\r\n")
		return nil
	}
	io.WriteString(client, "HTTP/1.1 200 Connection Established\r\n\r\n")
	down := tls.Server(client, &tls.Config{Certificates: []tls.Certificate{*leaf}})
	defer down.Close()
	if err := down.Handshake(); err != nil {
		return nil
	}
	if _, err := http.ReadRequest(bufio.NewReader(down)); err != nil {
		return nil
	}
	return writeBlockPage(down, host)
}

const blockPageBody = `<!doctype html>
<html><head><title>Blocked</title></head>
<body style="font-family:sans-serif;text-align:center;padding-top:4em">
<h1>Access Blocked</h1>
<p><strong>%s</strong> is blocked on this network.</p>
<p>If you believe this is a mistake, contact the administrator.</p>
</body></html>`

func writeBlockPage(w io.Writer, host string) error {
	body := fmt.Sprintf(blockPageBody, host)
	_, err := fmt.Fprintf(w,
		"HTTP/1.1 403 Forbidden\r\nContent-Type: text/html; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		len(body), body)
	return err
}

func captureWanted(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/") ||
		strings.Contains(ct, "json") ||
		strings.Contains(ct, "xml") ||
		strings.Contains(ct, "javascript")
}

func max64(v, floor int64) int64 {
	if v < floor {
		return floor
	}
	return v
}

// capturingReader counts bytes and keeps a bounded prefix of textual
// bodies for classification.
type capturingReader struct {
	src  io.Reader
	want bool
	n    int64
	buf  []byte
}

func (c *capturingReader) Read(p []byte) (int, error) {
	n, err := c.src.Read(p)
	if n > 0 {
		c.n += int64(n)
		if c.want && len(c.buf) < excerptLimit {
			take := excerptLimit - len(c.buf)
			if take > n {
				take = n
			}
			c.buf = append(c.buf, p[:take]...)
		}
	}
	return n, err
}

func (c *capturingReader) excerpt() string {
	return string(c.buf)
}
