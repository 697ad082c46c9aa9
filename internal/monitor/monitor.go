// Package monitor is the orchestrator: it consumes sampler events and
// proxy captures, runs them through classification and decision,
// persists the outcomes and keeps the hosts file converged on the
// active block list.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netguard/netguard-go/internal/classify"
	"github.com/netguard/netguard-go/internal/db"
	"github.com/netguard/netguard-go/internal/decision"
	"github.com/netguard/netguard-go/internal/enforce"
	"github.com/netguard/netguard-go/internal/intercept"
	"github.com/netguard/netguard-go/internal/sampler"
	"github.com/netguard/netguard-go/internal/server"
	"github.com/netguard/netguard-go/internal/sse"
	"github.com/netguard/netguard-go/internal/ws"
)

// Settings keys persisted across restarts.
const (
	SettingSensitivity = "sensitivity"
	SettingDevMode     = "dev_mode"
	SettingMonitoring  = "monitoring"
)

const (
	reconcileInterval = 10 * time.Second
	retrainInterval   = 5 * time.Minute
	bandwidthInterval = time.Minute
)

// Sources recorded on blocked_sites rows.
const (
	SourceClassifier = "classifier"
	SourceManual     = "manual"
	SourceImport     = "import"
)

// Monitor owns the pipeline lifecycle. Start and Stop are idempotent;
// everything between them runs on background goroutines.
type Monitor struct {
	log        *slog.Logger
	db         *db.DB
	classifier *classify.Classifier
	engine     *decision.Engine
	reconciler *enforce.Reconciler
	sampler    *sampler.Sampler
	proxy      *intercept.Proxy
	hub        *sse.Hub
	wsm        *ws.Manager

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ovMu     sync.RWMutex
	allowSet map[string]struct{} // operator allow pins
	blockSet map[string]struct{} // operator block pins (manual, import)
	autoSet  map[string]struct{} // classifier blocks; enforced but not pinned

	evaluated atomic.Uint64
	blocked   atomic.Uint64
	conflicts atomic.Uint64
	lastEval  atomic.Int64 // unix nanos of the latest judgement
}

// Config wires the monitor's collaborators.
type Config struct {
	Log        *slog.Logger
	DB         *db.DB
	Classifier *classify.Classifier
	Engine     *decision.Engine
	Reconciler *enforce.Reconciler
	Sampler    *sampler.Sampler
	Proxy      *intercept.Proxy
	Hub        *sse.Hub
	WS         *ws.Manager
}

// New creates a stopped monitor.
func New(cfg Config) *Monitor {
	return &Monitor{
		log:        cfg.Log,
		db:         cfg.DB,
		classifier: cfg.Classifier,
		engine:     cfg.Engine,
		reconciler: cfg.Reconciler,
		sampler:    cfg.Sampler,
		proxy:      cfg.Proxy,
		hub:        cfg.Hub,
		wsm:        cfg.WS,
		allowSet:   make(map[string]struct{}),
		blockSet:   make(map[string]struct{}),
		autoSet:    make(map[string]struct{}),
	}
}

// daemonContext derives the lifetime context for the background loops:
// it keeps the parent's values but not its cancellation.
func daemonContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(context.WithoutCancel(parent))
}

// Running reports whether the pipeline is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start brings the pipeline up. Calling Start on a running monitor is
// a no-op.
func (m *Monitor) Start(parent context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	if err := m.refreshOverrides(parent); err != nil {
		return err
	}
	if m.classifier.Model() == nil {
		if err := m.classifier.Train(); err != nil {
			return err
		}
	}

	// Start may be issued from an HTTP handler whose context dies as
	// soon as the response is written; the loops live until Stop.
	ctx, cancel := daemonContext(parent)
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		server.RunWithRecovery(ctx, m.log, "sampler", m.sampler.Run)
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.eventLoop(ctx)
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		server.Every(ctx, reconcileInterval, func(ctx context.Context) {
			if err := m.Reconcile(ctx); err != nil {
				m.log.Error("reconcile failed", "error", err)
			}
		})
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		server.Every(ctx, retrainInterval, func(ctx context.Context) {
			if m.classifier.PendingFeedback() == 0 {
				return
			}
			if err := m.classifier.Train(); err != nil {
				m.log.Error("retrain failed", "error", err)
			}
		})
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		server.Every(ctx, bandwidthInterval, func(ctx context.Context) {
			c := m.sampler.Counters()
			if c.BytesRecv == 0 && c.BytesSent == 0 {
				return
			}
			if err := m.db.InsertBandwidthSample(ctx, c.BytesRecv, c.BytesSent); err != nil {
				m.log.Error("bandwidth sample failed", "error", err)
			}
		})
	}()

	if err := m.db.SetSetting(parent, SettingMonitoring, "true"); err != nil {
		m.log.Warn("persisting monitoring state failed", "error", err)
	}
	m.log.Info("monitoring started")
	return nil
}

// Stop winds the pipeline down and drains any events already queued so
// nothing observed before the stop is lost. Idempotent.
func (m *Monitor) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.drain(ctx)

	if err := m.db.SetSetting(ctx, SettingMonitoring, "false"); err != nil {
		m.log.Warn("persisting monitoring state failed", "error", err)
	}
	m.log.Info("monitoring stopped")
}

func (m *Monitor) drain(ctx context.Context) {
	for {
		select {
		case ev := <-m.sampler.Events():
			m.handleEvent(ctx, ev)
		default:
			return
		}
	}
}

func (m *Monitor) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.sampler.Events():
			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Monitor) handleEvent(ctx context.Context, ev sampler.Event) {
	entry := &db.ConnectionEntry{
		Proto:      ev.Conn.Proto,
		LocalAddr:  ev.Conn.LocalAddr,
		LocalPort:  ev.Conn.LocalPort,
		RemoteAddr: ev.Conn.RemoteAddr,
		RemotePort: ev.Conn.RemotePort,
		PID:        ev.Conn.PID,
		Domain:     ev.Domain,
		Event:      string(ev.Type),
		SeenAt:     ev.Seen,
	}
	if err := m.db.InsertConnection(ctx, entry); err != nil {
		m.log.Error("persisting connection failed", "error", err)
	}

	// Only new connections with a resolvable name are worth judging.
	if ev.Type != sampler.EventNew || ev.Domain == "" {
		return
	}
	m.Evaluate(ctx, ev.Domain, "")
}

// HandleCapture is the proxy's capture callback: persist the exchange,
// feed the live view, and judge the domain with the captured content as
// extra evidence.
func (m *Monitor) HandleCapture(tx intercept.CapturedTransaction) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	if err := m.db.InsertTraffic(ctx, &db.TrafficEntry{
		Domain:      tx.Domain,
		Method:      tx.Method,
		Path:        tx.Path,
		Status:      tx.Status,
		RequestSize: tx.RequestSize,
		ReplySize:   tx.ReplySize,
		TLS:         tx.TLS,
		CapturedAt:  tx.CapturedAt,
	}); err != nil {
		m.log.Error("persisting traffic failed", "error", err)
	}

	if m.wsm != nil {
		m.wsm.Broadcast(map[string]any{
			"type":       "traffic",
			"timestamp":  tx.CapturedAt.Format(time.RFC3339),
			"domain":     tx.Domain,
			"method":     tx.Method,
			"path":       tx.Path,
			"status":     tx.Status,
			"reply_size": tx.ReplySize,
			"tls":        tx.TLS,
		})
	}
	m.publish(sse.TopicTraffic, "traffic", map[string]any{
		"domain": tx.Domain,
		"path":   tx.Path,
		"status": tx.Status,
	})

	if tx.Excerpt == "" {
		m.Evaluate(ctx, tx.Domain, tx.Path)
		return
	}

	res, err := m.classifier.ScoreText(tx.Domain, tx.Excerpt)
	if err != nil {
		m.log.Error("scoring capture failed", "domain", tx.Domain, "error", err)
		return
	}
	m.judge(ctx, tx.Domain, tx.Path, res)
}

// Evaluate scores a domain and applies the resulting verdict.
func (m *Monitor) Evaluate(ctx context.Context, domain, url string) {
	res, err := m.classifier.ScoreShared(domain)
	if err != nil {
		if !errors.Is(err, classify.ErrNoModel) {
			m.log.Error("scoring failed", "domain", domain, "error", err)
		}
		return
	}
	m.judge(ctx, domain, url, res)
}

func (m *Monitor) judge(ctx context.Context, domain, url string, res classify.Result) {
	m.evaluated.Add(1)
	m.lastEval.Store(time.Now().UnixNano())

	d := m.engine.Decide(domain, res.Score, m.overrideFor(domain))

	verdict := string(d.Verdict)
	if d.Conflict {
		verdict = "conflict"
		m.conflicts.Add(1)
	}

	det := &db.Detection{
		Domain:       domain,
		URL:          url,
		Score:        d.Score,
		Threshold:    d.Threshold,
		Verdict:      verdict,
		Reason:       string(d.Reason),
		ModelVersion: res.ModelVersion,
		TopTerms:     renderTerms(res.TopTerms),
	}
	if err := m.db.InsertDetection(ctx, det); err != nil {
		m.log.Error("persisting detection failed", "domain", domain, "error", err)
	}

	m.publish(sse.TopicDetections, "detection", map[string]any{
		"domain":  domain,
		"score":   d.Score,
		"verdict": verdict,
		"reason":  string(d.Reason),
	})

	if d.Verdict != decision.VerdictBlock {
		return
	}
	m.blocked.Add(1)

	score := d.Score
	source := SourceClassifier
	if d.Reason == decision.ReasonManualBlock {
		source = SourceManual
	}
	if err := m.db.UpsertBlockedSite(ctx, domain, source, &score); err != nil {
		m.log.Error("persisting block failed", "domain", domain, "error", err)
		return
	}
	// A classifier block is enforced but never becomes an operator pin;
	// later detections for the domain keep their classifier provenance.
	if source == SourceManual {
		m.setOverride(domain, decision.OverrideBlock)
	} else {
		m.setAutoBlock(domain)
	}
	if err := m.Reconcile(ctx); err != nil {
		m.log.Error("enforcing block failed", "domain", domain, "error", err)
	}
	m.log.Info("domain blocked", "domain", domain, "score", d.Score, "threshold", d.Threshold)
}

// Reconcile converges the hosts file on the active block list.
func (m *Monitor) Reconcile(ctx context.Context) error {
	domains, err := m.db.ActiveBlockedDomains(ctx)
	if err != nil {
		return err
	}
	if err := m.reconciler.Apply(domains); err != nil {
		if errors.Is(err, enforce.ErrPermission) {
			m.log.Error("hosts file not writable, blocks not enforced", "path", m.reconciler.Path())
		}
		return err
	}
	return nil
}

// BlockDomain pins a manual block and enforces it immediately.
func (m *Monitor) BlockDomain(ctx context.Context, domain string) error {
	domain = normalizeDomain(domain)
	if domain == "" {
		return errors.New("empty domain")
	}
	if err := m.db.DeleteAllowedSite(ctx, domain); err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	if err := m.db.UpsertBlockedSite(ctx, domain, SourceManual, nil); err != nil {
		return err
	}
	m.setOverride(domain, decision.OverrideBlock)
	return m.Reconcile(ctx)
}

// UnblockDomain retires a block and pins the domain as allowed so the
// classifier cannot immediately re-block it.
func (m *Monitor) UnblockDomain(ctx context.Context, domain string) error {
	domain = normalizeDomain(domain)
	if err := m.db.DeactivateBlockedSite(ctx, domain); err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	if err := m.db.UpsertAllowedSite(ctx, domain); err != nil {
		return err
	}
	m.setOverride(domain, decision.OverrideAllow)
	return m.Reconcile(ctx)
}

// ImportBlocklist bulk-blocks domains and enforces the result.
func (m *Monitor) ImportBlocklist(ctx context.Context, domains []string) (int64, error) {
	cleaned := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = normalizeDomain(d); d != "" {
			cleaned = append(cleaned, d)
		}
	}
	n, err := m.db.ImportBlockedSites(ctx, cleaned, SourceImport)
	if err != nil {
		return 0, err
	}
	for _, d := range cleaned {
		m.setOverride(d, decision.OverrideBlock)
	}
	return n, m.Reconcile(ctx)
}

// SetSensitivity updates the decision threshold and persists it.
func (m *Monitor) SetSensitivity(ctx context.Context, s int) error {
	m.engine.SetSensitivity(s)
	return m.db.SetSetting(ctx, SettingSensitivity, strconv.Itoa(m.engine.Sensitivity()))
}

// SetDevMode toggles proxy interception and persists the choice.
func (m *Monitor) SetDevMode(ctx context.Context, on bool) error {
	if m.proxy != nil {
		m.proxy.SetDevMode(on)
	}
	return m.db.SetSetting(ctx, SettingDevMode, strconv.FormatBool(on))
}

// SubmitFeedback queues an operator correction and retrains right away,
// so a false positive stops recurring without waiting for the retrain
// tick.
func (m *Monitor) SubmitFeedback(ctx context.Context, domain, text string, gambling bool) error {
	if text == "" {
		text = strings.ReplaceAll(normalizeDomain(domain), ".", " ")
	}
	label := classify.LabelBenign
	if gambling {
		label = classify.LabelGambling
	}
	m.classifier.QueueFeedback(text, label)
	return m.classifier.Train()
}

// Counters is the monitor's own activity view.
type Counters struct {
	Evaluated     uint64    `json:"evaluated"`
	Blocked       uint64    `json:"blocked"`
	Conflicts     uint64    `json:"conflicts"`
	LastEvaluated time.Time `json:"last_evaluated,omitzero"`
}

// ActiveConnections returns the sampler's current remote connection
// snapshot.
func (m *Monitor) ActiveConnections() []sampler.Conn {
	return m.sampler.Connections()
}

// Counters returns cumulative pipeline counters.
func (m *Monitor) Counters() Counters {
	c := Counters{
		Evaluated: m.evaluated.Load(),
		Blocked:   m.blocked.Load(),
		Conflicts: m.conflicts.Load(),
	}
	if ns := m.lastEval.Load(); ns != 0 {
		c.LastEvaluated = time.Unix(0, ns).UTC()
	}
	return c
}

// AttachProxy hands the monitor its proxy after construction. The
// proxy's gate and capture callback point back at the monitor, so the
// two cannot be built in one step.
func (m *Monitor) AttachProxy(p *intercept.Proxy) {
	m.proxy = p
}

// IsBlocked reports whether a domain is on the active block list. Used
// as the proxy gate.
func (m *Monitor) IsBlocked(domain string) bool {
	domain = normalizeDomain(domain)
	m.ovMu.RLock()
	defer m.ovMu.RUnlock()
	if _, ok := m.allowSet[domain]; ok {
		return false
	}
	if _, ok := m.blockSet[domain]; ok {
		return true
	}
	_, ok := m.autoSet[domain]
	return ok
}

// overrideFor returns the operator pin for a domain, if any. Allow pins
// win over block pins.
func (m *Monitor) overrideFor(domain string) decision.Override {
	m.ovMu.RLock()
	defer m.ovMu.RUnlock()
	if _, ok := m.allowSet[domain]; ok {
		return decision.OverrideAllow
	}
	if _, ok := m.blockSet[domain]; ok {
		return decision.OverrideBlock
	}
	return decision.OverrideNone
}

func (m *Monitor) setOverride(domain string, ov decision.Override) {
	m.ovMu.Lock()
	defer m.ovMu.Unlock()
	delete(m.allowSet, domain)
	delete(m.blockSet, domain)
	delete(m.autoSet, domain)
	switch ov {
	case decision.OverrideAllow:
		m.allowSet[domain] = struct{}{}
	case decision.OverrideBlock:
		m.blockSet[domain] = struct{}{}
	}
}

func (m *Monitor) setAutoBlock(domain string) {
	m.ovMu.Lock()
	defer m.ovMu.Unlock()
	m.autoSet[domain] = struct{}{}
}

func (m *Monitor) refreshOverrides(ctx context.Context) error {
	allowed, err := m.db.AllowedDomains(ctx)
	if err != nil {
		return err
	}
	sites, err := m.db.ListBlockedSites(ctx, true)
	if err != nil {
		return err
	}

	allowSet := make(map[string]struct{}, len(allowed))
	for _, d := range allowed {
		allowSet[d] = struct{}{}
	}
	blockSet := make(map[string]struct{})
	autoSet := make(map[string]struct{})
	for _, s := range sites {
		if s.Source == SourceClassifier {
			autoSet[s.Domain] = struct{}{}
		} else {
			blockSet[s.Domain] = struct{}{}
		}
	}

	m.ovMu.Lock()
	m.allowSet = allowSet
	m.blockSet = blockSet
	m.autoSet = autoSet
	m.ovMu.Unlock()
	return nil
}

func (m *Monitor) publish(topic, eventType string, payload map[string]any) {
	if m.hub == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	m.hub.Publish(topic, sse.Event{Type: eventType, Data: data})
}

func renderTerms(terms []classify.TermContribution) string {
	if len(terms) == 0 {
		return ""
	}
	data, err := json.Marshal(terms)
	if err != nil {
		return ""
	}
	return string(data)
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "https://")
	if i := strings.IndexAny(d, "/:?#"); i >= 0 {
		d = d[:i]
	}
	return strings.Trim(d, ".")
}
