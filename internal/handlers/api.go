// Package handlers implements the dashboard REST API.
package handlers

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/netguard/netguard-go/internal/classify"
	"github.com/netguard/netguard-go/internal/db"
	"github.com/netguard/netguard-go/internal/decision"
	"github.com/netguard/netguard-go/internal/monitor"
	"github.com/netguard/netguard-go/internal/ratelimit"
)

// API bundles the dependencies of the REST surface.
type API struct {
	db         *db.DB
	mon        *monitor.Monitor
	classifier *classify.Classifier
	engine     *decision.Engine
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

// NewAPI creates the REST handler set.
func NewAPI(database *db.DB, mon *monitor.Monitor, classifier *classify.Classifier, engine *decision.Engine, limiter *ratelimit.Limiter, logger *slog.Logger) *API {
	return &API{
		db:         database,
		mon:        mon,
		classifier: classifier,
		engine:     engine,
		limiter:    limiter,
		logger:     logger,
	}
}

// Ping handles GET /ping.
func (a *API) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats handles GET /api/stats.
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	if a.limiter.Check(w, r, "api") {
		return
	}
	stats, err := a.db.GetStats(r.Context())
	if err != nil {
		a.logger.Error("stats query failed", "err", err)
		jsonError(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"monitoring":  a.mon.Running(),
		"sensitivity": a.engine.Sensitivity(),
		"threshold":   a.engine.Threshold(),
		"database":    stats,
		"pipeline":    a.mon.Counters(),
	})
}

// Detections handles GET /api/detections with optional filters.
func (a *API) Detections(w http.ResponseWriter, r *http.Request) {
	if a.limiter.Check(w, r, "api") {
		return
	}
	q := r.URL.Query()
	f := db.DetectionFilter{
		Domain:  q.Get("domain"),
		Verdict: q.Get("verdict"),
		Limit:   atoiDefault(q.Get("limit"), 100),
		Offset:  atoiDefault(q.Get("offset"), 0),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			jsonError(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			jsonError(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
		f.To = t
	}

	detections, err := a.db.ListDetections(r.Context(), f)
	if err != nil {
		a.logger.Error("detections query failed", "err", err)
		jsonError(w, "detections unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detections": emptyIfNil(detections)})
}

// Connections handles GET /api/connections.
func (a *API) Connections(w http.ResponseWriter, r *http.Request) {
	if a.limiter.Check(w, r, "api") {
		return
	}
	conns, err := a.db.ListConnections(r.Context(), atoiDefault(r.URL.Query().Get("limit"), 100))
	if err != nil {
		a.logger.Error("connections query failed", "err", err)
		jsonError(w, "connections unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":      a.mon.ActiveConnections(),
		"connections": emptyIfNil(conns),
	})
}

// Traffic handles GET /api/traffic.
func (a *API) Traffic(w http.ResponseWriter, r *http.Request) {
	if a.limiter.Check(w, r, "api") {
		return
	}
	traffic, err := a.db.ListTraffic(r.Context(), atoiDefault(r.URL.Query().Get("limit"), 100))
	if err != nil {
		a.logger.Error("traffic query failed", "err", err)
		jsonError(w, "traffic unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"traffic": emptyIfNil(traffic)})
}

// Bandwidth handles GET /api/bandwidth.
func (a *API) Bandwidth(w http.ResponseWriter, r *http.Request) {
	if a.limiter.Check(w, r, "api") {
		return
	}
	samples, err := a.db.ListBandwidthHistory(r.Context(), atoiDefault(r.URL.Query().Get("limit"), 100))
	if err != nil {
		a.logger.Error("bandwidth query failed", "err", err)
		jsonError(w, "bandwidth unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bandwidth": emptyIfNil(samples)})
}

// SetMonitoring handles POST /api/monitoring {"enabled": bool}.
func (a *API) SetMonitoring(w http.ResponseWriter, r *http.Request) {
	if a.limiter.Check(w, r, "api") {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Enabled {
		if err := a.mon.Start(r.Context()); err != nil {
			a.logger.Error("start failed", "err", err)
			jsonError(w, "could not start monitoring", http.StatusInternalServerError)
			return
		}
	} else {
		a.mon.Stop(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]any{"monitoring": a.mon.Running()})
}

type domainRequest struct {
	Domain string `json:"domain"`
}

// BlockSite handles POST /api/sites/block.
func (a *API) BlockSite(w http.ResponseWriter, r *http.Request) {
	if a.limiter.Check(w, r, "sites") {
		return
	}
	var req domainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Domain == "" {
		jsonError(w, "domain is required", http.StatusBadRequest)
		return
	}
	if err := a.mon.BlockDomain(r.Context(), req.Domain); err != nil {
		a.logger.Error("block failed", "domain", req.Domain, "err", err)
		jsonError(w, "could not block domain", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "blocked", "domain": req.Domain})
}

// UnblockSite handles POST /api/sites/unblock.
func (a *API) UnblockSite(w http.ResponseWriter, r *http.Request) {
	if a.limiter.Check(w, r, "sites") {
		return
	}
	var req domainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Domain == "" {
		jsonError(w, "domain is required", http.StatusBadRequest)
		return
	}
	if err := a.mon.UnblockDomain(r.Context(), req.Domain); err != nil {
		a.logger.Error("unblock failed", "domain", req.Domain, "err", err)
		jsonError(w, "could not unblock domain", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unblocked", "domain": req.Domain})
}

// BlockedSites handles GET /api/sites/blocked.
func (a *API) BlockedSites(w http.ResponseWriter, r *http.Request) {
	if a.limiter.Check(w, r, "api") {
		return
	}
	includeHistory := r.URL.Query().Get("history") == "true"
	sites, err := a.db.ListBlockedSites(r.Context(), !includeHistory)
	if err != nil {
		a.logger.Error("blocked sites query failed", "err", err)
		jsonError(w, "blocked sites unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocked_sites": emptyIfNil(sites)})
}

// ImportSites handles POST /api/sites/import. Accepts JSON
// {"domains": [...]} or a text/plain body with one domain per line.
func (a *API) ImportSites(w http.ResponseWriter, r *http.Request) {
	if a.limiter.Check(w, r, "sites") {
		return
	}

	var domains []string
	if strings.Contains(r.Header.Get("Content-Type"), "json") {
		var req struct {
			Domains []string `json:"domains"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		domains = req.Domains
	} else {
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			domains = append(domains, line)
		}
		if err := sc.Err(); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if len(domains) == 0 {
		jsonError(w, "no domains supplied", http.StatusBadRequest)
		return
	}

	n, err := a.mon.ImportBlocklist(r.Context(), domains)
	if err != nil {
		a.logger.Error("import failed", "err", err)
		jsonError(w, "could not import domains", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": n, "submitted": len(domains)})
}

// GetSettings handles GET /api/settings.
func (a *API) GetSettings(w http.ResponseWriter, r *http.Request) {
	if a.limiter.Check(w, r, "api") {
		return
	}
	stored, err := a.db.AllSettings(r.Context())
	if err != nil {
		a.logger.Error("settings query failed", "err", err)
		jsonError(w, "settings unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sensitivity": a.engine.Sensitivity(),
		"threshold":   a.engine.Threshold(),
		"monitoring":  a.mon.Running(),
		"stored":      stored,
	})
}

// UpdateSettings handles POST /api/settings.
func (a *API) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	if a.limiter.Check(w, r, "api") {
		return
	}
	var req struct {
		Sensitivity *int  `json:"sensitivity,omitempty"`
		DevMode     *bool `json:"dev_mode,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Sensitivity != nil {
		if err := a.mon.SetSensitivity(r.Context(), *req.Sensitivity); err != nil {
			a.logger.Error("sensitivity update failed", "err", err)
			jsonError(w, "could not update sensitivity", http.StatusInternalServerError)
			return
		}
	}
	if req.DevMode != nil {
		if err := a.mon.SetDevMode(r.Context(), *req.DevMode); err != nil {
			a.logger.Error("dev mode update failed", "err", err)
			jsonError(w, "could not update dev mode", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sensitivity": a.engine.Sensitivity(),
		"threshold":   a.engine.Threshold(),
	})
}

// Feedback handles POST /api/feedback.
func (a *API) Feedback(w http.ResponseWriter, r *http.Request) {
	if a.limiter.Check(w, r, "feedback") {
		return
	}
	var req struct {
		Domain   string `json:"domain"`
		Text     string `json:"text,omitempty"`
		Gambling bool   `json:"gambling"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.Domain == "" && req.Text == "") {
		jsonError(w, "domain or text is required", http.StatusBadRequest)
		return
	}
	if err := a.mon.SubmitFeedback(r.Context(), req.Domain, req.Text, req.Gambling); err != nil {
		a.logger.Error("feedback failed", "err", err)
		jsonError(w, "could not apply feedback", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "retrained",
		"model_version": a.classifier.Model().Version(),
	})
}

// Cleanup handles POST /api/cleanup {"older_than_days": n}.
func (a *API) Cleanup(w http.ResponseWriter, r *http.Request) {
	if a.limiter.Check(w, r, "cleanup") {
		return
	}
	var req struct {
		OlderThanDays int `json:"older_than_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OlderThanDays < 1 {
		jsonError(w, "older_than_days must be at least 1", http.StatusBadRequest)
		return
	}

	cutoff := time.Now().AddDate(0, 0, -req.OlderThanDays)
	result, err := a.db.Cleanup(r.Context(), cutoff)
	if err != nil {
		a.logger.Error("cleanup failed", "err", err)
		jsonError(w, "cleanup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": result})
}

// Model handles GET /api/model.
func (a *API) Model(w http.ResponseWriter, r *http.Request) {
	if a.limiter.Check(w, r, "api") {
		return
	}
	m := a.classifier.Model()
	if m == nil {
		jsonError(w, "no trained model", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model":            m.Info(),
		"pending_feedback": a.classifier.PendingFeedback(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// emptyIfNil keeps list responses as [] instead of null.
func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
