package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/netguard/netguard-go/internal/db"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Manager tracks active WebSocket connections for the live traffic view
// and broadcasts events to all of them.
type Manager struct {
	mu          sync.RWMutex
	connections []*websocket.Conn
	logger      *slog.Logger
	db          *db.DB
}

// NewManager creates a new WebSocket manager.
func NewManager(database *db.DB, logger *slog.Logger) *Manager {
	return &Manager{db: database, logger: logger}
}

// HandleWS upgrades an HTTP connection to WebSocket and registers it.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	m.mu.Lock()
	m.connections = append(m.connections, conn)
	m.mu.Unlock()

	m.hydrate(r.Context(), conn)

	defer func() {
		m.mu.Lock()
		for i, c := range m.connections {
			if c == conn {
				m.connections = append(m.connections[:i], m.connections[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		conn.Close()
	}()

	// Clients only listen; reads are just liveness.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// hydrate sends the current state so a fresh client does not start from
// a blank screen: stats, then recent traffic and detections oldest
// first.
func (m *Manager) hydrate(ctx context.Context, conn *websocket.Conn) {
	if stats, err := m.db.GetStats(ctx); err == nil {
		m.sendJSON(conn, map[string]any{
			"type":             "stats",
			"total_detections": stats.TotalDetections,
			"block_verdicts":   stats.BlockVerdicts,
			"observe_verdicts": stats.ObserveVerdicts,
			"active_blocked":   stats.ActiveBlocked,
		})
	}

	if traffic, err := m.db.ListTraffic(ctx, 20); err == nil {
		for i := len(traffic) - 1; i >= 0; i-- {
			t := traffic[i]
			m.sendJSON(conn, map[string]any{
				"type":       "traffic",
				"timestamp":  t.CapturedAt.Format(time.RFC3339),
				"domain":     t.Domain,
				"method":     t.Method,
				"path":       t.Path,
				"status":     t.Status,
				"reply_size": t.ReplySize,
				"tls":        t.TLS,
			})
		}
	}

	if detections, err := m.db.ListDetections(ctx, db.DetectionFilter{Limit: 10}); err == nil {
		for i := len(detections) - 1; i >= 0; i-- {
			d := detections[i]
			m.sendJSON(conn, map[string]any{
				"type":      "detection",
				"timestamp": d.DetectedAt.Format(time.RFC3339),
				"domain":    d.Domain,
				"score":     d.Score,
				"verdict":   d.Verdict,
				"reason":    d.Reason,
			})
		}
	}
}

// Broadcast sends a message to all connected WebSocket clients.
func (m *Manager) Broadcast(data map[string]any) {
	m.mu.RLock()
	conns := make([]*websocket.Conn, len(m.connections))
	copy(conns, m.connections)
	m.mu.RUnlock()

	var dead []*websocket.Conn
	for _, conn := range conns {
		if err := m.sendJSON(conn, data); err != nil {
			dead = append(dead, conn)
		}
	}

	if len(dead) > 0 {
		m.mu.Lock()
		for _, d := range dead {
			for i, c := range m.connections {
				if c == d {
					m.connections = append(m.connections[:i], m.connections[i+1:]...)
					d.Close()
					break
				}
			}
		}
		m.mu.Unlock()
	}
}

func (m *Manager) sendJSON(conn *websocket.Conn, data map[string]any) error {
	msg, err := json.Marshal(data)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
