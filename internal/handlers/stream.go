package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/netguard/netguard-go/internal/sse"
)

// StreamHandler serves SSE streams for live dashboard updates.
type StreamHandler struct {
	hub *sse.Hub
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(hub *sse.Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

var validTopics = map[string]struct{}{
	sse.TopicDetections: {},
	sse.TopicStats:      {},
	sse.TopicTraffic:    {},
}

// HandleSSE handles GET /api/stream/events?topic=detections. It streams
// live events with periodic keepalives until the client disconnects.
func (sh *StreamHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = sse.TopicDetections
	}
	if _, ok := validTopics[topic]; !ok {
		jsonError(w, "unknown topic", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	ch, cancel := sh.hub.Subscribe(topic)
	defer cancel()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
