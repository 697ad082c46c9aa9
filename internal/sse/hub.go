package sse

import (
	"log/slog"
	"sync"
)

// Topic names the event streams the dashboard can subscribe to.
const (
	TopicDetections = "detections"
	TopicStats      = "stats"
	TopicTraffic    = "traffic"
)

// Event is a server-sent event to be published to subscribers.
type Event struct {
	Type string // "detection", "stats", "traffic"
	Data []byte // JSON payload
}

// Hub is a fan-out hub managing per-topic SSE subscriptions.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{} // topic -> set of channels
	logger      *slog.Logger
}

// NewHub creates a new SSE hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan Event]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a new subscriber for the given topic. It returns
// a channel that will receive events and a cancel function that must be
// called when the subscriber disconnects.
func (h *Hub) Subscribe(topic string) (chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	if h.subscribers[topic] == nil {
		h.subscribers[topic] = make(map[chan Event]struct{})
	}
	h.subscribers[topic][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers[topic], ch)
		if len(h.subscribers[topic]) == 0 {
			delete(h.subscribers, topic)
		}
		close(ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish sends an event to all subscribers of the given topic. If a
// subscriber's channel is full the event is dropped for that client.
func (h *Hub) Publish(topic string, event Event) {
	h.mu.RLock()
	subs := h.subscribers[topic]
	h.mu.RUnlock()

	for ch := range subs {
		select {
		case ch <- event:
		default:
			h.logger.Warn("sse: dropped event for slow client", "topic", topic)
		}
	}
}

// SubscriberCount returns the number of active subscribers for a topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}
