package sse

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSubscribePublish(t *testing.T) {
	h := newTestHub()
	ch, cancel := h.Subscribe(TopicDetections)
	defer cancel()

	h.Publish(TopicDetections, Event{Type: "detection", Data: []byte(`{"domain":"x"}`)})

	require.Len(t, ch, 1)
	ev := <-ch
	assert.Equal(t, "detection", ev.Type)
	assert.JSONEq(t, `{"domain":"x"}`, string(ev.Data))
}

func TestPublishOnlyReachesTopicSubscribers(t *testing.T) {
	h := newTestHub()
	det, cancelDet := h.Subscribe(TopicDetections)
	defer cancelDet()
	stats, cancelStats := h.Subscribe(TopicStats)
	defer cancelStats()

	h.Publish(TopicStats, Event{Type: "stats"})

	assert.Empty(t, det)
	assert.Len(t, stats, 1)
}

func TestCancelRemovesSubscriber(t *testing.T) {
	h := newTestHub()
	ch, cancel := h.Subscribe(TopicTraffic)
	require.Equal(t, 1, h.SubscriberCount(TopicTraffic))

	cancel()
	assert.Equal(t, 0, h.SubscriberCount(TopicTraffic))

	_, open := <-ch
	assert.False(t, open, "cancel must close the channel")

	// Publishing after cancel must not panic or deliver.
	h.Publish(TopicTraffic, Event{Type: "traffic"})
}

func TestPublishDropsForSlowClient(t *testing.T) {
	h := newTestHub()
	ch, cancel := h.Subscribe(TopicDetections)
	defer cancel()

	for i := 0; i < cap(ch)+10; i++ {
		h.Publish(TopicDetections, Event{Type: "detection"})
	}

	assert.Len(t, ch, cap(ch), "overflow must be dropped, not block the publisher")
}

func TestSubscriberCountPerTopic(t *testing.T) {
	h := newTestHub()
	_, c1 := h.Subscribe(TopicDetections)
	defer c1()
	_, c2 := h.Subscribe(TopicDetections)
	defer c2()

	assert.Equal(t, 2, h.SubscriberCount(TopicDetections))
	assert.Equal(t, 0, h.SubscriberCount(TopicStats))
}
