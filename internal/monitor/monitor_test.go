package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/netguard/netguard-go/internal/decision"
	"github.com/netguard/netguard-go/internal/server"
)

func testMonitor() *Monitor {
	return New(Config{Log: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func TestDaemonContextOutlivesCaller(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := daemonContext(parent)
	defer cancel()

	cancelParent()
	select {
	case <-ctx.Done():
		t.Fatal("background context died with the caller's context")
	default:
	}

	cancel()
	<-ctx.Done()
}

func TestBackgroundLoopSurvivesRequestCancel(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := daemonContext(parent)
	defer cancel()

	var ticks atomic.Int64
	done := make(chan struct{})
	go func() {
		server.Every(ctx, 5*time.Millisecond, func(context.Context) {
			ticks.Add(1)
		})
		close(done)
	}()

	// The request that issued Start ends here; loops must keep ticking.
	cancelParent()
	deadline := time.After(2 * time.Second)
	for ticks.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("loop stopped ticking after the caller's context was cancelled")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on the daemon cancel")
	}
}

func TestAutoBlockKeepsClassifierProvenance(t *testing.T) {
	m := testMonitor()

	m.setAutoBlock("casino.example")
	assert.True(t, m.IsBlocked("casino.example"))
	assert.Equal(t, decision.OverrideNone, m.overrideFor("casino.example"),
		"a classifier block must not turn into an operator pin")

	m.setOverride("pinned.example", decision.OverrideBlock)
	assert.True(t, m.IsBlocked("pinned.example"))
	assert.Equal(t, decision.OverrideBlock, m.overrideFor("pinned.example"))
}

func TestAllowPinClearsAutoBlock(t *testing.T) {
	m := testMonitor()
	m.setAutoBlock("casino.example")

	m.setOverride("casino.example", decision.OverrideAllow)
	assert.False(t, m.IsBlocked("casino.example"))
	assert.Equal(t, decision.OverrideAllow, m.overrideFor("casino.example"))
}

func TestNormalizeDomain(t *testing.T) {
	for raw, want := range map[string]string{
		"https://Casino.Example/path?q=1": "casino.example",
		"casino.example:8443":             "casino.example",
		"  casino.example.  ":             "casino.example",
		"http://casino.example":           "casino.example",
	} {
		assert.Equal(t, want, normalizeDomain(raw))
	}
}
