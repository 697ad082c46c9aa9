package server

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryTicksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int64
	done := make(chan struct{})
	go func() {
		Every(ctx, 10*time.Millisecond, func(context.Context) {
			if ticks.Add(1) == 3 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Every did not stop after cancel")
	}
	assert.GreaterOrEqual(t, ticks.Load(), int64(3))
}

func TestEveryDoesNotFireImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ticks atomic.Int64
	Every(ctx, time.Millisecond, func(context.Context) {
		ticks.Add(1)
	})
	assert.Zero(t, ticks.Load())
}

func TestRunWithRecoveryRestartsAfterPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var runs atomic.Int64
	done := make(chan struct{})
	go func() {
		RunWithRecovery(ctx, logger, "flaky", func(context.Context) {
			if runs.Add(1) == 1 {
				panic("boom")
			}
			cancel()
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine never recovered from panic")
	}
	require.Equal(t, int64(2), runs.Load())
}

func TestRunWithRecoveryStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var runs atomic.Int64
	RunWithRecovery(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), "idle", func(context.Context) {
		runs.Add(1)
	})
	assert.Zero(t, runs.Load())
}

func TestSetupLoggerLevels(t *testing.T) {
	ctx := context.Background()
	assert.True(t, SetupLogger("debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, SetupLogger("").Enabled(ctx, slog.LevelDebug))
	assert.True(t, SetupLogger("").Enabled(ctx, slog.LevelInfo))
	assert.False(t, SetupLogger("error").Enabled(ctx, slog.LevelWarn))
}
