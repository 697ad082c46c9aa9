package decision

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestThresholdBySensitivity(t *testing.T) {
	e := New(discard(), 0)
	assert.InDelta(t, 0.95, e.Threshold(), 1e-9)

	e.SetSensitivity(50)
	assert.InDelta(t, 0.65, e.Threshold(), 1e-9)

	e.SetSensitivity(100)
	assert.InDelta(t, 0.35, e.Threshold(), 1e-9)
}

func TestSensitivityClamped(t *testing.T) {
	e := New(discard(), -20)
	assert.Equal(t, 0, e.Sensitivity())

	e.SetSensitivity(300)
	assert.Equal(t, 100, e.Sensitivity())
}

func TestThresholdMonotonic(t *testing.T) {
	e := New(discard(), 0)
	prev := e.Threshold()
	for s := 1; s <= 100; s++ {
		e.SetSensitivity(s)
		cur := e.Threshold()
		assert.Less(t, cur, prev, "raising sensitivity must lower the threshold")
		prev = cur
	}
}

func TestDecideBands(t *testing.T) {
	e := New(discard(), 50) // threshold 0.65

	d := e.Decide("slots.example.com", 0.80, OverrideNone)
	assert.Equal(t, VerdictBlock, d.Verdict)
	assert.Equal(t, ReasonClassifier, d.Reason)

	d = e.Decide("maybe.example.com", 0.60, OverrideNone)
	assert.Equal(t, VerdictObserve, d.Verdict)

	d = e.Decide("news.example.com", 0.20, OverrideNone)
	assert.Equal(t, VerdictAllow, d.Verdict)
	assert.False(t, d.Conflict)
}

func TestDecideBandEdges(t *testing.T) {
	e := New(discard(), 50)

	// Exactly at the threshold blocks; exactly at the bottom of the
	// observe band observes.
	assert.Equal(t, VerdictBlock, e.Decide("d", 0.65, OverrideNone).Verdict)
	assert.Equal(t, VerdictObserve, e.Decide("d", 0.55, OverrideNone).Verdict)
	assert.Equal(t, VerdictAllow, e.Decide("d", 0.5499, OverrideNone).Verdict)
}

func TestManualOverridesWin(t *testing.T) {
	e := New(discard(), 50)

	d := e.Decide("intranet.example.com", 0.99, OverrideAllow)
	assert.Equal(t, VerdictAllow, d.Verdict)
	assert.Equal(t, ReasonManualAllow, d.Reason)
	assert.True(t, d.Conflict, "allow over a blocking score must be flagged")

	d = e.Decide("intranet.example.com", 0.10, OverrideAllow)
	assert.Equal(t, VerdictAllow, d.Verdict)
	assert.False(t, d.Conflict)

	d = e.Decide("banned.example.com", 0.01, OverrideBlock)
	assert.Equal(t, VerdictBlock, d.Verdict)
	assert.Equal(t, ReasonManualBlock, d.Reason)
}

func TestDecisionCarriesThreshold(t *testing.T) {
	e := New(discard(), 25)
	d := e.Decide("d", 0.5, OverrideNone)
	assert.InDelta(t, 0.80, d.Threshold, 1e-9)
	assert.Equal(t, 0.5, d.Score)
}
