//go:build integration

package db

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a real PostgreSQL instance. Point DATABASE_URL at a
// throwaway database and run with -tags integration; every test starts
// from truncated tables.
func integrationDB(t *testing.T) *DB {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	database, err := Connect(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(database.Close)

	_, err = database.Pool.Exec(ctx,
		`TRUNCATE detections, blocked_sites, allowed_sites, traffic_log, connection_log, bandwidth_history, settings`)
	require.NoError(t, err)
	return database
}

func TestCleanupKeepsNewestDetectionForActiveBlock(t *testing.T) {
	database := integrationDB(t)
	ctx := context.Background()

	score := 0.97
	require.NoError(t, database.UpsertBlockedSite(ctx, "casino.example", "classifier", &score))

	for _, domain := range []string{"casino.example", "library.example"} {
		require.NoError(t, database.InsertDetection(ctx, &Detection{
			Domain:    domain,
			Score:     0.9,
			Threshold: 0.92,
			Verdict:   "block",
			Reason:    "classifier",
		}))
	}
	_, err := database.Pool.Exec(ctx, `UPDATE detections SET detected_at = NOW() - INTERVAL '30 days'`)
	require.NoError(t, err)

	res, err := database.Cleanup(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Detections)

	left, err := database.ListDetections(ctx, DetectionFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "casino.example", left[0].Domain,
		"the justification for an active block must survive retention")
}

func TestBlockedSitesExportImportRoundTrip(t *testing.T) {
	database := integrationDB(t)
	ctx := context.Background()

	seed := []string{"alpha.example", "beta.example", "gamma.example"}
	inserted, err := database.ImportBlockedSites(ctx, seed, "import")
	require.NoError(t, err)
	assert.Equal(t, int64(3), inserted)

	// A second import of the same list hits the active rows and inserts nothing.
	inserted, err = database.ImportBlockedSites(ctx, seed, "import")
	require.NoError(t, err)
	assert.Equal(t, int64(0), inserted)

	exported, err := database.ActiveBlockedDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, seed, exported)

	for _, d := range seed {
		require.NoError(t, database.DeactivateBlockedSite(ctx, d))
	}
	none, err := database.ActiveBlockedDomains(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)

	inserted, err = database.ImportBlockedSites(ctx, exported, "import")
	require.NoError(t, err)
	assert.Equal(t, int64(3), inserted)

	restored, err := database.ActiveBlockedDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, exported, restored)

	sites, err := database.ListBlockedSites(ctx, false)
	require.NoError(t, err)
	assert.Len(t, sites, 6, "retired rows stay on record as history")
}
