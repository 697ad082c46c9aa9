package enforce

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const baseHosts = "127.0.0.1 localhost\n::1 localhost\n10.0.0.5 fileserver.lan\n"

func newTestReconciler(t *testing.T, content string) (*Reconciler, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return New(discard(), path), path
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestApplyAddsManagedRegion(t *testing.T) {
	r, path := newTestReconciler(t, baseHosts)

	require.NoError(t, r.Apply([]string{"slots.example.com"}))
	got := read(t, path)

	assert.True(t, strings.HasPrefix(got, baseHosts), "existing entries must be untouched")
	assert.Contains(t, got, beginMarker)
	assert.Contains(t, got, "0.0.0.0 slots.example.com\n")
	assert.Contains(t, got, "0.0.0.0 www.slots.example.com\n")
	assert.Contains(t, got, endMarker)
}

func TestApplyRemovesUnblockedDomains(t *testing.T) {
	r, path := newTestReconciler(t, baseHosts)

	require.NoError(t, r.Apply([]string{"a.example.com", "b.example.com"}))
	require.NoError(t, r.Apply([]string{"b.example.com"}))

	got := read(t, path)
	assert.NotContains(t, got, "a.example.com")
	assert.Contains(t, got, "0.0.0.0 b.example.com\n")
}

func TestClearRestoresOriginal(t *testing.T) {
	r, path := newTestReconciler(t, baseHosts)

	require.NoError(t, r.Apply([]string{"x.example.com"}))
	require.NoError(t, r.Clear())

	assert.Equal(t, baseHosts, read(t, path))
}

func TestApplyIdempotent(t *testing.T) {
	r, path := newTestReconciler(t, baseHosts)
	require.NoError(t, r.Apply([]string{"x.example.com", "y.example.com"}))

	before, err := os.Stat(path)
	require.NoError(t, err)

	// Same set, different order and case: must be a no-op with no write.
	require.NoError(t, r.Apply([]string{"Y.example.com", "x.example.com"}))

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, os.SameFile(before, after), "matching state must not rewrite the file")
}

func TestApplyPreservesForeignEdits(t *testing.T) {
	r, path := newTestReconciler(t, baseHosts)
	require.NoError(t, r.Apply([]string{"x.example.com"}))

	// Another tool appends after the managed region.
	foreign := "192.168.1.20 printer.lan\n"
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(foreign)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, r.Apply([]string{"x.example.com", "z.example.com"}))
	got := read(t, path)
	assert.True(t, strings.HasPrefix(got, baseHosts))
	assert.True(t, strings.HasSuffix(got, foreign), "content after the region must survive")
	assert.Contains(t, got, "0.0.0.0 z.example.com\n")
}

func TestApplyWwwCollapsed(t *testing.T) {
	r, path := newTestReconciler(t, baseHosts)

	// Blocking both the base and its www alias must not duplicate lines.
	require.NoError(t, r.Apply([]string{"x.example.com", "www.x.example.com"}))
	got := read(t, path)
	assert.Equal(t, 1, strings.Count(got, "0.0.0.0 www.x.example.com\n"))
	assert.Equal(t, 1, strings.Count(got, "0.0.0.0 x.example.com\n"))
}

func TestCurrentRoundTrips(t *testing.T) {
	r, _ := newTestReconciler(t, baseHosts)
	require.NoError(t, r.Apply([]string{"b.example.com", "a.example.com"}))

	got, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, got)
}

func TestCurrentMissingFile(t *testing.T) {
	r := New(discard(), filepath.Join(t.TempDir(), "absent"))
	got, err := r.Current()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMarkerMismatch(t *testing.T) {
	r, _ := newTestReconciler(t, baseHosts+beginMarker+"\n0.0.0.0 x.example.com\n")
	err := r.Apply([]string{"y.example.com"})
	assert.ErrorIs(t, err, ErrMarkerMismatch)

	_, err = r.Current()
	assert.ErrorIs(t, err, ErrMarkerMismatch)
}

func TestApplyPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	r, path := newTestReconciler(t, baseHosts)
	dir := filepath.Dir(path)
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	err := r.Apply([]string{"x.example.com"})
	assert.ErrorIs(t, err, ErrPermission)
}
