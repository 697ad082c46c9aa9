// Package enforce rewrites the system hosts file so blocked domains
// resolve to an unroutable address. All writes go through a single
// reconciler that owns one clearly-marked region of the file and never
// touches anything outside it.
package enforce

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	beginMarker = "# >>> netguard managed block >>>"
	endMarker   = "# <<< netguard managed block <<<"

	// redirectTarget is unroutable, so blocked lookups fail fast instead
	// of hitting a local listener.
	redirectTarget = "0.0.0.0"
)

// ErrPermission is returned when the hosts file cannot be written,
// typically because the process lacks elevation.
var ErrPermission = errors.New("enforce: hosts file not writable")

// ErrMarkerMismatch is returned when the managed region markers are
// corrupt (a begin without an end, or reversed). The file is left
// untouched; an operator has to repair it.
var ErrMarkerMismatch = errors.New("enforce: managed region markers corrupt")

// Reconciler converges the managed hosts region onto a desired domain
// set. Exactly one goroutine writes at a time.
type Reconciler struct {
	log  *slog.Logger
	path string

	mu sync.Mutex
}

// New creates a reconciler for the hosts file at path.
func New(log *slog.Logger, path string) *Reconciler {
	return &Reconciler{log: log, path: path}
}

// Path returns the hosts file path being managed.
func (r *Reconciler) Path() string { return r.path }

// Current returns the domains presently blocked in the managed region.
func (r *Reconciler) Current() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading hosts file: %w", err)
	}
	_, region, _, err := splitRegion(string(data))
	if err != nil {
		return nil, err
	}
	return parseRegion(region), nil
}

// Apply converges the managed region onto exactly the given domains.
// Idempotent: when the region already matches, the file is not opened
// for writing at all. Text outside the region is preserved byte for
// byte.
func (r *Reconciler) Apply(domains []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil && !os.IsNotExist(err) {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: %v", ErrPermission, err)
		}
		return fmt.Errorf("reading hosts file: %w", err)
	}

	before, region, after, err := splitRegion(string(data))
	if err != nil {
		return err
	}

	desired := renderRegion(domains)
	if region == desired {
		return nil
	}

	var b strings.Builder
	b.WriteString(before)
	if desired != "" {
		if before != "" && !strings.HasSuffix(before, "\n") {
			b.WriteString("\n")
		}
		b.WriteString(desired)
	}
	b.WriteString(after)

	if err := r.writeAtomic([]byte(b.String())); err != nil {
		return err
	}
	r.log.Info("hosts file updated", "path", r.path, "blocked", len(domains))
	return nil
}

// Clear removes the managed region entirely.
func (r *Reconciler) Clear() error {
	return r.Apply(nil)
}

func (r *Reconciler) writeAtomic(data []byte) error {
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(r.path); err == nil {
		mode = fi.Mode().Perm()
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".hosts-*")
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: %v", ErrPermission, err)
		}
		return fmt.Errorf("creating temp hosts file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp hosts file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp hosts file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp hosts file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: %v", ErrPermission, err)
		}
		return fmt.Errorf("replacing hosts file: %w", err)
	}
	return nil
}

// splitRegion cuts the file into the text before the managed region, the
// region itself (markers included, trailing newline included), and the
// text after it. A file with no region returns ("", "", whole file).
func splitRegion(content string) (before, region, after string, err error) {
	begin := strings.Index(content, beginMarker)
	end := strings.Index(content, endMarker)

	switch {
	case begin == -1 && end == -1:
		return content, "", "", nil
	case begin == -1 || end == -1 || end < begin:
		return "", "", "", ErrMarkerMismatch
	}

	stop := end + len(endMarker)
	if stop < len(content) && content[stop] == '\n' {
		stop++
	}
	return content[:begin], content[begin:stop], content[stop:], nil
}

// renderRegion produces the canonical managed region for a domain set,
// or "" when the set is empty. Domains are normalized, deduplicated and
// sorted so the output is a pure function of the set.
func renderRegion(domains []string) string {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.Trim(strings.TrimSpace(d), "."))
		if d == "" {
			continue
		}
		set[d] = struct{}{}
	}
	if len(set) == 0 {
		return ""
	}

	sorted := make([]string, 0, len(set))
	for d := range set {
		sorted = append(sorted, d)
	}
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString(beginMarker)
	b.WriteString("\n")
	for _, d := range sorted {
		fmt.Fprintf(&b, "%s %s\n", redirectTarget, d)
		if !strings.HasPrefix(d, "www.") {
			if _, dup := set["www."+d]; !dup {
				fmt.Fprintf(&b, "%s www.%s\n", redirectTarget, d)
			}
		}
	}
	b.WriteString(endMarker)
	b.WriteString("\n")
	return b.String()
}

// parseRegion extracts the blocked domains back out of a managed region,
// collapsing the www alias lines.
func parseRegion(region string) []string {
	var out []string
	seen := make(map[string]struct{})
	base := make(map[string]struct{})

	var entries []string
	for _, line := range strings.Split(region, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		entries = append(entries, fields[1])
		if !strings.HasPrefix(fields[1], "www.") {
			base[fields[1]] = struct{}{}
		}
	}
	for _, d := range entries {
		// Drop www aliases whose base entry is present.
		if strings.HasPrefix(d, "www.") {
			if _, ok := base[strings.TrimPrefix(d, "www.")]; ok {
				continue
			}
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
