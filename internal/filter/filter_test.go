package filter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/snonux/foostats/internal/event"
)

func mustFilter(t *testing.T, patterns string) (*Filter, string) {
	t.Helper()
	dir := t.TempDir()

	var patternsPath string
	if patterns != "" {
		patternsPath = filepath.Join(dir, "patterns.txt")
		if err := os.WriteFile(patternsPath, []byte(patterns), 0o644); err != nil {
			t.Fatalf("writing patterns file: %v", err)
		}
	}

	logPath := filepath.Join(dir, "filter.log")
	f, err := New(patternsPath, logPath)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f, logPath
}

func ev(ipHash, uriPath, clock string) event.Event {
	return event.Event{IPHash: ipHash, URIPath: uriPath, Time: clock}
}

func TestFilter_AllowsOrdinaryRequest(t *testing.T) {
	f, _ := mustFilter(t, "")
	if !f.Allow(ev("hash-1", "/index.html", "120000")) {
		t.Error("expected an ordinary request to be allowed")
	}
}

func TestFilter_OddPatternBlocksAndSticks(t *testing.T) {
	f, _ := mustFilter(t, "/wp-admin\n# a comment\n\n/.env\n")

	if f.Allow(ev("hash-1", "/wp-admin/setup.php", "120000")) {
		t.Error("expected odd-pattern match to be rejected")
	}
	// A subsequent, otherwise-clean request from the same IP must now be
	// sticky-blocked.
	if f.Allow(ev("hash-1", "/index.html", "120001")) {
		t.Error("expected the IP to remain blocked for the rest of the run")
	}
}

func TestFilter_RateCapPerSecond(t *testing.T) {
	f, _ := mustFilter(t, "")

	if !f.Allow(ev("hash-1", "/a.html", "120000")) {
		t.Fatal("first request in the second should be allowed")
	}
	if f.Allow(ev("hash-1", "/b.html", "120000")) {
		t.Error("second request from the same IP in the same second should be rejected")
	}
	// The rate rejection made the IP sticky: a new second does not let it
	// back in.
	if f.Allow(ev("hash-1", "/c.html", "120001")) {
		t.Error("an IP rejected by the rate cap should stay blocked in a later second")
	}
}

func TestFilter_RateCapIsPerIP(t *testing.T) {
	f, _ := mustFilter(t, "")

	if !f.Allow(ev("hash-1", "/a.html", "120000")) {
		t.Fatal("expected hash-1's first request to be allowed")
	}
	if !f.Allow(ev("hash-2", "/a.html", "120000")) {
		t.Error("a different IP in the same second should not be rate-limited")
	}
}

func TestFilter_LogsEachDistinctDecisionOnce(t *testing.T) {
	f, logPath := mustFilter(t, "/wp-admin")

	f.Allow(ev("hash-1", "/wp-admin/a", "120000"))
	f.Allow(ev("hash-1", "/wp-admin/b", "120001")) // same IP, already sticky-blocked: same subject, not re-logged
	f.Allow(ev("hash-2", "/index.html", "120000"))
	f.Allow(ev("hash-2", "/index.html", "120001")) // same URI accepted twice: not re-logged

	if err := f.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading filter log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2 (one per distinct subject): %v", len(lines), lines)
	}
}

func TestFilter_Err_ReflectsLogWriteFailure(t *testing.T) {
	f, _ := mustFilter(t, "")
	if err := f.Err(); err != nil {
		t.Fatalf("Err() = %v before any failure, want nil", err)
	}
	// Closing the underlying file out from under the buffered writer forces
	// the next write to fail. A write long enough to exceed bufio's default
	// buffer forces an immediate flush attempt, so the failure surfaces
	// synchronously through Err() rather than waiting for a later Flush.
	f.logFile.Close()
	longPath := "/" + strings.Repeat("a", 8192)
	f.Allow(ev("hash-1", longPath, "120000"))
	if f.Err() == nil {
		t.Error("expected Err() to report the write failure")
	}
}

func TestLoadPatterns_IgnoresBlankAndCommentLines(t *testing.T) {
	patterns, err := loadPatterns("")
	if err != nil || patterns != nil {
		t.Errorf("loadPatterns(\"\") = %v, %v; want nil, nil", patterns, err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.txt")
	if err := os.WriteFile(path, []byte("\n# comment\n/admin\n  \n/.git\n"), 0o644); err != nil {
		t.Fatalf("writing patterns file: %v", err)
	}

	patterns, err = loadPatterns(path)
	if err != nil {
		t.Fatalf("loadPatterns() error: %v", err)
	}
	want := []string{"/admin", "/.git"}
	if len(patterns) != len(want) {
		t.Fatalf("patterns = %v, want %v", patterns, want)
	}
	for i := range want {
		if patterns[i] != want[i] {
			t.Errorf("patterns[%d] = %q, want %q", i, patterns[i], want[i])
		}
	}
}
