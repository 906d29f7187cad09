package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/snonux/foostats/internal/aggregator"
	"github.com/snonux/foostats/internal/event"
	"github.com/snonux/foostats/internal/filter"
	"github.com/snonux/foostats/internal/testdata"
)

// stubWatermarks lets tests pin each protocol's watermark without a real
// snapshot.Store.
type stubWatermarks struct {
	web, gemini int
}

func (s stubWatermarks) Watermark(protocol event.Protocol) int {
	if protocol == event.Gemini {
		return s.gemini
	}
	return s.web
}

func newTestFilter(t *testing.T, dir string) *filter.Filter {
	t.Helper()
	f, err := filter.New("", filepath.Join(dir, "filter.log"))
	if err != nil {
		t.Fatalf("filter.New() error: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func writeWebLog(t *testing.T, path string) {
	t.Helper()
	line := testdata.WebLine{
		Host:      "example.org",
		IP:        "203.0.113.5",
		Timestamp: "10/Jan/2025:12:00:00",
		URIPath:   "/index.html",
		Status:    "200",
	}
	if err := os.WriteFile(path, []byte(line.String()+"\n"), 0o644); err != nil {
		t.Fatalf("writing web log fixture: %v", err)
	}
}

func TestRun_WebLogsOnlyWhenGeminiGlobEmpty(t *testing.T) {
	dir := t.TempDir()
	webLog := filepath.Join(dir, "access.log")
	writeWebLog(t, webLog)

	f := newTestFilter(t, dir)
	agg := aggregator.New(f)

	cfg := Config{WebLogGlob: webLog}
	if err := Run(context.Background(), cfg, stubWatermarks{}, f, agg); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	days := agg.Days()
	if len(days) != 1 {
		t.Fatalf("got %d day buckets, want 1: %v", len(days), days)
	}
	day, ok := days[aggregator.Key(event.Web, 20250110)]
	if !ok {
		t.Fatalf("expected a web_20250110 bucket, got %v", days)
	}
	if day.Count["web"] != 1 {
		t.Errorf("count.web = %d, want 1", day.Count["web"])
	}
}

func TestRun_RespectsWatermark(t *testing.T) {
	dir := t.TempDir()
	webLog := filepath.Join(dir, "access.log")
	writeWebLog(t, webLog)

	f := newTestFilter(t, dir)
	agg := aggregator.New(f)

	cfg := Config{WebLogGlob: webLog}
	if err := Run(context.Background(), cfg, stubWatermarks{web: 20250110}, f, agg); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(agg.Days()) != 0 {
		t.Errorf("expected no events past the watermark, got %v", agg.Days())
	}
}

func TestRun_NoGlobsIsANoop(t *testing.T) {
	dir := t.TempDir()
	f := newTestFilter(t, dir)
	agg := aggregator.New(f)

	if err := Run(context.Background(), Config{}, stubWatermarks{}, f, agg); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(agg.Days()) != 0 {
		t.Errorf("expected no buckets with no configured log globs, got %v", agg.Days())
	}
}
