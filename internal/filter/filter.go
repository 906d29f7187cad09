// Package filter decides whether to accept or reject a parsed Event,
// applying a sticky per-IP block, a substring blocklist and a per-second
// rate cap, and logs each distinct decision once to an append-only file.
package filter

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/snonux/foostats/internal/event"
)

// Reason names why an Event was rejected; it is the message written to the
// filter log for a rejection.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonStickyBlock Reason = "sticky block"
	ReasonOddPattern  Reason = "odd pattern"
	ReasonRate        Reason = "excessive rate"
)

// Filter is a single run's request filter: sticky block set, substring
// patterns and per-second rate state all live for the duration of one
// ingest and are never persisted.
type Filter struct {
	patterns []string

	blocked map[string]struct{} // ip_hash -> blocked for the rest of this run

	lastTime   string
	rateCounts map[string]int // ip_hash -> hits observed at lastTime

	log        *bufio.Writer
	logFile    *os.File
	loggedSubj map[string]struct{}
	logErr     error
}

// New constructs a Filter with the given odd-patterns list and an
// append-only filter log at logPath. An unreadable patterns file or an
// unopenable log file is fatal (operator error); an empty pattern list is
// legal and means "no odd-pattern blocks".
func New(patternsPath, logPath string) (*Filter, error) {
	patterns, err := loadPatterns(patternsPath)
	if err != nil {
		return nil, fmt.Errorf("loading patterns file: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening filter log: %w", err)
	}

	return &Filter{
		patterns:   patterns,
		blocked:    make(map[string]struct{}),
		rateCounts: make(map[string]int),
		log:        bufio.NewWriter(f),
		logFile:    f,
		loggedSubj: make(map[string]struct{}),
	}, nil
}

// Close flushes and closes the filter log.
func (f *Filter) Close() error {
	if err := f.log.Flush(); err != nil {
		f.logFile.Close()
		return fmt.Errorf("flushing filter log: %w", err)
	}
	return f.logFile.Close()
}

// loadPatterns reads one substring pattern per line. Blank lines and lines
// whose first non-whitespace character is '#' are ignored.
func loadPatterns(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		patterns = append(patterns, trimmed)
	}
	return patterns, nil
}

// Allow decides whether ev should be counted, applying sticky block → odd
// pattern → excessive rate in that order. The decision (and its reason, for
// a rejection) is logged once per distinct subject.
func (f *Filter) Allow(ev event.Event) bool {
	reason := f.decide(ev)
	if reason == ReasonNone {
		f.logOnce(ev.URIPath, "OK", "accepted")
		return true
	}

	if reason != ReasonStickyBlock {
		// Sticky-block itself doesn't add to the set again; the IP is
		// already in it. Any other rejection sticks the IP for the rest
		// of the run.
		f.blocked[ev.IPHash] = struct{}{}
	}
	f.logOnce(ev.IPHash, "WARN", string(reason))
	return false
}

func (f *Filter) decide(ev event.Event) Reason {
	if _, blocked := f.blocked[ev.IPHash]; blocked {
		return ReasonStickyBlock
	}

	for _, pattern := range f.patterns {
		if strings.Contains(ev.URIPath, pattern) {
			return ReasonOddPattern
		}
	}

	if f.overRate(ev) {
		return ReasonRate
	}

	return ReasonNone
}

// overRate maintains (lastTime, counts): events are streamed in log order,
// which is monotone non-decreasing in time, so an incoming time different
// from lastTime resets the window. Within a window, a second or later hit
// from the same IP is rejected, effectively capping any IP at one request
// per second.
func (f *Filter) overRate(ev event.Event) bool {
	if ev.Time != f.lastTime {
		f.lastTime = ev.Time
		f.rateCounts = make(map[string]int)
	}
	f.rateCounts[ev.IPHash]++
	return f.rateCounts[ev.IPHash] > 1
}

func (f *Filter) logOnce(subject, severity, message string) {
	if _, seen := f.loggedSubj[subject]; seen {
		return
	}
	f.loggedSubj[subject] = struct{}{}
	if _, err := fmt.Fprintf(f.log, "%s: %s %s\n", severity, subject, message); err != nil && f.logErr == nil {
		f.logErr = fmt.Errorf("writing filter log: %w", err)
	}
}

// Err returns the first filter-log write error encountered, if any. Log
// write errors are fatal; callers should check Err after each Allow call
// (or at minimum before finishing a run) and abort the phase if non-nil.
func (f *Filter) Err() error {
	return f.logErr
}
