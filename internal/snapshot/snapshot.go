// Package snapshot reads and writes the per-(protocol,day,host) compressed
// JSON snapshots that are the unit of persistence and replication for this
// pipeline, and derives the ingest watermark from their file names.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/snonux/foostats/internal/aggregator"
	"github.com/snonux/foostats/internal/event"
)

// datePattern extracts the YYYYMMDD segment out of a snapshot file name.
var datePattern = regexp.MustCompile(`_(\d{8})\.`)

// FileName returns the canonical snapshot name for (protocol, date, host):
// "<protocol>_<YYYYMMDD>.<host>.json.gz".
func FileName(protocol event.Protocol, date int, host string) string {
	return fmt.Sprintf("%s_%d.%s.json.gz", protocol, date, host)
}

// Store reads and writes snapshots rooted at dir, written under the local
// host's name.
type Store struct {
	dir  string
	host string
}

// New returns a Store rooted at dir, writing snapshots tagged with host.
func New(dir, host string) *Store {
	return &Store{dir: dir, host: host}
}

// Write persists every DayStats bucket in days, iterating date keys in
// ascending order, each as an atomically-replaced gzip-compressed JSON
// file. A partial failure leaves either the previous snapshot or no file at
// all, never truncated output.
func (s *Store) Write(days map[string]*aggregator.DayStats) error {
	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		protocol, date, err := splitKey(key)
		if err != nil {
			return err
		}
		path := filepath.Join(s.dir, FileName(protocol, date, s.host))
		if err := s.writeOne(path, days[key]); err != nil {
			return fmt.Errorf("writing snapshot %q: %w", path, err)
		}
	}
	return nil
}

func (s *Store) writeOne(path string, day *aggregator.DayStats) error {
	data, err := json.Marshal(day)
	if err != nil {
		return fmt.Errorf("marshaling day stats: %w", err)
	}
	return atomicWriteGzip(path, data)
}

// WriteRaw atomically replaces the snapshot named name (see FileName) with
// already gzip-compressed bytes fetched verbatim from a peer. It exists so
// the Replicator can reuse this package's atomic-rename discipline instead
// of re-implementing it.
func (s *Store) WriteRaw(name string, gzippedData []byte) error {
	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(gzippedData); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming snapshot into place: %w", err)
	}
	committed = true
	return nil
}

// Path returns the local path a snapshot named name would live at.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// atomicWriteGzip gzip-compresses data and atomically replaces path with
// it: write a temp file, then rename over the destination. A partial
// failure leaves either the previous snapshot or no file at all, never
// truncated output.
func atomicWriteGzip(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	if _, err := gz.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("gzip-compressing snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("closing gzip writer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming snapshot into place: %w", err)
	}
	committed = true
	return nil
}

// Watermark returns the largest YYYYMMDD N such that a snapshot
// "<protocol>_N.<host>.json.gz" exists locally, or 0 if none does.
// Implemented as a lexical max over the glob matches: lexicographic order
// on a fixed-width zero-padded YYYYMMDD coincides with chronological order,
// so no mtime-based proxy is needed (and none should be used: mtime reflects
// write time, not the day the snapshot covers).
func (s *Store) Watermark(protocol event.Protocol) int {
	pattern := filepath.Join(s.dir, fmt.Sprintf("%s_*.%s.json.gz", protocol, s.host))
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return 0
	}
	sort.Strings(matches)
	last := matches[len(matches)-1]

	m := datePattern.FindStringSubmatch(filepath.Base(last))
	if m == nil {
		return 0
	}
	date, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return date
}

// Loaded is one snapshot read from disk, tagged with the provenance the
// Merger needs to keep per-host and per-protocol sources distinct before it
// sums them.
type Loaded struct {
	Protocol event.Protocol
	Host     string
	Path     string
	Data     map[string]any
}

// Load returns every snapshot for date, across all hosts and both
// protocols found in dir.
func (s *Store) Load(date int) ([]Loaded, error) {
	pattern := filepath.Join(s.dir, fmt.Sprintf("*_%d.*.json.gz", date))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing snapshots for %d: %w", date, err)
	}

	loaded := make([]Loaded, 0, len(matches))
	for _, path := range matches {
		rec, err := s.loadOne(path)
		if err != nil {
			return nil, fmt.Errorf("loading snapshot %q: %w", path, err)
		}
		loaded = append(loaded, rec)
	}
	return loaded, nil
}

func (s *Store) loadOne(path string) (Loaded, error) {
	f, err := os.Open(path)
	if err != nil {
		return Loaded{}, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return Loaded{}, fmt.Errorf("opening gzip reader: %w", err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return Loaded{}, fmt.Errorf("decompressing snapshot: %w", err)
	}

	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return Loaded{}, fmt.Errorf("parsing snapshot JSON: %w", err)
	}

	protocol, _, host, err := parseFileName(filepath.Base(path))
	if err != nil {
		return Loaded{}, err
	}

	web, gemini, filtered := Peek(data)
	logrus.WithFields(logrus.Fields{
		"path":     path,
		"web":      web,
		"gemini":   gemini,
		"filtered": filtered,
	}).Debug("loaded snapshot")

	return Loaded{Protocol: protocol, Host: host, Path: path, Data: tree}, nil
}

// Peek extracts a cheap one-line summary (the three top-level counters most
// useful for an operational log message) from raw snapshot JSON without a
// full structural decode.
func Peek(data []byte) (web, gemini, filtered int64) {
	result := gjson.ParseBytes(data)
	return result.Get("count.web").Int(), result.Get("count.gemini").Int(), result.Get("count.filtered").Int()
}

func splitKey(key string) (event.Protocol, int, error) {
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("malformed day-stats key %q", key)
	}
	date, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, fmt.Errorf("malformed day-stats key %q: %w", key, err)
	}
	return event.Protocol(parts[0]), date, nil
}

// parseFileName splits "<protocol>_<YYYYMMDD>.<host>.json.gz" into its
// parts.
func parseFileName(name string) (protocol event.Protocol, date int, host string, err error) {
	base := strings.TrimSuffix(name, ".json.gz")
	protoAndDate, host, found := strings.Cut(base, ".")
	if !found {
		return "", 0, "", fmt.Errorf("malformed snapshot file name %q", name)
	}
	proto, dateStr, found := strings.Cut(protoAndDate, "_")
	if !found {
		return "", 0, "", fmt.Errorf("malformed snapshot file name %q", name)
	}
	date, err = strconv.Atoi(dateStr)
	if err != nil {
		return "", 0, "", fmt.Errorf("malformed snapshot file name %q: %w", name, err)
	}
	return event.Protocol(proto), date, host, nil
}
