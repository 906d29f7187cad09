// Package logsource iterates raw server log files matched by a glob
// pattern, newest file first, transparently decompressing gzip members and
// splitting surviving lines into whitespace-separated fields for a parser
// to consume.
package logsource

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Signal is returned by a Consumer to tell the Source whether to keep
// reading. Stop finishes the current file (so any remaining lines in it are
// still processed in order) but causes Walk to open no further files.
type Signal int

const (
	Continue Signal = iota
	Stop
)

// Consumer is invoked once per surviving line. fileYear is the four-digit
// year of the containing file's modification time, needed because Gemini
// log lines carry only month and day.
type Consumer func(fileYear int, fields []string) Signal

// rotationMarker is a line logrotate (or the Gemini daemons) writes on
// rotation; it is not a real log entry.
const rotationMarker = "logfile turned over"

// Source is a glob-backed, newest-first iterator over log files.
type Source struct {
	paths []string
}

// New expands pattern into the set of matching files, ordered by
// modification time descending (newest first). This matters because log
// rotation appends newer data to the unnumbered file while older data
// lives in ".N" or ".N.gz" siblings.
func New(pattern string) (*Source, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("expanding log glob %q: %w", pattern, err)
	}

	type fileInfo struct {
		path    string
		modTime int64
	}
	infos := make([]fileInfo, 0, len(matches))
	for _, m := range matches {
		st, err := os.Stat(m)
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", m, err)
		}
		infos = append(infos, fileInfo{path: m, modTime: st.ModTime().Unix()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].modTime > infos[j].modTime })

	paths := make([]string, len(infos))
	for i, fi := range infos {
		paths[i] = fi.path
	}
	return &Source{paths: paths}, nil
}

// Walk streams fields from every matched file, newest first, invoking
// consume for each surviving line. Any open/read error on a single file is
// fatal: partial ingest is not allowed because the resulting counters would
// be wrong. ctx is checked between files only; Walk never aborts a file
// partway through on cancellation, the same as it never does on Stop.
func (s *Source) Walk(ctx context.Context, consume Consumer) error {
	for _, path := range s.paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		stopped, err := s.walkFile(path, consume)
		if err != nil {
			return fmt.Errorf("reading %q: %w", path, err)
		}
		if stopped {
			return nil
		}
	}
	return nil
}

func (s *Source) walkFile(path string, consume Consumer) (stopped bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	fileYear := info.ModTime().Year()

	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return false, fmt.Errorf("opening gzip member: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	// Log lines can be long (forwarded-for chains, query strings); grow the
	// buffer past bufio's default 64KiB ceiling.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, rotationMarker) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if consume(fileYear, fields) == Stop {
			stopped = true
		}
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}
	return stopped, nil
}
