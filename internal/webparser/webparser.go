// Package webparser converts combined/forwarded-style HTTP access-log lines
// into normalized events.
package webparser

import (
	"strconv"
	"strings"

	"github.com/snonux/foostats/internal/anonymize"
	"github.com/snonux/foostats/internal/event"
	"github.com/snonux/foostats/internal/logsource"
)

// monthIndex maps the abbreviated month name used in Apache/nginx-style
// timestamps to its calendar number.
var monthIndex = map[string]int{
	"Jan": 1, "Feb": 2, "Mar": 3, "Apr": 4, "May": 5, "Jun": 6,
	"Jul": 7, "Aug": 8, "Sep": 9, "Oct": 10, "Nov": 11, "Dec": 12,
}

// Parser parses web access-log lines into Events, stopping the enclosing
// LogSource walk once it reaches a day at or before the ingest watermark.
type Parser struct {
	watermark int
}

// New returns a Parser that signals logsource.Stop once a line's date is
// at or before watermark (the last day already persisted for this
// protocol).
func New(watermark int) *Parser {
	return &Parser{watermark: watermark}
}

// Parse extracts an Event from one access-log line's fields. fileYear is
// unused for web logs: the timestamp field carries a full four-digit year.
// It returns the parsed Event (valid only when ok is true) and the signal
// the caller's logsource.Consumer should return: once a line's date falls
// at or before the watermark, parsing stops emitting and the walk halts
// after the current file.
func (p *Parser) Parse(_ int, fields []string) (ev event.Event, ok bool, signal logsource.Signal) {
	ev, ok = p.parse(fields)
	if !ok {
		return event.Event{}, false, logsource.Continue
	}
	if ev.Date <= p.watermark {
		return event.Event{}, false, logsource.Stop
	}
	return ev, true, logsource.Continue
}

// parse extracts an Event from the positional fields of one access-log
// line. Malformed lines are skipped silently (parse-tolerated errors);
// parsers must never crash on unexpected field counts.
func (p *Parser) parse(fields []string) (event.Event, bool) {
	if len(fields) < 10 {
		return event.Event{}, false
	}

	host := fields[0]

	date, clock, ok := parseTimestamp(fields[4])
	if !ok {
		return event.Event{}, false
	}

	ip := fields[1]
	if penultimate := fields[len(fields)-2]; penultimate != "-" {
		ip = penultimate
	}

	ipHash, ipFamily := anonymize.IP(ip)

	return event.Event{
		Protocol: event.Web,
		Host:     host,
		IPHash:   ipHash,
		IPFamily: ipFamily,
		Date:     date,
		Time:     clock,
		URIPath:  fields[7],
		Status:   fields[9],
	}, true
}

// parseTimestamp parses a field of the form "[dd/Mon/yyyy:HH:MM:SS into
// (YYYYMMDD, HHMMSS).
func parseTimestamp(raw string) (date int, clock string, ok bool) {
	raw = strings.TrimPrefix(raw, "[")
	// raw is now "dd/Mon/yyyy:HH:MM:SS"
	datePart, timePart, found := strings.Cut(raw, ":")
	if !found {
		return 0, "", false
	}
	dateFields := strings.Split(datePart, "/")
	if len(dateFields) != 3 {
		return 0, "", false
	}
	day, err := strconv.Atoi(dateFields[0])
	if err != nil {
		return 0, "", false
	}
	month, known := monthIndex[dateFields[1]]
	if !known {
		return 0, "", false
	}
	year, err := strconv.Atoi(dateFields[2])
	if err != nil {
		return 0, "", false
	}

	clockFields := strings.Split(timePart, ":")
	if len(clockFields) != 3 {
		return 0, "", false
	}
	for _, cf := range clockFields {
		if len(cf) != 2 {
			return 0, "", false
		}
		if _, err := strconv.Atoi(cf); err != nil {
			return 0, "", false
		}
	}

	date = year*10000 + month*100 + day
	clock = strings.Join(clockFields, "")
	return date, clock, true
}
