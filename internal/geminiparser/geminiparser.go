// Package geminiparser converts the two interleaved syslog-style line
// families emitted by the Gemini stack (the vger server and the relayd TLS
// relay) into paired, normalized Events.
package geminiparser

import (
	"strconv"
	"strings"

	"github.com/snonux/foostats/internal/anonymize"
	"github.com/snonux/foostats/internal/event"
	"github.com/snonux/foostats/internal/logsource"
)

// vgerHalf is the request-side half of a Gemini event, parsed from a vger
// daemon log line.
type vgerHalf struct {
	date    int
	time    string
	host    string
	uriPath string
	status  string
}

// relaydHalf is the connection-side half, parsed from a relayd log line.
type relaydHalf struct {
	date     int
	time     string
	ipHash   string
	ipFamily event.Family
}

// Parser is a stateful two-slot pairing machine: at most one unmatched vger
// half and one unmatched relayd half are held at a time. A request's two
// halves are allowed to arrive in either order; whichever arrives second
// completes the pair and is emitted immediately without ever occupying its
// own slot.
type Parser struct {
	watermark int

	pendingVger   *vgerHalf
	pendingRelayd *relaydHalf
}

// New returns a Parser that signals logsource.Stop once a relayd line's
// date is at or before watermark (the last day already persisted for the
// gemini protocol).
func New(watermark int) *Parser {
	return &Parser{watermark: watermark}
}

// Parse feeds one log line's fields into the pairing machine. ok is true
// only when this line completed a pair, in which case ev is the merged
// Event. Lines that match neither the vger nor the relayd shape are
// ignored. Unpaired halves at end-of-file are simply dropped; pairing is
// inherently best-effort.
func (p *Parser) Parse(fileYear int, fields []string) (ev event.Event, ok bool, signal logsource.Signal) {
	switch {
	case isVger(fields):
		half, parseOK := parseVger(fileYear, fields)
		if !parseOK {
			return event.Event{}, false, logsource.Continue
		}
		return p.onVger(half)

	case isRelayd(fields):
		half, parseOK := parseRelayd(fileYear, fields)
		if !parseOK {
			return event.Event{}, false, logsource.Continue
		}
		if half.date <= p.watermark {
			return event.Event{}, false, logsource.Stop
		}
		return p.onRelayd(half)

	default:
		return event.Event{}, false, logsource.Continue
	}
}

func (p *Parser) onVger(half vgerHalf) (event.Event, bool, logsource.Signal) {
	if p.pendingRelayd != nil && p.pendingRelayd.time == half.time {
		ev := merge(half, *p.pendingRelayd)
		p.pendingRelayd = nil
		return ev, true, logsource.Continue
	}
	p.pendingVger = &half
	return event.Event{}, false, logsource.Continue
}

func (p *Parser) onRelayd(half relaydHalf) (event.Event, bool, logsource.Signal) {
	if p.pendingVger != nil && p.pendingVger.time == half.time {
		ev := merge(*p.pendingVger, half)
		p.pendingVger = nil
		return ev, true, logsource.Continue
	}
	p.pendingRelayd = &half
	return event.Event{}, false, logsource.Continue
}

func merge(v vgerHalf, r relaydHalf) event.Event {
	return event.Event{
		Protocol: event.Gemini,
		Host:     v.host,
		IPHash:   r.ipHash,
		IPFamily: r.ipFamily,
		Date:     v.date,
		Time:     v.time,
		URIPath:  v.uriPath,
		Status:   v.status,
	}
}

// isVger reports whether fields look like a vger request line:
// "month day HH:MM:SS host vger: ...".
func isVger(fields []string) bool {
	return len(fields) > 4 && fields[4] == "vger:"
}

// isRelayd reports whether fields look like a relayd connection line:
// "month day HH:MM:SS host ??? relay gemini...".
func isRelayd(fields []string) bool {
	return len(fields) > 6 && fields[5] == "relay" && strings.HasPrefix(fields[6], "gemini")
}

func parseVger(fileYear int, fields []string) (vgerHalf, bool) {
	date, ok := parseMonthDay(fileYear, fields[0], fields[1])
	if !ok {
		return vgerHalf{}, false
	}

	var quoted string
	for _, f := range fields[5:] {
		if strings.HasPrefix(f, `"`) && strings.Count(f, "/") >= 2 {
			quoted = strings.Trim(f, `"`)
			break
		}
	}
	if quoted == "" {
		return vgerHalf{}, false
	}
	parts := strings.SplitN(quoted, "/", 3)
	if len(parts) != 3 {
		return vgerHalf{}, false
	}
	host := parts[1]
	uriPath := "/" + parts[2]

	status := fields[len(fields)-1]

	return vgerHalf{
		date:    date,
		time:    fields[2],
		host:    host,
		uriPath: uriPath,
		status:  status,
	}, true
}

func parseRelayd(fileYear int, fields []string) (relaydHalf, bool) {
	date, ok := parseMonthDay(fileYear, fields[0], fields[1])
	if !ok {
		return relaydHalf{}, false
	}
	if len(fields) <= 12 {
		return relaydHalf{}, false
	}

	ipHash, ipFamily := anonymize.IP(fields[12])

	return relaydHalf{
		date:     date,
		time:     fields[2],
		ipHash:   ipHash,
		ipFamily: ipFamily,
	}, true
}

var monthIndex = map[string]int{
	"Jan": 1, "Feb": 2, "Mar": 3, "Apr": 4, "May": 5, "Jun": 6,
	"Jul": 7, "Aug": 8, "Sep": 9, "Oct": 10, "Nov": 11, "Dec": 12,
}

// parseMonthDay combines a syslog "Mon" abbreviation and day-of-month with
// the containing file's year into a YYYYMMDD integer.
func parseMonthDay(fileYear int, month, day string) (int, bool) {
	m, ok := monthIndex[month]
	if !ok {
		return 0, false
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return 0, false
	}
	return fileYear*10000 + m*100 + d, true
}
