// Package testdata builds synthetic web and Gemini log lines for tests,
// in the shape the real vger/relayd daemons and a combined/forwarded HTTP
// access log emit. A small struct-driven builder instead of a literal
// fixture file, so tests can vary one field at a time.
package testdata

import (
	"fmt"
	"strings"
)

// WebLine builds one combined/forwarded-style access-log line, laid out so
// that field 0 is the host, field 4 the bracketed timestamp, field 7 the
// URI path, field 9 the status and the penultimate field the
// X-Forwarded-For override.
type WebLine struct {
	Host      string
	IP        string
	ForwardIP string // "-" when absent
	Timestamp string // "dd/Mon/yyyy:HH:MM:SS"
	URIPath   string
	Status    string
}

func (w WebLine) String() string {
	fwd := w.ForwardIP
	if fwd == "" {
		fwd = "-"
	}
	fields := []string{
		w.Host, w.IP, "-", "-",
		"[" + w.Timestamp, "+0000]",
		"-", w.URIPath, "-", w.Status,
		fwd, "-",
	}
	return strings.Join(fields, " ")
}

// VgerLine builds one vger request-log line.
type VgerLine struct {
	Month, Day, Time string
	Host             string
	URIPath          string // without leading slash
	Status           string
}

func (v VgerLine) String() string {
	return fmt.Sprintf(`%s %s %s %s vger: served "gemini/%s/%s" %s`,
		v.Month, v.Day, v.Time, v.Host, v.Host, v.URIPath, v.Status)
}

// RelaydLine builds one relayd connection-log line.
type RelaydLine struct {
	Month, Day, Time string
	Host             string
	PeerIP           string
}

func (r RelaydLine) String() string {
	// relayd fields: 0 month 1 day 2 time 3 host 4 relayd: 5 relay 6 gemini-in
	// 7-11 filler 12 peer ip.
	return fmt.Sprintf(`%s %s %s %s relayd: relay gemini-in session id=42 -> tls1.3 mtu=1400 %s`,
		r.Month, r.Day, r.Time, r.Host, r.PeerIP)
}
