// Package aggregator owns the day-bucketed statistics maintained during
// ingest: request counters, feed unique-visitor sets and page unique-visitor
// sets.
package aggregator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/snonux/foostats/internal/event"
)

var (
	atomFeedPattern = regexp.MustCompile(`^/gemfeed/atom\.xml(?:[?#].*)?$`)
	gemfeedPattern  = regexp.MustCompile(`^/gemfeed/(?:index\.gmi)?(?:[?#].*)?$`)
)

// IPSet maps an anonymized IP hash to the number of times it was observed.
// Only the key set's cardinality is used downstream, but keeping hit counts
// makes merging across hosts additive instead of lossy.
type IPSet map[string]int

// FeedIPs holds the two feed-endpoint unique-visitor sets.
type FeedIPs struct {
	AtomFeed IPSet `json:"atom_feed"`
	Gemfeed  IPSet `json:"gemfeed"`
}

// PageIPs holds per-host and per-URL unique-visitor sets for ordinary page
// requests (feed endpoints are accounted separately and never appear here).
type PageIPs struct {
	Hosts map[string]IPSet `json:"hosts"`
	URLs  map[string]IPSet `json:"urls"`
}

// DayStats is the accumulator for one (protocol, date) bucket.
type DayStats struct {
	Count   map[string]int `json:"count"`
	FeedIPs FeedIPs         `json:"feed_ips"`
	PageIPs PageIPs         `json:"page_ips"`
}

func newDayStats() *DayStats {
	return &DayStats{
		Count: map[string]int{
			"filtered": 0,
			"web":      0,
			"gemini":   0,
			"v4":       0,
			"v6":       0,
		},
		FeedIPs: FeedIPs{
			AtomFeed: make(IPSet),
			Gemfeed:  make(IPSet),
		},
		PageIPs: PageIPs{
			Hosts: make(map[string]IPSet),
			URLs:  make(map[string]IPSet),
		},
	}
}

// Decider is the subset of filter.Filter the Aggregator depends on, kept as
// an interface so the Aggregator stays agnostic of filesystem concerns and
// is easy to unit test with a stub.
type Decider interface {
	Allow(ev event.Event) bool
}

// Aggregator maintains the day-keyed statistics map for a single ingest
// run. It owns its DayStats buckets exclusively for the lifetime of the
// run; SnapshotStore serializes them once ingest finishes.
type Aggregator struct {
	decider Decider
	days    map[string]*DayStats
}

// New returns an Aggregator that consults decider for every Event.
func New(decider Decider) *Aggregator {
	return &Aggregator{
		decider: decider,
		days:    make(map[string]*DayStats),
	}
}

// Key returns the bucket key for a (protocol, date) pair, "<protocol>_<YYYYMMDD>".
func Key(protocol event.Protocol, date int) string {
	return fmt.Sprintf("%s_%d", protocol, date)
}

// Add consults the filter and, if accepted, updates the counters, feed sets
// and page sets for ev's day bucket. The bucket is created lazily on first
// use.
func (a *Aggregator) Add(ev event.Event) {
	day := a.day(Key(ev.Protocol, ev.Date))

	if !a.decider.Allow(ev) {
		day.Count["filtered"]++
		return
	}

	day.Count[string(ev.Protocol)]++
	day.Count[string(ev.IPFamily)]++

	switch {
	case atomFeedPattern.MatchString(ev.URIPath):
		day.FeedIPs.AtomFeed[ev.IPHash]++
		return
	case gemfeedPattern.MatchString(ev.URIPath):
		day.FeedIPs.Gemfeed[ev.IPHash]++
		return
	}

	if !strings.HasSuffix(ev.URIPath, ".html") && !strings.HasSuffix(ev.URIPath, ".gmi") {
		return
	}

	if day.PageIPs.Hosts[ev.Host] == nil {
		day.PageIPs.Hosts[ev.Host] = make(IPSet)
	}
	day.PageIPs.Hosts[ev.Host][ev.IPHash]++

	urlKey := ev.Host + ev.URIPath
	if day.PageIPs.URLs[urlKey] == nil {
		day.PageIPs.URLs[urlKey] = make(IPSet)
	}
	day.PageIPs.URLs[urlKey][ev.IPHash]++
}

func (a *Aggregator) day(key string) *DayStats {
	d, ok := a.days[key]
	if !ok {
		d = newDayStats()
		a.days[key] = d
	}
	return d
}

// Days returns the accumulated buckets keyed by "<protocol>_<YYYYMMDD>",
// ready for SnapshotStore to persist.
func (a *Aggregator) Days() map[string]*DayStats {
	return a.days
}
