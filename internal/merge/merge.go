// Package merge combines per-(protocol,host) snapshots for a single day
// into one cross-fleet view, collapsing unique-IP sets into cardinalities
// and normalizing equivalent Gemini/HTTP URL variants.
package merge

import (
	"fmt"
	"strings"

	"github.com/snonux/foostats/internal/dateutil"
	"github.com/snonux/foostats/internal/event"
	"github.com/snonux/foostats/internal/snapshot"
)

// PageIPs is the merged, cardinality-collapsed page view.
type PageIPs struct {
	Hosts map[string]int `json:"hosts"`
	URLs  map[string]int `json:"urls"`
}

// MergedDay is the cross-host, cross-protocol view of one day.
type MergedDay struct {
	Count   map[string]int64 `json:"count"`
	FeedIPs map[string]int   `json:"feed_ips"`
	PageIPs PageIPs          `json:"page_ips"`
}

// Loader is the subset of snapshot.Store the Merger depends on.
type Loader interface {
	Load(date int) ([]snapshot.Loaded, error)
}

// Day loads every snapshot for date across all hosts and both protocols and
// merges them into one MergedDay. It is pure and side-effect free on the
// store.
func Day(loader Loader, date int) (MergedDay, error) {
	records, err := loader.Load(date)
	if err != nil {
		return MergedDay{}, err
	}

	count, err := mergeCounts(records)
	if err != nil {
		return MergedDay{}, err
	}

	feedIPs, err := mergeFeedIPs(records)
	if err != nil {
		return MergedDay{}, err
	}

	pageIPs, err := mergePageIPs(records)
	if err != nil {
		return MergedDay{}, err
	}

	return MergedDay{Count: count, FeedIPs: feedIPs, PageIPs: pageIPs}, nil
}

// Window merges the n consecutive days ending at (and including) latest,
// keyed by YYYYMMDD.
func Window(loader Loader, latest, n int) (map[int]MergedDay, error) {
	result := make(map[int]MergedDay, n)
	for _, day := range dateutil.Window(latest, n) {
		md, err := Day(loader, day)
		if err != nil {
			return nil, fmt.Errorf("merging day %d: %w", day, err)
		}
		result[day] = md
	}
	return result, nil
}

// mergeCounts sums the numeric "count" entries across every record's top
// level, polymorphically: unknown keys a future node version might add are
// preserved and summed just like the recognized ones, since they can only
// ever be numbers at this level.
func mergeCounts(records []snapshot.Loaded) (map[string]int64, error) {
	acc := make(map[string]any)
	for _, rec := range records {
		raw, ok := rec.Data["count"]
		if !ok {
			continue
		}
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("snapshot %q: %w", rec.Path, errIncompatibleMerge("count", raw))
		}
		merged, err := mergeValue(acc, m)
		if err != nil {
			return nil, fmt.Errorf("snapshot %q: %w", rec.Path, err)
		}
		acc = merged.(map[string]any)
	}

	out := make(map[string]int64, len(acc))
	for k, v := range acc {
		n, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("count.%s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// mergeFeedIPs splits each record's feed_ips by the record's own protocol,
// sums ip_hash hit counts within a protocol+bucket across hosts (so the
// same IP seen by two hosts isn't double-counted as two visitors), then
// emits the fixed five-key cardinality result.
func mergeFeedIPs(records []snapshot.Loaded) (map[string]int, error) {
	buckets := map[string]map[string]any{
		"Gemini Gemfeed": {},
		"Gemini Atom":    {},
		"Web Gemfeed":    {},
		"Web Atom":       {},
	}

	for _, rec := range records {
		raw, ok := rec.Data["feed_ips"]
		if !ok {
			continue
		}
		feedIPs, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("snapshot %q: %w", rec.Path, errIncompatibleMerge("feed_ips", raw))
		}

		label := protocolLabel(rec.Protocol)
		if err := mergeBucket(buckets, label+" Gemfeed", feedIPs["gemfeed"], rec.Path); err != nil {
			return nil, err
		}
		if err := mergeBucket(buckets, label+" Atom", feedIPs["atom_feed"], rec.Path); err != nil {
			return nil, err
		}
	}

	union := make(map[string]struct{})
	for _, bucket := range buckets {
		for hash := range bucket {
			union[hash] = struct{}{}
		}
	}

	return map[string]int{
		"Total":          len(union),
		"Gemini Gemfeed": len(buckets["Gemini Gemfeed"]),
		"Gemini Atom":    len(buckets["Gemini Atom"]),
		"Web Gemfeed":    len(buckets["Web Gemfeed"]),
		"Web Atom":       len(buckets["Web Atom"]),
	}, nil
}

func protocolLabel(p event.Protocol) string {
	switch p {
	case event.Gemini:
		return "Gemini"
	default:
		return "Web"
	}
}

func mergeBucket(buckets map[string]map[string]any, key string, raw any, path string) error {
	if raw == nil {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("snapshot %q: %w", path, errIncompatibleMerge(key, raw))
	}
	merged, err := mergeValue(buckets[key], m)
	if err != nil {
		return fmt.Errorf("snapshot %q: %w", path, err)
	}
	buckets[key] = merged.(map[string]any)
	return nil
}

// mergePageIPs merges page_ips.hosts and page_ips.urls across every record,
// normalizing a trailing ".gmi" to ".html" on URL keys before merging so the
// Gemini and HTTP forms of the same page collapse into one entry, then
// collapses each accumulated ip_hash map into its cardinality.
func mergePageIPs(records []snapshot.Loaded) (PageIPs, error) {
	hostAcc := make(map[string]any)
	urlAcc := make(map[string]any)

	for _, rec := range records {
		raw, ok := rec.Data["page_ips"]
		if !ok {
			continue
		}
		pageIPs, ok := raw.(map[string]any)
		if !ok {
			return PageIPs{}, fmt.Errorf("snapshot %q: %w", rec.Path, errIncompatibleMerge("page_ips", raw))
		}

		if hosts, ok := pageIPs["hosts"].(map[string]any); ok {
			merged, err := mergeValue(hostAcc, hosts)
			if err != nil {
				return PageIPs{}, fmt.Errorf("snapshot %q: %w", rec.Path, err)
			}
			hostAcc = merged.(map[string]any)
		}

		if urls, ok := pageIPs["urls"].(map[string]any); ok {
			normalized := make(map[string]any, len(urls))
			for key, ips := range urls {
				key = normalizeURL(key)
				if existing, ok := normalized[key]; ok {
					merged, err := mergeValue(existing, ips)
					if err != nil {
						return PageIPs{}, fmt.Errorf("snapshot %q: %w", rec.Path, err)
					}
					normalized[key] = merged
				} else {
					normalized[key] = ips
				}
			}
			merged, err := mergeValue(urlAcc, normalized)
			if err != nil {
				return PageIPs{}, fmt.Errorf("snapshot %q: %w", rec.Path, err)
			}
			urlAcc = merged.(map[string]any)
		}
	}

	return PageIPs{
		Hosts: collapseCardinality(hostAcc),
		URLs:  collapseCardinality(urlAcc),
	}, nil
}

// normalizeURL rewrites a trailing ".gmi" to ".html" so the Gemini and HTTP
// forms of the same page share one key.
func normalizeURL(url string) string {
	if strings.HasSuffix(url, ".gmi") {
		return strings.TrimSuffix(url, ".gmi") + ".html"
	}
	return url
}

func collapseCardinality(acc map[string]any) map[string]int {
	out := make(map[string]int, len(acc))
	for key, v := range acc {
		m, ok := v.(map[string]any)
		if !ok {
			// A leaf that merged down to a bare number (e.g. an empty/odd
			// snapshot) has no ip_hash set to collapse; treat as empty.
			out[key] = 0
			continue
		}
		out[key] = len(m)
	}
	return out
}

// mergeValue implements the polymorphic merge rule from the design notes:
// both sides numeric -> add; both sides mapping -> recurse summing leaf
// integers; else -> fatal ("incompatible merge"), which guards against
// schema drift between node versions.
func mergeValue(a, b any) (any, error) {
	switch av := a.(type) {
	case nil:
		return b, nil
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return nil, errIncompatibleMerge("", b)
		}
		return av + bv, nil
	case map[string]any:
		if b == nil {
			return av, nil
		}
		bv, ok := b.(map[string]any)
		if !ok {
			return nil, errIncompatibleMerge("", b)
		}
		out := make(map[string]any, len(av)+len(bv))
		for k, v := range av {
			out[k] = v
		}
		for k, v := range bv {
			if existing, ok := out[k]; ok {
				merged, err := mergeValue(existing, v)
				if err != nil {
					return nil, err
				}
				out[k] = merged
			} else {
				out[k] = v
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("merge: unsupported value type %T", a)
	}
}

func toInt64(v any) (int64, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
	return int64(f), nil
}

func errIncompatibleMerge(field string, v any) error {
	if field == "" {
		return fmt.Errorf("incompatible merge: numeric meets mapping (%T)", v)
	}
	return fmt.Errorf("incompatible merge on %q: numeric meets mapping (%T)", field, v)
}
