// Package ingest wires LogSource, the protocol parsers, the Filter and the
// Aggregator into a single pull loop: one file at a time, one line at a
// time, newest file first, with no suspension points except blocking I/O
// on file reads.
package ingest

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/snonux/foostats/internal/aggregator"
	"github.com/snonux/foostats/internal/event"
	"github.com/snonux/foostats/internal/filter"
	"github.com/snonux/foostats/internal/geminiparser"
	"github.com/snonux/foostats/internal/logsource"
	"github.com/snonux/foostats/internal/snapshot"
	"github.com/snonux/foostats/internal/webparser"
)

// Watermarks is the subset of snapshot.Store needed to resolve each
// protocol's last-processed day before parsing begins.
type Watermarks interface {
	Watermark(protocol event.Protocol) int
}

// Config names the two log globs to walk.
type Config struct {
	WebLogGlob    string
	GeminiLogGlob string
}

// Run performs one full ingest pass: it resolves each protocol's watermark,
// walks its log glob newest-first feeding parsed Events to agg, which
// holds the accumulated buckets afterwards (see Aggregator.Days), and
// returns the first error, including a filter log write error. Any I/O
// error on a log file is fatal
// and aborts the whole run, since a partial ingest would leave counters
// wrong.
func Run(ctx context.Context, cfg Config, watermarks Watermarks, f *filter.Filter, agg *aggregator.Aggregator) error {
	if cfg.WebLogGlob != "" {
		if err := runWeb(ctx, cfg.WebLogGlob, watermarks.Watermark(event.Web), f, agg); err != nil {
			return fmt.Errorf("ingesting web logs: %w", err)
		}
	}
	if cfg.GeminiLogGlob != "" {
		if err := runGemini(ctx, cfg.GeminiLogGlob, watermarks.Watermark(event.Gemini), f, agg); err != nil {
			return fmt.Errorf("ingesting gemini logs: %w", err)
		}
	}
	return f.Err()
}

func runWeb(ctx context.Context, glob string, watermark int, f *filter.Filter, agg *aggregator.Aggregator) error {
	src, err := logsource.New(glob)
	if err != nil {
		return err
	}
	parser := webparser.New(watermark)

	return src.Walk(ctx, func(fileYear int, fields []string) logsource.Signal {
		ev, ok, signal := parser.Parse(fileYear, fields)
		if ok {
			agg.Add(ev)
			if err := f.Err(); err != nil {
				logrus.WithError(err).Error("filter log write failed, stopping ingest")
				return logsource.Stop
			}
		}
		return signal
	})
}

func runGemini(ctx context.Context, glob string, watermark int, f *filter.Filter, agg *aggregator.Aggregator) error {
	src, err := logsource.New(glob)
	if err != nil {
		return err
	}
	parser := geminiparser.New(watermark)

	return src.Walk(ctx, func(fileYear int, fields []string) logsource.Signal {
		ev, ok, signal := parser.Parse(fileYear, fields)
		if ok {
			agg.Add(ev)
			if err := f.Err(); err != nil {
				logrus.WithError(err).Error("filter log write failed, stopping ingest")
				return logsource.Stop
			}
		}
		return signal
	})
}

var _ Watermarks = (*snapshot.Store)(nil)
