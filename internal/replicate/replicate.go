// Package replicate pulls peer snapshots over HTTPS on a best-effort basis,
// applying a freshness policy so the most recent days are always
// refreshed while older, already-present days are left alone.
package replicate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/snonux/foostats/internal/dateutil"
	"github.com/snonux/foostats/internal/event"
	"github.com/snonux/foostats/internal/snapshot"
)

// Writer is the subset of snapshot.Store the Replicator writes through.
type Writer interface {
	WriteRaw(name string, gzippedData []byte) error
	Path(name string) string
}

// Config controls the freshness policy and transport.
type Config struct {
	Peers            []string
	WindowDays       int           // default 31
	ForceRefreshDays int           // default 3
	Timeout          time.Duration // per-request timeout, default 30s
	RetryMax         int           // bounded retries with jitter per request, default 2
}

// Replicator fetches peer snapshots into a local Writer.
type Replicator struct {
	cfg    Config
	writer Writer
	client *http.Client
}

// New returns a Replicator writing fetched snapshots through writer.
func New(cfg Config, writer Writer) *Replicator {
	if cfg.WindowDays == 0 {
		cfg.WindowDays = 31
	}
	if cfg.ForceRefreshDays == 0 {
		cfg.ForceRefreshDays = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 2
	}
	return &Replicator{
		cfg:    cfg,
		writer: writer,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Run walks the freshness window for each protocol and peer, newest day
// first, force-refreshing the newest ForceRefreshDays days unconditionally
// and fetching the rest only when absent locally. Every phase in this
// pipeline runs single-threaded cooperatively, so peers and days are
// visited sequentially; an HTTPS failure for one file is logged and does
// not abort the run.
func (r *Replicator) Run(ctx context.Context, today int) {
	for _, protocol := range []event.Protocol{event.Web, event.Gemini} {
		days := dateutil.Window(today, r.cfg.WindowDays)
		for i, day := range days {
			force := i < r.cfg.ForceRefreshDays
			for _, peer := range r.cfg.Peers {
				r.fetchOne(ctx, protocol, day, peer, force)
			}
		}
	}
}

func (r *Replicator) fetchOne(ctx context.Context, protocol event.Protocol, day int, peer string, force bool) {
	name := snapshot.FileName(protocol, day, peer)

	if !force {
		if _, err := os.Stat(r.writer.Path(name)); err == nil {
			return
		}
	}

	url := fmt.Sprintf("https://%s/foostats/%s", peer, name)
	log := logrus.WithFields(logrus.Fields{"peer": peer, "protocol": protocol, "day": day})

	data, err := r.getWithRetry(ctx, url)
	if err != nil {
		log.WithError(err).Warn("replication fetch failed, skipping")
		return
	}

	if err := r.writer.WriteRaw(name, data); err != nil {
		log.WithError(err).Warn("replication write failed, skipping")
	}
}

// getWithRetry issues the GET with a small bounded retry and jitter: a
// transient peer hiccup shouldn't drop a day's replication on the floor.
func (r *Replicator) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	var data []byte

	operation := func() error {
		body, err := r.get(ctx, url)
		if err != nil {
			return err
		}
		data = body
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(r.cfg.RetryMax))
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return data, nil
}

func (r *Replicator) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	return io.ReadAll(resp.Body)
}

var _ Writer = (*snapshot.Store)(nil)
