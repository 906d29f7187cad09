// Command foostats runs the analytics pipeline's three phases: ingest,
// replicate and merge. It is intentionally thin: flag parsing and phase
// dispatch only, with all business logic living in internal/.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/snonux/foostats/internal/aggregator"
	"github.com/snonux/foostats/internal/config"
	"github.com/snonux/foostats/internal/dateutil"
	"github.com/snonux/foostats/internal/filter"
	"github.com/snonux/foostats/internal/ingest"
	"github.com/snonux/foostats/internal/merge"
	"github.com/snonux/foostats/internal/replicate"
	"github.com/snonux/foostats/internal/snapshot"
)

func main() {
	phase := flag.String("phase", "all", "phase to run: ingest, replicate, merge, or all")
	configPath := flag.String("config", "", "path to config file (defaults to the XDG config path)")
	statsDir := flag.String("stats-dir", "", "override paths.stats_dir")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	if *statsDir != "" {
		cfg.Paths.StatsDir = *statsDir
	}

	setupLogging(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Warn("received shutdown signal")
		cancel()
	}()

	if err := run(ctx, *phase, cfg); err != nil {
		logrus.WithError(err).Fatal("run failed")
	}
}

func setupLogging(cfg config.LoggingConfig) {
	if cfg.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logrus.SetLevel(level)
	}
	if cfg.RotatePath != "" {
		logrus.SetOutput(&lumberjack.Logger{
			Filename:   cfg.RotatePath,
			MaxSize:    cfg.RotateMaxSizeMB,
			MaxBackups: cfg.RotateMaxBackups,
		})
	}
}

func run(ctx context.Context, phase string, cfg *config.Config) error {
	store := snapshot.New(cfg.Paths.StatsDir, cfg.Paths.LocalHost)

	switch phase {
	case "ingest":
		return runIngest(ctx, cfg, store)
	case "replicate":
		return runReplicate(ctx, cfg, store)
	case "merge":
		return runMerge(cfg, store)
	case "all":
		if err := runIngest(ctx, cfg, store); err != nil {
			return err
		}
		if err := runReplicate(ctx, cfg, store); err != nil {
			return err
		}
		return runMerge(cfg, store)
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
}

func runIngest(ctx context.Context, cfg *config.Config, store *snapshot.Store) error {
	log := logrus.WithField("phase", "ingest")
	log.Info("starting")

	f, err := filter.New(cfg.Paths.PatternsFile, cfg.Paths.FilterLog)
	if err != nil {
		return fmt.Errorf("constructing filter: %w", err)
	}
	defer f.Close()

	agg := aggregator.New(f)

	icfg := ingest.Config{
		WebLogGlob:    cfg.Ingest.WebLogGlob,
		GeminiLogGlob: cfg.Ingest.GeminiLogGlob,
	}
	if err := ingest.Run(ctx, icfg, store, f, agg); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	if err := store.Write(agg.Days()); err != nil {
		return fmt.Errorf("writing snapshots: %w", err)
	}

	log.WithField("days", len(agg.Days())).Info("finished")
	return nil
}

func runReplicate(ctx context.Context, cfg *config.Config, store *snapshot.Store) error {
	log := logrus.WithField("phase", "replicate")
	log.Info("starting")

	r := replicate.New(replicate.Config{
		Peers:            cfg.Replicate.Peers,
		WindowDays:       cfg.Replicate.WindowDays,
		ForceRefreshDays: cfg.Replicate.ForceRefreshDays,
		Timeout:          cfg.Replicate.Timeout,
		RetryMax:         cfg.Replicate.RetryMax,
	}, store)

	r.Run(ctx, dateutil.FromTime(time.Now()))

	log.Info("finished")
	return nil
}

func runMerge(cfg *config.Config, store *snapshot.Store) error {
	log := logrus.WithField("phase", "merge")
	log.Info("starting")

	merged, err := merge.Window(store, dateutil.FromTime(time.Now()), cfg.Replicate.WindowDays)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	// The renderer is an external collaborator (see spec); this CLI's own
	// responsibility ends at producing the {date -> MergedDay} map, which
	// it hands off as JSON on stdout for that collaborator to consume.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(merged); err != nil {
		return fmt.Errorf("encoding merged output: %w", err)
	}

	log.WithField("days", len(merged)).Info("finished")
	return nil
}
