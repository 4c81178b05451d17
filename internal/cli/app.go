package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/mdelorme/roomsched/internal/config"
	"github.com/mdelorme/roomsched/internal/export"
	"github.com/mdelorme/roomsched/internal/extract"
	"github.com/mdelorme/roomsched/internal/fscache"
	"github.com/mdelorme/roomsched/internal/ingest"
	"github.com/mdelorme/roomsched/internal/lockfile"
	"github.com/mdelorme/roomsched/internal/metrics"
	"github.com/mdelorme/roomsched/internal/rebuild"
	"github.com/mdelorme/roomsched/internal/schedule"
	"github.com/mdelorme/roomsched/internal/scheduler"
)

// app holds the wired component graph shared by the serve, fetch and
// rebuild commands.
type app struct {
	cfg         config.Config
	state       *extract.State
	collector   *metrics.Collector
	cache       *fscache.Cache[schedule.Artifact]
	coordinator *rebuild.Coordinator
	scheduler   *scheduler.Scheduler
	mirror      *export.PostgresMirror
}

// buildApp constructs every component with its dependencies. Nothing is
// global: the extraction state and metrics are explicitly owned here and
// passed to the components that need them.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	state := extract.NewState()
	collector := metrics.NewCollector()
	cache := fscache.New(cfg.CacheTTL, schedule.Parse)

	rebuildLock, err := lockfile.New(cfg.RebuildLockPath())
	if err != nil {
		return nil, err
	}

	coordinator := &rebuild.Coordinator{
		CaptureDir:   cfg.CaptureDir,
		MarkerPath:   cfg.MarkerPath,
		ArtifactPath: cfg.ArtifactPath,
		TabularPath:  cfg.TabularPath,
		EmptyRetry:   cfg.EmptyRetry,
		Lock:         rebuildLock,
		Executor: &rebuild.Executor{
			BuildCmd:     cfg.BuildCmd,
			ArtifactPath: cfg.ArtifactPath,
			Timeout:      cfg.BuildTimeout,
			WindowDays:   cfg.BuildWindowDays,
			Logger:       logger,
			State:        state,
		},
		Cache:   cache,
		Metrics: collector,
		Logger:  logger,
	}

	var mirror *export.PostgresMirror
	if cfg.PostgresDSN != "" {
		mirror, err = export.NewPostgresMirror(ctx, cfg.PostgresDSN, cfg.PostgresSchema, logger)
		if err != nil {
			return nil, err
		}
		coordinator.Exports = mirror
	}

	leader, err := scheduler.NewLeader(cfg.LeaderLockPath(), logger)
	if err != nil {
		return nil, err
	}

	sched := &scheduler.Scheduler{
		Leader:      leader,
		Coordinator: coordinator,
		State:       state,
		Metrics:     collector,
		Logger:      logger,
		Ingest: &ingest.Runner{
			FetchCmd:    cfg.FetchCmd,
			SourcesFile: cfg.SourcesFile,
			MarkerPath:  cfg.MarkerPath,
			Logger:      logger,
			State:       state,
			Metrics:     collector,
		},
		FetchInterval:   cfg.FetchInterval,
		CleanupInterval: cfg.CleanupInterval,
		CaptureDir:      cfg.CaptureDir,
		Retention:       time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	}

	return &app{
		cfg:         cfg,
		state:       state,
		collector:   collector,
		cache:       cache,
		coordinator: coordinator,
		scheduler:   sched,
		mirror:      mirror,
	}, nil
}

func (a *app) close() {
	if a.mirror != nil {
		a.mirror.Close()
	}
}
