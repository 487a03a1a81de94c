// Package engine assembles the query pipeline from configuration.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/wp-statistics/wp-statistics-sub019/internal/analytics"
	"github.com/wp-statistics/wp-statistics-sub019/internal/auth"
	"github.com/wp-statistics/wp-statistics-sub019/internal/cache"
	"github.com/wp-statistics/wp-statistics-sub019/internal/config"
	"github.com/wp-statistics/wp-statistics-sub019/internal/executor"
	"github.com/wp-statistics/wp-statistics-sub019/internal/formatter"
	"github.com/wp-statistics/wp-statistics-sub019/internal/labels"
	"github.com/wp-statistics/wp-statistics-sub019/internal/metrics"
	"github.com/wp-statistics/wp-statistics-sub019/internal/network"
	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
	"github.com/wp-statistics/wp-statistics-sub019/internal/registry"
	"github.com/wp-statistics/wp-statistics-sub019/internal/storage"
	"github.com/wp-statistics/wp-statistics-sub019/internal/timeframe"
)

const redisKeyPrefix = "wpstats:results:"

// Engine holds every long-lived component of the query pipeline.
type Engine struct {
	Registry   *registry.Registry
	Parser     *query.Parser
	Store      *storage.SQLStore
	Results    *cache.Manager[*executor.Result]
	Executor   *executor.Executor
	Formatters *formatter.Set
	Handler    *analytics.Handler
	Verifier   *auth.Verifier
	Metrics    *metrics.Metrics
	Directory  *network.SiteDirectory

	closers []func() error
}

// Options override the defaults Build derives from configuration.
type Options struct {
	// Clock fixes "today"; nil uses the wall clock.
	Clock timeframe.TimeProvider
	// CacheStore replaces the configured cache backend.
	CacheStore cache.Store
	// Registry replaces the built-in catalog.
	Registry *registry.Registry
}

// Build wires the pipeline over db.
func Build(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *slog.Logger, opts Options) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{Metrics: metrics.New(prometheus.NewRegistry())}

	e.Registry = opts.Registry
	if e.Registry == nil {
		e.Registry = registry.NewDefault()
		if cfg.RegistryFile != "" {
			if err := e.Registry.LoadFile(cfg.RegistryFile); err != nil {
				return nil, fmt.Errorf("failed to load registry: %w", err)
			}
			logger.Info("Loaded registry extensions", slog.String("path", cfg.RegistryFile))
		}
	}

	var frames *timeframe.TimeFrameParser
	if opts.Clock != nil {
		frames = timeframe.NewTimeFrameParser(opts.Clock)
	}
	e.Parser = query.NewParser(e.Registry, frames, query.Options{
		DefaultPerPage: cfg.DefaultPerPage,
		MaxPerPage:     cfg.MaxPerPage,
		MaxRangeDays:   cfg.MaxRangeDays,
		DefaultSite:    cfg.DefaultSiteID,
		Timezone:       cfg.DefaultTimezone,
	})

	e.Store = storage.NewSQLStore(db, e.Registry, logger).WithObserver(e.Metrics)

	store := opts.CacheStore
	if store == nil {
		var err error
		store, err = e.cacheStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	policy := cache.Policy{TodayTTL: cfg.CacheTodayTTL(), HistoricalTTL: cfg.CacheHistoryTTL()}
	e.Results = cache.NewManager[*executor.Result](store, policy, logger).WithRecorder(e.Metrics)

	e.Executor = executor.New(e.Store, e.Registry, logger)
	e.Formatters = formatter.New(e.Registry, labels.New())
	e.Handler = analytics.NewHandler(e.Parser, e.Executor, e.Results, e.Formatters, cfg.BatchWorkers, logger).
		WithObserver(e.Metrics)

	e.Directory = network.NewSiteDirectory(db, logger)
	if cfg.Multisite {
		e.Handler.WithNetwork(network.NewAggregator(e.Handler, e.Directory, e.Registry, true, cfg.BatchWorkers, logger))
	}

	e.Verifier = auth.NewVerifier(cfg.ViewerKeyHash, cfg.NetworkAdminKeyHash)
	if e.Verifier.Open() {
		logger.Warn("No API keys configured, every caller has viewer access")
	}
	return e, nil
}

func (e *Engine) cacheStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Store, error) {
	if cfg.CacheBackend == config.CacheRedis {
		rs, err := cache.NewRedisStore(ctx, cfg.RedisURL, redisKeyPrefix)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, rs.Close)
		logger.Info("Using redis result cache")
		return rs, nil
	}
	return cache.NewMemoryStore(cfg.CacheMaxEntries, cfg.CacheHistoryTTL()), nil
}

// Close releases connections held by the engine.
func (e *Engine) Close() error {
	var first error
	for _, c := range e.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
