package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/R3E-Network/marketpulse/internal/app/services/market"
	"github.com/R3E-Network/marketpulse/internal/app/storage"
	"github.com/R3E-Network/marketpulse/internal/app/storage/memory"
	"github.com/R3E-Network/marketpulse/internal/app/storage/postgres"
	"github.com/R3E-Network/marketpulse/internal/app/storage/rediscache"
	"github.com/R3E-Network/marketpulse/internal/app/system"
	"github.com/R3E-Network/marketpulse/internal/config"
	"github.com/R3E-Network/marketpulse/internal/polygon"
	"github.com/R3E-Network/marketpulse/pkg/logger"
)

// redisExpiryFactor keeps Redis entries around long enough to act as stale
// fallback data after the freshness window ends.
const redisExpiryFactor = 10

// Options overrides dependencies normally built from configuration. Nil
// fields use the configured defaults.
type Options struct {
	Client  market.Fetcher
	Cache   storage.SnapshotCache
	Archive storage.SnapshotArchive
	Logger  *logger.Logger
	Clock   func() time.Time
}

// Application ties the market service to its backends and manages the
// lifecycle of background services.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	closers []io.Closer

	Config    *config.Config
	Market    *market.Service
	Refresher *market.Refresher
}

// New builds the application from cfg. Connections opened here are released
// by Close.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("app")
	}

	a := &Application{
		manager: system.NewManager(),
		log:     log,
		Config:  cfg,
	}
	if err := a.build(ctx, cfg, opts); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, err
	}
	return a, nil
}

func (a *Application) build(ctx context.Context, cfg *config.Config, opts Options) error {
	log := a.log
	apiKey := strings.TrimSpace(cfg.Polygon.APIKey)

	fetcher := opts.Client
	if fetcher == nil {
		client, err := polygon.New(polygon.Config{
			APIKey:            apiKey,
			BaseURL:           cfg.Polygon.BaseURL,
			Timeout:           cfg.Polygon.Timeout,
			RequestsPerMinute: cfg.Polygon.RequestsPerMinute,
		}, log.Named("polygon"))
		if err != nil {
			return fmt.Errorf("configure polygon client: %w", err)
		}
		fetcher = client
	}
	if apiKey == "" {
		log.Error("POLYGON_API_KEY environment variable not set.")
	}

	cache := opts.Cache
	if cache == nil {
		c, err := a.buildCache(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		cache = c
	}

	archive := opts.Archive
	if archive == nil && strings.TrimSpace(cfg.Archive.DSN) != "" {
		arc, err := a.buildArchive(ctx, cfg.Archive)
		if err != nil {
			return err
		}
		archive = arc
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	svc := market.New(fetcher, cache, market.Config{
		TTL:              cfg.Cache.TTL,
		FetchTimeout:     cfg.Polygon.FetchTimeout,
		Location:         loc,
		APIKeyConfigured: apiKey != "",
	}, log.Named("market"))
	if archive != nil {
		svc.WithArchive(archive)
	}
	if opts.Clock != nil {
		svc.WithClock(opts.Clock)
	}
	a.Market = svc

	if err := a.manager.Register(system.NoopService{ServiceName: "market"}); err != nil {
		return fmt.Errorf("register market service: %w", err)
	}

	if schedule := strings.TrimSpace(cfg.Refresh.Schedule); schedule != "" {
		refresher, err := market.NewRefresher(svc, schedule, log.Named("market-refresher"))
		if err != nil {
			return err
		}
		if err := a.manager.Register(refresher); err != nil {
			return fmt.Errorf("register %s: %w", refresher.Name(), err)
		}
		a.Refresher = refresher
	} else {
		log.Info("REFRESH_SCHEDULE not set; background refresh disabled")
	}
	return nil
}

func (a *Application) buildCache(ctx context.Context, cfg config.CacheConfig) (storage.SnapshotCache, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return memory.New(), nil
	}
	client, err := rediscache.Open(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("configure redis cache: %w", err)
	}
	a.closers = append(a.closers, client)
	a.log.Info("using redis for the gainers cache")
	return rediscache.New(client, cfg.RedisKeyPrefix, cfg.TTL*redisExpiryFactor), nil
}

func (a *Application) buildArchive(ctx context.Context, cfg config.ArchiveConfig) (storage.SnapshotArchive, error) {
	db, err := postgres.Open(ctx, cfg.DSN, cfg.MaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("configure snapshot archive: %w", err)
	}
	a.closers = append(a.closers, db)
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(db.DB); err != nil {
			return nil, fmt.Errorf("migrate snapshot archive: %w", err)
		}
	}
	a.log.Info("archiving gainers snapshots to postgres")
	return postgres.New(db), nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the registered lifecycle services in start order.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Close releases Redis and database connections.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
