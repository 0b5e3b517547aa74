// Package market serves the market status and top gainers views, caching the
// gainers list and falling back to stale data when the upstream API fails.
package market

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/R3E-Network/marketpulse/internal/app/domain/market"
	"github.com/R3E-Network/marketpulse/internal/app/metrics"
	"github.com/R3E-Network/marketpulse/internal/app/storage"
	svcerrors "github.com/R3E-Network/marketpulse/internal/errors"
	"github.com/R3E-Network/marketpulse/pkg/logger"
)

const (
	// DefaultTTL is how long a gainers snapshot is served without refetching.
	DefaultTTL = 5 * time.Minute

	// DefaultFetchTimeout bounds one shared upstream fetch.
	DefaultFetchTimeout = 30 * time.Second

	// MaxHistoryLimit caps History page sizes.
	MaxHistoryLimit = 200

	defaultHistoryLimit = 20
	sourceName          = "polygon"
	apiKeySetting       = "POLYGON_API_KEY"
	statusTimeLayout    = "03:04:05 PM"
)

// Response texts returned to clients.
const (
	StatusNotConfigured   = "API key not configured"
	StatusUnavailable     = "Market status is currently unavailable"
	GainersNotConfigured  = "API key is not configured on the server."
	GainersFetchFailed    = "Could not fetch data from Polygon.io."
	marketStatusPrefix    = "Market is currently "
	statusTimeZoneSuffix  = " EST"
	singleflightGainerKey = "top-gainers"
)

// StatusView is the market status response body.
type StatusView struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// Config controls caching and presentation.
type Config struct {
	TTL              time.Duration
	FetchTimeout     time.Duration
	Location         *time.Location
	APIKeyConfigured bool
}

// Service produces the market views.
type Service struct {
	fetcher      Fetcher
	cache        storage.SnapshotCache
	archive      storage.SnapshotArchive
	ttl          time.Duration
	fetchTimeout time.Duration
	location     *time.Location
	configured   bool
	now          func() time.Time
	log          *logger.Logger
	group        singleflight.Group
}

// New constructs a market service.
func New(fetcher Fetcher, cache storage.SnapshotCache, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("market")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		fetcher:      fetcher,
		cache:        cache,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		location:     loc,
		configured:   cfg.APIKeyConfigured,
		now:          time.Now,
		log:          log,
	}
}

// WithArchive records every collected snapshot in archive.
func (s *Service) WithArchive(archive storage.SnapshotArchive) {
	s.archive = archive
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Configured reports whether an upstream API key is available.
func (s *Service) Configured() bool { return s.configured }

// TTL returns the cache freshness window.
func (s *Service) TTL() time.Duration { return s.ttl }

// MarketStatus describes the current trading session. The returned view is
// always suitable as a response body; a non-nil error means the request
// failed and the view carries the failure text.
func (s *Service) MarketStatus(ctx context.Context) (StatusView, error) {
	if !s.configured {
		return StatusView{Status: StatusNotConfigured}, svcerrors.NotConfigured(apiKeySetting)
	}

	status, err := s.fetcher.GetMarketStatus(ctx)
	if err != nil {
		s.log.WithError(err).Error("Could not fetch market status")
		return StatusView{Status: StatusUnavailable}, svcerrors.Unavailable(StatusUnavailable, err)
	}

	return StatusView{
		Status: marketStatusPrefix + strings.ToUpper(status.Market),
		Time:   s.now().In(s.location).Format(statusTimeLayout) + statusTimeZoneSuffix,
	}, nil
}

// TopGainers returns the formatted gainers list. A cached non-empty list
// younger than the TTL is served as is; otherwise the list is refetched, and
// if that fails any cached non-empty list is served regardless of age, then
// the newest archived snapshot.
func (s *Service) TopGainers(ctx context.Context) ([]market.Gainer, error) {
	cached, haveCached := s.loadCached(ctx)
	if haveCached && cached.Age(s.now()) < s.ttl {
		metrics.RecordCacheLookup(metrics.CacheHit)
		s.log.Info("Returning data from cache.")
		return cached.Gainers, nil
	}

	metrics.RecordCacheLookup(metrics.CacheMiss)
	s.log.Info("Cache is stale or empty. Fetching new data from Polygon.io.")

	if !s.configured {
		return nil, svcerrors.NotConfigured(apiKeySetting)
	}

	gainers, err := s.collectShared(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, svcerrors.Unavailable(GainersFetchFailed, ctxErr)
		}
		s.log.WithError(err).Error("A major error occurred while fetching gainers")
		// Re-read: another replica or request may have filled the cache.
		stale, ok := s.loadCached(ctx)
		if !ok {
			stale, ok = s.loadArchived(ctx)
		}
		if ok {
			metrics.RecordCacheLookup(metrics.CacheStale)
			s.log.WithField("age", s.now().Sub(stale.CollectedAt).String()).
				Warn("serving stale gainers after upstream failure")
			return stale.Gainers, nil
		}
		return nil, svcerrors.Unavailable(GainersFetchFailed, err)
	}
	return gainers, nil
}

// Refresh fetches a new gainers list regardless of cache freshness.
func (s *Service) Refresh(ctx context.Context) error {
	if !s.configured {
		return svcerrors.NotConfigured(apiKeySetting)
	}
	_, err := s.collectShared(ctx)
	return err
}

// History returns archived snapshots, newest first. limit 0 selects the
// default page size.
func (s *Service) History(ctx context.Context, limit int) ([]market.Snapshot, error) {
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	if limit < 0 || limit > MaxHistoryLimit {
		return nil, svcerrors.InvalidInput("limit", "must be between 1 and 200")
	}
	if s.archive == nil {
		return []market.Snapshot{}, nil
	}
	snaps, err := s.archive.ListSnapshots(ctx, limit)
	if err != nil {
		return nil, svcerrors.Internal("list snapshot history", err)
	}
	if snaps == nil {
		snaps = []market.Snapshot{}
	}
	return snaps, nil
}

// loadCached returns the cached snapshot when it holds at least one gainer.
func (s *Service) loadCached(ctx context.Context) (market.Snapshot, bool) {
	if s.cache == nil {
		return market.Snapshot{}, false
	}
	snap, ok, err := s.cache.Load(ctx)
	if err != nil {
		s.log.WithError(err).Warn("load cached gainers failed")
		return market.Snapshot{}, false
	}
	if !ok || snap.Empty() {
		return market.Snapshot{}, false
	}
	return snap, true
}

func (s *Service) loadArchived(ctx context.Context) (market.Snapshot, bool) {
	if s.archive == nil {
		return market.Snapshot{}, false
	}
	snap, ok, err := s.archive.LatestSnapshot(ctx)
	if err != nil {
		s.log.WithError(err).Warn("load archived gainers failed")
		return market.Snapshot{}, false
	}
	if !ok || snap.Empty() {
		return market.Snapshot{}, false
	}
	return snap, true
}

// collectShared lets concurrent callers share one upstream fetch. The fetch
// runs under its own fetchTimeout, detached from the first caller, so other
// waiters still get a result; each caller stops waiting when its own ctx ends.
func (s *Service) collectShared(ctx context.Context) ([]market.Gainer, error) {
	ch := s.group.DoChan(singleflightGainerKey, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return s.collect(fetchCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]market.Gainer), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) collect(ctx context.Context) ([]market.Gainer, error) {
	tickers, err := s.fetcher.GetGainers(ctx)
	if err != nil {
		return nil, err
	}

	gainers := make([]market.Gainer, 0, len(tickers))
	for _, t := range tickers {
		gainers = append(gainers, market.NewGainer(t))
	}
	s.log.Infof("Successfully processed %d gainers.", len(gainers))

	snap := market.Snapshot{
		ID:          uuid.NewString(),
		Gainers:     gainers,
		Source:      sourceName,
		CollectedAt: s.now().UTC(),
	}
	if s.cache != nil {
		if err := s.cache.Save(ctx, snap); err != nil {
			s.log.WithError(err).Warn("cache gainers snapshot failed")
		}
	}
	if s.archive != nil && !snap.Empty() {
		if _, err := s.archive.SaveSnapshot(ctx, snap); err != nil {
			s.log.WithError(err).WithField("snapshot_id", snap.ID).Warn("archive gainers snapshot failed")
		}
	}
	return gainers, nil
}
