package market

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/marketpulse/internal/app/domain/market"
	"github.com/R3E-Network/marketpulse/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/marketpulse/internal/errors"
	"github.com/R3E-Network/marketpulse/pkg/testutil"
)

func sampleTickers() []market.TickerSnapshot {
	return []market.TickerSnapshot{
		{Ticker: "ABC", LastTradePrice: 12.346, TodaysChange: 1.5, TodaysChangePercent: 13.9, DayVolume: testutil.Volume(2_500_000)},
		{Ticker: "XYZ", LastTradePrice: 3, TodaysChange: 0.25, TodaysChangePercent: 9.09},
	}
}

func newTestService(t *testing.T, fetcher Fetcher, configured bool) (*Service, *memory.Store, *testutil.Clock) {
	t.Helper()
	store := memory.New()
	clock := testutil.NewClock(time.Date(2024, 3, 15, 14, 30, 5, 0, time.UTC))
	svc := New(fetcher, store, Config{TTL: 5 * time.Minute, APIKeyConfigured: configured}, nil)
	svc.WithClock(clock.Now)
	return svc, store, clock
}

func TestMarketStatus(t *testing.T) {
	eastern, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	fetcher := testutil.NewMockUpstream("open")
	svc := New(fetcher, nil, Config{Location: eastern, APIKeyConfigured: true}, nil)
	svc.WithClock(func() time.Time { return time.Date(2024, 3, 15, 14, 30, 5, 0, time.UTC) })

	view, err := svc.MarketStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Market is currently OPEN", view.Status)
	assert.Equal(t, "10:30:05 AM EST", view.Time)
}

func TestMarketStatusNotConfigured(t *testing.T) {
	fetcher := testutil.NewMockUpstream("open")
	svc, _, _ := newTestService(t, fetcher, false)

	view, err := svc.MarketStatus(context.Background())
	require.Error(t, err)
	assert.True(t, svcerrors.Is(err, svcerrors.CodeNotConfigured))
	assert.Equal(t, StatusView{Status: StatusNotConfigured}, view)
	assert.Zero(t, fetcher.Calls())
}

func TestMarketStatusUpstreamFailure(t *testing.T) {
	fetcher := testutil.NewMockUpstream("open")
	fetcher.SetFailing(true)
	svc, _, _ := newTestService(t, fetcher, true)

	view, err := svc.MarketStatus(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusView{Status: StatusUnavailable}, view)
}

func TestTopGainersCachesWithinTTL(t *testing.T) {
	fetcher := testutil.NewMockUpstream("open", sampleTickers()...)
	svc, _, clock := newTestService(t, fetcher, true)
	ctx := context.Background()

	first, err := svc.TopGainers(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, market.Gainer{
		Ticker: "ABC", Price: "12.35", Change: "+1.50", ChangePercent: "+13.90%",
		Volume: "2.50M", RSI: "N/A", Rank: "N/A",
	}, first[0])
	assert.Equal(t, "N/A", first[1].Volume)

	clock.Advance(4 * time.Minute)
	second, err := svc.TopGainers(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fetcher.Calls())

	clock.Advance(2 * time.Minute)
	_, err = svc.TopGainers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.Calls())
}

func TestTopGainersServesStaleOnFailure(t *testing.T) {
	fetcher := testutil.NewMockUpstream("open", sampleTickers()...)
	svc, _, clock := newTestService(t, fetcher, true)
	ctx := context.Background()

	fresh, err := svc.TopGainers(ctx)
	require.NoError(t, err)

	fetcher.SetFailing(true)
	clock.Advance(3 * time.Hour)
	stale, err := svc.TopGainers(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh, stale)
}

func TestTopGainersFailureWithoutCache(t *testing.T) {
	fetcher := testutil.NewMockUpstream("open")
	fetcher.SetFailing(true)
	svc, _, _ := newTestService(t, fetcher, true)

	_, err := svc.TopGainers(context.Background())
	require.Error(t, err)
	assert.True(t, svcerrors.Is(err, svcerrors.CodeUnavailable))
	se, ok := svcerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, GainersFetchFailed, se.Message)
}

func TestTopGainersFallsBackToArchive(t *testing.T) {
	fetcher := testutil.NewMockUpstream("open")
	fetcher.SetFailing(true)
	svc := New(fetcher, memory.New(), Config{APIKeyConfigured: true}, nil)
	archive := memory.New()
	svc.WithArchive(archive)
	ctx := context.Background()

	archived := market.Snapshot{Gainers: []market.Gainer{market.NewGainer(sampleTickers()[1])}}
	_, err := archive.SaveSnapshot(ctx, archived)
	require.NoError(t, err)

	gainers, err := svc.TopGainers(ctx)
	require.NoError(t, err)
	assert.Equal(t, archived.Gainers, gainers)
}

func TestTopGainersEmptyListIsNotCached(t *testing.T) {
	fetcher := testutil.NewMockUpstream("open")
	svc, _, _ := newTestService(t, fetcher, true)
	ctx := context.Background()

	gainers, err := svc.TopGainers(ctx)
	require.NoError(t, err)
	assert.Empty(t, gainers)

	_, err = svc.TopGainers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.Calls())
}

func TestTopGainersFreshCacheWithoutKey(t *testing.T) {
	fetcher := testutil.NewMockUpstream("open")
	svc, store, clock := newTestService(t, fetcher, false)
	ctx := context.Background()

	cached := market.Snapshot{
		Gainers:     []market.Gainer{market.NewGainer(sampleTickers()[0])},
		CollectedAt: clock.Now(),
	}
	require.NoError(t, store.Save(ctx, cached))

	gainers, err := svc.TopGainers(ctx)
	require.NoError(t, err)
	assert.Equal(t, cached.Gainers, gainers)

	clock.Advance(10 * time.Minute)
	_, err = svc.TopGainers(ctx)
	require.Error(t, err)
	assert.True(t, svcerrors.Is(err, svcerrors.CodeNotConfigured))
	assert.Zero(t, fetcher.Calls())
}

func TestRefreshArchivesSnapshots(t *testing.T) {
	fetcher := testutil.NewMockUpstream("open", sampleTickers()...)
	svc, store, clock := newTestService(t, fetcher, true)
	svc.WithArchive(store)
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx))
	clock.Advance(time.Minute)
	require.NoError(t, svc.Refresh(ctx))

	history, err := svc.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].CollectedAt.After(history[1].CollectedAt))
	assert.Equal(t, "polygon", history[0].Source)
	assert.NotEmpty(t, history[0].ID)
}

func TestHistoryLimits(t *testing.T) {
	svc, _, _ := newTestService(t, testutil.NewMockUpstream("open"), true)
	ctx := context.Background()

	history, err := svc.History(ctx, 10)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)

	for _, limit := range []int{-1, MaxHistoryLimit + 1} {
		_, err := svc.History(ctx, limit)
		assert.True(t, svcerrors.Is(err, svcerrors.CodeInvalidInput), "limit %d", limit)
	}
}

func TestTopGainersSharesConcurrentFetches(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	fetcher := FetcherFuncs{Gainers: func(ctx context.Context) ([]market.TickerSnapshot, error) {
		calls.Add(1)
		<-release
		return sampleTickers(), nil
	}}
	svc, _, _ := newTestService(t, fetcher, true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gainers, err := svc.TopGainers(context.Background())
			assert.NoError(t, err)
			assert.Len(t, gainers, 2)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
}

func TestTopGainersCallerCancelDoesNotAbortSharedFetch(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	fetcher := FetcherFuncs{Gainers: func(ctx context.Context) ([]market.TickerSnapshot, error) {
		calls.Add(1)
		select {
		case <-release:
			return sampleTickers(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	svc, store, _ := newTestService(t, fetcher, true)

	patient := make(chan []market.Gainer, 1)
	go func() {
		gainers, err := svc.TopGainers(context.Background())
		assert.NoError(t, err)
		patient <- gainers
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := svc.TopGainers(ctx)
	require.Error(t, err)
	assert.True(t, svcerrors.Is(err, svcerrors.CodeUnavailable))
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	select {
	case gainers := <-patient:
		assert.Len(t, gainers, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting caller never received the shared result")
	}
	assert.EqualValues(t, 1, calls.Load())

	snap, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, snap.Gainers, 2)
}

func TestRefreshHonoursDeadlines(t *testing.T) {
	blocking := FetcherFuncs{Gainers: func(ctx context.Context) ([]market.TickerSnapshot, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return sampleTickers(), nil
		}
	}}

	// Caller deadline.
	svc := New(blocking, memory.New(), Config{APIKeyConfigured: true}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := svc.Refresh(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	// Fetch timeout with no caller deadline.
	svc = New(blocking, memory.New(), Config{APIKeyConfigured: true, FetchTimeout: 50 * time.Millisecond}, nil)
	start = time.Now()
	err = svc.Refresh(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
