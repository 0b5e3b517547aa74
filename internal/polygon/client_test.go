package polygon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/R3E-Network/marketpulse/internal/errors"
)

const gainersFixture = `{
  "status": "OK",
  "tickers": [
    {
      "ticker": "ACME",
      "todaysChange": 1.234,
      "todaysChangePerc": 45.678,
      "updated": 1700000000000000000,
      "day": {"c": 3.9, "v": 2345678},
      "lastTrade": {"p": 3.912}
    },
    {
      "ticker": "TINY",
      "todaysChange": 0.1,
      "todaysChangePerc": 12,
      "lastTrade": {"p": 0.93}
    }
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg.BaseURL = server.URL
	c, err := New(cfg, nil)
	require.NoError(t, err)
	return c
}

func TestGetGainers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, gainersPath, r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("apiKey"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(gainersFixture))
	}, Config{APIKey: "secret"})

	gainers, err := c.GetGainers(context.Background())
	require.NoError(t, err)
	require.Len(t, gainers, 2)

	assert.Equal(t, "ACME", gainers[0].Ticker)
	assert.InDelta(t, 3.912, gainers[0].LastTradePrice, 1e-9)
	assert.InDelta(t, 1.234, gainers[0].TodaysChange, 1e-9)
	assert.InDelta(t, 45.678, gainers[0].TodaysChangePercent, 1e-9)
	require.NotNil(t, gainers[0].DayVolume)
	assert.Equal(t, 2345678.0, *gainers[0].DayVolume)
	assert.Equal(t, time.Unix(0, 1700000000000000000).UTC(), gainers[0].UpdatedAt)

	assert.Nil(t, gainers[1].DayVolume, "missing day volume stays nil")
}

func TestGetGainersMissingLastTrade(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK","tickers":[{"ticker":"BAD","todaysChange":1}]}`))
	}, Config{APIKey: "k"})

	_, err := c.GetGainers(context.Background())
	require.Error(t, err)
	assert.True(t, svcerrors.Is(err, svcerrors.CodeUpstream))
}

func TestGetGainersEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK","tickers":[]}`))
	}, Config{APIKey: "k"})

	gainers, err := c.GetGainers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gainers)
}

func TestGetGainersUpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":"ERROR","error":"Unknown API Key"}`, http.StatusUnauthorized)
	}, Config{APIKey: "wrong"})

	_, err := c.GetGainers(context.Background())
	require.Error(t, err)
	assert.True(t, svcerrors.Is(err, svcerrors.CodeUpstream))
	assert.Contains(t, err.Error(), "401")
}

func TestGetGainersNonOKStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"NOT_AUTHORIZED","error":"plan does not include snapshots"}`))
	}, Config{APIKey: "k"})

	_, err := c.GetGainers(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_AUTHORIZED")
}

func TestGetMarketStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, marketStatusPath, r.URL.Path)
		w.Write([]byte(`{"market":"extended-hours","serverTime":"2020-11-10T17:37:37-05:00","exchanges":{"nasdaq":"extended-hours","otc":"closed"}}`))
	}, Config{APIKey: "k"})

	status, err := c.GetMarketStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "extended-hours", status.Market)
	assert.Equal(t, "closed", status.Exchanges["otc"])
	assert.Equal(t, 2020, status.ServerTime.Year())
}

func TestGetMarketStatusInvalidPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}, Config{APIKey: "k"})

	_, err := c.GetMarketStatus(context.Background())
	assert.Error(t, err)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"market":"open"}`))
	}, Config{APIKey: "k", RequestsPerMinute: 1})

	_, err := c.GetMarketStatus(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.GetMarketStatus(ctx)
	assert.Error(t, err, "second call within the minute must wait and hit the deadline")
}
