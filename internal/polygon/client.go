// Package polygon is a minimal Polygon.io REST client covering the market
// status and top gainers snapshot endpoints.
package polygon

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/marketpulse/internal/app/domain/market"
	"github.com/R3E-Network/marketpulse/internal/app/metrics"
	svcerrors "github.com/R3E-Network/marketpulse/internal/errors"
	"github.com/R3E-Network/marketpulse/internal/httputil"
	"github.com/R3E-Network/marketpulse/pkg/logger"
)

const (
	DefaultBaseURL = "https://api.polygon.io"

	marketStatusPath = "/v1/marketstatus/now"
	gainersPath      = "/v2/snapshot/locale/us/markets/stocks/gainers"

	serviceName = "polygon"
)

// Config configures a Client.
type Config struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
}

// Client talks to the Polygon.io REST API.
type Client struct {
	http    *httputil.Client
	apiKey  string
	limiter *rate.Limiter
	log     *logger.Logger
}

// New creates a client. An empty API key is accepted; callers decide how to
// report it.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NewDefault("polygon")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}

	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	httpClient, err := httputil.NewClient(httputil.ClientConfig{
		BaseURL: base,
		Timeout: cfg.Timeout,
		Headers: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("configure polygon client: %w", err)
	}

	c := &Client{http: httpClient, apiKey: cfg.APIKey, log: log}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c, nil
}

// GetMarketStatus returns the current market session.
func (c *Client) GetMarketStatus(ctx context.Context) (market.Status, error) {
	body, err := c.get(ctx, "market_status", marketStatusPath)
	if err != nil {
		return market.Status{}, err
	}
	return parseMarketStatus(body)
}

// GetGainers returns the top gaining US stock tickers for the day.
func (c *Client) GetGainers(ctx context.Context) ([]market.TickerSnapshot, error) {
	body, err := c.get(ctx, "gainers", gainersPath)
	if err != nil {
		return nil, err
	}
	return parseGainers(body)
}

func (c *Client) get(ctx context.Context, endpoint, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for polygon rate limit: %w", err)
		}
	}

	query := url.Values{}
	if c.apiKey != "" {
		query.Set("apiKey", c.apiKey)
	}

	start := time.Now()
	body, err := c.http.Get(ctx, path, query)
	metrics.RecordUpstreamRequest(endpoint, time.Since(start), err)
	if err != nil {
		c.log.WithError(err).WithField("endpoint", endpoint).Debug("polygon request failed")
		return nil, svcerrors.Upstream(serviceName, err)
	}
	return body, nil
}

func parseMarketStatus(body []byte) (market.Status, error) {
	if !gjson.ValidBytes(body) {
		return market.Status{}, svcerrors.Upstream(serviceName, fmt.Errorf("invalid market status payload"))
	}
	doc := gjson.ParseBytes(body)

	marketField := doc.Get("market")
	if !marketField.Exists() || marketField.String() == "" {
		return market.Status{}, svcerrors.Upstream(serviceName, fmt.Errorf("market status payload missing market field"))
	}

	status := market.Status{Market: marketField.String()}
	if raw := doc.Get("serverTime").String(); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			status.ServerTime = ts
		}
	}
	if exchanges := doc.Get("exchanges"); exchanges.IsObject() {
		status.Exchanges = make(map[string]string)
		exchanges.ForEach(func(key, value gjson.Result) bool {
			status.Exchanges[key.String()] = value.String()
			return true
		})
	}
	return status, nil
}

func parseGainers(body []byte) ([]market.TickerSnapshot, error) {
	if !gjson.ValidBytes(body) {
		return nil, svcerrors.Upstream(serviceName, fmt.Errorf("invalid gainers payload"))
	}
	doc := gjson.ParseBytes(body)
	if status := doc.Get("status").String(); status != "" && !strings.EqualFold(status, "OK") {
		return nil, svcerrors.Upstream(serviceName, fmt.Errorf("gainers snapshot status %s: %s", status, doc.Get("error").String()))
	}

	tickers := doc.Get("tickers").Array()
	out := make([]market.TickerSnapshot, 0, len(tickers))
	for i, item := range tickers {
		symbol := item.Get("ticker").String()
		price := item.Get("lastTrade.p")
		if !price.Exists() {
			return nil, svcerrors.Upstream(serviceName, fmt.Errorf("ticker %d (%s) has no last trade price", i, symbol))
		}

		snap := market.TickerSnapshot{
			Ticker:              symbol,
			LastTradePrice:      price.Float(),
			TodaysChange:        item.Get("todaysChange").Float(),
			TodaysChangePercent: item.Get("todaysChangePerc").Float(),
		}
		if vol := item.Get("day.v"); vol.Exists() && vol.Type == gjson.Number {
			v := vol.Float()
			snap.DayVolume = &v
		}
		if updated := item.Get("updated").Int(); updated > 0 {
			snap.UpdatedAt = time.Unix(0, updated).UTC()
		}
		out = append(out, snap)
	}
	return out, nil
}
