package market

import (
	"context"

	"github.com/R3E-Network/marketpulse/internal/app/domain/market"
)

// Fetcher retrieves market data from the upstream provider.
type Fetcher interface {
	GetMarketStatus(ctx context.Context) (market.Status, error)
	GetGainers(ctx context.Context) ([]market.TickerSnapshot, error)
}

// FetcherFuncs adapts a pair of functions to the Fetcher interface. A nil
// function returns zero values.
type FetcherFuncs struct {
	Status  func(ctx context.Context) (market.Status, error)
	Gainers func(ctx context.Context) ([]market.TickerSnapshot, error)
}

func (f FetcherFuncs) GetMarketStatus(ctx context.Context) (market.Status, error) {
	if f.Status == nil {
		return market.Status{}, nil
	}
	return f.Status(ctx)
}

func (f FetcherFuncs) GetGainers(ctx context.Context) ([]market.TickerSnapshot, error) {
	if f.Gainers == nil {
		return nil, nil
	}
	return f.Gainers(ctx)
}
