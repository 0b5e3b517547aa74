// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/R3E-Network/marketpulse/internal/app/domain/market"
)

// ErrUpstream is returned by MockUpstream while failing.
var ErrUpstream = errors.New("upstream unavailable")

// MockUpstream is a test implementation of the market data fetcher. It counts
// calls and can be switched into a failing mode.
type MockUpstream struct {
	mu      sync.RWMutex
	market  string
	tickers []market.TickerSnapshot
	fail    atomic.Bool
	calls   atomic.Int32
}

// NewMockUpstream returns an upstream reporting the given session state and
// gainers.
func NewMockUpstream(session string, tickers ...market.TickerSnapshot) *MockUpstream {
	return &MockUpstream{market: session, tickers: tickers}
}

// SetTickers replaces the gainers returned by later calls.
func (m *MockUpstream) SetTickers(tickers ...market.TickerSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers = tickers
}

// SetFailing toggles ErrUpstream responses.
func (m *MockUpstream) SetFailing(fail bool) { m.fail.Store(fail) }

// Calls reports how many requests were made.
func (m *MockUpstream) Calls() int { return int(m.calls.Load()) }

// GetMarketStatus returns the configured session state.
func (m *MockUpstream) GetMarketStatus(_ context.Context) (market.Status, error) {
	m.calls.Add(1)
	if m.fail.Load() {
		return market.Status{}, ErrUpstream
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return market.Status{Market: m.market}, nil
}

// GetGainers returns a copy of the configured gainers.
func (m *MockUpstream) GetGainers(_ context.Context) ([]market.TickerSnapshot, error) {
	m.calls.Add(1)
	if m.fail.Load() {
		return nil, ErrUpstream
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]market.TickerSnapshot(nil), m.tickers...), nil
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Volume returns a pointer to v for TickerSnapshot.DayVolume.
func Volume(v float64) *float64 { return &v }
