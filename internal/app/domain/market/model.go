package market

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// NotAvailable is the display value for missing figures.
const NotAvailable = "N/A"

// Status is the upstream view of the current trading session.
type Status struct {
	Market     string            `json:"market"`
	ServerTime time.Time         `json:"serverTime"`
	Exchanges  map[string]string `json:"exchanges,omitempty"`
}

// TickerSnapshot is the raw per-ticker data returned by the upstream API.
type TickerSnapshot struct {
	Ticker              string
	LastTradePrice      float64
	TodaysChange        float64
	TodaysChangePercent float64
	DayVolume           *float64
	UpdatedAt           time.Time
}

// Gainer is a ticker formatted for display.
type Gainer struct {
	Ticker        string `json:"ticker"`
	Price         string `json:"price"`
	Change        string `json:"change"`
	ChangePercent string `json:"changePercent"`
	Volume        string `json:"volume"`
	RSI           string `json:"rsi"`
	Rank          string `json:"rank"`
}

// Snapshot is a formatted gainers list captured at one point in time.
type Snapshot struct {
	ID          string    `json:"id"`
	Gainers     []Gainer  `json:"gainers"`
	Source      string    `json:"source"`
	CollectedAt time.Time `json:"collectedAt"`
}

// Empty reports whether the snapshot has no gainers.
func (s Snapshot) Empty() bool { return len(s.Gainers) == 0 }

// Age returns how long ago the snapshot was collected.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CollectedAt)
}

// NewGainer formats a ticker snapshot.
func NewGainer(t TickerSnapshot) Gainer {
	return Gainer{
		Ticker:        t.Ticker,
		Price:         fmt.Sprintf("%.2f", t.LastTradePrice),
		Change:        fmt.Sprintf("%+.2f", t.TodaysChange),
		ChangePercent: fmt.Sprintf("%+.2f%%", t.TodaysChangePercent),
		Volume:        FormatVolume(t.DayVolume),
		RSI:           NotAvailable,
		Rank:          NotAvailable,
	}
}

// FormatVolume renders a share volume with K/M suffixes.
func FormatVolume(volume *float64) string {
	if volume == nil {
		return NotAvailable
	}
	v := *volume
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NotAvailable
	}
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("%.2fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("%.2fK", v/1_000)
	default:
		return strconv.FormatInt(int64(v), 10)
	}
}
