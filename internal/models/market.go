package models

import (
	"math"
	"time"
)

// MarketSnapshot is the per-ticker market data consumed by the engine.
// Every field is nullable; Err is set when the fetch failed or timed out,
// in which case all the numeric fields are nil.
type MarketSnapshot struct {
	Ticker    string   `json:"ticker"`
	Price     *float64 `json:"price"`
	ChangePct *float64 `json:"change_pct"` // percent, e.g. 15.2 for +15.2%
	PrevClose *float64 `json:"prev_close"`
	DayHigh   *float64 `json:"day_high"`
	DayLow    *float64 `json:"day_low"`
	MarketCap *float64 `json:"market_cap"`
	ADV3m     *float64 `json:"adv_3m"` // 3-month average daily volume, in shares
	Err       error    `json:"-"`
}

// ValidPrice returns the price when it is usable by the price-driven rules.
func (m MarketSnapshot) ValidPrice() (float64, bool) {
	if m.Price == nil {
		return 0, false
	}
	p := *m.Price
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return 0, false
	}
	return p, true
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderSuggestion is a proposed order. It is never sent to a broker.
type OrderSuggestion struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Side      Side      `json:"side"`
	Type      string    `json:"type"` // always LIMIT
	Ticker    string    `json:"ticker"`
	Shares    int64     `json:"shares"`
	PriceHint *float64  `json:"price_hint"`
	Reason    string    `json:"reason"`
}

// Float returns a pointer to v. Handy for the nullable snapshot fields.
func Float(v float64) *float64 {
	return &v
}
