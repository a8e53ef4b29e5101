package engine

import (
	"fmt"
	"math"
	"time"

	"microcap_portfolio/internal/models"
	"microcap_portfolio/internal/sizing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Limits are the portfolio-wide constraints applied to every position.
type Limits struct {
	MicroCapLimit float64 // skip tickers whose market cap exceeds this (USD)
	ADVPctCap     float64 // max order size as a fraction of 3-month ADV
}

// DefaultLimits match the historical knobs: $300M cap, 15% of ADV.
var DefaultLimits = Limits{MicroCapLimit: 300_000_000, ADVPctCap: 0.15}

// Input is everything Evaluate needs for one position.
type Input struct {
	Config  models.PositionConfig
	State   models.StatePosition
	Market  models.MarketSnapshot
	Capital float64
	Today   time.Time
	Limits  Limits
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Orders    []models.OrderSuggestion
	Warnings  []string
	NextState models.StatePosition
}

// Evaluate applies the position rules in their fixed priority order:
// micro-cap gate, tranche entry, trailing stop upkeep, spike tightening,
// hard stop, trailing breach, pre-event trim, take-profit ladder.
//
// Evaluate never advances TrancheIndexFilled; only ApplyFill does.
func Evaluate(in Input) Decision {
	cfg, st, mkt := in.Config, in.State, in.Market
	d := Decision{NextState: st}

	// 1. Micro-cap gate
	if mkt.MarketCap != nil && *mkt.MarketCap > in.Limits.MicroCapLimit {
		d.Warnings = append(d.Warnings, fmt.Sprintf("%s: market cap %s exceeds %s, SKIP",
			cfg.Ticker, FormatUSD(*mkt.MarketCap), FormatUSD(in.Limits.MicroCapLimit)))
		return d
	}

	price, ok := mkt.ValidPrice()
	if !ok {
		return d
	}
	newOrder := orderFactory(cfg.Ticker, in.Today)

	// 2. Tranche entry
	desired := sizing.DesiredShares(in.Capital, cfg.TargetWeight, price)
	next := st.TrancheIndexFilled + 1
	if desired > st.Shares && next >= 0 && next < len(cfg.Entry.Tranches) {
		trancheShares := int64(math.Floor(float64(desired) * cfg.Entry.Tranches[next]))
		if advCap, bounded := sizing.MaxSharesByADV(mkt.ADV3m, in.Limits.ADVPctCap); bounded && advCap < trancheShares {
			trancheShares = advCap
		}

		dip := 0.0
		if next < len(cfg.Entry.BuyDipPercents) {
			dip = cfg.Entry.BuyDipPercents[next]
		}
		reason := "Initial tranche"
		if dip != 0 {
			reason = fmt.Sprintf("Tranche on dip %s", FormatPercent(dip/100))
		}

		if trancheShares > 0 {
			hint := round4(price * (1 + dip/100))
			d.Orders = append(d.Orders, newOrder(models.SideBuy, trancheShares, &hint, reason))
		}
	}

	// 3. Trailing stop upkeep, keeping a spike-tightened percentage if any
	trailingPct := st.TrailingStopPct
	if trailingPct <= 0 {
		trailingPct = cfg.Stops.TrailingPct
	}
	nextState := UpdateTrailingStop(st, price, trailingPct)

	// 4. Spike rule (one-way: there is no loosening path)
	if sr := cfg.SpikeRule; sr != nil && mkt.ChangePct != nil && *mkt.ChangePct >= sr.PctUpDay*100 {
		nextState = UpdateTrailingStop(nextState, price, sr.NewTrailingPct)
	}
	d.NextState = nextState

	avgCost := st.AvgCost.InexactFloat64()

	// 5. Hard stop
	if hs := cfg.Stops.HardStopPct; hs != nil && *hs > 0 && avgCost > 0 && st.Shares > 0 {
		if price <= avgCost*(1-*hs) {
			d.Orders = append(d.Orders, newOrder(models.SideSell, st.Shares, &price,
				fmt.Sprintf("Hard stop %s", FormatPercent(*hs))))
			return d
		}
	}

	// 6. Trailing stop breach. Returns like the hard stop, so no trim or take-profit rides along with a full exit.
	if stop := nextState.TrailingStopPrice; stop != nil && st.Shares > 0 {
		if price <= stop.InexactFloat64() {
			d.Orders = append(d.Orders, newOrder(models.SideSell, st.Shares, &price,
				fmt.Sprintf("Trailing stop %s", FormatPercent(nextState.TrailingStopPct))))
			return d
		}
	}

	// 7. Pre-event trim. No "already trimmed" marker: it fires every cycle the window is open.
	if pe := cfg.PreEventTrim; pe != nil && st.Shares > 0 && WithinPreEventWindow(pe, in.Today) {
		trim := int64(math.Floor(float64(st.Shares) * pe.TrimPctOfPosition))
		if trim > 0 {
			d.Orders = append(d.Orders, newOrder(models.SideSell, trim, &price, "Pre-event risk trim"))
		}
	}

	// 8. Take-profit ladder. Like the trim, every level still under price re-fires.
	if avgCost > 0 && st.Shares > 0 {
		for _, level := range cfg.TakeProfitLevels {
			if price >= avgCost*(1+level) {
				d.Orders = append(d.Orders, newOrder(models.SideSell, LadderShares(st.Shares), &price,
					fmt.Sprintf("Take-profit hit +%s", FormatPercent(level))))
			}
		}
	}

	return d
}

// LadderShares is the slice sold at each take-profit level: a third, at least one.
func LadderShares(shares int64) int64 {
	if n := shares / 3; n > 1 {
		return n
	}
	return 1
}

// WithinPreEventWindow reports whether today lies in
// [eventDate - WindowDaysMax, eventDate - WindowDaysMin], counted in calendar days.
func WithinPreEventWindow(pe *models.PreEventTrim, today time.Time) bool {
	days, ok := DaysToEvent(pe, today)
	if !ok {
		return false
	}
	return days >= pe.WindowDaysMin && days <= pe.WindowDaysMax
}

// DaysToEvent counts calendar days from today to the event date.
func DaysToEvent(pe *models.PreEventTrim, today time.Time) (int, bool) {
	if pe == nil || pe.EventDate == nil || *pe.EventDate == "" {
		return 0, false
	}
	event, err := time.ParseInLocation(DateLayout, *pe.EventDate, time.UTC)
	if err != nil {
		return 0, false
	}
	y, m, dd := today.Date()
	start := time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
	return int(math.Round(event.Sub(start).Hours() / 24)), true
}

// DateLayout is the YYYY-MM-DD format used for event dates and run dates.
const DateLayout = "2006-01-02"

func orderFactory(ticker string, now time.Time) func(models.Side, int64, *float64, string) models.OrderSuggestion {
	return func(side models.Side, shares int64, hint *float64, reason string) models.OrderSuggestion {
		if shares < 0 {
			shares = 0
		}
		var h *float64
		if hint != nil {
			v := *hint
			h = &v
		}
		return models.OrderSuggestion{
			ID:        uuid.New().String(),
			Time:      now,
			Side:      side,
			Type:      "LIMIT",
			Ticker:    ticker,
			Shares:    shares,
			PriceHint: h,
			Reason:    reason,
		}
	}
}

func round4(v float64) float64 {
	return decimal.NewFromFloat(v).Round(4).InexactFloat64()
}
