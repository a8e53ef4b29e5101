package engine

import (
	"math"

	"microcap_portfolio/internal/models"

	"github.com/shopspring/decimal"
)

// UpdateTrailingStop ratchets the high watermark up to price and derives the
// stop as round4(HWM * (1 - trailingPct)). The input state is not modified.
//
// A price that is missing (NaN) or non-positive leaves the watermark where it
// was. A stop that cannot be computed, or comes out non-positive, is stored as
// nil so breach checks treat it as not armed.
func UpdateTrailingStop(state models.StatePosition, price float64, trailingPct float64) models.StatePosition {
	next := state

	hwm := state.HighWatermark
	if price > 0 && !math.IsInf(price, 0) {
		if p := decimal.NewFromFloat(price); p.GreaterThan(hwm) {
			hwm = p
		}
	}
	next.HighWatermark = hwm
	next.TrailingStopPct = trailingPct

	raw := hwm.InexactFloat64() * (1 - trailingPct)
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 {
		next.TrailingStopPrice = nil
		return next
	}
	stop := decimal.NewFromFloat(raw).Round(4)
	next.TrailingStopPrice = &stop
	return next
}
