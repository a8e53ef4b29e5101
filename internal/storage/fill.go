package storage

import (
	"microcap_portfolio/internal/models"

	"github.com/shopspring/decimal"
)

// ApplyFill books an executed order into a position and returns the new state.
// The input is not modified.
//
// A BUY is the only event that advances TrancheIndexFilled, by exactly one,
// whatever the size of the fill.
func ApplyFill(st models.StatePosition, order models.OrderSuggestion, execPrice decimal.Decimal) models.StatePosition {
	next := st
	qty := decimal.NewFromInt(order.Shares)

	switch order.Side {
	case models.SideBuy:
		cost := execPrice.Mul(qty)
		newShares := st.Shares + order.Shares
		if newShares == 0 {
			next.AvgCost = decimal.Zero
		} else {
			next.AvgCost = st.AvgCost.Mul(decimal.NewFromInt(st.Shares)).Add(cost).Div(decimal.NewFromInt(newShares))
		}
		next.Shares = newShares
		next.Invested = st.Invested.Add(cost)
		next.TrancheIndexFilled = st.TrancheIndexFilled + 1

	case models.SideSell:
		next.RealizedPnL = st.RealizedPnL.Add(execPrice.Sub(st.AvgCost).Mul(qty))
		next.Invested = decimal.Max(decimal.Zero, st.Invested.Sub(st.AvgCost.Mul(qty)))
		next.Shares = st.Shares - order.Shares
		if next.Shares <= 0 {
			next.Shares = 0
			next.AvgCost = decimal.Zero
		}
	}

	next.LastAction = &models.LastAction{Order: order, ExecutedPrice: execPrice}
	return next
}
