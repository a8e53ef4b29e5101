package cycle

import (
	"fmt"
	"io"
	"text/tabwriter"

	"microcap_portfolio/internal/engine"
	"microcap_portfolio/internal/journal"
)

// RenderRuns prints journaled cycles, newest first.
func RenderRuns(w io.Writer, runs []journal.RunRow) {
	fmt.Fprintln(w, "\n=== HISTORY ===")
	if len(runs) == 0 {
		fmt.Fprintln(w, "No cycles recorded yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Run\tDate\tCapital\tMTM\tCash (est.)\tOrders\tWarnings\tFills\t")
	for _, r := range runs {
		fills := "suggest"
		if r.AssumeFills {
			fills = "paper"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t\n",
			r.ID, r.RunDate, engine.FormatUSD(r.Capital), engine.FormatUSD(r.MTM), engine.FormatUSD(r.Cash),
			r.Orders, len(r.Warnings), fills)
	}
	tw.Flush()
}

// RenderOrders prints the journaled orders of one run date.
func RenderOrders(w io.Writer, date string, rows []journal.OrderRow) {
	fmt.Fprintf(w, "\n=== ORDERS - %s ===\n", date)
	if len(rows) == 0 {
		fmt.Fprintln(w, "No orders recorded for this date.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Run\tSide\tTicker\tShares\tHint\tFilled @\tReason\t")
	for _, r := range rows {
		exec := dash
		if r.Filled && r.ExecPrice != nil {
			exec = r.ExecPrice.StringFixed(4)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\t\n",
			r.RunID, r.Side, r.Ticker, r.Shares, fmtNum(r.PriceHint), exec, r.Reason)
	}
	tw.Flush()
}
