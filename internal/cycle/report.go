package cycle

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"microcap_portfolio/internal/engine"
	"microcap_portfolio/internal/models"

	"github.com/dustin/go-humanize"
)

// Report is the outcome of one cycle.
type Report struct {
	Date        string
	AssumeFills bool
	Capital     float64
	MTM         float64
	Cash        float64
	Rows        []Row
	Orders      []models.OrderSuggestion
	Warnings    []string
	OrdersFile  string
}

// Row is one evaluated ticker.
type Row struct {
	Ticker   string
	Snapshot models.MarketSnapshot
	Position models.StatePosition
	Orders   []models.OrderSuggestion
}

const dash = "-"

// Render prints the market table, warnings, orders and the capital line.
func (rep *Report) Render(w io.Writer) {
	fmt.Fprintf(w, "\n=== MICROCAP PORTFOLIO - %s ===\n", rep.Date)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Ticker\tPrice\tChange %\tMkt Cap ($)\tADV 3m (sh)\tShares\tStop\t")
	for _, r := range rep.Rows {
		s := r.Snapshot
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t\n",
			r.Ticker,
			fmtNum(s.Price),
			changePct(s.ChangePct),
			bigNumber(s.MarketCap),
			bigNumber(s.ADV3m),
			r.Position.Shares,
			stopPrice(r.Position),
		)
	}
	tw.Flush()

	if len(rep.Warnings) > 0 {
		fmt.Fprintln(w, "\nWARNINGS:")
		for _, warn := range rep.Warnings {
			fmt.Fprintln(w, " -", warn)
		}
	}

	if len(rep.Orders) > 0 {
		fmt.Fprintf(w, "\nSuggested Orders (%d) -> %s\n", len(rep.Orders), rep.OrdersFile)
		for _, o := range rep.Orders {
			fmt.Fprintf(w, "%s\t%s\t%d sh @ ~%s  // %s\n", o.Side, o.Ticker, o.Shares, fmtNum(o.PriceHint), o.Reason)
		}
	} else {
		fmt.Fprintln(w, "\nNo orders suggested today.")
	}

	fmt.Fprintf(w, "\nCapital: %s  |  MTM (positions): %s  |  Cash (est.): %s\n",
		engine.FormatUSD(rep.Capital), engine.FormatUSD(rep.MTM), engine.FormatUSD(rep.Cash))
}

func fmtNum(p *float64) string {
	if p == nil {
		return dash
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

func changePct(p *float64) string {
	if p == nil {
		return dash
	}
	return fmt.Sprintf("%+.2f%%", *p)
}

func bigNumber(p *float64) string {
	if p == nil {
		return dash
	}
	return humanize.Comma(int64(*p))
}

func stopPrice(st models.StatePosition) string {
	if st.TrailingStopPrice == nil {
		return dash
	}
	return st.TrailingStopPrice.StringFixed(4)
}
