package cycle

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"microcap_portfolio/internal/engine"
	"microcap_portfolio/internal/models"

	"github.com/shopspring/decimal"
)

// StatusRow is one ticker of the status report.
type StatusRow struct {
	Ticker      string     `json:"ticker"`
	Last        *float64   `json:"last"`
	Shares      int64      `json:"shares"`
	AvgCost     *float64   `json:"avg_cost"`
	TrailingPct float64    `json:"trailing_pct"`
	Stop        *float64   `json:"stop"`
	TakeProfits []TPStatus `json:"take_profits"`
	Event       string     `json:"event"`
}

// TPStatus is one take-profit level against the last price.
type TPStatus struct {
	Level  float64 `json:"level"`
	Target float64 `json:"target"`
	Hit    bool    `json:"hit"`
}

// StatusReport is what `status` prints and exports.
type StatusReport struct {
	Date string      `json:"date"`
	Rows []StatusRow `json:"rows"`
	File string      `json:"-"`
}

// Status shows stops, take-profit progress and event windows for every
// configured ticker. Positions are not advanced; the report is exported
// to OUT_DIR/status-<date>.json.
func (r *Runner) Status(ctx context.Context) (*StatusReport, error) {
	today := r.Today()
	state, err := r.Store.Load(r.portfolio.Positions, decimal.NewFromFloat(r.portfolio.Capital))
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	snaps := r.fetch(ctx, r.portfolio.Tickers())

	rep := &StatusReport{Date: today.Format(engine.DateLayout)}
	for _, pc := range r.portfolio.Positions {
		st := state.Positions[pc.Ticker]
		row := StatusRow{
			Ticker:      pc.Ticker,
			Shares:      st.Shares,
			TrailingPct: st.TrailingStopPct,
			TakeProfits: []TPStatus{},
		}
		if row.TrailingPct <= 0 {
			row.TrailingPct = pc.Stops.TrailingPct
		}
		last, hasLast := snaps[pc.Ticker].ValidPrice()
		if hasLast {
			row.Last = models.Float(last)
		}
		if st.TrailingStopPrice != nil {
			row.Stop = models.Float(st.TrailingStopPrice.InexactFloat64())
		}

		if st.AvgCost.IsPositive() {
			avg := st.AvgCost.InexactFloat64()
			row.AvgCost = models.Float(avg)
			for _, level := range pc.TakeProfitLevels {
				target := st.AvgCost.Mul(decimal.NewFromFloat(1 + level)).Round(4).InexactFloat64()
				row.TakeProfits = append(row.TakeProfits, TPStatus{
					Level:  level,
					Target: target,
					Hit:    hasLast && last >= avg*(1+level),
				})
			}
		}

		row.Event = eventLabel(pc.PreEventTrim, today)
		rep.Rows = append(rep.Rows, row)
	}

	path, err := writeJSON(r.cfg.OutDir, "status-"+rep.Date+".json", rep)
	if err != nil {
		return rep, fmt.Errorf("write status file: %w", err)
	}
	rep.File = path
	return rep, nil
}

func eventLabel(pe *models.PreEventTrim, today time.Time) string {
	days, ok := engine.DaysToEvent(pe, today)
	if !ok {
		return dash
	}
	if days < 0 {
		days = 0
	}
	label := fmt.Sprintf("%s (%dd)", *pe.EventDate, days)
	if engine.WithinPreEventWindow(pe, today) {
		label += fmt.Sprintf(" IN WINDOW D-%d..D-%d", pe.WindowDaysMax, pe.WindowDaysMin)
	}
	return label
}

// Render prints the status table.
func (rep *StatusReport) Render(w io.Writer) {
	fmt.Fprintf(w, "\n=== STATUS - %s ===\n", rep.Date)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Ticker\tLast\tShares\tAvg cost\tTrail %\tStop\tTP1\tTP2\tTP3\tEvent window\t")
	for _, r := range rep.Rows {
		tps := make([]string, 3)
		for i := range tps {
			tps[i] = dash
			if i < len(r.TakeProfits) {
				tp := r.TakeProfits[i]
				state := "pending"
				if tp.Hit {
					state = "HIT"
				}
				tps[i] = fmt.Sprintf("%s @ %.4f %s", engine.FormatPercent(tp.Level), tp.Target, state)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Ticker, usd4(r.Last), r.Shares, usd4(r.AvgCost), engine.FormatPercent(r.TrailingPct),
			usd4(r.Stop), strings.Join(tps, "\t"), r.Event+"\t")
	}
	tw.Flush()

	if rep.File != "" {
		fmt.Fprintf(w, "\nExported -> %s\n", rep.File)
	}
}

// TargetLevel is a take-profit order to rest at the broker.
type TargetLevel struct {
	Level  float64
	Price  float64
	Shares int64
}

// TargetRow lists the ladder of one held ticker.
type TargetRow struct {
	Ticker  string
	Shares  int64
	AvgCost *float64
	Levels  []TargetLevel
}

// Targets computes the take-profit ladder of every position from state
// alone. Each level sells a third of what the previous levels left.
func (r *Runner) Targets() ([]TargetRow, error) {
	state, err := r.Store.Load(r.portfolio.Positions, decimal.NewFromFloat(r.portfolio.Capital))
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	var rows []TargetRow
	for _, pc := range r.portfolio.Positions {
		st := state.Positions[pc.Ticker]
		row := TargetRow{Ticker: pc.Ticker, Shares: st.Shares}
		if st.AvgCost.IsPositive() {
			row.AvgCost = models.Float(st.AvgCost.InexactFloat64())
		}
		if st.Shares > 0 && st.AvgCost.IsPositive() {
			remaining := st.Shares
			for _, level := range pc.TakeProfitLevels {
				qty := engine.LadderShares(remaining)
				row.Levels = append(row.Levels, TargetLevel{
					Level:  level,
					Price:  st.AvgCost.Mul(decimal.NewFromFloat(1 + level)).Round(4).InexactFloat64(),
					Shares: qty,
				})
				remaining -= qty
				if remaining < 0 {
					remaining = 0
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// RenderTargets prints the ladder as GTC limit orders to place.
func RenderTargets(w io.Writer, date string, rows []TargetRow) {
	fmt.Fprintf(w, "\n=== TARGETS (take-profits to place GTC) - %s ===\n", date)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Ticker\tShares\tAvg cost\tTP1\tTP2\tTP3\t")
	for _, r := range rows {
		cols := []string{dash, dash, dash}
		for i, l := range r.Levels {
			if i >= len(cols) {
				break
			}
			cols[i] = fmt.Sprintf("$%.4f | %s | %d sh", l.Price, engine.FormatPercent(l.Level), l.Shares)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t\n", r.Ticker, r.Shares, usd4(r.AvgCost), strings.Join(cols, "\t"))
	}
	tw.Flush()
	fmt.Fprintln(w, "\nPlace limit GTC orders at the prices above, with the quantities shown.")
}

func usd4(p *float64) string {
	if p == nil {
		return dash
	}
	return fmt.Sprintf("$%.4f", *p)
}
