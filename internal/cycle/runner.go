package cycle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"microcap_portfolio/internal/ai"
	"microcap_portfolio/internal/config"
	"microcap_portfolio/internal/engine"
	"microcap_portfolio/internal/journal"
	"microcap_portfolio/internal/market"
	"microcap_portfolio/internal/metrics"
	"microcap_portfolio/internal/models"
	"microcap_portfolio/internal/storage"

	"github.com/shopspring/decimal"
)

// Recorder persists a finished cycle. Satisfied by *journal.Journal.
type Recorder interface {
	RecordCycle(ctx context.Context, rec journal.CycleRecord) (int64, error)
}

// Notifier delivers the cycle summary. Satisfied by *telegram.Notifier.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Reviewer vets one-off plan proposals. Satisfied by *ai.Client.
type Reviewer interface {
	Review(ctx context.Context, cands []ai.ReviewCandidate) []ai.ReviewDecision
}

// Deps are the collaborators of a Runner. Only Store and Provider are required.
type Deps struct {
	Store    *storage.Store
	Provider market.SnapshotProvider
	Account  market.AccountProvider
	Journal  Recorder
	Notifier Notifier
	Reviewer Reviewer
	Out      io.Writer
	Now      func() time.Time
}

// Runner drives the daily cycle and the read-only reports.
type Runner struct {
	cfg       *config.Config
	portfolio config.Portfolio
	Deps
}

// RunOptions are the per-invocation switches of Run.
type RunOptions struct {
	Capital           *float64 // explicit override, wins over everything
	AssumeFills       bool     // book every suggestion at the snapshot price
	CapitalFromBroker bool     // use account equity as capital
}

func New(cfg *config.Config, p config.Portfolio, d Deps) *Runner {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Out == nil {
		d.Out = os.Stdout
	}
	return &Runner{cfg: cfg, portfolio: p, Deps: d}
}

// Today is the run date in exchange time.
func (r *Runner) Today() time.Time {
	return r.Now().In(config.NyLoc)
}

func (r *Runner) limits() engine.Limits {
	return engine.Limits{MicroCapLimit: r.cfg.MicroCapLimit, ADVPctCap: r.cfg.ADVPctCap}
}

func (r *Runner) fetch(ctx context.Context, tickers []string) map[string]models.MarketSnapshot {
	timeout := time.Duration(r.cfg.FetchTimeoutSec) * time.Second
	return market.FetchSnapshots(ctx, r.Provider, tickers, r.cfg.FetchConcurrency, timeout)
}

// Run executes one daily cycle: resolve capital, load state, fetch every
// ticker, evaluate positions in config order, optionally book paper fills,
// then persist state, orders, journal and metrics.
//
// Nothing is written before every position has been evaluated; an error up
// to and including the state save leaves the previous state file untouched.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	today := r.Today()
	runDate := today.Format(engine.DateLayout)
	log.Printf("Cycle %s started (assumeFills=%v)", runDate, opts.AssumeFills)

	state, err := r.Store.Load(r.portfolio.Positions, decimal.NewFromFloat(r.portfolio.Capital))
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	capital, source := r.resolveCapital(ctx, opts)
	log.Printf("Capital %s (from %s)", engine.FormatUSD(capital), source)
	// recorded for reference only, never read back as a default
	state.Capital = decimal.NewFromFloat(capital)

	snaps := r.fetch(ctx, r.portfolio.Tickers())

	rep := &Report{
		Date:        runDate,
		AssumeFills: opts.AssumeFills,
		Capital:     capital,
		Orders:      []models.OrderSuggestion{},
	}
	fills := make(map[string]decimal.Decimal)
	m := metrics.New()

	for _, pc := range r.portfolio.Positions {
		snap := snaps[pc.Ticker]
		if snap.Err != nil {
			m.ObserveFetchFailure()
		}
		st := *state.Positions[pc.Ticker]

		d := engine.Evaluate(engine.Input{
			Config:  pc,
			State:   st,
			Market:  snap,
			Capital: capital,
			Today:   today,
			Limits:  r.limits(),
		})
		next := d.NextState

		price, hasPrice := snap.ValidPrice()
		if opts.AssumeFills {
			for _, o := range d.Orders {
				px := execPrice(snap, o)
				next = storage.ApplyFill(next, o, px)
				fills[o.ID] = px
				log.Printf("Paper fill: %s %s %d @ %s", o.Side, o.Ticker, o.Shares, px)
			}
		}
		if hasPrice {
			next = engine.UpdateTrailingStop(next, price, next.TrailingStopPct)
		}
		state.Positions[pc.Ticker] = &next

		for _, o := range d.Orders {
			m.ObserveOrder(o)
		}
		rep.Rows = append(rep.Rows, Row{Ticker: pc.Ticker, Snapshot: snap, Position: next, Orders: d.Orders})
		rep.Orders = append(rep.Orders, d.Orders...)
		rep.Warnings = append(rep.Warnings, d.Warnings...)
		if hasPrice {
			rep.MTM += price * float64(next.Shares)
		}
	}
	rep.Cash = rep.Capital - rep.MTM

	if err := r.Store.Save(&state); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}

	path, err := writeJSON(r.cfg.OutDir, "orders-"+runDate+".json", ordersFile{
		Date:        runDate,
		AssumeFills: opts.AssumeFills,
		Orders:      rep.Orders,
	})
	if err != nil {
		return rep, fmt.Errorf("write orders file: %w", err)
	}
	rep.OrdersFile = path

	r.record(ctx, rep, fills, m, state)
	return rep, nil
}

// record runs the side outputs. Their failures are logged, never fatal:
// the state and orders file are already written.
func (r *Runner) record(ctx context.Context, rep *Report, fills map[string]decimal.Decimal, m *metrics.Cycle, state models.PortfolioState) {
	now := r.Now()

	if r.Journal != nil {
		if _, err := r.Journal.RecordCycle(ctx, journal.CycleRecord{
			RunDate:     rep.Date,
			At:          now,
			Capital:     rep.Capital,
			MTM:         rep.MTM,
			Cash:        rep.Cash,
			AssumeFills: rep.AssumeFills,
			Warnings:    rep.Warnings,
			Orders:      rep.Orders,
			Fills:       fills,
		}); err != nil {
			log.Printf("WARNING: Journal write failed: %v", err)
		}
	}

	m.ObserveWarnings(len(rep.Warnings))
	m.SetTotals(rep.Capital, rep.MTM, rep.Cash)
	for _, pc := range r.portfolio.Positions {
		m.SetShares(pc.Ticker, state.Positions[pc.Ticker].Shares)
	}
	if err := m.WriteTextfile(r.cfg.MetricsTextfile, now); err != nil {
		log.Printf("WARNING: %v", err)
	}

	if r.Notifier != nil && (len(rep.Orders) > 0 || len(rep.Warnings) > 0) {
		if err := r.Notifier.Notify(ctx, rep.Summary()); err != nil {
			log.Printf("WARNING: Cycle notification failed: %v", err)
		}
	}
}

// resolveCapital picks, in order: explicit override, broker equity (when
// asked for and reachable), the portfolio file. Overrides last one run.
func (r *Runner) resolveCapital(ctx context.Context, opts RunOptions) (float64, string) {
	if opts.Capital != nil && *opts.Capital > 0 {
		return *opts.Capital, "override"
	}
	if (opts.CapitalFromBroker || r.cfg.CapitalSyncWithBroker) && r.Account != nil {
		eq, err := r.Account.Equity(ctx)
		switch {
		case err != nil:
			log.Printf("WARNING: Broker equity unavailable, falling back: %v", err)
		case eq.IsPositive():
			return eq.InexactFloat64(), "broker"
		default:
			log.Printf("WARNING: Broker equity is %s, falling back", eq)
		}
	}
	return r.baseCapital(), "portfolio"
}

// baseCapital is the portfolio file's capital, else CAPITAL_DEFAULT.
func (r *Runner) baseCapital() float64 {
	if r.portfolio.Capital > 0 {
		return r.portfolio.Capital
	}
	return r.cfg.CapitalDefault
}

// execPrice is the paper-fill price: the snapshot price, else the order's
// hint, else zero.
func execPrice(snap models.MarketSnapshot, o models.OrderSuggestion) decimal.Decimal {
	if p, ok := snap.ValidPrice(); ok {
		return decimal.NewFromFloat(p)
	}
	if o.PriceHint != nil {
		return decimal.NewFromFloat(*o.PriceHint)
	}
	return decimal.Zero
}

type ordersFile struct {
	Date        string                   `json:"date"`
	AssumeFills bool                     `json:"assumeFills"`
	Orders      []models.OrderSuggestion `json:"orders"`
}

// writeJSON writes v as indented JSON to dir/name, creating dir.
func writeJSON(dir, name string, v any) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

// Summary is the short text sent at the end of a cycle.
func (rep *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Portfolio cycle %s*\n", rep.Date)
	fmt.Fprintf(&b, "Capital %s | MTM %s | Cash (est.) %s\n",
		engine.FormatUSD(rep.Capital), engine.FormatUSD(rep.MTM), engine.FormatUSD(rep.Cash))
	if len(rep.Orders) > 0 {
		mode := "suggested"
		if rep.AssumeFills {
			mode = "paper-filled"
		}
		fmt.Fprintf(&b, "\nOrders (%d, %s):\n", len(rep.Orders), mode)
		for _, o := range rep.Orders {
			fmt.Fprintf(&b, "%s %s %d @ ~%s (%s)\n", o.Side, o.Ticker, o.Shares, fmtNum(o.PriceHint), o.Reason)
		}
	}
	if len(rep.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range rep.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}
