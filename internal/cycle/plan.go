package cycle

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"

	"microcap_portfolio/internal/ai"
	"microcap_portfolio/internal/engine"
	"microcap_portfolio/internal/models"
	"microcap_portfolio/internal/sizing"

	"github.com/shopspring/decimal"
)

// PlanRequest describes a one-off trade idea to size.
type PlanRequest struct {
	Ticker string
	Entry  float64
	Stop   float64
	Cash   *float64 // available cash override
}

// Plan is a sized proposal with its take-profit levels and review verdict.
type Plan struct {
	Ticker   string
	Entry    float64
	Stop     float64
	R        float64 // per-share risk
	TP1      float64 // entry + 1.5R
	TP2      float64 // entry + 3R
	Capital  float64
	Cash     float64
	ADV3m    *float64
	Sizing   sizing.Result
	RiskUSD  float64
	Review   ai.ReviewDecision
	Warnings []string
}

// Plan sizes a one-off order through the sizing resolver: weight, risk,
// cash and ADV caps, smallest wins. Nothing is persisted.
func (r *Runner) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	if !(req.Entry > 0) {
		return nil, sizing.ErrInvalidEntry
	}

	state, err := r.Store.Load(r.portfolio.Positions, decimal.NewFromFloat(r.portfolio.Capital))
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	p := &Plan{Ticker: req.Ticker, Entry: req.Entry, Stop: req.Stop}

	p.Capital = r.baseCapital()
	p.Cash = r.availableCash(ctx, req, p.Capital, state.Positions)

	snap := r.fetch(ctx, []string{req.Ticker})[req.Ticker]
	if snap.Err != nil {
		p.Warnings = append(p.Warnings, fmt.Sprintf("%s: no market data, ADV cap not applied", req.Ticker))
	}
	p.ADV3m = snap.ADV3m
	if mc := snap.MarketCap; mc != nil && *mc > r.cfg.MicroCapLimit {
		p.Warnings = append(p.Warnings, fmt.Sprintf("%s: market cap %s exceeds %s",
			req.Ticker, engine.FormatUSD(*mc), engine.FormatUSD(r.cfg.MicroCapLimit)))
	}

	res, err := sizing.Resolve(sizing.Args{
		Capital:       p.Capital,
		AvailableCash: p.Cash,
		Entry:         req.Entry,
		Stop:          req.Stop,
		ADV3m:         snap.ADV3m,
		TargetWeight:  r.cfg.SizingTargetWeight,
		RiskPct:       r.cfg.SizingRiskPct,
		ADVPctCap:     r.cfg.ADVPctCap,
	})
	if err != nil {
		return nil, err
	}
	p.Sizing = res

	p.R = math.Max(sizing.MinPerShareRisk, req.Entry-req.Stop)
	p.TP1 = round2(req.Entry + 1.5*p.R)
	p.TP2 = round2(req.Entry + 3*p.R)
	p.RiskUSD = round2(float64(res.Shares) * p.R)

	p.Review = ai.ReviewDecision{Ticker: req.Ticker, Allow: true, Rank: 1, Reasons: []string{"no reviewer"}}
	if r.Reviewer != nil {
		cand := ai.ReviewCandidate{
			Ticker:   req.Ticker,
			Entry:    req.Entry,
			Stop:     req.Stop,
			TP1:      p.TP1,
			TP2:      p.TP2,
			Shares:   res.Shares,
			Cost:     res.Cost,
			Limiting: string(res.Limiting),
		}
		if snap.ADV3m != nil {
			cand.ADV3m = *snap.ADV3m
		}
		for _, d := range r.Reviewer.Review(ctx, []ai.ReviewCandidate{cand}) {
			if d.Ticker == req.Ticker {
				p.Review = d
				break
			}
		}
	}
	return p, nil
}

// availableCash prefers the explicit value, then broker cash, then
// capital minus what state says is invested.
func (r *Runner) availableCash(ctx context.Context, req PlanRequest, capital float64, positions map[string]*models.StatePosition) float64 {
	if req.Cash != nil {
		return *req.Cash
	}
	if r.Account != nil {
		cash, err := r.Account.Cash(ctx)
		if err == nil {
			return cash.InexactFloat64()
		}
		log.Printf("WARNING: Broker cash unavailable, estimating from state: %v", err)
	}
	invested := decimal.Zero
	for _, st := range positions {
		invested = invested.Add(st.Invested)
	}
	return math.Max(0, capital-invested.InexactFloat64())
}

// Render prints the plan on one line plus the review verdict.
func (p *Plan) Render(w io.Writer) {
	fmt.Fprintf(w, "\nPLAN - %s (capital %s, cash %s)\n", p.Ticker, engine.FormatUSD(p.Capital), engine.FormatUSD(p.Cash))
	fmt.Fprintf(w, "BUY %s | ENTRY %.2f | STOP %.2f | TP1 %.2f | TP2 %.2f | R %.4f | QTY %d | NOTIONAL %.2f | RISK$ %.2f | limited by %s\n",
		p.Ticker, p.Entry, p.Stop, p.TP1, p.TP2, p.R, p.Sizing.Shares, p.Sizing.Cost, p.RiskUSD, p.Sizing.Limiting)
	for _, warn := range p.Warnings {
		fmt.Fprintln(w, "WARNING:", warn)
	}
	verdict := "ALLOW"
	if !p.Review.Allow {
		verdict = "REJECT"
	}
	fmt.Fprintf(w, "Review: %s (confidence %.2f) %v\n", verdict, p.Review.Confidence, p.Review.Reasons)
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
