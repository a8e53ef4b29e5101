package alpaca

import (
	"context"
	"fmt"
	"time"

	"microcap_portfolio/internal/market"
	"microcap_portfolio/internal/models"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// barLookback covers the 63 trading days of the ADV window plus holidays.
const barLookback = 100 * 24 * time.Hour

// Provider implements the market interfaces for Alpaca.
// Credentials come from APCA_API_KEY_ID / APCA_API_SECRET_KEY.
type Provider struct {
	mdClient    *marketdata.Client
	tradeClient *alpaca.Client
	feed        marketdata.Feed
	loc         *time.Location
	now         func() time.Time
}

// Ensure Provider implements the interfaces
var (
	_ market.SnapshotProvider = (*Provider)(nil)
	_ market.AccountProvider  = (*Provider)(nil)
)

// NewProvider returns a new Alpaca provider reading the given feed ("iex" or "sip").
// Bars are bucketed into days in loc.
func NewProvider(feed string, loc *time.Location) *Provider {
	if loc == nil {
		loc = time.UTC
	}
	return &Provider{
		mdClient:    marketdata.NewClient(marketdata.ClientOpts{}),
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{}),
		feed:        marketdata.Feed(feed),
		loc:         loc,
		now:         time.Now,
	}
}

// --- Market Data ---

// Snapshot combines the latest trade with ~3 months of daily bars.
// Alpaca does not publish market capitalization, so MarketCap stays nil.
func (p *Provider) Snapshot(ctx context.Context, ticker string) (models.MarketSnapshot, error) {
	type result struct {
		snap models.MarketSnapshot
		err  error
	}
	// the SDK calls take no context; run them aside so ctx can abandon them
	done := make(chan result, 1)
	go func() {
		s, err := p.fetch(ticker)
		done <- result{s, err}
	}()

	select {
	case r := <-done:
		return r.snap, r.err
	case <-ctx.Done():
		return models.MarketSnapshot{}, ctx.Err()
	}
}

func (p *Provider) fetch(ticker string) (models.MarketSnapshot, error) {
	var last *float64
	trade, err := p.mdClient.GetLatestTrade(ticker, marketdata.GetLatestTradeRequest{Feed: p.feed})
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("latest trade: %w", err)
	}
	if trade != nil && trade.Price > 0 {
		last = models.Float(trade.Price)
	}

	now := p.now().In(p.loc)
	raw, err := p.mdClient.GetBars(ticker, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     now.Add(-barLookback),
		Feed:      p.feed,
	})
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("daily bars: %w", err)
	}

	if last == nil && len(raw) == 0 {
		return models.MarketSnapshot{}, fmt.Errorf("%w for %s", market.ErrNoData, ticker)
	}

	bars := make([]market.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, market.Bar{
			Time:   b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	return market.BuildSnapshot(ticker, last, bars, now), nil
}

// --- Account ---

func (p *Provider) Equity(ctx context.Context) (decimal.Decimal, error) {
	acct, err := p.account(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Equity, nil
}

func (p *Provider) Cash(ctx context.Context) (decimal.Decimal, error) {
	acct, err := p.account(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Cash, nil
}

func (p *Provider) account(ctx context.Context) (*alpaca.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acct, err := p.tradeClient.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}
