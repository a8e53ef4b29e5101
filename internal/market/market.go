package market

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"microcap_portfolio/internal/models"

	"github.com/shopspring/decimal"
)

// SnapshotProvider is an Interface.
// Anything that can produce a daily snapshot for a ticker satisfies it:
// the Alpaca client, a static file, or a mock in tests.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, ticker string) (models.MarketSnapshot, error)
}

// AccountProvider reads broker account balances. Only used to sync capital.
type AccountProvider interface {
	Equity(ctx context.Context) (decimal.Decimal, error)
	Cash(ctx context.Context) (decimal.Decimal, error)
}

// ErrNoData is returned when the source has nothing for a ticker.
var ErrNoData = errors.New("no market data")

// ADVWindow is the number of daily bars averaged for the 3-month ADV.
const ADVWindow = 63

// Bar is one daily OHLCV candle.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// BuildSnapshot derives a snapshot from the latest trade and recent daily bars
// (oldest first). When the last bar is today's, the one before it is the
// previous close; otherwise the last bar is.
func BuildSnapshot(ticker string, last *float64, bars []Bar, today time.Time) models.MarketSnapshot {
	s := models.MarketSnapshot{Ticker: ticker}
	if last != nil && *last > 0 {
		s.Price = models.Float(*last)
	}
	if len(bars) == 0 {
		return s
	}

	y, m, d := today.Date()
	newest := bars[len(bars)-1]
	ny, nm, nd := newest.Time.In(today.Location()).Date()
	history := bars
	if ny == y && nm == m && nd == d {
		s.DayHigh = models.Float(newest.High)
		s.DayLow = models.Float(newest.Low)
		if s.Price == nil && newest.Close > 0 {
			s.Price = models.Float(newest.Close)
		}
		history = bars[:len(bars)-1]
	}

	if len(history) > 0 {
		prev := history[len(history)-1].Close
		if prev > 0 {
			s.PrevClose = models.Float(prev)
			if s.Price != nil {
				s.ChangePct = models.Float((*s.Price - prev) * 100 / prev)
			}
		}
	}
	if s.Price == nil && s.PrevClose != nil {
		s.Price = models.Float(*s.PrevClose)
	}

	// today's bar is partial; average completed sessions only
	window := history
	if len(window) > ADVWindow {
		window = window[len(window)-ADVWindow:]
	}
	total := 0.0
	for _, b := range window {
		total += b.Volume
	}
	if total > 0 {
		s.ADV3m = models.Float(total / float64(len(window)))
	}
	return s
}

// FetchSnapshots fetches every ticker with at most concurrency requests in
// flight. A failed or timed-out ticker gets an empty snapshot carrying Err,
// so one bad symbol never aborts the cycle.
func FetchSnapshots(ctx context.Context, p SnapshotProvider, tickers []string, concurrency int, timeout time.Duration) map[string]models.MarketSnapshot {
	if concurrency < 1 {
		concurrency = 1
	}

	out := make(map[string]models.MarketSnapshot, len(tickers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for _, t := range tickers {
		wg.Add(1)
		go func(ticker string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fctx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				fctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			snap, err := p.Snapshot(fctx, ticker)
			if err != nil {
				log.Printf("WARNING: Snapshot for %s failed: %v", ticker, err)
				snap = models.MarketSnapshot{Ticker: ticker, Err: fmt.Errorf("%s: %w", ticker, err)}
			}
			snap.Ticker = ticker

			mu.Lock()
			out[ticker] = snap
			mu.Unlock()
		}(t)
	}

	wg.Wait()
	return out
}
