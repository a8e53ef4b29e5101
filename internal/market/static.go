package market

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"microcap_portfolio/internal/models"
)

// Static serves snapshots from a JSON file keyed by ticker, e.g.
//
//	{"OMER": {"price": 9.5, "market_cap": 250000000, "adv_3m": 1200000}}
//
// With a Base provider set it becomes an overlay: fields the base leaves
// nil are taken from the file. Alpaca has no market cap, so this is how
// the micro-cap gate gets its input.
type Static struct {
	Base      SnapshotProvider
	Snapshots map[string]models.MarketSnapshot
}

var _ SnapshotProvider = (*Static)(nil)

// LoadStatic reads a snapshot file.
func LoadStatic(path string, base SnapshotProvider) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}
	var snaps map[string]models.MarketSnapshot
	if err := json.Unmarshal(b, &snaps); err != nil {
		return nil, fmt.Errorf("parse snapshot file %s: %w", path, err)
	}
	return &Static{Base: base, Snapshots: snaps}, nil
}

func (s *Static) Snapshot(ctx context.Context, ticker string) (models.MarketSnapshot, error) {
	file, inFile := s.Snapshots[ticker]
	if s.Base == nil {
		if !inFile {
			return models.MarketSnapshot{}, fmt.Errorf("%w for %s", ErrNoData, ticker)
		}
		file.Ticker = ticker
		return file, nil
	}

	snap, err := s.Base.Snapshot(ctx, ticker)
	if err != nil {
		return snap, err
	}
	if inFile {
		fill(&snap.Price, file.Price)
		fill(&snap.ChangePct, file.ChangePct)
		fill(&snap.PrevClose, file.PrevClose)
		fill(&snap.DayHigh, file.DayHigh)
		fill(&snap.DayLow, file.DayLow)
		fill(&snap.MarketCap, file.MarketCap)
		fill(&snap.ADV3m, file.ADV3m)
	}
	return snap, nil
}

func fill(dst **float64, src *float64) {
	if *dst == nil && src != nil {
		v := *src
		*dst = &v
	}
}
