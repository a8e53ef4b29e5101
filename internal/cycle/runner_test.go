package cycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"microcap_portfolio/internal/config"
	"microcap_portfolio/internal/journal"
	"microcap_portfolio/internal/models"
	"microcap_portfolio/internal/storage"

	"github.com/shopspring/decimal"
)

// MockProvider serves canned snapshots; tickers in Errs fail.
type MockProvider struct {
	Snaps map[string]models.MarketSnapshot
	Errs  map[string]error
}

func (m *MockProvider) Snapshot(ctx context.Context, ticker string) (models.MarketSnapshot, error) {
	if err := m.Errs[ticker]; err != nil {
		return models.MarketSnapshot{}, err
	}
	s, ok := m.Snaps[ticker]
	if !ok {
		return models.MarketSnapshot{}, errors.New("no data")
	}
	return s, nil
}

// MockAccount implements market.AccountProvider.
type MockAccount struct {
	equity decimal.Decimal
	cash   decimal.Decimal
	err    error
}

func (m *MockAccount) Equity(ctx context.Context) (decimal.Decimal, error) { return m.equity, m.err }
func (m *MockAccount) Cash(ctx context.Context) (decimal.Decimal, error)   { return m.cash, m.err }

// SpyJournal records what the runner journals.
type SpyJournal struct {
	records []journal.CycleRecord
	err     error
}

func (s *SpyJournal) RecordCycle(ctx context.Context, rec journal.CycleRecord) (int64, error) {
	s.records = append(s.records, rec)
	return int64(len(s.records)), s.err
}

// SpyNotifier records sent messages.
type SpyNotifier struct {
	messages []string
	err      error
}

func (s *SpyNotifier) Notify(ctx context.Context, text string) error {
	s.messages = append(s.messages, text)
	return s.err
}

var fixedNow = time.Date(2025, 9, 18, 20, 0, 0, 0, time.UTC)

func testPortfolio() config.Portfolio {
	return config.Portfolio{
		Capital: 100000,
		Positions: []models.PositionConfig{
			{
				Ticker:           "OMER",
				TargetWeight:     0.5,
				Entry:            models.EntryRule{Tranches: []float64{0.5, 0.5}, BuyDipPercents: []float64{0, -3}},
				Stops:            models.StopRule{TrailingPct: 0.2},
				TakeProfitLevels: []float64{0.35, 0.6},
			},
			{
				Ticker:       "MREO",
				TargetWeight: 0.5,
				Entry:        models.EntryRule{Tranches: []float64{1}, BuyDipPercents: []float64{0}},
				Stops:        models.StopRule{TrailingPct: 0.15},
			},
		},
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		CapitalDefault:     100000,
		MicroCapLimit:      300_000_000,
		ADVPctCap:          0.15,
		SizingTargetWeight: 0.06,
		SizingRiskPct:      0.0075,
		DataDir:            filepath.Join(dir, "data"),
		OutDir:             filepath.Join(dir, "out"),
		FetchConcurrency:   2,
		FetchTimeoutSec:    5,
	}
}

func newTestRunner(t *testing.T, prov *MockProvider, d Deps) *Runner {
	t.Helper()
	cfg := testConfig(t)
	d.Store = storage.NewStore(cfg.StatePath())
	d.Provider = prov
	d.Now = func() time.Time { return fixedNow }
	if d.Out == nil {
		d.Out = &bytes.Buffer{}
	}
	return New(cfg, testPortfolio(), d)
}

func omerAt(price float64) *MockProvider {
	return &MockProvider{
		Snaps: map[string]models.MarketSnapshot{
			"OMER": {Price: models.Float(price), MarketCap: models.Float(100_000_000)},
		},
		Errs: map[string]error{"MREO": errors.New("upstream 500")},
	}
}

func TestRun_FirstCycleSuggestsInitialTranche(t *testing.T) {
	j := &SpyJournal{}
	r := newTestRunner(t, omerAt(10), Deps{Journal: j})

	rep, err := r.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if rep.Date != "2025-09-18" {
		t.Errorf("Expected run date in exchange time, got %s", rep.Date)
	}
	if len(rep.Orders) != 1 {
		t.Fatalf("Expected 1 order, got %d: %+v", len(rep.Orders), rep.Orders)
	}
	o := rep.Orders[0]
	// desired = floor(100000 * 0.5 / 10) = 5000, first tranche is half
	if o.Side != models.SideBuy || o.Ticker != "OMER" || o.Shares != 2500 || *o.PriceHint != 10 || o.Reason != "Initial tranche" {
		t.Errorf("Unexpected order %+v", o)
	}
	if len(rep.Warnings) != 0 {
		t.Errorf("A failed fetch must not warn, got %v", rep.Warnings)
	}

	st, err := r.Store.Load(r.portfolio.Positions, decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}
	omer := st.Positions["OMER"]
	if omer.Shares != 0 || omer.TrancheIndexFilled != -1 {
		t.Errorf("Suggestions must not change holdings: %+v", omer)
	}
	if omer.TrailingStopPrice == nil || omer.TrailingStopPrice.String() != "8" {
		t.Errorf("Expected stop 8 from HWM 10, got %v", omer.TrailingStopPrice)
	}
	if mreo := st.Positions["MREO"]; mreo.TrailingStopPrice != nil || !mreo.HighWatermark.IsZero() {
		t.Errorf("Unfetched ticker must be untouched: %+v", mreo)
	}

	if len(j.records) != 1 || len(j.records[0].Fills) != 0 {
		t.Errorf("Expected one journaled cycle without fills, got %+v", j.records)
	}
}

func TestRun_AssumeFillsAdvancesTranche(t *testing.T) {
	r := newTestRunner(t, omerAt(10), Deps{})
	ctx := context.Background()

	rep, err := r.Run(ctx, RunOptions{AssumeFills: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.MTM != 25000 || rep.Cash != 75000 {
		t.Errorf("Expected MTM 25000 and cash 75000, got %v / %v", rep.MTM, rep.Cash)
	}

	st, _ := r.Store.Load(r.portfolio.Positions, decimal.Zero)
	omer := st.Positions["OMER"]
	if omer.Shares != 2500 || omer.TrancheIndexFilled != 0 || !omer.AvgCost.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("Expected 2500 @ 10 at tranche 0, got %+v", omer)
	}
	if omer.LastAction == nil || omer.LastAction.Order.Reason != "Initial tranche" {
		t.Errorf("Expected last action to be the fill, got %+v", omer.LastAction)
	}

	// Same day again: the next tranche is proposed, not the first one twice.
	rep, err = r.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Orders) != 1 {
		t.Fatalf("Expected 1 order, got %+v", rep.Orders)
	}
	o := rep.Orders[0]
	if o.Shares != 2500 || *o.PriceHint != 9.7 || o.Reason != "Tranche on dip -3%" {
		t.Errorf("Unexpected second tranche %+v", o)
	}
}

func TestRun_CapitalResolution(t *testing.T) {
	ctx := context.Background()
	override := 20000.0

	tests := []struct {
		name    string
		account *MockAccount
		opts    RunOptions
		want    float64
	}{
		{"portfolio capital by default", nil, RunOptions{}, 100000},
		{"override wins", &MockAccount{equity: decimal.NewFromInt(50000)}, RunOptions{Capital: &override, CapitalFromBroker: true}, 20000},
		{"broker equity", &MockAccount{equity: decimal.NewFromInt(50000)}, RunOptions{CapitalFromBroker: true}, 50000},
		{"broker error falls back", &MockAccount{err: errors.New("401")}, RunOptions{CapitalFromBroker: true}, 100000},
		{"broker equity ignored unless asked", &MockAccount{equity: decimal.NewFromInt(50000)}, RunOptions{}, 100000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Deps{}
			if tt.account != nil {
				d.Account = tt.account
			}
			r := newTestRunner(t, omerAt(10), d)
			rep, err := r.Run(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if rep.Capital != tt.want {
				t.Errorf("Capital = %v, want %v", rep.Capital, tt.want)
			}
		})
	}
}

func TestRun_CapitalOverrideLastsOneRun(t *testing.T) {
	ctx := context.Background()
	override := 40000.0
	r := newTestRunner(t, omerAt(10), Deps{})

	// 1. One run with an override
	if _, err := r.Run(ctx, RunOptions{Capital: &override}); err != nil {
		t.Fatal(err)
	}

	// 2. The next run is back on the portfolio capital
	rep, err := r.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Capital != 100000 {
		t.Errorf("Expected portfolio capital 100000, got %v", rep.Capital)
	}
	// desired = floor(100000 * 0.5 / 10) = 5000, first tranche is half
	if len(rep.Orders) != 1 || rep.Orders[0].Shares != 2500 {
		t.Errorf("Expected tranche sized on 100000, got %+v", rep.Orders)
	}

	// 3. An edited portfolio capital is picked up
	r.portfolio.Capital = 60000
	rep, err = r.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Capital != 60000 {
		t.Errorf("Expected edited portfolio capital 60000, got %v", rep.Capital)
	}
}

func TestRun_WritesOrdersFile(t *testing.T) {
	r := newTestRunner(t, omerAt(10), Deps{})

	rep, err := r.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(r.cfg.OutDir, "orders-2025-09-18.json")
	if rep.OrdersFile != want {
		t.Errorf("OrdersFile = %s, want %s", rep.OrdersFile, want)
	}

	b, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	var f ordersFile
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatalf("Orders file is not valid JSON: %v", err)
	}
	if f.Date != "2025-09-18" || f.AssumeFills || len(f.Orders) != 1 || f.Orders[0].Type != "LIMIT" {
		t.Errorf("Unexpected orders file %+v", f)
	}
}

func TestRun_EmptyOrdersFileIsAnArray(t *testing.T) {
	prov := &MockProvider{Errs: map[string]error{"OMER": errors.New("x"), "MREO": errors.New("y")}}
	r := newTestRunner(t, prov, Deps{})

	rep, err := r.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(rep.OrdersFile)
	if !strings.Contains(string(b), `"orders": []`) {
		t.Errorf("Expected empty orders array, got %s", b)
	}
}

func TestRun_SaveFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	r := newTestRunner(t, omerAt(10), Deps{})
	if _, err := r.Run(ctx, RunOptions{}); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(r.Store.Path)
	ordersPath := filepath.Join(r.cfg.OutDir, "orders-2025-09-18.json")
	os.Remove(ordersPath)

	// A directory where the temp file goes makes the atomic write fail.
	if err := os.Mkdir(r.Store.Path+".tmp", 0o755); err != nil {
		t.Fatal(err)
	}

	rep, err := r.Run(ctx, RunOptions{AssumeFills: true})
	if err == nil || !strings.Contains(err.Error(), "save state") {
		t.Fatalf("Expected save error, got %v", err)
	}
	if rep != nil {
		t.Errorf("Expected no report on failure")
	}

	after, _ := os.ReadFile(r.Store.Path)
	if !bytes.Equal(before, after) {
		t.Error("State file changed despite the failed save")
	}
	if _, err := os.Stat(ordersPath); !os.IsNotExist(err) {
		t.Error("Orders file must not be written when the state save fails")
	}
}

func TestRun_SideOutputFailuresAreNotFatal(t *testing.T) {
	j := &SpyJournal{err: errors.New("disk full")}
	n := &SpyNotifier{err: errors.New("telegram down")}
	r := newTestRunner(t, omerAt(10), Deps{Journal: j, Notifier: n})

	if _, err := r.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("Side output failure must not fail the cycle: %v", err)
	}
	if len(j.records) != 1 || len(n.messages) != 1 {
		t.Errorf("Expected journal and notifier to be called once, got %d / %d", len(j.records), len(n.messages))
	}
}

func TestRun_NotifiesOnlyWhenThereIsNews(t *testing.T) {
	n := &SpyNotifier{}
	r := newTestRunner(t, omerAt(10), Deps{Notifier: n})
	if _, err := r.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatal(err)
	}
	if len(n.messages) != 1 || !strings.Contains(n.messages[0], "BUY OMER 2500") {
		t.Fatalf("Expected a summary with the buy, got %v", n.messages)
	}

	quiet := &SpyNotifier{}
	prov := &MockProvider{Errs: map[string]error{"OMER": errors.New("x"), "MREO": errors.New("y")}}
	r = newTestRunner(t, prov, Deps{Notifier: quiet})
	if _, err := r.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatal(err)
	}
	if len(quiet.messages) != 0 {
		t.Errorf("Expected no message on a quiet cycle, got %v", quiet.messages)
	}
}

func TestRun_MicroCapGateWarns(t *testing.T) {
	prov := &MockProvider{Snaps: map[string]models.MarketSnapshot{
		"OMER": {Price: models.Float(10), MarketCap: models.Float(500_000_000)},
		"MREO": {Price: models.Float(5)},
	}}
	r := newTestRunner(t, prov, Deps{})

	rep, err := r.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Warnings) != 1 || !strings.HasPrefix(rep.Warnings[0], "OMER: market cap") {
		t.Errorf("Expected one OMER warning, got %v", rep.Warnings)
	}
	if len(rep.Orders) != 1 || rep.Orders[0].Ticker != "MREO" || rep.Orders[0].Shares != 10000 {
		t.Errorf("Expected only the MREO buy, got %+v", rep.Orders)
	}
}

func TestReport_Render(t *testing.T) {
	r := newTestRunner(t, omerAt(10), Deps{})
	rep, err := r.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	rep.Render(&buf)
	out := buf.String()

	for _, want := range []string{
		"MICROCAP PORTFOLIO - 2025-09-18",
		"100,000,000",
		"Suggested Orders (1)",
		"BUY\tOMER\t2500 sh @ ~10",
		"Capital: $100,000.00  |  MTM (positions): $0.00  |  Cash (est.): $100,000.00",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Render output missing %q:\n%s", want, out)
		}
	}
}
