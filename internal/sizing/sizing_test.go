package sizing

import (
	"errors"
	"math"
	"testing"
)

func adv(v float64) *float64 { return &v }

func TestResolve_LimitingConstraint(t *testing.T) {
	tests := []struct {
		name     string
		args     Args
		shares   int64
		limiting Constraint
	}{
		{
			// weight: 100000*0.06/10 = 600; risk: 750/1 = 750; cash: 1000; adv: 1500
			name:     "weight binds",
			args:     Args{Capital: 100000, AvailableCash: 10000, Entry: 10, Stop: 9, ADV3m: adv(10000), TargetWeight: 0.06, RiskPct: 0.0075, ADVPctCap: 0.15},
			shares:   600,
			limiting: ByWeight,
		},
		{
			// risk: 750/5 = 150
			name:     "risk binds",
			args:     Args{Capital: 100000, AvailableCash: 10000, Entry: 10, Stop: 5, ADV3m: adv(10000), TargetWeight: 0.06, RiskPct: 0.0075, ADVPctCap: 0.15},
			shares:   150,
			limiting: ByRisk,
		},
		{
			name:     "cash binds",
			args:     Args{Capital: 100000, AvailableCash: 1234, Entry: 10, Stop: 9, ADV3m: adv(10000), TargetWeight: 0.06, RiskPct: 0.0075, ADVPctCap: 0.15},
			shares:   123,
			limiting: ByCash,
		},
		{
			name:     "adv binds",
			args:     Args{Capital: 100000, AvailableCash: 10000, Entry: 10, Stop: 9, ADV3m: adv(1000), TargetWeight: 0.06, RiskPct: 0.0075, ADVPctCap: 0.15},
			shares:   150,
			limiting: ByADV,
		},
		{
			name:     "unknown adv is unbounded",
			args:     Args{Capital: 100000, AvailableCash: 1e9, Entry: 10, Stop: 9, ADV3m: nil, TargetWeight: 1, RiskPct: 1, ADVPctCap: 0.15},
			shares:   10000,
			limiting: ByWeight,
		},
		{
			name:     "zero adv is unbounded",
			args:     Args{Capital: 100000, AvailableCash: 1e9, Entry: 10, Stop: 9, ADV3m: adv(0), TargetWeight: 1, RiskPct: 1, ADVPctCap: 0.15},
			shares:   10000,
			limiting: ByWeight,
		},
		{
			// weight 600, risk 600 (600/1), cash 600: first one wins
			name:     "tie goes to weight",
			args:     Args{Capital: 100000, AvailableCash: 6000, Entry: 10, Stop: 9, ADV3m: adv(4000), TargetWeight: 0.06, RiskPct: 0.006, ADVPctCap: 0.15},
			shares:   600,
			limiting: ByWeight,
		},
		{
			// risk 150, cash 150, adv 150
			name:     "tie between risk cash and adv goes to risk",
			args:     Args{Capital: 100000, AvailableCash: 1500, Entry: 10, Stop: 5, ADV3m: adv(1000), TargetWeight: 0.5, RiskPct: 0.0075, ADVPctCap: 0.15},
			shares:   150,
			limiting: ByRisk,
		},
		{
			name:     "no cash yields zero",
			args:     Args{Capital: 100000, AvailableCash: 0, Entry: 10, Stop: 9, ADV3m: adv(10000), TargetWeight: 0.06, RiskPct: 0.0075, ADVPctCap: 0.15},
			shares:   0,
			limiting: ByCash,
		},
		{
			name:     "negative cash clamps to zero",
			args:     Args{Capital: 100000, AvailableCash: -500, Entry: 10, Stop: 9, ADV3m: adv(10000), TargetWeight: 0.06, RiskPct: 0.0075, ADVPctCap: 0.15},
			shares:   0,
			limiting: ByCash,
		},
		{
			// stop above entry: per-share risk floors at 0.0001, risk never binds here
			name:     "stop above entry",
			args:     Args{Capital: 100000, AvailableCash: 10000, Entry: 10, Stop: 11, ADV3m: adv(10000), TargetWeight: 0.06, RiskPct: 0.0075, ADVPctCap: 0.15},
			shares:   600,
			limiting: ByWeight,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.args)
			if err != nil {
				t.Fatalf("Resolve returned error: %v", err)
			}
			if got.Shares != tt.shares {
				t.Errorf("Expected %d shares, got %d", tt.shares, got.Shares)
			}
			if got.Limiting != tt.limiting {
				t.Errorf("Expected limiting %s, got %s", tt.limiting, got.Limiting)
			}
			if got.Cost != float64(got.Shares)*tt.args.Entry {
				t.Errorf("Cost mismatch: %f", got.Cost)
			}
		})
	}
}

func TestResolve_InvalidEntry(t *testing.T) {
	for _, entry := range []float64{0, -1, math.NaN()} {
		_, err := Resolve(Args{Capital: 1000, AvailableCash: 1000, Entry: entry, TargetWeight: 0.1, RiskPct: 0.01})
		if !errors.Is(err, ErrInvalidEntry) {
			t.Errorf("entry %v: expected ErrInvalidEntry, got %v", entry, err)
		}
	}
}

// The winner must always be the minimum candidate, whatever the inputs.
func TestResolve_SharesIsMinimumCandidate(t *testing.T) {
	entries := []float64{0.5, 1, 3.7, 10, 250}
	stops := []float64{0, 0.4, 3, 9.99, 300}
	cashes := []float64{0, 100, 5000, 1e6}
	advs := []*float64{nil, adv(0), adv(50), adv(1e7)}

	for _, e := range entries {
		for _, s := range stops {
			for _, c := range cashes {
				for _, v := range advs {
					a := Args{Capital: 250000, AvailableCash: c, Entry: e, Stop: s, ADV3m: v, TargetWeight: 0.1, RiskPct: 0.01, ADVPctCap: 0.15}
					got, err := Resolve(a)
					if err != nil {
						t.Fatalf("unexpected error: %v", err)
					}

					risk := math.Max(MinPerShareRisk, e-s)
					want := math.Min(math.Floor(a.Capital*a.TargetWeight/e), math.Floor(a.Capital*a.RiskPct/risk))
					want = math.Min(want, math.Floor(c/e))
					if n, ok := MaxSharesByADV(v, a.ADVPctCap); ok {
						want = math.Min(want, float64(n))
					}
					if got.Shares != int64(math.Max(0, want)) {
						t.Errorf("entry=%v stop=%v cash=%v: expected %v, got %d (%s)", e, s, c, want, got.Shares, got.Limiting)
					}
				}
			}
		}
	}
}

func TestDesiredShares(t *testing.T) {
	if got := DesiredShares(100000, 0.5, 10); got != 5000 {
		t.Errorf("Expected 5000, got %d", got)
	}
	if got := DesiredShares(100000, 0.5, 0); got != 0 {
		t.Errorf("Expected 0 for zero price, got %d", got)
	}
	if got := DesiredShares(100000, 0.35, 3.3); got != 10606 {
		t.Errorf("Expected 10606, got %d", got)
	}
}
