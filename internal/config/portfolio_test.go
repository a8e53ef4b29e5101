package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
capital: 50000
assumeFills: true
positions:
  - ticker: OMER
    targetWeight: 0.6
    entry:
      tranches: [0.5, 0.5]
      buyDipPercents: [0, -3]
    stops:
      trailingPct: 0.2
      hardStopPct: 0.25
    spikeRule:
      pctUpDay: 0.15
      newTrailingPct: 0.12
    preEventTrim:
      eventDate: "2025-09-25"
  - ticker: MREO
    targetWeight: 0.4
    entry:
      tranches: [1]
      buyDipPercents: [0]
    stops:
      trailingPct: 0.15
    takeProfitLevels: [0.35, 0.6]
    preEventTrim:
      eventDate: null
      trimPctOfPosition: 0.5
`

func TestParsePortfolio_Valid(t *testing.T) {
	p, err := ParsePortfolio([]byte(validYAML))
	if err != nil {
		t.Fatalf("ParsePortfolio failed: %v", err)
	}

	if p.Capital != 50000 || !p.AssumeFills || !p.PaperTrade {
		t.Errorf("Unexpected top-level fields: %+v", p)
	}
	if p.MaxPortfolioDrawdownPct != 0.2 {
		t.Errorf("Expected default drawdown 0.2, got %v", p.MaxPortfolioDrawdownPct)
	}
	if got := p.Tickers(); len(got) != 2 || got[0] != "OMER" || got[1] != "MREO" {
		t.Errorf("Unexpected tickers %v", got)
	}

	omer := p.Positions[0]
	if omer.Stops.HardStopPct == nil || *omer.Stops.HardStopPct != 0.25 {
		t.Errorf("hardStopPct not parsed")
	}
	// Window defaults filled for keys the file left out
	pe := omer.PreEventTrim
	if pe == nil || pe.EventDate == nil || *pe.EventDate != "2025-09-25" {
		t.Fatalf("eventDate not parsed: %+v", pe)
	}
	if pe.WindowDaysMin != 3 || pe.WindowDaysMax != 10 || pe.TrimPctOfPosition != 0.4 || pe.HoldThroughEventPct != 0.6 {
		t.Errorf("Expected window defaults, got %+v", pe)
	}

	mreo := p.Positions[1]
	if mreo.PreEventTrim.EventDate != nil {
		t.Errorf("Expected null event date")
	}
	if mreo.PreEventTrim.TrimPctOfPosition != 0.5 {
		t.Errorf("Explicit trim must override the default")
	}
	if mreo.Stops.HardStopPct != nil || mreo.SpikeRule != nil {
		t.Errorf("Optional rules must stay nil when absent")
	}
}

func TestParsePortfolio_WeightsMustSumToOne(t *testing.T) {
	bad := strings.Replace(validYAML, "targetWeight: 0.4", "targetWeight: 0.39", 1)

	_, err := ParsePortfolio([]byte(bad))

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if !strings.Contains(err.Error(), "sum of targetWeight") {
		t.Errorf("Weight sum problem not reported: %v", err)
	}
}

func TestParsePortfolio_WeightTolerance(t *testing.T) {
	// 0.6 + 0.4000004 is within 1e-6
	ok := strings.Replace(validYAML, "targetWeight: 0.4", "targetWeight: 0.4000004", 1)
	if _, err := ParsePortfolio([]byte(ok)); err != nil {
		t.Errorf("Expected weights within tolerance to pass, got %v", err)
	}
}

func TestParsePortfolio_CollectsEveryProblem(t *testing.T) {
	bad := `
capital: 0
positions:
  - ticker: AAA
    targetWeight: 1
    entry:
      tranches: [0.5, 0.5]
      buyDipPercents: [0]
    stops:
      trailingPct: 0.9
    takeProfitLevels: [7]
    preEventTrim:
      eventDate: "25/09/2025"
      windowDaysMin: 12
      windowDaysMax: 10
  - ticker: AAA
    targetWeight: 0
    entry:
      tranches: []
      buyDipPercents: []
    stops:
      trailingPct: 0.2
`
	_, err := ParsePortfolio([]byte(bad))

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	wants := []string{
		"capital must be > 0",
		"buyDipPercents has 1 values for 2 tranches",
		"trailingPct must be in",
		"take-profit level 7",
		"window [12,10]",
		"not YYYY-MM-DD",
		"duplicate ticker",
		"tranches must not be empty",
	}
	for _, w := range wants {
		if !strings.Contains(err.Error(), w) {
			t.Errorf("Expected problem %q in:\n%v", w, err)
		}
	}
}

func TestParsePortfolio_UnknownKeyRejected(t *testing.T) {
	bad := strings.Replace(validYAML, "capital: 50000", "capital: 50000\ncapitol: 1", 1)
	if _, err := ParsePortfolio([]byte(bad)); err == nil {
		t.Error("Expected an error for an unknown key")
	}
}

func TestParsePortfolio_UnknownPreEventKeyRejected(t *testing.T) {
	bad := strings.Replace(validYAML, `      eventDate: "2025-09-25"`, "      eventDate: \"2025-09-25\"\n      windowDayMax: 20", 1)
	if bad == validYAML {
		t.Fatal("fixture did not change")
	}
	_, err := ParsePortfolio([]byte(bad))
	if err == nil || !strings.Contains(err.Error(), "windowDayMax") {
		t.Errorf("Expected an error naming windowDayMax, got %v", err)
	}
}

func TestLoadPortfolio_FallsBackToDefault(t *testing.T) {
	p, err := LoadPortfolio(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Default portfolio must be valid: %v", err)
	}
	if len(p.Positions) != 4 || p.Positions[0].Ticker != "OMER" {
		t.Errorf("Unexpected default portfolio %v", p.Tickers())
	}
}

func TestLoadPortfolio_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolio.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPortfolio(path)
	if err != nil {
		t.Fatalf("LoadPortfolio failed: %v", err)
	}
	if p.Capital != 50000 {
		t.Errorf("Expected capital from file, got %v", p.Capital)
	}
}
