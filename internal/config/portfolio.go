package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"microcap_portfolio/internal/models"

	"gopkg.in/yaml.v3"
)

// WeightTolerance is how far the target weights may drift from 1.0.
const WeightTolerance = 1e-6

// Portfolio is the declarative strategy: capital plus one entry per ticker.
type Portfolio struct {
	PaperTrade              bool                    `yaml:"paperTrade"`
	AssumeFills             bool                    `yaml:"assumeFills"`
	Capital                 float64                 `yaml:"capital"`
	MaxPortfolioDrawdownPct float64                 `yaml:"maxPortfolioDrawdownPct"`
	Positions               []models.PositionConfig `yaml:"positions"`
}

// ValidationError collects every problem found in a portfolio.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid portfolio configuration:\n  - " + strings.Join(e.Problems, "\n  - ")
}

// LoadPortfolio reads and validates the strategy file.
// A missing file falls back to DefaultPortfolio; any other problem is an error.
func LoadPortfolio(path string) (Portfolio, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("Portfolio file %s not found, using the built-in portfolio", path)
		p := DefaultPortfolio()
		return p, p.Validate()
	}
	if err != nil {
		return Portfolio{}, fmt.Errorf("read portfolio %s: %w", path, err)
	}
	return ParsePortfolio(b)
}

// ParsePortfolio decodes YAML strictly (unknown keys are rejected) and validates it.
func ParsePortfolio(b []byte) (Portfolio, error) {
	p := Portfolio{PaperTrade: true, MaxPortfolioDrawdownPct: 0.2}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Portfolio{}, fmt.Errorf("parse portfolio: %w", err)
	}

	if err := p.Validate(); err != nil {
		return Portfolio{}, err
	}
	return p, nil
}

// Validate checks every invariant of the strategy. It reports all problems at once.
func (p Portfolio) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	inRange := func(v, lo, hi float64) bool { return v >= lo && v <= hi && !math.IsNaN(v) }

	if !(p.Capital > 0) {
		add("capital must be > 0 (got %v)", p.Capital)
	}
	if !inRange(p.MaxPortfolioDrawdownPct, 0, 1) {
		add("maxPortfolioDrawdownPct must be in [0,1] (got %v)", p.MaxPortfolioDrawdownPct)
	}
	if len(p.Positions) == 0 {
		add("at least one position is required")
	}

	seen := make(map[string]bool)
	sum := 0.0
	for i, pos := range p.Positions {
		name := pos.Ticker
		if name == "" {
			name = fmt.Sprintf("positions[%d]", i)
			add("%s: ticker is required", name)
		} else if seen[name] {
			add("%s: duplicate ticker", name)
		}
		seen[name] = true
		sum += pos.TargetWeight

		if !inRange(pos.TargetWeight, 0, 1) {
			add("%s: targetWeight must be in [0,1] (got %v)", name, pos.TargetWeight)
		}

		if len(pos.Entry.Tranches) == 0 {
			add("%s: entry.tranches must not be empty", name)
		}
		for _, tr := range pos.Entry.Tranches {
			if !inRange(tr, 0, 1) {
				add("%s: tranche %v must be in [0,1]", name, tr)
			}
		}
		if len(pos.Entry.BuyDipPercents) == 0 {
			add("%s: entry.buyDipPercents must not be empty", name)
		} else if len(pos.Entry.BuyDipPercents) != len(pos.Entry.Tranches) {
			add("%s: entry.buyDipPercents has %d values for %d tranches", name, len(pos.Entry.BuyDipPercents), len(pos.Entry.Tranches))
		}

		if !inRange(pos.Stops.TrailingPct, 0.01, 0.8) {
			add("%s: stops.trailingPct must be in [0.01,0.8] (got %v)", name, pos.Stops.TrailingPct)
		}
		if hs := pos.Stops.HardStopPct; hs != nil && !inRange(*hs, 0.01, 0.9) {
			add("%s: stops.hardStopPct must be in [0.01,0.9] (got %v)", name, *hs)
		}

		if sr := pos.SpikeRule; sr != nil {
			if !inRange(sr.PctUpDay, 0.01, 1) {
				add("%s: spikeRule.pctUpDay must be in [0.01,1] (got %v)", name, sr.PctUpDay)
			}
			if !inRange(sr.NewTrailingPct, 0.01, 0.8) {
				add("%s: spikeRule.newTrailingPct must be in [0.01,0.8] (got %v)", name, sr.NewTrailingPct)
			}
		}

		if pe := pos.PreEventTrim; pe != nil {
			if pe.WindowDaysMin < 0 || pe.WindowDaysMax < 0 || pe.WindowDaysMin > pe.WindowDaysMax {
				add("%s: preEventTrim window [%d,%d] is invalid", name, pe.WindowDaysMin, pe.WindowDaysMax)
			}
			if !inRange(pe.TrimPctOfPosition, 0, 1) || !inRange(pe.HoldThroughEventPct, 0, 1) {
				add("%s: preEventTrim percentages must be in [0,1]", name)
			}
			if pe.EventDate != nil && *pe.EventDate != "" {
				if _, err := time.Parse("2006-01-02", *pe.EventDate); err != nil {
					add("%s: preEventTrim.eventDate %q is not YYYY-MM-DD", name, *pe.EventDate)
				}
			}
		}

		for _, tp := range pos.TakeProfitLevels {
			if !inRange(tp, 0.01, 5) {
				add("%s: take-profit level %v must be in [0.01,5]", name, tp)
			}
		}
	}

	if len(p.Positions) > 0 && math.Abs(sum-1) >= WeightTolerance {
		add("sum of targetWeight must equal 1.0 (got %.6f)", sum)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Tickers returns the configured tickers in file order.
func (p Portfolio) Tickers() []string {
	out := make([]string, 0, len(p.Positions))
	for _, pos := range p.Positions {
		out = append(out, pos.Ticker)
	}
	return out
}

// DefaultPortfolio is the built-in strategy used when no file is provided.
func DefaultPortfolio() Portfolio {
	str := func(s string) *string { return &s }
	window := func(date *string, trim, hold float64) *models.PreEventTrim {
		return &models.PreEventTrim{EventDate: date, WindowDaysMin: 3, WindowDaysMax: 10, TrimPctOfPosition: trim, HoldThroughEventPct: hold}
	}

	return Portfolio{
		PaperTrade:              true,
		AssumeFills:             false,
		Capital:                 100000,
		MaxPortfolioDrawdownPct: 0.2,
		Positions: []models.PositionConfig{
			{
				Ticker:       "OMER",
				TargetWeight: 0.35,
				Entry:        models.EntryRule{Tranches: []float64{0.5, 0.5}, BuyDipPercents: []float64{0, -3}},
				Stops:        models.StopRule{TrailingPct: 0.20},
				SpikeRule:    &models.SpikeRule{PctUpDay: 0.15, NewTrailingPct: 0.12},
				PreEventTrim: window(str("2025-09-25"), 0.4, 0.6),
				Notes:        "FDA PDUFA for narsoplimab (TA-TMA).",
			},
			{
				Ticker:           "MREO",
				TargetWeight:     0.25,
				Entry:            models.EntryRule{Tranches: []float64{0.5, 0.5}, BuyDipPercents: []float64{0, -3}},
				Stops:            models.StopRule{TrailingPct: 0.15},
				TakeProfitLevels: []float64{0.35, 0.6},
				PreEventTrim:     window(nil, 0.5, 0.5),
				Notes:            "ORBIT Phase 3 final analysis expected Q4 2025.",
			},
			{
				Ticker:           "VTGN",
				TargetWeight:     0.25,
				Entry:            models.EntryRule{Tranches: []float64{0.34, 0.33, 0.33}, BuyDipPercents: []float64{0, -3, -6}},
				Stops:            models.StopRule{TrailingPct: 0.20},
				TakeProfitLevels: []float64{0.4, 0.75},
				PreEventTrim:     window(nil, 0.5, 0.5),
				Notes:            "Fasedienol in SAD; Phase 3 topline Q4 2025.",
			},
			{
				Ticker:           "ANIX",
				TargetWeight:     0.15,
				Entry:            models.EntryRule{Tranches: []float64{0.5, 0.5}, BuyDipPercents: []float64{0, -3}},
				Stops:            models.StopRule{TrailingPct: 0.20},
				TakeProfitLevels: []float64{0.3, 0.5},
				PreEventTrim:     window(nil, 0.5, 0.5),
				Notes:            "Conference run-up likely Dec 2025.",
			},
		},
	}
}
