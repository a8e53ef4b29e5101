package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionConfig is the static strategy for one ticker.
// It is loaded once from the portfolio file and never mutated during a run.
type PositionConfig struct {
	Ticker           string        `yaml:"ticker" json:"ticker"`
	TargetWeight     float64       `yaml:"targetWeight" json:"target_weight"` // 0..1, all weights sum to 1
	Entry            EntryRule     `yaml:"entry" json:"entry"`
	Stops            StopRule      `yaml:"stops" json:"stops"`
	SpikeRule        *SpikeRule    `yaml:"spikeRule,omitempty" json:"spike_rule,omitempty"`
	PreEventTrim     *PreEventTrim `yaml:"preEventTrim,omitempty" json:"pre_event_trim,omitempty"`
	TakeProfitLevels []float64     `yaml:"takeProfitLevels,omitempty" json:"take_profit_levels,omitempty"`
	Notes            string        `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// EntryRule splits the target position into tranches.
// BuyDipPercents is parallel to Tranches (e.g. [0, -3] means "now", then "3% lower").
type EntryRule struct {
	Tranches       []float64 `yaml:"tranches" json:"tranches"`
	BuyDipPercents []float64 `yaml:"buyDipPercents" json:"buy_dip_percents"`
}

type StopRule struct {
	TrailingPct float64  `yaml:"trailingPct" json:"trailing_pct"`
	HardStopPct *float64 `yaml:"hardStopPct,omitempty" json:"hard_stop_pct,omitempty"`
}

// SpikeRule tightens the trailing stop after a strong up day.
type SpikeRule struct {
	PctUpDay       float64 `yaml:"pctUpDay" json:"pct_up_day"`
	NewTrailingPct float64 `yaml:"newTrailingPct" json:"new_trailing_pct"`
}

// PreEventTrim reduces exposure ahead of a dated catalyst.
type PreEventTrim struct {
	EventDate           *string `yaml:"eventDate" json:"event_date"` // YYYY-MM-DD or null
	WindowDaysMin       int     `yaml:"windowDaysMin" json:"window_days_min"`
	WindowDaysMax       int     `yaml:"windowDaysMax" json:"window_days_max"`
	TrimPctOfPosition   float64 `yaml:"trimPctOfPosition" json:"trim_pct_of_position"`
	HoldThroughEventPct float64 `yaml:"holdThroughEventPct" json:"hold_through_event_pct"`
}

// StatePosition is the persisted, mutable state of one ticker.
//
// Money fields use decimal.Decimal so that fills round-trip exactly
// (a BUY followed by a SELL at the same price books exactly zero PnL).
type StatePosition struct {
	Ticker             string           `json:"ticker"`
	TargetWeight       float64          `json:"target_weight"`
	Shares             int64            `json:"shares"`
	AvgCost            decimal.Decimal  `json:"avg_cost"` // meaningless when Shares == 0
	Invested           decimal.Decimal  `json:"invested"`
	RealizedPnL        decimal.Decimal  `json:"realized_pnl"`
	HighWatermark      decimal.Decimal  `json:"high_watermark"`
	TrailingStopPct    float64          `json:"trailing_stop_pct"`
	TrailingStopPrice  *decimal.Decimal `json:"trailing_stop_price"` // nil = not armed
	TrancheIndexFilled int              `json:"tranche_index_filled"`
	LastAction         *LastAction      `json:"last_action"`
	Notes              string           `json:"notes,omitempty"`
}

// LastAction is the most recent order applied to a position.
type LastAction struct {
	Order         OrderSuggestion `json:"order"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
}

// PortfolioState tracks capital and every position ever configured.
// This struct matches the structure of our JSON state file.
type PortfolioState struct {
	Version   string                    `json:"version"`
	Capital   decimal.Decimal           `json:"capital"`
	Positions map[string]*StatePosition `json:"positions"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
}
