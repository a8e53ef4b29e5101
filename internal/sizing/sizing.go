package sizing

import (
	"errors"
	"math"
)

// Constraint names the candidate that bound a sizing result.
type Constraint string

const (
	ByWeight Constraint = "weight"
	ByRisk   Constraint = "risk"
	ByCash   Constraint = "cash"
	ByADV    Constraint = "adv"
)

// MinPerShareRisk keeps the risk denominator positive when stop >= entry.
const MinPerShareRisk = 0.0001

var ErrInvalidEntry = errors.New("entry price must be > 0")

// Args are the inputs of Resolve. ADV3m is nil when the volume is unknown.
type Args struct {
	Capital       float64
	AvailableCash float64
	Entry         float64
	Stop          float64
	ADV3m         *float64
	TargetWeight  float64 // e.g. 0.06
	RiskPct       float64 // e.g. 0.0075
	ADVPctCap     float64 // e.g. 0.15
}

type Result struct {
	Shares   int64      `json:"shares"`
	Cost     float64    `json:"cost"`
	Limiting Constraint `json:"limiting"`
}

type candidate struct {
	tag    Constraint
	shares float64
}

// Resolve sizes a one-off order as the smallest of four share counts:
// target weight, risk budget over R, available cash and the ADV ceiling.
// Ties go to the first candidate in that order.
func Resolve(a Args) (Result, error) {
	if !(a.Entry > 0) || math.IsInf(a.Entry, 0) {
		return Result{}, ErrInvalidEntry
	}

	perShareRisk := math.Max(MinPerShareRisk, a.Entry-a.Stop)

	adv, bounded := MaxSharesByADV(a.ADV3m, a.ADVPctCap)
	advShares := math.Inf(1)
	if bounded {
		advShares = float64(adv)
	}

	candidates := []candidate{
		{ByWeight, math.Floor(a.Capital * a.TargetWeight / a.Entry)},
		{ByRisk, math.Floor(a.Capital * a.RiskPct / perShareRisk)},
		{ByCash, math.Floor(a.AvailableCash / a.Entry)},
		{ByADV, advShares},
	}

	winner := candidates[0]
	for _, c := range candidates[1:] {
		// strict less-than keeps the earliest candidate on ties
		if c.shares < winner.shares {
			winner = c
		}
	}

	shares := int64(math.Max(0, winner.shares))
	return Result{
		Shares:   shares,
		Cost:     float64(shares) * a.Entry,
		Limiting: winner.tag,
	}, nil
}

// MaxSharesByADV returns floor(adv3m * pctCap). The second value is false
// when volume is unknown or non-positive, meaning there is no ceiling.
func MaxSharesByADV(adv3m *float64, pctCap float64) (int64, bool) {
	if adv3m == nil || !(*adv3m > 0) || math.IsInf(*adv3m, 0) {
		return 0, false
	}
	return int64(math.Floor(*adv3m * pctCap)), true
}

// DesiredShares is the full target position for a weight at a given price.
func DesiredShares(capital, weight, price float64) int64 {
	if !(price > 0) {
		return 0
	}
	return int64(math.Max(0, math.Floor(capital*weight/price)))
}
