// Package rating computes overage charges in integer minor currency
// units. It performs no I/O.
package rating

import (
	"context"
	"errors"
	"math"
	"sort"
)

var (
	ErrNegativeQuantity  = errors.New("negative_quantity")
	ErrNoTiers           = errors.New("no_tiers")
	ErrTiersNotAscending = errors.New("tiers_not_ascending")
	ErrNegativePrice     = errors.New("negative_price")
)

// Tier prices the quantity band up to a cumulative ceiling. The band
// above the last ceiling is billed at the last tier's rate.
type Tier struct {
	UpTo           float64 `json:"up_to"`
	UnitPriceMinor int64   `json:"unit_price_minor"`
}

// CustomComputer prices CUSTOM charges externally. Results are already
// in minor units.
type CustomComputer interface {
	Compute(ctx context.Context, meterKey string, quantity float64) (int64, error)
}

// RoundHalfUp rounds to the nearest minor unit, halves away from zero
// for non-negative inputs.
func RoundHalfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}

// PerUnit charges excess quantity at a flat per-unit price, rounded
// half-up to the nearest minor unit.
func PerUnit(excess float64, unitPriceMinor int64) (int64, error) {
	if excess < 0 {
		return 0, ErrNegativeQuantity
	}
	if unitPriceMinor < 0 {
		return 0, ErrNegativePrice
	}
	return RoundHalfUp(excess * float64(unitPriceMinor)), nil
}

// Tiered charges excess quantity across ascending cumulative tiers.
// Each tier's rate applies only to the quantity falling within its
// band; quantity above the highest ceiling is billed at the last
// tier's rate. The exact sum is rounded half-up once, so the result
// matches a tier-by-tier integral without per-tier rounding drift.
func Tiered(excess float64, tiers []Tier) (int64, error) {
	if excess < 0 {
		return 0, ErrNegativeQuantity
	}
	if len(tiers) == 0 {
		return 0, ErrNoTiers
	}
	if !sort.SliceIsSorted(tiers, func(i, j int) bool { return tiers[i].UpTo < tiers[j].UpTo }) {
		return 0, ErrTiersNotAscending
	}
	for _, t := range tiers {
		if t.UnitPriceMinor < 0 {
			return 0, ErrNegativePrice
		}
	}

	total := 0.0
	prev := 0.0
	remaining := excess
	for _, t := range tiers {
		band := t.UpTo - prev
		if band <= 0 {
			return 0, ErrTiersNotAscending
		}
		take := math.Min(remaining, band)
		total += take * float64(t.UnitPriceMinor)
		remaining -= take
		prev = t.UpTo
		if remaining <= 0 {
			break
		}
	}
	if remaining > 0 {
		last := tiers[len(tiers)-1]
		total += remaining * float64(last.UnitPriceMinor)
	}
	return RoundHalfUp(total), nil
}
