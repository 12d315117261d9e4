package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	bundledomain "github.com/meterline/meterline/internal/bundle/domain"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/entitlement"
	invoicedomain "github.com/meterline/meterline/internal/invoice/domain"
)

func ent(meter string, limit bundledomain.LimitType, included float64, enf bundledomain.Enforcement, billing bundledomain.OverageBilling) entitlement.Entitlement {
	return entitlement.Entitlement{
		MeterKey:       meter,
		LimitType:      limit,
		IncludedAmount: included,
		Enforcement:    enf,
		OverageBilling: billing,
		SourceBundle:   "pro",
	}
}

func pricingWith(meter string, mp config.MeterPricing) config.PricingConfig {
	cfg := config.DefaultPricingConfig()
	cfg.Meters = map[string]config.MeterPricing{meter: mp}
	return cfg
}

func TestBuildLinesHardCapPerUnitOverage(t *testing.T) {
	lines, review := BuildLines(context.Background(),
		[]entitlement.Entitlement{ent("llm.tokens", bundledomain.LimitHardCap, 1000, bundledomain.EnforcementHard, bundledomain.OveragePerUnit)},
		map[string]float64{"llm.tokens": 1500},
		pricingWith("llm.tokens", config.MeterPricing{UnitPriceMinor: 2}),
		nil,
	)
	require.False(t, review)
	require.Len(t, lines, 2)

	require.Equal(t, invoicedomain.ChargeIncluded, lines[0].ChargeType)
	require.EqualValues(t, 1000, lines[0].Quantity)
	require.EqualValues(t, 0, lines[0].AmountMinor)

	require.Equal(t, invoicedomain.ChargeOverage, lines[1].ChargeType)
	require.EqualValues(t, 500, lines[1].Quantity)
	require.EqualValues(t, 2, lines[1].UnitPriceMinor)
	require.EqualValues(t, 1000, lines[1].AmountMinor)
}

func TestBuildLinesUnlimitedNeverCharges(t *testing.T) {
	lines, review := BuildLines(context.Background(),
		[]entitlement.Entitlement{ent("llm.tokens", bundledomain.LimitUnlimited, 0, bundledomain.EnforcementNone, bundledomain.OveragePerUnit)},
		map[string]float64{"llm.tokens": 1e9},
		pricingWith("llm.tokens", config.MeterPricing{UnitPriceMinor: 2}),
		nil,
	)
	require.False(t, review)
	require.Len(t, lines, 1)
	require.Equal(t, invoicedomain.ChargeIncluded, lines[0].ChargeType)
	require.EqualValues(t, 0, lines[0].AmountMinor)
}

func TestBuildLinesUsageWithinIncludedIsFree(t *testing.T) {
	lines, review := BuildLines(context.Background(),
		[]entitlement.Entitlement{ent("llm.tokens", bundledomain.LimitIncluded, 1000, bundledomain.EnforcementSoft, bundledomain.OveragePerUnit)},
		map[string]float64{"llm.tokens": 800},
		pricingWith("llm.tokens", config.MeterPricing{UnitPriceMinor: 2}),
		nil,
	)
	require.False(t, review)
	require.Len(t, lines, 1)
	require.EqualValues(t, 800, lines[0].Quantity)
	require.EqualValues(t, 0, lines[0].AmountMinor)
}

func TestBuildLinesHardCapWithoutOverageBillingIsFlagged(t *testing.T) {
	lines, review := BuildLines(context.Background(),
		[]entitlement.Entitlement{ent("llm.tokens", bundledomain.LimitHardCap, 1000, bundledomain.EnforcementHard, bundledomain.OverageNone)},
		map[string]float64{"llm.tokens": 1500},
		config.DefaultPricingConfig(),
		nil,
	)
	require.True(t, review)
	require.Len(t, lines, 2)
	require.Equal(t, invoicedomain.ChargeFlagged, lines[1].ChargeType)
	require.True(t, lines[1].Flagged)
	require.EqualValues(t, 0, lines[1].AmountMinor)
	require.EqualValues(t, 500, lines[1].Quantity)
}

func TestBuildLinesHardCapFlaggingCanBeDisabled(t *testing.T) {
	cfg := config.DefaultPricingConfig()
	cfg.FlagUnbilledHardCap = false

	lines, review := BuildLines(context.Background(),
		[]entitlement.Entitlement{ent("llm.tokens", bundledomain.LimitHardCap, 1000, bundledomain.EnforcementHard, bundledomain.OverageNone)},
		map[string]float64{"llm.tokens": 1500},
		cfg,
		nil,
	)
	require.False(t, review)
	require.Len(t, lines, 1)
}

func TestBuildLinesTieredOverage(t *testing.T) {
	cfg := pricingWith("llm.tokens", config.MeterPricing{
		Tiers: []config.TierPrice{
			{UpTo: 100, UnitPriceMinor: 5},
			{UpTo: 300, UnitPriceMinor: 3},
		},
	})

	lines, review := BuildLines(context.Background(),
		[]entitlement.Entitlement{ent("llm.tokens", bundledomain.LimitIncluded, 1000, bundledomain.EnforcementSoft, bundledomain.OverageTiered)},
		map[string]float64{"llm.tokens": 1400},
		cfg,
		nil,
	)
	require.False(t, review)
	require.Len(t, lines, 2)
	// 100*5 + 200*3 + 100*3 above the last ceiling
	require.EqualValues(t, 1400, lines[1].AmountMinor)
}

type stubCustom struct {
	amount int64
	err    error
}

func (s stubCustom) Compute(ctx context.Context, meterKey string, quantity float64) (int64, error) {
	return s.amount, s.err
}

func TestBuildLinesCustomOverage(t *testing.T) {
	ents := []entitlement.Entitlement{ent("llm.tokens", bundledomain.LimitIncluded, 100, bundledomain.EnforcementSoft, bundledomain.OverageCustom)}
	usage := map[string]float64{"llm.tokens": 250}

	lines, review := BuildLines(context.Background(), ents, usage, config.DefaultPricingConfig(), stubCustom{amount: 4200})
	require.False(t, review)
	require.Equal(t, invoicedomain.ChargeCustom, lines[1].ChargeType)
	require.EqualValues(t, 4200, lines[1].AmountMinor)

	// A failed custom computation flags the line for review instead of
	// dropping it.
	lines, review = BuildLines(context.Background(), ents, usage, config.DefaultPricingConfig(), stubCustom{err: errors.New("boom")})
	require.True(t, review)
	require.Equal(t, invoicedomain.ChargeFlagged, lines[1].ChargeType)

	lines, review = BuildLines(context.Background(), ents, usage, config.DefaultPricingConfig(), nil)
	require.True(t, review)
	require.True(t, lines[1].Flagged)
}

func TestBuildLinesSkipsUnentitledMeters(t *testing.T) {
	lines, review := BuildLines(context.Background(),
		[]entitlement.Entitlement{ent("llm.tokens", bundledomain.LimitIncluded, 100, bundledomain.EnforcementSoft, bundledomain.OveragePerUnit)},
		map[string]float64{"storage.bytes": 500},
		config.DefaultPricingConfig(),
		nil,
	)
	require.False(t, review)
	require.Empty(t, lines)
}
