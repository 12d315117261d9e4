package service

import (
	"context"
	"math"
	"sort"

	bundledomain "github.com/meterline/meterline/internal/bundle/domain"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/entitlement"
	invoicedomain "github.com/meterline/meterline/internal/invoice/domain"
	"github.com/meterline/meterline/internal/rating"
)

// LineDraft is a computed charge before persistence.
type LineDraft struct {
	MeterKey       string
	ChargeType     invoicedomain.ChargeType
	Quantity       float64
	UnitPriceMinor int64
	AmountMinor    int64
	Flagged        bool
	Note           string
}

// BuildLines turns per-meter usage plus effective entitlements into
// invoice charges. The second result reports whether any line needs
// human review, which forces the invoice to stay in DRAFT.
//
// Meters with usage but no entitlement produce no charge: without a
// policy there is no pricing contract to bill against.
func BuildLines(
	ctx context.Context,
	ents []entitlement.Entitlement,
	usageByMeter map[string]float64,
	pricing config.PricingConfig,
	custom rating.CustomComputer,
) ([]LineDraft, bool) {
	byMeter := make(map[string]entitlement.Entitlement, len(ents))
	for _, e := range ents {
		byMeter[e.MeterKey] = e
	}

	meters := make([]string, 0, len(usageByMeter))
	for meter, qty := range usageByMeter {
		if qty <= 0 {
			continue
		}
		if _, ok := byMeter[meter]; !ok {
			continue
		}
		meters = append(meters, meter)
	}
	sort.Strings(meters)

	var lines []LineDraft
	needsReview := false

	for _, meter := range meters {
		used := usageByMeter[meter]
		ent := byMeter[meter]

		includedQty := used
		excess := 0.0
		switch ent.LimitType {
		case bundledomain.LimitIncluded, bundledomain.LimitHardCap:
			includedQty = math.Min(used, ent.IncludedAmount)
			excess = math.Max(0, used-ent.IncludedAmount)
		}

		lines = append(lines, LineDraft{
			MeterKey:   meter,
			ChargeType: invoicedomain.ChargeIncluded,
			Quantity:   includedQty,
		})

		if excess <= 0 || ent.LimitType == bundledomain.LimitUnlimited {
			continue
		}

		line, flagged := chargeExcess(ctx, ent, meter, excess, pricing, custom)
		if line != nil {
			lines = append(lines, *line)
		}
		if flagged {
			needsReview = true
		}
	}

	return lines, needsReview
}

func chargeExcess(
	ctx context.Context,
	ent entitlement.Entitlement,
	meter string,
	excess float64,
	pricing config.PricingConfig,
	custom rating.CustomComputer,
) (*LineDraft, bool) {
	flag := func(note string) (*LineDraft, bool) {
		return &LineDraft{
			MeterKey:   meter,
			ChargeType: invoicedomain.ChargeFlagged,
			Quantity:   excess,
			Flagged:    true,
			Note:       note,
		}, true
	}

	switch ent.OverageBilling {
	case bundledomain.OverageNone:
		if ent.Enforcement == bundledomain.EnforcementHard && pricing.FlagUnbilledHardCap {
			return flag("hard cap exceeded with no overage billing configured")
		}
		return nil, false

	case bundledomain.OveragePerUnit:
		mp, ok := pricing.Meters[meter]
		if !ok {
			return flag("no unit price configured")
		}
		amount, err := rating.PerUnit(excess, mp.UnitPriceMinor)
		if err != nil {
			return flag("per-unit pricing failed: " + err.Error())
		}
		return &LineDraft{
			MeterKey:       meter,
			ChargeType:     invoicedomain.ChargeOverage,
			Quantity:       excess,
			UnitPriceMinor: mp.UnitPriceMinor,
			AmountMinor:    amount,
		}, false

	case bundledomain.OverageTiered:
		mp, ok := pricing.Meters[meter]
		if !ok || len(mp.Tiers) == 0 {
			return flag("no tier schedule configured")
		}
		tiers := make([]rating.Tier, len(mp.Tiers))
		for i, t := range mp.Tiers {
			tiers[i] = rating.Tier{UpTo: float64(t.UpTo), UnitPriceMinor: t.UnitPriceMinor}
		}
		amount, err := rating.Tiered(excess, tiers)
		if err != nil {
			return flag("tiered pricing failed: " + err.Error())
		}
		return &LineDraft{
			MeterKey:    meter,
			ChargeType:  invoicedomain.ChargeOverage,
			Quantity:    excess,
			AmountMinor: amount,
			Note:        "tiered",
		}, false

	case bundledomain.OverageCustom:
		if custom == nil {
			return flag("no custom pricing computer configured")
		}
		amount, err := custom.Compute(ctx, meter, excess)
		if err != nil {
			return flag("custom pricing failed: " + err.Error())
		}
		return &LineDraft{
			MeterKey:    meter,
			ChargeType:  invoicedomain.ChargeCustom,
			Quantity:    excess,
			AmountMinor: amount,
		}, false
	}

	return flag("unknown overage billing mode")
}
