// Package entitlement resolves effective per-meter entitlements from
// overlapping bundle policies.
package entitlement

import (
	"sort"

	"github.com/meterline/meterline/internal/bundle/domain"
)

// Entitlement is the effective policy for one meter after merging every
// grant visible to a team.
type Entitlement struct {
	MeterKey       string                `json:"meter_key"`
	LimitType      domain.LimitType      `json:"limit_type"`
	IncludedAmount float64               `json:"included_amount"`
	Enforcement    domain.Enforcement    `json:"enforcement"`
	OverageBilling domain.OverageBilling `json:"overage_billing"`
	SourceBundle   string                `json:"source_bundle"`
}

func enforcementRank(e domain.Enforcement) int {
	switch e {
	case domain.EnforcementHard:
		return 2
	case domain.EnforcementSoft:
		return 1
	default:
		return 0
	}
}

// better reports whether a beats b under the merge comparator:
// UNLIMITED beats everything, then stricter enforcement, then the larger
// included amount, then the lexicographically smaller bundle code. The
// final tie-break makes the reduction order-independent.
func better(a, b domain.PolicyGrant) bool {
	aUnlimited := a.LimitType == domain.LimitUnlimited
	bUnlimited := b.LimitType == domain.LimitUnlimited
	if aUnlimited != bUnlimited {
		return aUnlimited
	}
	if ar, br := enforcementRank(a.Enforcement), enforcementRank(b.Enforcement); ar != br {
		return ar > br
	}
	if a.IncludedAmount != b.IncludedAmount {
		return a.IncludedAmount > b.IncludedAmount
	}
	return a.BundleCode < b.BundleCode
}

// Merge reduces a set of policy grants to one effective entitlement per
// meter key. The result is independent of input order.
func Merge(grants []domain.PolicyGrant) []Entitlement {
	winners := make(map[string]domain.PolicyGrant, len(grants))
	for _, g := range grants {
		current, ok := winners[g.MeterKey]
		if !ok || better(g, current) {
			winners[g.MeterKey] = g
		}
	}

	out := make([]Entitlement, 0, len(winners))
	for _, g := range winners {
		out = append(out, Entitlement{
			MeterKey:       g.MeterKey,
			LimitType:      g.LimitType,
			IncludedAmount: g.IncludedAmount,
			Enforcement:    g.Enforcement,
			OverageBilling: g.OverageBilling,
			SourceBundle:   g.BundleCode,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MeterKey < out[j].MeterKey })
	return out
}
