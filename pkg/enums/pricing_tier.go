package enums

import "fmt"

// PricingTier selects the margin multiplier applied to vendor base costs.
type PricingTier string

const (
	PricingTierEconomic PricingTier = "economic"
	PricingTierStandard PricingTier = "standard"
	PricingTierPremium  PricingTier = "premium"
)

var validPricingTiers = []PricingTier{
	PricingTierEconomic,
	PricingTierStandard,
	PricingTierPremium,
}

// String implements fmt.Stringer.
func (p PricingTier) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PricingTier.
func (p PricingTier) IsValid() bool {
	for _, candidate := range validPricingTiers {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePricingTier converts raw input into a PricingTier.
func ParsePricingTier(value string) (PricingTier, error) {
	for _, candidate := range validPricingTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pricing tier %q", value)
}
