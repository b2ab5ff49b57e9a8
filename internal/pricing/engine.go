package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/zapcredits/zapcredits-backend/pkg/config"
	"github.com/zapcredits/zapcredits-backend/pkg/enums"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
)

var oneHundred = decimal.NewFromInt(100)

// Band is a quantity range mapped to a discount percentage. Max == 0 means
// the band is unbounded above.
type Band struct {
	Min     int
	Max     int
	Percent decimal.Decimal
}

// Engine computes sale prices from vendor base costs. It is pure: margins and
// discount bands are fixed at construction and every call is deterministic.
type Engine struct {
	margins map[enums.PricingTier]decimal.Decimal
	bands   []Band
}

// NewEngine builds an engine from startup configuration. Bands must already be
// ordered and non-overlapping (config.Load validates this).
func NewEngine(cfg config.PricingConfig) (*Engine, error) {
	margins := map[enums.PricingTier]decimal.Decimal{}
	for tier, value := range map[enums.PricingTier]float64{
		enums.PricingTierEconomic: cfg.MarginEconomic,
		enums.PricingTierStandard: cfg.MarginStandard,
		enums.PricingTierPremium:  cfg.MarginPremium,
	} {
		if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
			return nil, fmt.Errorf("margin for tier %s must be a positive finite number", tier)
		}
		margins[tier] = decimal.NewFromFloat(value)
	}

	bands := []Band{
		{Min: cfg.DiscountBand1Min, Max: cfg.DiscountBand1Max, Percent: decimal.NewFromFloat(cfg.DiscountBand1Percent)},
		{Min: cfg.DiscountBand2Min, Max: cfg.DiscountBand2Max, Percent: decimal.NewFromFloat(cfg.DiscountBand2Percent)},
		{Min: cfg.DiscountBand3Min, Max: 0, Percent: decimal.NewFromFloat(cfg.DiscountBand3Percent)},
	}
	for _, band := range bands {
		if band.Percent.IsNegative() || band.Percent.GreaterThan(oneHundred) {
			return nil, fmt.Errorf("discount percent %s out of range", band.Percent)
		}
	}

	return &Engine{margins: margins, bands: bands}, nil
}

// Margin returns the multiplier for the tier, falling back to standard for
// unknown tiers.
func (e *Engine) Margin(tier enums.PricingTier) decimal.Decimal {
	if margin, ok := e.margins[tier]; ok {
		return margin
	}
	return e.margins[enums.PricingTierStandard]
}

// Discount returns the discount percentage for the quantity, 0 below all bands.
func (e *Engine) Discount(quantity int) decimal.Decimal {
	for _, band := range e.bands {
		if quantity >= band.Min && (band.Max == 0 || quantity <= band.Max) {
			return band.Percent
		}
	}
	return decimal.Zero
}

// Price computes baseCost x margin x (1 - discount/100), rounded half-up to
// two decimal places.
func (e *Engine) Price(baseCost decimal.Decimal, tier enums.PricingTier, quantity int) (decimal.Decimal, error) {
	if baseCost.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "base cost must be non-negative")
	}
	if quantity < 1 {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	discount := e.Discount(quantity)
	factor := decimal.NewFromInt(1).Sub(discount.Div(oneHundred))
	return baseCost.Mul(e.Margin(tier)).Mul(factor).Round(2), nil
}

// CreditsForPayment converts a confirmed deposit amount into granted credit by
// inverting the tier margin. Discount bands apply to purchases only.
func (e *Engine) CreditsForPayment(amount decimal.Decimal, tier enums.PricingTier) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
	}
	return amount.DivRound(e.Margin(tier), 2), nil
}
