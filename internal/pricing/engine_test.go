package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapcredits/zapcredits-backend/pkg/config"
	"github.com/zapcredits/zapcredits-backend/pkg/enums"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
)

func defaultConfig() config.PricingConfig {
	return config.PricingConfig{
		MarginEconomic:       1.7,
		MarginStandard:       2.2,
		MarginPremium:        3.5,
		DiscountBand1Min:     5,
		DiscountBand1Max:     20,
		DiscountBand1Percent: 5,
		DiscountBand2Min:     21,
		DiscountBand2Max:     100,
		DiscountBand2Percent: 12,
		DiscountBand3Min:     101,
		DiscountBand3Percent: 20,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(defaultConfig())
	require.NoError(t, err)
	return engine
}

func TestPriceStandardTierWithBandDiscount(t *testing.T) {
	engine := newTestEngine(t)

	// 100 x 2.2 x 0.95 = 209.00
	price, err := engine.Price(decimal.NewFromInt(100), enums.PricingTierStandard, 10)
	require.NoError(t, err)
	assert.Equal(t, "209", price.String())
	assert.Equal(t, "209.00", price.StringFixed(2))
}

func TestPriceQuantityBelowAllBands(t *testing.T) {
	engine := newTestEngine(t)

	price, err := engine.Price(decimal.NewFromInt(100), enums.PricingTierStandard, 1)
	require.NoError(t, err)
	assert.Equal(t, "220.00", price.StringFixed(2))
}

func TestPriceTopBandIsUnbounded(t *testing.T) {
	engine := newTestEngine(t)

	price, err := engine.Price(decimal.NewFromInt(100), enums.PricingTierEconomic, 100000)
	require.NoError(t, err)
	// 100 x 1.7 x 0.80
	assert.Equal(t, "136.00", price.StringFixed(2))
}

func TestPriceRoundsHalfUp(t *testing.T) {
	engine := newTestEngine(t)

	// 3.17 x 2.2 = 6.974 -> 6.97; 3.25 x 2.2 = 7.15 exactly
	price, err := engine.Price(decimal.RequireFromString("3.17"), enums.PricingTierStandard, 1)
	require.NoError(t, err)
	assert.Equal(t, "6.97", price.StringFixed(2))

	// 1.25 x 1.7 = 2.125, half rounds up to 2.13
	price, err = engine.Price(decimal.RequireFromString("1.25"), enums.PricingTierEconomic, 1)
	require.NoError(t, err)
	assert.Equal(t, "2.13", price.StringFixed(2))
}

func TestPriceUnknownTierFallsBackToStandard(t *testing.T) {
	engine := newTestEngine(t)

	known, err := engine.Price(decimal.NewFromInt(50), enums.PricingTierStandard, 1)
	require.NoError(t, err)
	unknown, err := engine.Price(decimal.NewFromInt(50), enums.PricingTier("vip"), 1)
	require.NoError(t, err)
	assert.True(t, known.Equal(unknown))
}

func TestPriceRejectsInvalidInput(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Price(decimal.NewFromInt(-1), enums.PricingTierStandard, 1)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = engine.Price(decimal.NewFromInt(10), enums.PricingTierStandard, 0)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestCreditsForPaymentInvertsMarginOnly(t *testing.T) {
	engine := newTestEngine(t)

	credits, err := engine.CreditsForPayment(decimal.NewFromInt(22), enums.PricingTierStandard)
	require.NoError(t, err)
	assert.Equal(t, "10.00", credits.StringFixed(2))

	// Discount bands never apply to deposits, so the documented ratio is
	// amount/margin even for amounts that came from discounted purchases.
	price, err := engine.Price(decimal.NewFromInt(100), enums.PricingTierStandard, 10)
	require.NoError(t, err)
	credits, err = engine.CreditsForPayment(price, enums.PricingTierStandard)
	require.NoError(t, err)
	assert.Equal(t, price.DivRound(decimal.RequireFromString("2.2"), 2).StringFixed(2), credits.StringFixed(2))
}

func TestCreditsForPaymentRejectsNegative(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.CreditsForPayment(decimal.NewFromInt(-5), enums.PricingTierPremium)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestNewEngineRejectsBadMargins(t *testing.T) {
	cfg := defaultConfig()
	cfg.MarginPremium = 0
	_, err := NewEngine(cfg)
	require.Error(t, err)
}

func TestDiscountBandEdges(t *testing.T) {
	engine := newTestEngine(t)

	assert.True(t, engine.Discount(4).IsZero())
	assert.Equal(t, "5", engine.Discount(5).String())
	assert.Equal(t, "5", engine.Discount(20).String())
	assert.Equal(t, "12", engine.Discount(21).String())
	assert.Equal(t, "12", engine.Discount(100).String())
	assert.Equal(t, "20", engine.Discount(101).String())
}
