package rates

import (
	"github.com/jmcallister/fareledger/internal/model"

	"github.com/shopspring/decimal"
)

// DefaultRules is the commission schedule seeded into an empty database.
// Service fees and delivery fees are 100% platform revenue, expressed as
// rate-1 rules so the calculator keeps a single code path.
func DefaultRules() []model.RateRule {
	pct := func(n int64) decimal.Decimal {
		return decimal.New(n, -2)
	}
	return []model.RateRule{
		{Category: model.CategoryBaseFare, Rate: pct(15)},
		{Category: model.CategoryBaseFare, Tier: "premium", Rate: pct(25)},
		{Category: model.CategoryBaseFare, Tier: "fleet", Rate: pct(40)},
		{Category: model.CategoryServiceFee, Rate: pct(100)},
		{Category: model.CategoryInsurance, Rate: pct(10)},
		{Category: model.CategoryDelivery, Rate: pct(100)},
		{Category: model.CategoryAddon, Rate: pct(20)},
	}
}
