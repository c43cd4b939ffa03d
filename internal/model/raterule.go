package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RevenueCategory identifies a revenue stream that commission applies to.
type RevenueCategory string

// Revenue categories.
const (
	CategoryBaseFare   RevenueCategory = "BASE_FARE"
	CategoryServiceFee RevenueCategory = "SERVICE_FEE"
	CategoryInsurance  RevenueCategory = "INSURANCE"
	CategoryDelivery   RevenueCategory = "DELIVERY"
	CategoryAddon      RevenueCategory = "ADDON"
)

// Categories lists every known revenue category.
func Categories() []RevenueCategory {
	return []RevenueCategory{
		CategoryBaseFare,
		CategoryServiceFee,
		CategoryInsurance,
		CategoryDelivery,
		CategoryAddon,
	}
}

// Valid reports whether c is a known revenue category.
func (c RevenueCategory) Valid() bool {
	switch c {
	case CategoryBaseFare, CategoryServiceFee, CategoryInsurance, CategoryDelivery, CategoryAddon:
		return true
	}
	return false
}

// RateRule is one commission rule: the platform share of gross revenue for
// a (category, tier) pair. Tier is empty for the category default; a tiered
// rule overrides the default for providers in that tier. Rules with rate 1
// express streams the provider keeps none of (service fees, delivery fees)
// as data rather than special-cased code.
type RateRule struct {
	Rate     decimal.Decimal
	Tier     string
	Category RevenueCategory
	FlatFee  Money
}

// Validate checks that the rule is well formed: known category, rate in
// [0,1], non-negative flat fee.
func (r RateRule) Validate() error {
	if !r.Category.Valid() {
		return fmt.Errorf("rate rule: unknown category %q", r.Category)
	}
	if r.Rate.IsNegative() || r.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("rate rule %s/%s: rate %s outside [0,1]", r.Category, r.Tier, r.Rate)
	}
	if r.FlatFee < 0 {
		return fmt.Errorf("rate rule %s/%s: negative flat fee", r.Category, r.Tier)
	}
	return nil
}
