// Package commission decomposes gross revenue lines into platform
// commission and provider net earnings.
package commission

import (
	"fmt"

	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/rates"
)

// Compute resolves each revenue line against the rate snapshot and returns
// its commission decomposition, in input order.
//
// Compute is pure: identical inputs against the same snapshot always yield
// identical results, which is what makes settlement audits reproducible.
// A line whose category does not resolve is a hard error, never a
// default-to-zero.
func Compute(lines []model.RevenueLine, snap *rates.Snapshot) ([]model.CommissionResult, error) {
	results := make([]model.CommissionResult, 0, len(lines))

	for i, line := range lines {
		if !line.Category.Valid() {
			return nil, fmt.Errorf("%w: line %d has unknown category %q", common.ErrInvalidRevenueLine, i, line.Category)
		}
		if line.GrossAmount < 0 {
			return nil, fmt.Errorf("%w: line %d has negative gross %d", common.ErrInvalidRevenueLine, i, line.GrossAmount)
		}

		rule, err := snap.Resolve(line.Category, line.Tier)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}

		commission := model.FromDecimal(line.GrossAmount.Decimal().Mul(rule.Rate)) + rule.FlatFee
		results = append(results, model.CommissionResult{
			Category:         line.Category,
			Tier:             line.Tier,
			GrossAmount:      line.GrossAmount,
			CommissionAmount: commission,
			ProviderNet:      line.GrossAmount - commission,
		})
	}

	return results, nil
}

// Totals sums a result set's gross and commission amounts.
func Totals(results []model.CommissionResult) (gross, commission model.Money) {
	for _, r := range results {
		gross += r.GrossAmount
		commission += r.CommissionAmount
	}
	return gross, commission
}
