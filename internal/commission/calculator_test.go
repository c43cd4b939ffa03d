package commission

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/rates"
)

func defaultSnapshot(t *testing.T) *rates.Snapshot {
	t.Helper()
	table, err := rates.NewTable(rates.DefaultRules())
	require.NoError(t, err)
	return table.Snapshot()
}

func TestComputeFareWithDeliveryFee(t *testing.T) {
	snap := defaultSnapshot(t)

	// A $100.00 base fare at 15% plus a $20.00 delivery fee the platform
	// keeps in full: the provider nets $85.00.
	results, err := Compute([]model.RevenueLine{
		{Category: model.CategoryBaseFare, GrossAmount: 10000},
		{Category: model.CategoryDelivery, GrossAmount: 2000},
	}, snap)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, model.Money(1500), results[0].CommissionAmount)
	assert.Equal(t, model.Money(8500), results[0].ProviderNet)
	assert.Equal(t, model.Money(2000), results[1].CommissionAmount)
	assert.Equal(t, model.Money(0), results[1].ProviderNet)

	gross, comm := Totals(results)
	assert.Equal(t, model.Money(12000), gross)
	assert.Equal(t, model.Money(3500), comm)
}

func TestComputeConservation(t *testing.T) {
	snap := defaultSnapshot(t)

	lines := []model.RevenueLine{
		{Category: model.CategoryBaseFare, Tier: "premium", GrossAmount: 12345},
		{Category: model.CategoryInsurance, GrossAmount: 999},
		{Category: model.CategoryAddon, GrossAmount: 33},
		{Category: model.CategoryServiceFee, GrossAmount: 250},
	}
	results, err := Compute(lines, snap)
	require.NoError(t, err)

	for i, r := range results {
		assert.Equal(t, r.GrossAmount, r.CommissionAmount+r.ProviderNet,
			"line %d: gross not conserved", i)
		assert.GreaterOrEqual(t, r.CommissionAmount, model.Money(0))
		assert.LessOrEqual(t, r.CommissionAmount, r.GrossAmount)
	}
}

func TestComputeRoundsHalfUpPerLine(t *testing.T) {
	table, err := rates.NewTable([]model.RateRule{
		{Category: model.CategoryBaseFare, Rate: decimal.New(125, -3)},
	})
	require.NoError(t, err)
	snap := table.Snapshot()

	// 101 * 0.125 = 12.625 rounds to 13.
	results, err := Compute([]model.RevenueLine{
		{Category: model.CategoryBaseFare, GrossAmount: 101},
	}, snap)
	require.NoError(t, err)
	assert.Equal(t, model.Money(13), results[0].CommissionAmount)
	assert.Equal(t, model.Money(88), results[0].ProviderNet)
}

func TestComputeFlatFee(t *testing.T) {
	table, err := rates.NewTable([]model.RateRule{
		{Category: model.CategoryBaseFare, Rate: decimal.New(10, -2), FlatFee: 50},
	})
	require.NoError(t, err)

	results, err := Compute([]model.RevenueLine{
		{Category: model.CategoryBaseFare, GrossAmount: 1000},
	}, table.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, model.Money(150), results[0].CommissionAmount)
}

func TestComputeDeterministic(t *testing.T) {
	snap := defaultSnapshot(t)
	lines := []model.RevenueLine{
		{Category: model.CategoryBaseFare, Tier: "fleet", GrossAmount: 777},
		{Category: model.CategoryAddon, GrossAmount: 442},
	}

	first, err := Compute(lines, snap)
	require.NoError(t, err)
	for n := 0; n < 10; n++ {
		again, err := Compute(lines, snap)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestComputeErrors(t *testing.T) {
	snap := defaultSnapshot(t)

	t.Run("unknown category", func(t *testing.T) {
		_, err := Compute([]model.RevenueLine{
			{Category: "JET_FUEL", GrossAmount: 100},
		}, snap)
		assert.ErrorIs(t, err, common.ErrInvalidRevenueLine)
	})

	t.Run("negative gross", func(t *testing.T) {
		_, err := Compute([]model.RevenueLine{
			{Category: model.CategoryBaseFare, GrossAmount: -1},
		}, snap)
		assert.ErrorIs(t, err, common.ErrInvalidRevenueLine)
	})

	t.Run("unresolved rate", func(t *testing.T) {
		table, err := rates.NewTable([]model.RateRule{
			{Category: model.CategoryBaseFare, Rate: decimal.New(15, -2)},
		})
		require.NoError(t, err)

		_, err = Compute([]model.RevenueLine{
			{Category: model.CategoryAddon, GrossAmount: 100},
		}, table.Snapshot())
		assert.ErrorIs(t, err, common.ErrUnresolvedRate)
	})
}
