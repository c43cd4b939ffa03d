package settle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/service"
	"github.com/jmcallister/fareledger/internal/storage"
)

func createTestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func weekOf(day time.Time) (time.Time, time.Time) {
	return day, day.Add(7 * 24 * time.Hour)
}

func sampleTransactions(providerID string, at time.Time) []model.RevenueTransaction {
	return []model.RevenueTransaction{
		{
			ID: "txn-001", ProviderID: providerID, OccurredAt: at,
			Lines: []model.RevenueLine{
				{Category: model.CategoryBaseFare, GrossAmount: 10000},
				{Category: model.CategoryDelivery, GrossAmount: 2000},
			},
		},
	}
}

func TestAggregateBuildsSettlement(t *testing.T) {
	store := createTestStore(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	start, end := weekOf(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	txns := sampleTransactions("prov-1", start.Add(12*time.Hour))

	settlement, err := agg.Aggregate(ctx, "prov-1", start, end, txns,
		model.BonusBreakdown{Completion: 500})
	require.NoError(t, err)

	assert.Equal(t, model.Money(12000), settlement.GrossEarnings)
	assert.Equal(t, model.Money(3500), settlement.CommissionAmount)
	assert.Equal(t, model.Money(500), settlement.TotalBonuses)
	assert.Equal(t, model.Money(9000), settlement.NetPayout)
	assert.Equal(t, model.PaymentPending, settlement.PaymentStatus)
	assert.NoError(t, settlement.CheckTotals())

	persisted, err := store.GetSettlement(ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.NetPayout, persisted.NetPayout)
	assert.Len(t, persisted.LineResults, 2)
}

func TestAggregateIsIdempotentPerPeriod(t *testing.T) {
	store := createTestStore(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	start, end := weekOf(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	txns := sampleTransactions("prov-1", start.Add(12*time.Hour))

	first, err := agg.Aggregate(ctx, "prov-1", start, end, txns, model.BonusBreakdown{})
	require.NoError(t, err)

	// The second run returns the same record, even with different inputs.
	second, err := agg.Aggregate(ctx, "prov-1", start, end, txns,
		model.BonusBreakdown{Volume: 9999})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.NetPayout, second.NetPayout)
	assert.Equal(t, first.TotalBonuses, second.TotalBonuses)

	all, err := store.ListSettlements(ctx, service.SettlementFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAggregatePlatformFee(t *testing.T) {
	store := createTestStore(t)
	agg := NewAggregator(store, WithPlatformFee(250))
	ctx := context.Background()

	start, end := weekOf(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	txns := sampleTransactions("prov-1", start.Add(time.Hour))

	settlement, err := agg.Aggregate(ctx, "prov-1", start, end, txns, model.BonusBreakdown{})
	require.NoError(t, err)
	assert.Equal(t, model.Money(250), settlement.PlatformFees)
	assert.Equal(t, model.Money(8250), settlement.NetPayout)
}

func TestAggregateEmptyPeriod(t *testing.T) {
	store := createTestStore(t)
	agg := NewAggregator(store)

	start, end := weekOf(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	settlement, err := agg.Aggregate(context.Background(), "prov-1", start, end, nil,
		model.BonusBreakdown{Rating: 300})
	require.NoError(t, err)

	assert.Equal(t, model.Money(0), settlement.GrossEarnings)
	assert.Equal(t, model.Money(300), settlement.NetPayout)
}

func TestAggregateRejections(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	start, end := weekOf(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	t.Run("missing provider", func(t *testing.T) {
		_, err := NewAggregator(store).Aggregate(ctx, "", start, end, nil, model.BonusBreakdown{})
		assert.Error(t, err)
	})

	t.Run("inverted period", func(t *testing.T) {
		_, err := NewAggregator(store).Aggregate(ctx, "prov-1", end, start, nil, model.BonusBreakdown{})
		assert.Error(t, err)
	})

	t.Run("foreign transaction", func(t *testing.T) {
		txns := sampleTransactions("prov-2", start.Add(time.Hour))
		_, err := NewAggregator(store).Aggregate(ctx, "prov-1", start, end, txns, model.BonusBreakdown{})
		assert.Error(t, err)
	})

	t.Run("transaction on closing boundary", func(t *testing.T) {
		txns := sampleTransactions("prov-1", end)
		_, err := NewAggregator(store).Aggregate(ctx, "prov-1", start, end, txns, model.BonusBreakdown{})
		assert.Error(t, err)
	})

	t.Run("negative bonus component", func(t *testing.T) {
		_, err := NewAggregator(store).Aggregate(ctx, "prov-1", start, end, nil,
			model.BonusBreakdown{Rating: -1})
		assert.Error(t, err)
	})

	t.Run("negative net payout", func(t *testing.T) {
		agg := NewAggregator(store, WithPlatformFee(100000))
		txns := sampleTransactions("prov-1", start.Add(time.Hour))
		_, err := agg.Aggregate(ctx, "prov-1", start, end, txns, model.BonusBreakdown{})
		assert.ErrorIs(t, err, common.ErrNegativeNetPayout)
	})
}

func TestAggregateFromStore(t *testing.T) {
	store := createTestStore(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	start, end := weekOf(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.SaveRevenueTransactions(ctx, []model.RevenueTransaction{
		{
			ID: "txn-in", ProviderID: "prov-1", OccurredAt: start.Add(time.Hour),
			Lines: []model.RevenueLine{{Category: model.CategoryBaseFare, GrossAmount: 10000}},
		},
		{
			// One second past the period close, so not part of this settlement.
			ID: "txn-out", ProviderID: "prov-1", OccurredAt: end.Add(time.Second),
			Lines: []model.RevenueLine{{Category: model.CategoryBaseFare, GrossAmount: 50000}},
		},
	}))

	settlement, err := agg.AggregateFromStore(ctx, "prov-1", start, end, model.BonusBreakdown{})
	require.NoError(t, err)
	assert.Equal(t, model.Money(10000), settlement.GrossEarnings)
	assert.Equal(t, model.Money(8500), settlement.NetPayout)
}
