package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/service"
)

func createTestSettlement(providerID string, periodStart time.Time) *model.Settlement {
	now := time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC)
	return &model.Settlement{
		ID:          uuid.NewString(),
		ProviderID:  providerID,
		PeriodStart: periodStart,
		PeriodEnd:   periodStart.Add(7 * 24 * time.Hour),
		LineResults: []model.CommissionResult{
			{Category: model.CategoryBaseFare, GrossAmount: 10000, CommissionAmount: 1500, ProviderNet: 8500},
			{Category: model.CategoryDelivery, GrossAmount: 2000, CommissionAmount: 2000, ProviderNet: 0},
		},
		GrossEarnings:    12000,
		CommissionAmount: 3500,
		Bonuses:          model.BonusBreakdown{Completion: 500},
		TotalBonuses:     500,
		NetPayout:        9000,
		PaymentStatus:    model.PaymentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestCreateAndGetSettlement(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	periodStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	settlement := createTestSettlement("prov-1", periodStart)
	require.NoError(t, store.CreateSettlement(ctx, settlement))

	got, err := store.GetSettlement(ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.ProviderID, got.ProviderID)
	assert.Equal(t, model.Money(9000), got.NetPayout)
	assert.Equal(t, model.PaymentPending, got.PaymentStatus)
	require.Len(t, got.LineResults, 2)
	assert.Equal(t, model.Money(8500), got.LineResults[0].ProviderNet)
	assert.NoError(t, got.CheckTotals())
}

func TestGetSettlementNotFound(t *testing.T) {
	store := createTestStorage(t)

	_, err := store.GetSettlement(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCreateSettlementDuplicatePeriod(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	periodStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateSettlement(ctx, createTestSettlement("prov-1", periodStart)))

	err := store.CreateSettlement(ctx, createTestSettlement("prov-1", periodStart))
	assert.ErrorIs(t, err, common.ErrDuplicatePeriod)

	// Same period for a different provider is fine.
	assert.NoError(t, store.CreateSettlement(ctx, createTestSettlement("prov-2", periodStart)))
}

func TestCreateSettlementRejectsBrokenTotals(t *testing.T) {
	store := createTestStorage(t)

	settlement := createTestSettlement("prov-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	settlement.NetPayout = 1

	err := store.CreateSettlement(context.Background(), settlement)
	assert.ErrorIs(t, err, ErrInvalidSettlement)
}

func TestGetSettlementByPeriod(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	periodStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	settlement := createTestSettlement("prov-1", periodStart)
	require.NoError(t, store.CreateSettlement(ctx, settlement))

	got, err := store.GetSettlementByPeriod(ctx, "prov-1", periodStart, settlement.PeriodEnd)
	require.NoError(t, err)
	assert.Equal(t, settlement.ID, got.ID)

	_, err = store.GetSettlementByPeriod(ctx, "prov-1",
		periodStart.Add(7*24*time.Hour), settlement.PeriodEnd.Add(7*24*time.Hour))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestListSettlementsFilters(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s1 := createTestSettlement("prov-1", base)
	s2 := createTestSettlement("prov-1", base.Add(7*24*time.Hour))
	s3 := createTestSettlement("prov-2", base)
	for _, s := range []*model.Settlement{s1, s2, s3} {
		require.NoError(t, store.CreateSettlement(ctx, s))
	}
	require.NoError(t, store.UpdateSettlementStatus(ctx, s2.ID,
		model.PaymentPending, model.PaymentOnHold, service.StatusMetadata{}))

	byProvider, err := store.ListSettlements(ctx, service.SettlementFilter{ProviderID: "prov-1"})
	require.NoError(t, err)
	assert.Len(t, byProvider, 2)

	onHold, err := store.ListSettlements(ctx, service.SettlementFilter{Status: model.PaymentOnHold})
	require.NoError(t, err)
	require.Len(t, onHold, 1)
	assert.Equal(t, s2.ID, onHold[0].ID)

	from := base.Add(8 * 24 * time.Hour)
	later, err := store.ListSettlements(ctx, service.SettlementFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, s2.ID, later[0].ID)

	limited, err := store.ListSettlements(ctx, service.SettlementFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestUpdateSettlementStatus(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	settlement := createTestSettlement("prov-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.CreateSettlement(ctx, settlement))

	key := uuid.NewString()
	require.NoError(t, store.UpdateSettlementStatus(ctx, settlement.ID,
		model.PaymentPending, model.PaymentProcessing,
		service.StatusMetadata{IdempotencyKey: key, PaymentMethod: model.MethodBankTransfer}))

	got, err := store.GetSettlement(ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentProcessing, got.PaymentStatus)
	assert.Equal(t, key, got.IdempotencyKey)
	assert.Equal(t, model.MethodBankTransfer, got.PaymentMethod)

	paid := time.Date(2026, 3, 8, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateSettlementStatus(ctx, settlement.ID,
		model.PaymentProcessing, model.PaymentCompleted,
		service.StatusMetadata{ExternalReference: "REF-1", PaymentDate: &paid}))

	got, err = store.GetSettlement(ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCompleted, got.PaymentStatus)
	assert.Equal(t, "REF-1", got.ExternalReference)
	require.NotNil(t, got.PaymentDate)
	assert.True(t, got.PaymentDate.Equal(paid))
}

func TestUpdateSettlementStatusInTransaction(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	settlement := createTestSettlement("prov-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.CreateSettlement(ctx, settlement))

	// A rolled-back transition leaves the stored status untouched.
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpdateSettlementStatus(ctx, settlement.ID,
		model.PaymentPending, model.PaymentProcessing, service.StatusMetadata{}))
	require.NoError(t, tx.Rollback())

	got, err := store.GetSettlement(ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, got.PaymentStatus)

	// Committed, the compare-and-set sticks.
	tx, err = store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpdateSettlementStatus(ctx, settlement.ID,
		model.PaymentPending, model.PaymentProcessing, service.StatusMetadata{}))
	require.NoError(t, tx.Commit())

	got, err = store.GetSettlement(ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentProcessing, got.PaymentStatus)
}

func TestUpdateSettlementStatusGuards(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	settlement := createTestSettlement("prov-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.CreateSettlement(ctx, settlement))

	t.Run("unknown id", func(t *testing.T) {
		err := store.UpdateSettlementStatus(ctx, uuid.NewString(),
			model.PaymentPending, model.PaymentProcessing, service.StatusMetadata{})
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("stale expectation", func(t *testing.T) {
		err := store.UpdateSettlementStatus(ctx, settlement.ID,
			model.PaymentProcessing, model.PaymentCompleted, service.StatusMetadata{})
		assert.ErrorIs(t, err, common.ErrStaleStatus)
	})

	t.Run("completed settlement is frozen", func(t *testing.T) {
		require.NoError(t, store.UpdateSettlementStatus(ctx, settlement.ID,
			model.PaymentPending, model.PaymentProcessing, service.StatusMetadata{}))
		paid := time.Now().UTC()
		require.NoError(t, store.UpdateSettlementStatus(ctx, settlement.ID,
			model.PaymentProcessing, model.PaymentCompleted,
			service.StatusMetadata{ExternalReference: "REF-2", PaymentDate: &paid}))

		err := store.UpdateSettlementStatus(ctx, settlement.ID,
			model.PaymentCompleted, model.PaymentPending, service.StatusMetadata{})
		assert.ErrorIs(t, err, common.ErrSettlementFrozen)
	})
}

func TestListProcessingOlderThan(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	settlement := createTestSettlement("prov-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.CreateSettlement(ctx, settlement))
	require.NoError(t, store.UpdateSettlementStatus(ctx, settlement.ID,
		model.PaymentPending, model.PaymentProcessing,
		service.StatusMetadata{IdempotencyKey: uuid.NewString()}))

	recent, err := store.ListProcessingOlderThan(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, recent, "just-updated settlement reported as stuck")

	stuck, err := store.ListProcessingOlderThan(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, settlement.ID, stuck[0].ID)
}
