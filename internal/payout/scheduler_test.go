package payout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"

	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/storage"
)

func createSettlementWithNet(t *testing.T, store *storage.SQLiteStorage, providerID string, net model.Money) *model.Settlement {
	t.Helper()
	settlementSeq++
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(settlementSeq) * 7 * 24 * time.Hour)
	now := time.Now().UTC()

	settlement := &model.Settlement{
		ID:          uuid.NewString(),
		ProviderID:  providerID,
		PeriodStart: start,
		PeriodEnd:   start.Add(7 * 24 * time.Hour),
		LineResults: []model.CommissionResult{
			{Category: model.CategoryBaseFare, GrossAmount: net, CommissionAmount: 0, ProviderNet: net},
		},
		GrossEarnings: net,
		NetPayout:     net,
		PaymentStatus: model.PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.CreateSettlement(context.Background(), settlement))
	return settlement
}

func TestScheduleSplitsNetPayoutExactly(t *testing.T) {
	store, _, machine := newTestMachine(t)
	scheduler := NewScheduler(store, machine)
	ctx := context.Background()

	completedAt := time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		net   model.Money
		want1 model.Money
		want2 model.Money
	}{
		{name: "even", net: 8500, want1: 4250, want2: 4250},
		{name: "odd remainder to second", net: 8501, want1: 4250, want2: 4251},
		{name: "one unit", net: 1, want1: 0, want2: 1},
		{name: "zero", net: 0, want1: 0, want2: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settlement := createSettlementWithNet(t, store, "prov-"+tt.name, tt.net)

			tranches, err := scheduler.Schedule(ctx, settlement, completedAt)
			require.NoError(t, err)
			require.Len(t, tranches, 2)

			assert.Equal(t, tt.want1, tranches[0].Amount)
			assert.Equal(t, tt.want2, tranches[1].Amount)
			assert.Equal(t, settlement.NetPayout, tranches[0].Amount+tranches[1].Amount)
			assert.True(t, tranches[0].DueAt.Equal(completedAt.Add(model.TrancheOneDelay)))
			assert.True(t, tranches[1].DueAt.Equal(completedAt.Add(model.TrancheTwoDelay)))
		})
	}
}

func TestScheduleIsIdempotent(t *testing.T) {
	store, _, machine := newTestMachine(t)
	scheduler := NewScheduler(store, machine)
	ctx := context.Background()

	settlement := createPendingSettlement(t, store, "prov-1")
	completedAt := time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC)

	first, err := scheduler.Schedule(ctx, settlement, completedAt)
	require.NoError(t, err)

	// Rescheduling later must not move due times or amounts.
	second, err := scheduler.Schedule(ctx, settlement, completedAt.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, first[0].Amount, second[0].Amount)
	assert.True(t, first[0].DueAt.Equal(second[0].DueAt))
	assert.True(t, first[1].DueAt.Equal(second[1].DueAt))
}

func TestExecuteDueTranches(t *testing.T) {
	store, disburser, machine := newTestMachine(t)
	scheduler := NewScheduler(store, machine)
	ctx := context.Background()

	settlement := createPendingSettlement(t, store, "prov-1")
	completedAt := time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC)
	_, err := scheduler.Schedule(ctx, settlement, completedAt)
	require.NoError(t, err)

	// Before the first due time nothing is paid.
	result, err := scheduler.ExecuteDueTranches(ctx, completedAt, model.MethodWallet)
	require.NoError(t, err)
	assert.Zero(t, result.Total())
	assert.Zero(t, disburser.Calls())

	// At 6h only tranche 1 pays out.
	result, err = scheduler.ExecuteDueTranches(ctx, completedAt.Add(model.TrancheOneDelay), model.MethodWallet)
	require.NoError(t, err)
	assert.Equal(t, []string{settlement.ID + "/1"}, result.Succeeded)
	assert.Equal(t, 1, disburser.Calls())
	assert.Equal(t, model.Money(4250), disburser.Requests[0].Amount)

	// Re-running at the same instant pays nothing twice.
	result, err = scheduler.ExecuteDueTranches(ctx, completedAt.Add(model.TrancheOneDelay), model.MethodWallet)
	require.NoError(t, err)
	assert.Zero(t, result.Total())
	assert.Equal(t, 1, disburser.Calls())

	// At 72h the remainder pays out.
	result, err = scheduler.ExecuteDueTranches(ctx, completedAt.Add(model.TrancheTwoDelay), model.MethodWallet)
	require.NoError(t, err)
	assert.Equal(t, []string{settlement.ID + "/2"}, result.Succeeded)
	assert.Equal(t, 2, disburser.Calls())

	tranches, err := store.ListTranchesBySettlement(ctx, settlement.ID)
	require.NoError(t, err)
	for _, tranche := range tranches {
		assert.Equal(t, model.TrancheCompleted, tranche.Status)
		assert.NotEmpty(t, tranche.ExternalReference)
	}

	// With both tranches paid the settlement itself is completed and
	// frozen, carrying both tranche references.
	final, err := store.GetSettlement(ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCompleted, final.PaymentStatus)
	require.NotNil(t, final.PaymentDate)
	assert.Contains(t, final.ExternalReference, tranches[0].ExternalReference)
	assert.Contains(t, final.ExternalReference, tranches[1].ExternalReference)
}

func TestCancelTranche(t *testing.T) {
	store, disburser, machine := newTestMachine(t)
	scheduler := NewScheduler(store, machine)
	ctx := context.Background()

	settlement := createPendingSettlement(t, store, "prov-1")
	completedAt := time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC)
	_, err := scheduler.Schedule(ctx, settlement, completedAt)
	require.NoError(t, err)

	require.NoError(t, scheduler.CancelTranche(ctx, settlement.ID, 2, "chargeback on underlying fare"))

	got, err := store.GetTranche(ctx, settlement.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, model.TrancheCancelled, got.Status)
	assert.Equal(t, "chargeback on underlying fare", got.FailureReason)

	// The cancelled tranche never pays, even past its due time.
	result, err := scheduler.ExecuteDueTranches(ctx, completedAt.Add(model.TrancheTwoDelay), model.MethodWallet)
	require.NoError(t, err)
	assert.Equal(t, []string{settlement.ID + "/1"}, result.Succeeded)
	assert.Equal(t, 1, disburser.Calls())

	// A split with a cancelled tranche never completes in full.
	got2, err := store.GetSettlement(ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentProcessing, got2.PaymentStatus)
}

func TestCancelTrancheOnlyWhenPending(t *testing.T) {
	store, _, machine := newTestMachine(t)
	scheduler := NewScheduler(store, machine)
	ctx := context.Background()

	settlement := createPendingSettlement(t, store, "prov-1")
	completedAt := time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC)
	_, err := scheduler.Schedule(ctx, settlement, completedAt)
	require.NoError(t, err)

	_, err = scheduler.ExecuteDueTranches(ctx, completedAt.Add(model.TrancheOneDelay), model.MethodWallet)
	require.NoError(t, err)

	err = scheduler.CancelTranche(ctx, settlement.ID, 1, "too late")
	assert.ErrorIs(t, err, common.ErrTrancheNotCancellable)

	err = scheduler.CancelTranche(ctx, settlement.ID, 3, "no such tranche")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestScheduleRejectsPaidSettlement(t *testing.T) {
	store, disburser, machine := newTestMachine(t)
	scheduler := NewScheduler(store, machine)
	ctx := context.Background()

	settlement := createPendingSettlement(t, store, "prov-1")
	_, err := machine.PaySettlement(ctx, settlement.ID, model.MethodWallet)
	require.NoError(t, err)
	require.Equal(t, 1, disburser.Calls())

	// The net payout already went out in full; splitting it now would
	// pay it a second time.
	completedAt := time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC)
	_, err = scheduler.Schedule(ctx, settlement, completedAt)
	assert.ErrorIs(t, err, common.ErrNotPending)

	tranches, err := store.ListTranchesBySettlement(ctx, settlement.ID)
	require.NoError(t, err)
	assert.Empty(t, tranches)

	result, err := scheduler.ExecuteDueTranches(ctx, completedAt.Add(model.TrancheTwoDelay), model.MethodWallet)
	require.NoError(t, err)
	assert.Zero(t, result.Total())

	// Exactly the net payout left the platform, once.
	assert.Equal(t, 1, disburser.Calls())
	assert.Equal(t, settlement.NetPayout, disburser.Requests[0].Amount)
}

func TestBatchCannotPaySplitSettlement(t *testing.T) {
	store, disburser, machine := newTestMachine(t)
	scheduler := NewScheduler(store, machine)
	processor := NewProcessor(store, machine)
	ctx := context.Background()

	settlement := createPendingSettlement(t, store, "prov-1")
	completedAt := time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC)
	_, err := scheduler.Schedule(ctx, settlement, completedAt)
	require.NoError(t, err)

	// Scheduling claimed the settlement, so the full-settlement path
	// reports it rather than paying the whole net alongside the tranches.
	result, err := processor.ProcessBatch(ctx, []string{settlement.ID}, model.MethodWallet, nil)
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, ReasonNotPending, result.Failed[0].Reason)
	assert.Zero(t, disburser.Calls())

	trancheResult, err := scheduler.ExecuteDueTranches(ctx, completedAt.Add(model.TrancheTwoDelay), model.MethodWallet)
	require.NoError(t, err)
	require.Len(t, trancheResult.Succeeded, 2)

	var disbursed model.Money
	for _, req := range disburser.Requests {
		disbursed += req.Amount
	}
	assert.Equal(t, settlement.NetPayout, disbursed)

	// Once the final tranche lands, the completed settlement is frozen
	// against any further batch attempt.
	result, err = processor.ProcessBatch(ctx, []string{settlement.ID}, model.MethodWallet, nil)
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, ReasonNotPending, result.Failed[0].Reason)
	assert.Equal(t, 2, disburser.Calls())
}

func TestScheduleConcurrentCallers(t *testing.T) {
	store, _, machine := newTestMachine(t)
	scheduler := NewScheduler(store, machine)
	ctx := context.Background()

	settlement := createPendingSettlement(t, store, "prov-1")
	completedAt := time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC)

	const callers = 6
	results := make([][]model.PayoutTranche, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = scheduler.Schedule(ctx, settlement, completedAt)
		}(i)
	}
	wg.Wait()

	// Every caller gets the same pair; only one pair exists.
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 2)
		assert.Equal(t, settlement.NetPayout, results[i][0].Amount+results[i][1].Amount)
	}
	tranches, err := store.ListTranchesBySettlement(ctx, settlement.ID)
	require.NoError(t, err)
	assert.Len(t, tranches, 2)

	got, err := store.GetSettlement(ctx, settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentProcessing, got.PaymentStatus)
}
