// Package settle aggregates a provider's completed transactions for a
// period into a settlement record.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jmcallister/fareledger/internal/commission"
	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/rates"
	"github.com/jmcallister/fareledger/internal/service"
)

// Aggregator builds settlements. It takes one rate snapshot per
// aggregation and persists the resolved line results with the settlement,
// so later rate changes never retroactively alter the record.
type Aggregator struct {
	store       service.Storage
	platformFee model.Money
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithPlatformFee sets a flat per-settlement processing fee deducted from
// the provider's net payout, separate from per-line commission.
func WithPlatformFee(fee model.Money) Option {
	return func(a *Aggregator) {
		a.platformFee = fee
	}
}

// NewAggregator creates an Aggregator over the given storage.
func NewAggregator(store service.Storage, opts ...Option) *Aggregator {
	a := &Aggregator{store: store}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate builds and persists the settlement for a provider's period.
//
// The period is half-open, [periodStart, periodEnd), so a transaction on a
// period boundary belongs to exactly one period. Aggregation is idempotent
// per (providerID, periodStart, periodEnd): if the period has already been
// aggregated, the existing settlement is returned unchanged and no second
// record is created.
//
// A settlement whose net payout would be negative is rejected with
// ErrNegativeNetPayout before anything is persisted.
func (a *Aggregator) Aggregate(
	ctx context.Context,
	providerID string,
	periodStart, periodEnd time.Time,
	txns []model.RevenueTransaction,
	bonuses model.BonusBreakdown,
) (*model.Settlement, error) {
	if providerID == "" {
		return nil, fmt.Errorf("%w: provider id is required", common.ErrInvalidConfig)
	}
	if !periodEnd.After(periodStart) {
		return nil, fmt.Errorf("invalid period: end %v is not after start %v", periodEnd, periodStart)
	}
	if err := bonuses.Validate(); err != nil {
		return nil, err
	}
	for _, txn := range txns {
		if txn.ProviderID != providerID {
			return nil, fmt.Errorf("transaction %s belongs to provider %s, not %s", txn.ID, txn.ProviderID, providerID)
		}
		if txn.OccurredAt.Before(periodStart) || !txn.OccurredAt.Before(periodEnd) {
			return nil, fmt.Errorf("transaction %s at %v lies outside period [%v, %v)",
				txn.ID, txn.OccurredAt, periodStart, periodEnd)
		}
	}

	// Idempotency: an already-aggregated period returns the existing
	// record untouched.
	existing, err := a.store.GetSettlementByPeriod(ctx, providerID, periodStart, periodEnd)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for existing settlement: %w", err)
	}
	if existing != nil {
		slog.Info("Period already aggregated, returning existing settlement",
			"settlement_id", existing.ID,
			"provider_id", providerID)
		return existing, nil
	}

	table, err := rates.LoadActive(ctx, a.store)
	if err != nil {
		return nil, err
	}
	snap := table.Snapshot()

	var lineResults []model.CommissionResult
	for _, txn := range txns {
		results, err := commission.Compute(txn.Lines, snap)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", txn.ID, err)
		}
		lineResults = append(lineResults, results...)
	}

	gross, comm := commission.Totals(lineResults)
	totalBonuses := bonuses.Total()
	net := gross - a.platformFee - comm + totalBonuses
	if net < 0 {
		return nil, fmt.Errorf("%w: provider %s period ending %v would net %d",
			common.ErrNegativeNetPayout, providerID, periodEnd, net)
	}

	now := time.Now().UTC()
	settlement := &model.Settlement{
		ID:               uuid.NewString(),
		ProviderID:       providerID,
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		LineResults:      lineResults,
		GrossEarnings:    gross,
		PlatformFees:     a.platformFee,
		CommissionAmount: comm,
		Bonuses:          bonuses,
		TotalBonuses:     totalBonuses,
		NetPayout:        net,
		PaymentStatus:    model.PaymentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := settlement.CheckTotals(); err != nil {
		return nil, err
	}

	if err := a.store.CreateSettlement(ctx, settlement); err != nil {
		// A concurrent aggregation of the same period can win the insert
		// race; its settlement is the one of record.
		if errors.Is(err, common.ErrDuplicatePeriod) {
			return a.store.GetSettlementByPeriod(ctx, providerID, periodStart, periodEnd)
		}
		return nil, fmt.Errorf("failed to create settlement: %w", err)
	}

	slog.Info("Aggregated settlement",
		"settlement_id", settlement.ID,
		"provider_id", providerID,
		"transactions", len(txns),
		"gross", gross,
		"commission", comm,
		"net", net)
	return settlement, nil
}

// AggregateFromStore aggregates a period using the revenue transactions
// already persisted for the provider. This is what the CLI and the HTTP
// API call; feeds land transactions first and aggregation closes the
// period.
func (a *Aggregator) AggregateFromStore(
	ctx context.Context,
	providerID string,
	periodStart, periodEnd time.Time,
	bonuses model.BonusBreakdown,
) (*model.Settlement, error) {
	txns, err := a.store.GetRevenueTransactions(ctx, providerID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to load revenue transactions: %w", err)
	}
	return a.Aggregate(ctx, providerID, periodStart, periodEnd, txns, bonuses)
}
