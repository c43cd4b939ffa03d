package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/service"
)

// Sweeper resolves settlements stuck in processing. A crash or timeout
// during a disbursement call leaves the settlement observably processing;
// the sweep asks the payment provider what actually happened to that
// attempt's idempotency key and transitions explicitly, instead of
// blindly retrying the payment.
type Sweeper struct {
	store     service.Storage
	disburser service.Disburser
	machine   *Machine
}

// NewSweeper creates a reconciliation sweeper.
func NewSweeper(store service.Storage, disburser service.Disburser, machine *Machine) *Sweeper {
	return &Sweeper{store: store, disburser: disburser, machine: machine}
}

// SweepProcessing checks every settlement that has been processing longer
// than olderThan against the provider's record and resolves the ones the
// provider has a verdict for. Attempts the provider is still working on,
// or has no record of yet, are left processing for a later sweep.
func (s *Sweeper) SweepProcessing(ctx context.Context, olderThan time.Duration) (*model.PayoutBatchResult, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	stuck, err := s.store.ListProcessingOlderThan(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing settlements: %w", err)
	}

	result := &model.PayoutBatchResult{}
	for i := range stuck {
		settlement := stuck[i]
		tranches, err := s.store.ListTranchesBySettlement(ctx, settlement.ID)
		if err != nil {
			result.AddFailure(settlement.ID, err.Error())
			continue
		}
		if len(tranches) > 0 {
			// A split settlement stays processing until its tranches
			// finish; each tranche carries its own attempt record.
			continue
		}
		if err := s.resolve(ctx, &settlement); err != nil {
			result.AddFailure(settlement.ID, err.Error())
			continue
		}
		result.AddSuccess(settlement.ID)
	}

	if len(stuck) > 0 {
		slog.Info("Reconciliation sweep finished",
			"checked", len(stuck),
			"resolved", len(result.Succeeded),
			"unresolved", len(result.Failed))
	}
	return result, nil
}

func (s *Sweeper) resolve(ctx context.Context, settlement *model.Settlement) error {
	if settlement.IdempotencyKey == "" {
		return fmt.Errorf("settlement %s is processing without an idempotency key", settlement.ID)
	}

	receipt, err := s.disburser.Lookup(ctx, settlement.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("provider lookup failed: %w", err)
	}

	switch receipt.Status {
	case service.DisburseSettled:
		now := time.Now().UTC()
		return s.machine.Transition(ctx, settlement.ID, model.PaymentProcessing, model.PaymentCompleted, service.StatusMetadata{
			ExternalReference: receipt.Reference,
			PaymentDate:       &now,
		})
	case service.DisburseFailed:
		reason := receipt.Reason
		if reason == "" {
			reason = "provider reported failure"
		}
		return s.machine.Transition(ctx, settlement.ID, model.PaymentProcessing, model.PaymentFailed, service.StatusMetadata{
			FailureReason: reason,
		})
	case service.DisbursePending:
		return fmt.Errorf("provider still processing attempt %s", settlement.IdempotencyKey)
	default:
		return fmt.Errorf("provider returned unknown status %q", receipt.Status)
	}
}
