// Package payout drives settlements and tranches through the payout
// lifecycle: guarded status transitions, batch processing, split-payout
// scheduling, and the reconciliation sweep for stuck payments.
package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/service"
)

// settlementTransitions is the complete transition table. completed is
// terminal; a paid settlement can never re-enter the machine.
var settlementTransitions = map[model.PaymentStatus][]model.PaymentStatus{
	model.PaymentPending:    {model.PaymentProcessing, model.PaymentOnHold},
	model.PaymentProcessing: {model.PaymentCompleted, model.PaymentFailed, model.PaymentOnHold},
	model.PaymentOnHold:     {model.PaymentPending},
	model.PaymentFailed:     {model.PaymentPending},
	model.PaymentCompleted:  {},
}

var trancheTransitions = map[model.TrancheStatus][]model.TrancheStatus{
	model.TranchePending:    {model.TrancheProcessing, model.TrancheCancelled},
	model.TrancheProcessing: {model.TrancheCompleted, model.TrancheFailed},
	model.TrancheFailed:     {model.TranchePending},
	model.TrancheCompleted:  {},
	model.TrancheCancelled:  {},
}

// CanTransition reports whether from -> to is a sanctioned settlement
// transition.
func CanTransition(from, to model.PaymentStatus) bool {
	for _, allowed := range settlementTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTrancheTransition reports whether from -> to is a sanctioned tranche
// transition.
func CanTrancheTransition(from, to model.TrancheStatus) bool {
	for _, allowed := range trancheTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Machine executes payout transitions. Every transition is a
// compare-and-set against the caller's expected current status; a
// concurrent actor that transitioned first wins and the loser receives
// ErrStaleStatus. That guard — not a lock — is what prevents double
// payouts.
type Machine struct {
	store     service.Storage
	disburser service.Disburser
	retry     service.RetryOptions
}

// NewMachine creates a payout machine over storage and the external
// disbursement capability.
func NewMachine(store service.Storage, disburser service.Disburser, retry service.RetryOptions) *Machine {
	return &Machine{store: store, disburser: disburser, retry: retry}
}

// Transition applies one guarded settlement transition.
//
// Completing requires a non-empty external reference; failing requires a
// human-readable reason. A failed -> pending retry mints a fresh
// idempotency key so the next attempt is distinguishable from every prior
// one at the payment provider.
func (m *Machine) Transition(ctx context.Context, id string, expected, next model.PaymentStatus, meta service.StatusMetadata) error {
	if !expected.Valid() || !next.Valid() {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, expected, next)
	}
	if !CanTransition(expected, next) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, expected, next)
	}
	switch next {
	case model.PaymentCompleted:
		if meta.ExternalReference == "" {
			return fmt.Errorf("%w: completing requires an external reference", common.ErrInvalidTransition)
		}
	case model.PaymentFailed:
		if meta.FailureReason == "" {
			return fmt.Errorf("%w: failing requires a reason", common.ErrInvalidTransition)
		}
	case model.PaymentPending:
		if expected == model.PaymentFailed && meta.IdempotencyKey == "" {
			meta.IdempotencyKey = uuid.NewString()
		}
	}

	if err := m.store.UpdateSettlementStatus(ctx, id, expected, next, meta); err != nil {
		return err
	}

	slog.Info("Settlement transitioned",
		"settlement_id", id,
		"from", expected,
		"to", next)
	return nil
}

// PaySettlement drives one pending settlement through a full payment
// attempt: pending -> processing, external disbursement, then
// processing -> completed or processing -> failed.
//
// The processing status is durably recorded before the external call, so
// a crash or timeout mid-disbursement leaves an observable processing
// settlement for the reconciliation sweep instead of an untracked
// payment. On timeout the settlement is deliberately left in processing.
func (m *Machine) PaySettlement(ctx context.Context, id string, method model.PaymentMethod) (string, error) {
	settlement, err := m.store.GetSettlement(ctx, id)
	if err != nil {
		return "", err
	}
	if settlement.PaymentStatus != model.PaymentPending {
		return "", fmt.Errorf("%w: settlement %s is %s", common.ErrNotPending, id, settlement.PaymentStatus)
	}

	key := uuid.NewString()
	err = m.Transition(ctx, id, model.PaymentPending, model.PaymentProcessing, service.StatusMetadata{
		IdempotencyKey: key,
		PaymentMethod:  method,
	})
	if err != nil {
		return "", err
	}

	receipt, err := m.disburse(ctx, service.DisburseRequest{
		IdempotencyKey: key,
		ProviderID:     settlement.ProviderID,
		Amount:         settlement.NetPayout,
		Method:         method,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Timed out or cancelled mid-call: the provider may still have
			// acted. Leave processing for the reconciliation sweep.
			return "", fmt.Errorf("disbursement interrupted, settlement %s left processing: %w", id, ctx.Err())
		}
		reason := fmt.Sprintf("%v", err)
		if ferr := m.Transition(ctx, id, model.PaymentProcessing, model.PaymentFailed, service.StatusMetadata{
			FailureReason: reason,
		}); ferr != nil {
			return "", fmt.Errorf("disbursement failed (%s) and failure could not be recorded: %w", reason, ferr)
		}
		return "", fmt.Errorf("%w: %s", common.ErrDisbursement, reason)
	}

	now := time.Now().UTC()
	err = m.Transition(ctx, id, model.PaymentProcessing, model.PaymentCompleted, service.StatusMetadata{
		ExternalReference: receipt.Reference,
		PaymentDate:       &now,
	})
	if err != nil {
		return "", fmt.Errorf("disbursed (ref %s) but completion could not be recorded: %w", receipt.Reference, err)
	}
	return receipt.Reference, nil
}

// TrancheTransition applies one guarded tranche transition, with the same
// reference/reason requirements as settlements.
func (m *Machine) TrancheTransition(ctx context.Context, settlementID string, index int, expected, next model.TrancheStatus, meta service.StatusMetadata) error {
	if !CanTrancheTransition(expected, next) {
		return fmt.Errorf("%w: tranche %s -> %s", common.ErrInvalidTransition, expected, next)
	}
	switch next {
	case model.TrancheCompleted:
		if meta.ExternalReference == "" {
			return fmt.Errorf("%w: completing requires an external reference", common.ErrInvalidTransition)
		}
	case model.TrancheFailed:
		if meta.FailureReason == "" {
			return fmt.Errorf("%w: failing requires a reason", common.ErrInvalidTransition)
		}
	case model.TranchePending:
		if expected == model.TrancheFailed && meta.IdempotencyKey == "" {
			meta.IdempotencyKey = uuid.NewString()
		}
	}
	return m.store.UpdateTrancheStatus(ctx, settlementID, index, expected, next, meta)
}

// PayTranche drives one pending tranche through a payment attempt for the
// tranche's amount. The state machine guards apply to the tranche row, so
// each tranche is an independent unit of payment.
func (m *Machine) PayTranche(ctx context.Context, tranche *model.PayoutTranche, method model.PaymentMethod) (string, error) {
	if tranche.Status != model.TranchePending {
		return "", fmt.Errorf("%w: tranche %s is %s", common.ErrNotPending, tranche.Key(), tranche.Status)
	}
	settlement, err := m.store.GetSettlement(ctx, tranche.SettlementID)
	if err != nil {
		return "", err
	}

	key := uuid.NewString()
	err = m.TrancheTransition(ctx, tranche.SettlementID, tranche.Index, model.TranchePending, model.TrancheProcessing, service.StatusMetadata{
		IdempotencyKey: key,
		PaymentMethod:  method,
	})
	if err != nil {
		return "", err
	}

	receipt, err := m.disburse(ctx, service.DisburseRequest{
		IdempotencyKey: key,
		ProviderID:     settlement.ProviderID,
		Amount:         tranche.Amount,
		Method:         method,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("disbursement interrupted, tranche %s left processing: %w", tranche.Key(), ctx.Err())
		}
		reason := fmt.Sprintf("%v", err)
		if ferr := m.TrancheTransition(ctx, tranche.SettlementID, tranche.Index, model.TrancheProcessing, model.TrancheFailed, service.StatusMetadata{
			FailureReason: reason,
		}); ferr != nil {
			return "", fmt.Errorf("disbursement failed (%s) and failure could not be recorded: %w", reason, ferr)
		}
		return "", fmt.Errorf("%w: %s", common.ErrDisbursement, reason)
	}

	return receipt.Reference, m.TrancheTransition(ctx, tranche.SettlementID, tranche.Index, model.TrancheProcessing, model.TrancheCompleted, service.StatusMetadata{
		ExternalReference: receipt.Reference,
	})
}

// disburse calls the external provider, retrying only errors the provider
// marks transient. Timeouts are never retried here.
func (m *Machine) disburse(ctx context.Context, req service.DisburseRequest) (*service.DisburseReceipt, error) {
	var receipt *service.DisburseReceipt
	err := common.WithRetry(ctx, func() error {
		var derr error
		receipt, derr = m.disburser.Disburse(ctx, req)
		return derr
	}, m.retry)
	if err != nil {
		return nil, err
	}
	if receipt == nil || receipt.Reference == "" {
		return nil, fmt.Errorf("%w: provider returned no reference", common.ErrDisbursement)
	}
	return receipt, nil
}
