package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/service"
)

// Scheduler handles two-tranche payout policies: half the net payout
// shortly after completion, the other half after a cooldown. Each tranche
// has its own guarded payout lifecycle, so a disputed transaction can
// cancel an unpaid tranche without touching one already paid.
type Scheduler struct {
	store   service.Storage
	machine *Machine
}

// NewScheduler creates a Scheduler over the machine's storage.
func NewScheduler(store service.Storage, machine *Machine) *Scheduler {
	return &Scheduler{store: store, machine: machine}
}

// Schedule creates the two tranches for a settlement. Tranche 1 takes
// floor(net/2); the rounding remainder goes to tranche 2, so the pair
// always sums exactly to the settlement's net payout. Due times are
// completion + 6h and completion + 72h.
//
// Only a pending settlement can be split. Creating the tranches moves
// the settlement to processing in the same database transaction, so a
// split settlement can never also be paid in full through the batch
// path: the two payout paths compete for the same pending -> processing
// compare-and-set.
//
// Scheduling is idempotent: if the settlement already has tranches they
// are returned unchanged.
func (s *Scheduler) Schedule(ctx context.Context, settlement *model.Settlement, completionTime time.Time) ([]model.PayoutTranche, error) {
	if settlement == nil {
		return nil, fmt.Errorf("settlement is required")
	}

	existing, err := s.store.ListTranchesBySettlement(ctx, settlement.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing tranches: %w", err)
	}
	if len(existing) > 0 {
		return existing, nil
	}

	// The caller's copy may be stale; the claim below works off the
	// stored status.
	current, err := s.store.GetSettlement(ctx, settlement.ID)
	if err != nil {
		return nil, err
	}
	if current.PaymentStatus != model.PaymentPending {
		return nil, fmt.Errorf("%w: settlement %s is %s", common.ErrNotPending, current.ID, current.PaymentStatus)
	}

	half := current.NetPayout / 2
	now := time.Now().UTC()
	tranches := []model.PayoutTranche{
		{
			SettlementID: current.ID,
			Index:        1,
			Amount:       half,
			DueAt:        completionTime.Add(model.TrancheOneDelay),
			Status:       model.TranchePending,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		{
			SettlementID: current.ID,
			Index:        2,
			Amount:       current.NetPayout - half,
			DueAt:        completionTime.Add(model.TrancheTwoDelay),
			Status:       model.TranchePending,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.UpdateSettlementStatus(ctx, current.ID, model.PaymentPending, model.PaymentProcessing, service.StatusMetadata{})
	if err != nil {
		if errors.Is(err, common.ErrStaleStatus) || errors.Is(err, common.ErrSettlementFrozen) {
			// A concurrent scheduler or batch payout claimed the
			// settlement first. If its tranches exist, they are the
			// pair of record.
			_ = tx.Rollback()
			winner, lerr := s.store.ListTranchesBySettlement(ctx, current.ID)
			if lerr == nil && len(winner) > 0 {
				return winner, nil
			}
			return nil, fmt.Errorf("%w: settlement %s", common.ErrNotPending, current.ID)
		}
		return nil, err
	}
	if err := tx.CreateTranches(ctx, tranches); err != nil {
		if errors.Is(err, common.ErrDuplicateTranche) {
			_ = tx.Rollback()
			return s.store.ListTranchesBySettlement(ctx, current.ID)
		}
		return nil, fmt.Errorf("failed to create tranches: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tranche schedule: %w", err)
	}

	slog.Info("Scheduled split payout",
		"settlement_id", current.ID,
		"tranche_1", tranches[0].Amount,
		"tranche_1_due", tranches[0].DueAt,
		"tranche_2", tranches[1].Amount,
		"tranche_2_due", tranches[1].DueAt)
	return tranches, nil
}

// ExecuteDueTranches pays every pending tranche whose due time has passed.
// Each tranche is an independent unit of work with per-item failure
// reporting, like a settlement batch. Re-running with the same now is
// safe: tranches that were paid are no longer pending and are not
// re-driven.
func (s *Scheduler) ExecuteDueTranches(ctx context.Context, now time.Time, method model.PaymentMethod) (*model.PayoutBatchResult, error) {
	due, err := s.store.ListDueTranches(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due tranches: %w", err)
	}

	result := &model.PayoutBatchResult{}
	for i := range due {
		tranche := due[i]
		_, err := s.machine.PayTranche(ctx, &tranche, method)
		switch {
		case err == nil:
			result.AddSuccess(tranche.Key())
			if ferr := s.finalizeSettlement(ctx, tranche.SettlementID); ferr != nil {
				slog.Warn("Settlement could not be finalized after tranche payout",
					"settlement_id", tranche.SettlementID,
					"error", ferr)
			}
		case errors.Is(err, common.ErrNotPending), errors.Is(err, common.ErrStaleStatus):
			result.AddFailure(tranche.Key(), ReasonNotPending)
		default:
			result.AddFailure(tranche.Key(), err.Error())
		}
	}

	if result.Total() > 0 {
		slog.Info("Executed due tranches",
			"due", result.Total(),
			"succeeded", len(result.Succeeded),
			"failed", len(result.Failed))
	}
	return result, nil
}

// finalizeSettlement completes the parent settlement once every tranche
// has been paid, recording the tranche references as the settlement's
// external reference. A settlement with an unpaid or cancelled tranche
// stays processing; its tranches are the record of what was disbursed.
func (s *Scheduler) finalizeSettlement(ctx context.Context, settlementID string) error {
	tranches, err := s.store.ListTranchesBySettlement(ctx, settlementID)
	if err != nil {
		return err
	}
	refs := make([]string, 0, len(tranches))
	for _, tranche := range tranches {
		if tranche.Status != model.TrancheCompleted {
			return nil
		}
		refs = append(refs, tranche.ExternalReference)
	}

	now := time.Now().UTC()
	err = s.machine.Transition(ctx, settlementID, model.PaymentProcessing, model.PaymentCompleted, service.StatusMetadata{
		ExternalReference: strings.Join(refs, ","),
		PaymentDate:       &now,
	})
	// A concurrent executor may have finalized first.
	if err != nil && !errors.Is(err, common.ErrSettlementFrozen) {
		return err
	}
	return nil
}

// CancelTranche moves a pending tranche to cancelled, the path taken when
// the underlying transaction is disputed or reversed inside the
// cancellation window. A tranche that has been paid is never reversed
// here; that requires an adjustment settlement.
func (s *Scheduler) CancelTranche(ctx context.Context, settlementID string, index int, reason string) error {
	tranche, err := s.store.GetTranche(ctx, settlementID, index)
	if err != nil {
		return err
	}
	if tranche.Status != model.TranchePending {
		return fmt.Errorf("%w: tranche %s is %s", common.ErrTrancheNotCancellable, tranche.Key(), tranche.Status)
	}
	return s.store.UpdateTrancheStatus(ctx, settlementID, index, model.TranchePending, model.TrancheCancelled, service.StatusMetadata{
		FailureReason: reason,
	})
}
