package payout

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/service"
)

// Skip reasons reported in batch results.
const (
	ReasonNotPending = "NotPending"
	ReasonNotFound   = "NotFound"
)

// Processor pays a set of settlements as independent units of work. One
// item's failure never aborts or rolls back another's success: operators
// select heterogeneous sets, and an all-or-nothing batch would force
// re-selection of the whole set after a single unrelated failure.
//
// The processor performs no business arithmetic; it only drives each
// settlement through the state machine and records the outcome.
type Processor struct {
	store   service.Storage
	machine *Machine
}

// NewProcessor creates a batch processor over the machine's storage.
func NewProcessor(store service.Storage, machine *Machine) *Processor {
	return &Processor{store: store, machine: machine}
}

// ProcessBatch attempts payment of each settlement id and returns the
// partitioned outcome. Items not currently pending are reported under
// failed with reason NotPending rather than silently processed, so a
// stale client-side selection cannot re-pay a settlement another operator
// just completed.
//
// Progress is optional; when non-nil it is called after each item.
func (p *Processor) ProcessBatch(ctx context.Context, ids []string, method model.PaymentMethod, progress func(id string, err error)) (*model.PayoutBatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &model.PayoutBatchResult{}
	for _, id := range ids {
		err := p.processOne(ctx, id, method)
		switch {
		case err == nil:
			result.AddSuccess(id)
		case errors.Is(err, common.ErrNotFound):
			result.AddFailure(id, ReasonNotFound)
		case errors.Is(err, common.ErrNotPending), errors.Is(err, common.ErrStaleStatus):
			result.AddFailure(id, ReasonNotPending)
		default:
			result.AddFailure(id, err.Error())
		}
		if progress != nil {
			progress(id, err)
		}
	}

	slog.Info("Batch payout finished",
		"total", result.Total(),
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed))
	return result, nil
}

func (p *Processor) processOne(ctx context.Context, id string, method model.PaymentMethod) error {
	settlement, err := p.store.GetSettlement(ctx, id)
	if err != nil {
		return err
	}
	if settlement.PaymentStatus != model.PaymentPending {
		return common.ErrNotPending
	}
	_, err = p.machine.PaySettlement(ctx, id, method)
	return err
}
