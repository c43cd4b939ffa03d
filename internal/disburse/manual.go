// Package disburse provides disbursement capabilities the engine can be
// wired to. Real payment-gateway integration lives outside this system;
// the engine only requires something satisfying service.Disburser.
package disburse

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/service"
)

// Manual is the disburser used when payments are executed out-of-band
// (operator wires the money through the bank portal and the engine records
// it). Each attempt is acknowledged immediately with a generated reference
// the operator can attach to the bank transfer. Attempts are remembered by
// idempotency key so the reconciliation sweep can resolve them within the
// process lifetime.
type Manual struct {
	mu       sync.Mutex
	receipts map[string]*service.DisburseReceipt
}

// NewManual creates a manual disburser.
func NewManual() *Manual {
	return &Manual{receipts: make(map[string]*service.DisburseReceipt)}
}

// Disburse acknowledges the payment attempt with a generated reference.
func (m *Manual) Disburse(ctx context.Context, req service.DisburseRequest) (*service.DisburseReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", common.ErrDisbursement)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount %d", common.ErrDisbursement, req.Amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if receipt, ok := m.receipts[req.IdempotencyKey]; ok {
		return receipt, nil
	}

	ref := "MAN-" + strings.ToUpper(uuid.NewString()[:8])
	receipt := &service.DisburseReceipt{
		Reference: ref,
		Status:    service.DisburseSettled,
	}
	m.receipts[req.IdempotencyKey] = receipt
	return receipt, nil
}

// Lookup reports what this process recorded for an idempotency key.
func (m *Manual) Lookup(_ context.Context, idempotencyKey string) (*service.DisburseReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	receipt, ok := m.receipts[idempotencyKey]
	if !ok {
		return nil, fmt.Errorf("%w: no attempt recorded for key %s", common.ErrNotFound, idempotencyKey)
	}
	return receipt, nil
}
