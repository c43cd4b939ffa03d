// Package testutil provides shared test doubles for the settlement
// engine's external collaborators.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/service"
)

// MockDisburser is a scripted service.Disburser. By default every attempt
// settles with a deterministic reference; individual providers can be
// scripted to fail, and every request is recorded for assertions.
type MockDisburser struct {
	mu       sync.Mutex
	failWith map[string]error
	receipts map[string]*service.DisburseReceipt
	Requests []service.DisburseRequest
}

// NewMockDisburser creates an empty mock.
func NewMockDisburser() *MockDisburser {
	return &MockDisburser{
		failWith: make(map[string]error),
		receipts: make(map[string]*service.DisburseReceipt),
	}
}

// FailProvider scripts every disbursement for the provider to fail.
func (m *MockDisburser) FailProvider(providerID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith[providerID] = err
}

// Calls returns how many disbursement requests were made.
func (m *MockDisburser) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// Disburse records the request and returns a scripted failure or a
// settled receipt.
func (m *MockDisburser) Disburse(_ context.Context, req service.DisburseRequest) (*service.DisburseReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if err, ok := m.failWith[req.ProviderID]; ok {
		return nil, err
	}

	receipt := &service.DisburseReceipt{
		Reference: fmt.Sprintf("TEST-REF-%03d", len(m.Requests)),
		Status:    service.DisburseSettled,
	}
	m.receipts[req.IdempotencyKey] = receipt
	return receipt, nil
}

// Lookup returns the recorded receipt for a key, or ErrNotFound.
func (m *MockDisburser) Lookup(_ context.Context, idempotencyKey string) (*service.DisburseReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	receipt, ok := m.receipts[idempotencyKey]
	if !ok {
		return nil, fmt.Errorf("%w: key %s", common.ErrNotFound, idempotencyKey)
	}
	return receipt, nil
}

// RecordReceipt scripts a Lookup result for a key without a Disburse call,
// simulating an attempt whose outcome only the provider knows.
func (m *MockDisburser) RecordReceipt(idempotencyKey string, receipt *service.DisburseReceipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[idempotencyKey] = receipt
}
