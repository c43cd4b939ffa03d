// Package service defines the contracts between the engine's components.
package service

import (
	"context"
	"time"

	"github.com/jmcallister/fareledger/internal/model"
)

// SettlementFilter defines filtering options for settlement queries.
type SettlementFilter struct {
	From       *time.Time
	To         *time.Time
	ProviderID string
	Status     model.PaymentStatus
	Limit      int
	Offset     int
}

// StatusMetadata carries the fields a status transition may set alongside
// the new status. Zero values leave the stored field untouched.
type StatusMetadata struct {
	PaymentDate       *time.Time
	ExternalReference string
	FailureReason     string
	IdempotencyKey    string
	PaymentMethod     model.PaymentMethod
}

// Storage defines the contract for the persistence layer. Settlement
// monetary fields are written once at creation; afterwards only the
// status operations may touch a settlement, and only through the
// compare-and-set methods.
type Storage interface {
	// Revenue feed operations
	SaveRevenueTransactions(ctx context.Context, txns []model.RevenueTransaction) error
	GetRevenueTransactions(ctx context.Context, providerID string, start, end time.Time) ([]model.RevenueTransaction, error)

	// Rate rule operations
	SaveRateRules(ctx context.Context, rules []model.RateRule) error
	GetRateRules(ctx context.Context) ([]model.RateRule, error)

	// Settlement operations
	CreateSettlement(ctx context.Context, settlement *model.Settlement) error
	GetSettlement(ctx context.Context, id string) (*model.Settlement, error)
	GetSettlementByPeriod(ctx context.Context, providerID string, periodStart, periodEnd time.Time) (*model.Settlement, error)
	ListSettlements(ctx context.Context, filter SettlementFilter) ([]model.Settlement, error)
	UpdateSettlementStatus(ctx context.Context, id string, expected, next model.PaymentStatus, meta StatusMetadata) error
	ListProcessingOlderThan(ctx context.Context, cutoff time.Time) ([]model.Settlement, error)

	// Tranche operations
	CreateTranches(ctx context.Context, tranches []model.PayoutTranche) error
	GetTranche(ctx context.Context, settlementID string, index int) (*model.PayoutTranche, error)
	ListTranchesBySettlement(ctx context.Context, settlementID string) ([]model.PayoutTranche, error)
	ListDueTranches(ctx context.Context, now time.Time) ([]model.PayoutTranche, error)
	UpdateTrancheStatus(ctx context.Context, settlementID string, index int, expected, next model.TrancheStatus, meta StatusMetadata) error

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// DisburseRequest asks the external payment provider to move money to a
// provider. IdempotencyKey is unique per attempt; re-attempts after a
// recorded failure carry a fresh key.
type DisburseRequest struct {
	IdempotencyKey string
	ProviderID     string
	Method         model.PaymentMethod
	Amount         model.Money
}

// DisburseStatus is the provider-side state of a disbursement.
type DisburseStatus string

// Disbursement statuses reported by the provider.
const (
	DisburseSettled DisburseStatus = "settled"
	DisburseFailed  DisburseStatus = "failed"
	DisbursePending DisburseStatus = "pending"
)

// DisburseReceipt is the provider's confirmation of a disbursement.
type DisburseReceipt struct {
	Reference string
	Status    DisburseStatus
	Reason    string
}

// Disburser is the external disbursement capability. Lookup supports the
// reconciliation sweep: it reports what the provider recorded for a prior
// attempt so a stuck settlement can be resolved without re-sending money.
type Disburser interface {
	Disburse(ctx context.Context, req DisburseRequest) (*DisburseReceipt, error)
	Lookup(ctx context.Context, idempotencyKey string) (*DisburseReceipt, error)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
