package model

import (
	"fmt"
	"time"
)

// TrancheStatus is the payout lifecycle state of a single tranche.
type TrancheStatus string

// Tranche statuses. Unlike settlements, a pending tranche can be cancelled
// when the underlying transaction is disputed before its due time.
const (
	TranchePending    TrancheStatus = "pending"
	TrancheProcessing TrancheStatus = "processing"
	TrancheCompleted  TrancheStatus = "completed"
	TrancheFailed     TrancheStatus = "failed"
	TrancheCancelled  TrancheStatus = "cancelled"
)

// Valid reports whether s is a known tranche status.
func (s TrancheStatus) Valid() bool {
	switch s {
	case TranchePending, TrancheProcessing, TrancheCompleted, TrancheFailed, TrancheCancelled:
		return true
	}
	return false
}

// Tranche due-time offsets from transaction completion, observed payout
// policy for split-disbursed revenue streams.
const (
	TrancheOneDelay = 6 * time.Hour
	TrancheTwoDelay = 72 * time.Hour
)

// PayoutTranche is one of the two scheduled partial payouts making up a
// settlement's net payout. The pair always sums exactly to the
// settlement's netPayout; each tranche has its own independent payout
// lifecycle guarded by the same compare-and-set discipline as settlements.
type PayoutTranche struct {
	DueAt             time.Time     `json:"due_at"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	SettlementID      string        `json:"settlement_id"`
	ExternalReference string        `json:"external_reference,omitempty"`
	FailureReason     string        `json:"failure_reason,omitempty"`
	IdempotencyKey    string        `json:"idempotency_key,omitempty"`
	Status            TrancheStatus `json:"status"`
	Index             int           `json:"index"`
	Amount            Money         `json:"amount"`
}

// Key identifies the tranche in batch results and logs.
func (t PayoutTranche) Key() string {
	return fmt.Sprintf("%s/%d", t.SettlementID, t.Index)
}

// Due reports whether the tranche is eligible for execution at now.
func (t PayoutTranche) Due(now time.Time) bool {
	return t.Status == TranchePending && !t.DueAt.After(now)
}
