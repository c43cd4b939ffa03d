package model

import (
	"fmt"
	"time"
)

// PaymentStatus is the payout lifecycle state of a settlement.
type PaymentStatus string

// Settlement payment statuses.
const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentOnHold     PaymentStatus = "on_hold"
)

// Valid reports whether s is a known settlement payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentProcessing, PaymentCompleted, PaymentFailed, PaymentOnHold:
		return true
	}
	return false
}

// PaymentMethod identifies the disbursement channel for a payout.
type PaymentMethod string

// Payment methods.
const (
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodWallet       PaymentMethod = "wallet"
	MethodCheck        PaymentMethod = "check"
)

// BonusBreakdown holds the per-component bonus adjustments added to a
// provider's earnings for a period. Every component is non-negative.
type BonusBreakdown struct {
	Completion Money `json:"completion"`
	Rating     Money `json:"rating"`
	Volume     Money `json:"volume"`
	Referral   Money `json:"referral"`
}

// Total sums the bonus components.
func (b BonusBreakdown) Total() Money {
	return b.Completion + b.Rating + b.Volume + b.Referral
}

// Validate rejects negative bonus components.
func (b BonusBreakdown) Validate() error {
	for name, amount := range map[string]Money{
		"completion": b.Completion,
		"rating":     b.Rating,
		"volume":     b.Volume,
		"referral":   b.Referral,
	} {
		if amount < 0 {
			return fmt.Errorf("bonus component %s is negative: %d", name, amount)
		}
	}
	return nil
}

// Settlement is the aggregated record of one provider's earnings for one
// period. It is created only by the aggregator at period close, mutated
// only through the payout state machine's guarded transitions, and frozen
// entirely once completed. Corrections to a paid settlement are expressed
// as a new adjustment settlement, never as a mutation.
type Settlement struct {
	PeriodStart       time.Time          `json:"period_start"`
	PeriodEnd         time.Time          `json:"period_end"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	PaymentDate       *time.Time         `json:"payment_date,omitempty"`
	ID                string             `json:"id"`
	ProviderID        string             `json:"provider_id"`
	ExternalReference string             `json:"external_reference,omitempty"`
	FailureReason     string             `json:"failure_reason,omitempty"`
	IdempotencyKey    string             `json:"idempotency_key,omitempty"`
	PaymentMethod     PaymentMethod      `json:"payment_method,omitempty"`
	PaymentStatus     PaymentStatus      `json:"payment_status"`
	LineResults       []CommissionResult `json:"line_results,omitempty"`
	Bonuses           BonusBreakdown     `json:"bonuses"`
	GrossEarnings     Money              `json:"gross_earnings"`
	PlatformFees      Money              `json:"platform_fees"`
	CommissionAmount  Money              `json:"commission_amount"`
	TotalBonuses      Money              `json:"total_bonuses"`
	NetPayout         Money              `json:"net_payout"`
}

// CheckTotals verifies the settlement's arithmetic identities: gross,
// commission and bonus sums match the line results and components, and
// netPayout = gross - platformFees - commission + bonuses. It does not
// check netPayout >= 0; that is a creation-time policy enforced by the
// aggregator.
func (s *Settlement) CheckTotals() error {
	var gross, commission Money
	for _, lr := range s.LineResults {
		if lr.ProviderNet != lr.GrossAmount-lr.CommissionAmount {
			return fmt.Errorf("settlement %s: line %s net %d != gross %d - commission %d",
				s.ID, lr.Category, lr.ProviderNet, lr.GrossAmount, lr.CommissionAmount)
		}
		gross += lr.GrossAmount
		commission += lr.CommissionAmount
	}
	if s.GrossEarnings != gross {
		return fmt.Errorf("settlement %s: grossEarnings %d != line sum %d", s.ID, s.GrossEarnings, gross)
	}
	if s.CommissionAmount != commission {
		return fmt.Errorf("settlement %s: commissionAmount %d != line sum %d", s.ID, s.CommissionAmount, commission)
	}
	if s.TotalBonuses != s.Bonuses.Total() {
		return fmt.Errorf("settlement %s: totalBonuses %d != component sum %d", s.ID, s.TotalBonuses, s.Bonuses.Total())
	}
	want := s.GrossEarnings - s.PlatformFees - s.CommissionAmount + s.TotalBonuses
	if s.NetPayout != want {
		return fmt.Errorf("settlement %s: netPayout %d != %d", s.ID, s.NetPayout, want)
	}
	return nil
}
