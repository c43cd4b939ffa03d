// Package model defines the core domain records of the settlement engine.
package model

import "time"

// RevenueLine is one transaction's contribution to a single revenue stream.
// Lines arrive from the booking/transaction feed; the commission calculator
// is their only consumer.
type RevenueLine struct {
	Category    RevenueCategory `json:"category"`
	Tier        string          `json:"tier,omitempty"`
	GrossAmount Money           `json:"gross_amount"`
}

// CommissionResult is the decomposition of one revenue line into platform
// commission and provider net. ProviderNet is always GrossAmount minus
// CommissionAmount; both are persisted with the settlement so the record
// stays self-describing after rate changes.
type CommissionResult struct {
	Category         RevenueCategory `json:"category"`
	Tier             string          `json:"tier,omitempty"`
	GrossAmount      Money           `json:"gross_amount"`
	CommissionAmount Money           `json:"commission_amount"`
	ProviderNet      Money           `json:"provider_net"`
}

// RevenueTransaction is one completed booking's revenue, decomposed into
// lines by stream. OccurredAt places the transaction in a settlement
// period.
type RevenueTransaction struct {
	OccurredAt time.Time     `json:"occurred_at"`
	ID         string        `json:"id"`
	ProviderID string        `json:"provider_id"`
	Lines      []RevenueLine `json:"lines"`
}

// Gross returns the transaction's total gross revenue across lines.
func (t RevenueTransaction) Gross() Money {
	var total Money
	for _, l := range t.Lines {
		total += l.GrossAmount
	}
	return total
}
