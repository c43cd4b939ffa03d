// Package storage provides the data persistence layer for the settlement
// engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmcallister/fareledger/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrNilParameter      = errors.New("parameter cannot be nil")
	ErrEmptySlice        = errors.New("slice cannot be empty")
	ErrInvalidSettlement = errors.New("invalid settlement")
	ErrInvalidTranche    = errors.New("invalid tranche")
	ErrInvalidRevenue    = errors.New("invalid revenue transaction")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateRevenueTransactions(txns []model.RevenueTransaction) error {
	if txns == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(txns) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}
	for i, txn := range txns {
		if txn.ID == "" {
			return fmt.Errorf("%w: transaction %d missing ID", ErrInvalidRevenue, i)
		}
		if txn.ProviderID == "" {
			return fmt.Errorf("%w: transaction %s missing provider ID", ErrInvalidRevenue, txn.ID)
		}
		if txn.OccurredAt.IsZero() {
			return fmt.Errorf("%w: transaction %s missing occurrence time", ErrInvalidRevenue, txn.ID)
		}
		for j, line := range txn.Lines {
			if !line.Category.Valid() {
				return fmt.Errorf("%w: transaction %s line %d has unknown category %q", ErrInvalidRevenue, txn.ID, j, line.Category)
			}
			if line.GrossAmount < 0 {
				return fmt.Errorf("%w: transaction %s line %d has negative gross", ErrInvalidRevenue, txn.ID, j)
			}
		}
	}
	return nil
}

func validateRateRules(rules []model.RateRule) error {
	if len(rules) == 0 {
		return fmt.Errorf("%w: rules", ErrEmptySlice)
	}
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func validateSettlement(settlement *model.Settlement) error {
	if settlement == nil {
		return fmt.Errorf("%w: settlement", ErrNilParameter)
	}
	if settlement.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidSettlement)
	}
	if settlement.ProviderID == "" {
		return fmt.Errorf("%w: missing provider ID", ErrInvalidSettlement)
	}
	if settlement.PeriodStart.IsZero() || settlement.PeriodEnd.IsZero() {
		return fmt.Errorf("%w: missing period bounds", ErrInvalidSettlement)
	}
	if !settlement.PaymentStatus.Valid() {
		return fmt.Errorf("%w: unknown payment status %q", ErrInvalidSettlement, settlement.PaymentStatus)
	}
	if settlement.NetPayout < 0 {
		return fmt.Errorf("%w: negative net payout", ErrInvalidSettlement)
	}
	if err := settlement.CheckTotals(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettlement, err)
	}
	return nil
}

func validateTranches(tranches []model.PayoutTranche) error {
	if len(tranches) == 0 {
		return fmt.Errorf("%w: tranches", ErrEmptySlice)
	}
	for _, tranche := range tranches {
		if tranche.SettlementID == "" {
			return fmt.Errorf("%w: missing settlement ID", ErrInvalidTranche)
		}
		if tranche.Index != 1 && tranche.Index != 2 {
			return fmt.Errorf("%w: index %d not in {1,2}", ErrInvalidTranche, tranche.Index)
		}
		if tranche.Amount < 0 {
			return fmt.Errorf("%w: negative amount", ErrInvalidTranche)
		}
		if tranche.DueAt.IsZero() {
			return fmt.Errorf("%w: missing due time", ErrInvalidTranche)
		}
		if !tranche.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidTranche, tranche.Status)
		}
	}
	return nil
}
