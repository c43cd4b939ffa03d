package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jmcallister/fareledger/internal/model"
)

// SaveRevenueTransactions persists the lines of each revenue transaction.
// Re-saving a transaction is a no-op, so feeds can deliver at-least-once.
func (s *SQLiteStorage) SaveRevenueTransactions(ctx context.Context, txns []model.RevenueTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRevenueTransactions(txns); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveRevenueTransactionsTx(ctx, tx, txns); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) saveRevenueTransactionsTx(ctx context.Context, tx *sql.Tx, txns []model.RevenueTransaction) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO revenue_lines (
			txn_id, line_index, provider_id, occurred_at, category, tier, gross_amount
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, txn := range txns {
		for i, line := range txn.Lines {
			_, err := stmt.ExecContext(ctx,
				txn.ID, i, txn.ProviderID, txn.OccurredAt.UTC(),
				string(line.Category), line.Tier, int64(line.GrossAmount),
			)
			if err != nil {
				return fmt.Errorf("failed to save transaction %s line %d: %w", txn.ID, i, err)
			}
		}
	}
	return nil
}

// GetRevenueTransactions returns the provider's transactions in the
// half-open window [start, end), reassembled from their lines and ordered
// by occurrence time.
func (s *SQLiteStorage) GetRevenueTransactions(ctx context.Context, providerID string, start, end time.Time) ([]model.RevenueTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(providerID, "providerID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT txn_id, line_index, occurred_at, category, tier, gross_amount
		FROM revenue_lines
		WHERE provider_id = ? AND occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at, txn_id, line_index
	`, providerID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query revenue lines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*model.RevenueTransaction)
	var order []string
	for rows.Next() {
		var (
			txnID      string
			lineIndex  int
			occurredAt time.Time
			category   string
			tier       string
			gross      int64
		)
		if err := rows.Scan(&txnID, &lineIndex, &occurredAt, &category, &tier, &gross); err != nil {
			return nil, fmt.Errorf("failed to scan revenue line: %w", err)
		}
		txn, ok := byID[txnID]
		if !ok {
			txn = &model.RevenueTransaction{
				ID:         txnID,
				ProviderID: providerID,
				OccurredAt: occurredAt.UTC(),
			}
			byID[txnID] = txn
			order = append(order, txnID)
		}
		txn.Lines = append(txn.Lines, model.RevenueLine{
			Category:    model.RevenueCategory(category),
			Tier:        tier,
			GrossAmount: model.Money(gross),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate revenue lines: %w", err)
	}

	txns := make([]model.RevenueTransaction, 0, len(order))
	for _, id := range order {
		txns = append(txns, *byID[id])
	}
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].OccurredAt.Before(txns[j].OccurredAt)
	})
	return txns, nil
}
