package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/service"
)

// CreateTranches persists a settlement's tranche pair atomically.
func (s *SQLiteStorage) CreateTranches(ctx context.Context, tranches []model.PayoutTranche) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTranches(tranches); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.createTranchesTx(ctx, tx, tranches); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) createTranchesTx(ctx context.Context, tx *sql.Tx, tranches []model.PayoutTranche) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO payout_tranches (
			settlement_id, tranche_index, amount, due_at, status,
			external_reference, failure_reason, idempotency_key,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, tranche := range tranches {
		_, err := stmt.ExecContext(ctx,
			tranche.SettlementID, tranche.Index, int64(tranche.Amount),
			tranche.DueAt.UTC(), string(tranche.Status),
			tranche.ExternalReference, tranche.FailureReason, tranche.IdempotencyKey,
			tranche.CreatedAt.UTC(), tranche.UpdatedAt.UTC(),
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("%w: tranche %s", common.ErrDuplicateTranche, tranche.Key())
			}
			return fmt.Errorf("failed to insert tranche %s: %w", tranche.Key(), err)
		}
	}
	return nil
}

const trancheColumns = `
	settlement_id, tranche_index, amount, due_at, status,
	external_reference, failure_reason, idempotency_key,
	created_at, updated_at`

// GetTranche returns one tranche by its (settlement, index) key.
func (s *SQLiteStorage) GetTranche(ctx context.Context, settlementID string, index int) (*model.PayoutTranche, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(settlementID, "settlementID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+trancheColumns+` FROM payout_tranches
		 WHERE settlement_id = ? AND tranche_index = ?`,
		settlementID, index)
	return scanTranche(row)
}

// ListTranchesBySettlement returns a settlement's tranches in index order.
func (s *SQLiteStorage) ListTranchesBySettlement(ctx context.Context, settlementID string) ([]model.PayoutTranche, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(settlementID, "settlementID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+trancheColumns+` FROM payout_tranches
		 WHERE settlement_id = ? ORDER BY tranche_index`,
		settlementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tranches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTranches(rows)
}

// ListDueTranches returns pending tranches whose due time has passed,
// oldest first.
func (s *SQLiteStorage) ListDueTranches(ctx context.Context, now time.Time) ([]model.PayoutTranche, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+trancheColumns+` FROM payout_tranches
		 WHERE status = ? AND due_at <= ?
		 ORDER BY due_at, settlement_id, tranche_index`,
		string(model.TranchePending), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query due tranches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTranches(rows)
}

// UpdateTrancheStatus is the tranche-scoped compare-and-set, with the same
// semantics as UpdateSettlementStatus: the losing side of a concurrent
// transition gets ErrStaleStatus, and completed tranches are frozen.
func (s *SQLiteStorage) UpdateTrancheStatus(ctx context.Context, settlementID string, index int, expected, next model.TrancheStatus, meta service.StatusMetadata) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(settlementID, "settlementID"); err != nil {
		return err
	}
	if !expected.Valid() || !next.Valid() {
		return fmt.Errorf("%w: tranche %s -> %s", common.ErrInvalidTransition, expected, next)
	}

	set := []string{"status = ?", "updated_at = ?"}
	args := []any{string(next), time.Now().UTC()}
	if meta.ExternalReference != "" {
		set = append(set, "external_reference = ?")
		args = append(args, meta.ExternalReference)
	}
	if meta.FailureReason != "" {
		set = append(set, "failure_reason = ?")
		args = append(args, meta.FailureReason)
	}
	if meta.IdempotencyKey != "" {
		set = append(set, "idempotency_key = ?")
		args = append(args, meta.IdempotencyKey)
	}
	args = append(args, settlementID, index, string(expected))

	res, err := s.db.ExecContext(ctx,
		"UPDATE payout_tranches SET "+strings.Join(set, ", ")+
			" WHERE settlement_id = ? AND tranche_index = ? AND status = ?",
		args...)
	if err != nil {
		return fmt.Errorf("failed to update tranche status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx,
		"SELECT status FROM payout_tranches WHERE settlement_id = ? AND tranche_index = ?",
		settlementID, index).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: tranche %s/%d", common.ErrNotFound, settlementID, index)
	}
	if err != nil {
		return fmt.Errorf("failed to read tranche status: %w", err)
	}
	if model.TrancheStatus(current) == model.TrancheCompleted {
		return fmt.Errorf("%w: tranche %s/%d is completed", common.ErrSettlementFrozen, settlementID, index)
	}
	return fmt.Errorf("%w: tranche %s/%d is %s, expected %s",
		common.ErrStaleStatus, settlementID, index, current, expected)
}

func scanTranche(row rowScanner) (*model.PayoutTranche, error) {
	var (
		tranche model.PayoutTranche
		amount  int64
		status  string
	)
	err := row.Scan(
		&tranche.SettlementID, &tranche.Index, &amount, &tranche.DueAt, &status,
		&tranche.ExternalReference, &tranche.FailureReason, &tranche.IdempotencyKey,
		&tranche.CreatedAt, &tranche.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tranche: %w", err)
	}
	tranche.Amount = model.Money(amount)
	tranche.Status = model.TrancheStatus(status)
	return &tranche, nil
}

func collectTranches(rows *sql.Rows) ([]model.PayoutTranche, error) {
	var tranches []model.PayoutTranche
	for rows.Next() {
		tranche, err := scanTranche(rows)
		if err != nil {
			return nil, err
		}
		tranches = append(tranches, *tranche)
	}
	return tranches, rows.Err()
}
