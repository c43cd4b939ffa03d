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

// CreateSettlement persists a settlement and its line results. The
// (provider, period) key is unique; a second settlement for the same
// period fails with ErrDuplicatePeriod.
func (s *SQLiteStorage) CreateSettlement(ctx context.Context, settlement *model.Settlement) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSettlement(settlement); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.createSettlementTx(ctx, tx, settlement); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) createSettlementTx(ctx context.Context, tx *sql.Tx, settlement *model.Settlement) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO settlements (
			id, provider_id, period_start, period_end,
			gross_earnings, platform_fees, commission_amount,
			bonus_completion, bonus_rating, bonus_volume, bonus_referral,
			total_bonuses, net_payout,
			payment_status, payment_method, payment_date,
			external_reference, failure_reason, idempotency_key,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		settlement.ID, settlement.ProviderID,
		settlement.PeriodStart.UTC(), settlement.PeriodEnd.UTC(),
		int64(settlement.GrossEarnings), int64(settlement.PlatformFees), int64(settlement.CommissionAmount),
		int64(settlement.Bonuses.Completion), int64(settlement.Bonuses.Rating),
		int64(settlement.Bonuses.Volume), int64(settlement.Bonuses.Referral),
		int64(settlement.TotalBonuses), int64(settlement.NetPayout),
		string(settlement.PaymentStatus), string(settlement.PaymentMethod), settlement.PaymentDate,
		settlement.ExternalReference, settlement.FailureReason, settlement.IdempotencyKey,
		settlement.CreatedAt.UTC(), settlement.UpdatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: provider %s, period starting %v",
				common.ErrDuplicatePeriod, settlement.ProviderID, settlement.PeriodStart)
		}
		return fmt.Errorf("failed to insert settlement: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO settlement_lines (
			settlement_id, line_index, category, tier,
			gross_amount, commission_amount, provider_net
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, lr := range settlement.LineResults {
		_, err := stmt.ExecContext(ctx,
			settlement.ID, i, string(lr.Category), lr.Tier,
			int64(lr.GrossAmount), int64(lr.CommissionAmount), int64(lr.ProviderNet),
		)
		if err != nil {
			return fmt.Errorf("failed to insert settlement line %d: %w", i, err)
		}
	}
	return nil
}

const settlementColumns = `
	id, provider_id, period_start, period_end,
	gross_earnings, platform_fees, commission_amount,
	bonus_completion, bonus_rating, bonus_volume, bonus_referral,
	total_bonuses, net_payout,
	payment_status, payment_method, payment_date,
	external_reference, failure_reason, idempotency_key,
	created_at, updated_at`

// GetSettlement returns the settlement with its line results, or
// ErrNotFound.
func (s *SQLiteStorage) GetSettlement(ctx context.Context, id string) (*model.Settlement, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE id = ?`, id)
	settlement, err := scanSettlement(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadLines(ctx, settlement); err != nil {
		return nil, err
	}
	return settlement, nil
}

// GetSettlementByPeriod looks up the settlement covering a provider's
// exact period, the idempotent-aggregation key.
func (s *SQLiteStorage) GetSettlementByPeriod(ctx context.Context, providerID string, periodStart, periodEnd time.Time) (*model.Settlement, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(providerID, "providerID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements
		 WHERE provider_id = ? AND period_start = ? AND period_end = ?`,
		providerID, periodStart.UTC(), periodEnd.UTC())
	settlement, err := scanSettlement(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadLines(ctx, settlement); err != nil {
		return nil, err
	}
	return settlement, nil
}

// ListSettlements returns settlements matching the filter, newest period
// first. Line results are not loaded for listings.
func (s *SQLiteStorage) ListSettlements(ctx context.Context, filter service.SettlementFilter) ([]model.Settlement, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var clauses []string
	var args []any
	if filter.ProviderID != "" {
		clauses = append(clauses, "provider_id = ?")
		args = append(args, filter.ProviderID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "payment_status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.From != nil {
		clauses = append(clauses, "period_end > ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		clauses = append(clauses, "period_start < ?")
		args = append(args, filter.To.UTC())
	}

	query := `SELECT ` + settlementColumns + ` FROM settlements`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY period_end DESC, provider_id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var settlements []model.Settlement
	for rows.Next() {
		settlement, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, *settlement)
	}
	return settlements, rows.Err()
}

// ListProcessingOlderThan returns settlements that entered processing
// before the cutoff, the reconciliation sweep's work queue.
func (s *SQLiteStorage) ListProcessingOlderThan(ctx context.Context, cutoff time.Time) ([]model.Settlement, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements
		 WHERE payment_status = ? AND updated_at < ?
		 ORDER BY updated_at`,
		string(model.PaymentProcessing), cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query processing settlements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var settlements []model.Settlement
	for rows.Next() {
		settlement, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, *settlement)
	}
	return settlements, rows.Err()
}

// UpdateSettlementStatus performs the guarded compare-and-set transition:
// the row is updated only if its stored status still matches expected. A
// zero-row update means a concurrent actor transitioned first
// (ErrStaleStatus), the settlement is completed and frozen
// (ErrSettlementFrozen), or the id is unknown (ErrNotFound). Monetary
// fields are never touched here.
func (s *SQLiteStorage) UpdateSettlementStatus(ctx context.Context, id string, expected, next model.PaymentStatus, meta service.StatusMetadata) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if !expected.Valid() || !next.Valid() {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, expected, next)
	}
	return s.updateSettlementStatusTx(ctx, s.db, id, expected, next, meta)
}

// execQuerier abstracts over *sql.DB and *sql.Tx so the guarded update can
// run inside a larger transaction.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStorage) updateSettlementStatusTx(ctx context.Context, db execQuerier, id string, expected, next model.PaymentStatus, meta service.StatusMetadata) error {
	set := []string{"payment_status = ?", "updated_at = ?"}
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
	if meta.PaymentMethod != "" {
		set = append(set, "payment_method = ?")
		args = append(args, string(meta.PaymentMethod))
	}
	if meta.PaymentDate != nil {
		set = append(set, "payment_date = ?")
		args = append(args, meta.PaymentDate.UTC())
	}
	args = append(args, id, string(expected))

	res, err := db.ExecContext(ctx,
		"UPDATE settlements SET "+strings.Join(set, ", ")+" WHERE id = ? AND payment_status = ?",
		args...)
	if err != nil {
		return fmt.Errorf("failed to update settlement status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// The compare-and-set did not match; report why.
	var current string
	err = db.QueryRowContext(ctx,
		"SELECT payment_status FROM settlements WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: settlement %s", common.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read settlement status: %w", err)
	}
	if model.PaymentStatus(current) == model.PaymentCompleted {
		return fmt.Errorf("%w: settlement %s", common.ErrSettlementFrozen, id)
	}
	return fmt.Errorf("%w: settlement %s is %s, expected %s", common.ErrStaleStatus, id, current, expected)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettlement(row rowScanner) (*model.Settlement, error) {
	var (
		settlement  model.Settlement
		status      string
		method      string
		paymentDate sql.NullTime
		gross       int64
		fees        int64
		comm        int64
		bCompletion int64
		bRating     int64
		bVolume     int64
		bReferral   int64
		bonuses     int64
		net         int64
	)
	err := row.Scan(
		&settlement.ID, &settlement.ProviderID, &settlement.PeriodStart, &settlement.PeriodEnd,
		&gross, &fees, &comm,
		&bCompletion, &bRating, &bVolume, &bReferral,
		&bonuses, &net,
		&status, &method, &paymentDate,
		&settlement.ExternalReference, &settlement.FailureReason, &settlement.IdempotencyKey,
		&settlement.CreatedAt, &settlement.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan settlement: %w", err)
	}

	settlement.GrossEarnings = model.Money(gross)
	settlement.PlatformFees = model.Money(fees)
	settlement.CommissionAmount = model.Money(comm)
	settlement.Bonuses = model.BonusBreakdown{
		Completion: model.Money(bCompletion),
		Rating:     model.Money(bRating),
		Volume:     model.Money(bVolume),
		Referral:   model.Money(bReferral),
	}
	settlement.TotalBonuses = model.Money(bonuses)
	settlement.NetPayout = model.Money(net)
	settlement.PaymentStatus = model.PaymentStatus(status)
	settlement.PaymentMethod = model.PaymentMethod(method)
	if paymentDate.Valid {
		d := paymentDate.Time.UTC()
		settlement.PaymentDate = &d
	}
	return &settlement, nil
}

func (s *SQLiteStorage) loadLines(ctx context.Context, settlement *model.Settlement) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, tier, gross_amount, commission_amount, provider_net
		FROM settlement_lines WHERE settlement_id = ? ORDER BY line_index
	`, settlement.ID)
	if err != nil {
		return fmt.Errorf("failed to query settlement lines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			category string
			tier     string
			gross    int64
			comm     int64
			net      int64
		)
		if err := rows.Scan(&category, &tier, &gross, &comm, &net); err != nil {
			return fmt.Errorf("failed to scan settlement line: %w", err)
		}
		settlement.LineResults = append(settlement.LineResults, model.CommissionResult{
			Category:         model.RevenueCategory(category),
			Tier:             tier,
			GrossAmount:      model.Money(gross),
			CommissionAmount: model.Money(comm),
			ProviderNet:      model.Money(net),
		})
	}
	return rows.Err()
}
