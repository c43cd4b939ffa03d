package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jmcallister/fareledger/internal/model"
)

// SaveRateRules upserts the given rules. Rates are stored as exact decimal
// strings, never as floating point.
func (s *SQLiteStorage) SaveRateRules(ctx context.Context, rules []model.RateRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRateRules(rules); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveRateRulesTx(ctx, tx, rules); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) saveRateRulesTx(ctx context.Context, tx *sql.Tx, rules []model.RateRule) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rate_rules (category, tier, rate, flat_fee, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(category, tier) DO UPDATE SET
			rate = excluded.rate,
			flat_fee = excluded.flat_fee,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, rule := range rules {
		_, err := stmt.ExecContext(ctx,
			string(rule.Category), rule.Tier, rule.Rate.String(), int64(rule.FlatFee), now,
		)
		if err != nil {
			return fmt.Errorf("failed to save rate rule %s/%q: %w", rule.Category, rule.Tier, err)
		}
	}
	return nil
}

// GetRateRules returns all persisted rate rules.
func (s *SQLiteStorage) GetRateRules(ctx context.Context) ([]model.RateRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, tier, rate, flat_fee FROM rate_rules ORDER BY category, tier
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.RateRule
	for rows.Next() {
		var (
			category string
			tier     string
			rateStr  string
			flatFee  int64
		)
		if err := rows.Scan(&category, &tier, &rateStr, &flatFee); err != nil {
			return nil, fmt.Errorf("failed to scan rate rule: %w", err)
		}
		rate, err := decimal.NewFromString(rateStr)
		if err != nil {
			return nil, fmt.Errorf("stored rate %q for %s/%q is not a decimal: %w", rateStr, category, tier, err)
		}
		rules = append(rules, model.RateRule{
			Category: model.RevenueCategory(category),
			Tier:     tier,
			Rate:     rate,
			FlatFee:  model.Money(flatFee),
		})
	}
	return rules, rows.Err()
}
