package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a
// fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema: revenue feed, rate rules, settlements",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS revenue_lines (
					txn_id TEXT NOT NULL,
					line_index INTEGER NOT NULL,
					provider_id TEXT NOT NULL,
					occurred_at DATETIME NOT NULL,
					category TEXT NOT NULL,
					tier TEXT NOT NULL DEFAULT '',
					gross_amount INTEGER NOT NULL,
					PRIMARY KEY (txn_id, line_index)
				)`,
				`CREATE INDEX idx_revenue_lines_provider_date ON revenue_lines(provider_id, occurred_at)`,

				`CREATE TABLE IF NOT EXISTS rate_rules (
					category TEXT NOT NULL,
					tier TEXT NOT NULL DEFAULT '',
					rate TEXT NOT NULL,
					flat_fee INTEGER NOT NULL DEFAULT 0,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (category, tier)
				)`,

				`CREATE TABLE IF NOT EXISTS settlements (
					id TEXT PRIMARY KEY,
					provider_id TEXT NOT NULL,
					period_start DATETIME NOT NULL,
					period_end DATETIME NOT NULL,
					gross_earnings INTEGER NOT NULL,
					platform_fees INTEGER NOT NULL DEFAULT 0,
					commission_amount INTEGER NOT NULL,
					bonus_completion INTEGER NOT NULL DEFAULT 0,
					bonus_rating INTEGER NOT NULL DEFAULT 0,
					bonus_volume INTEGER NOT NULL DEFAULT 0,
					bonus_referral INTEGER NOT NULL DEFAULT 0,
					total_bonuses INTEGER NOT NULL DEFAULT 0,
					net_payout INTEGER NOT NULL,
					payment_status TEXT NOT NULL DEFAULT 'pending',
					payment_method TEXT NOT NULL DEFAULT '',
					payment_date DATETIME,
					external_reference TEXT NOT NULL DEFAULT '',
					failure_reason TEXT NOT NULL DEFAULT '',
					idempotency_key TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (provider_id, period_start, period_end)
				)`,
				`CREATE INDEX idx_settlements_provider ON settlements(provider_id)`,

				`CREATE TABLE IF NOT EXISTS settlement_lines (
					settlement_id TEXT NOT NULL,
					line_index INTEGER NOT NULL,
					category TEXT NOT NULL,
					tier TEXT NOT NULL DEFAULT '',
					gross_amount INTEGER NOT NULL,
					commission_amount INTEGER NOT NULL,
					provider_net INTEGER NOT NULL,
					PRIMARY KEY (settlement_id, line_index),
					FOREIGN KEY (settlement_id) REFERENCES settlements(id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add payout tranches for split disbursement",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS payout_tranches (
					settlement_id TEXT NOT NULL,
					tranche_index INTEGER NOT NULL,
					amount INTEGER NOT NULL,
					due_at DATETIME NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					external_reference TEXT NOT NULL DEFAULT '',
					failure_reason TEXT NOT NULL DEFAULT '',
					idempotency_key TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (settlement_id, tranche_index),
					FOREIGN KEY (settlement_id) REFERENCES settlements(id)
				)`,
				`CREATE INDEX idx_payout_tranches_due ON payout_tranches(status, due_at)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Index settlements by status for batch and sweep queries",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(
				`CREATE INDEX IF NOT EXISTS idx_settlements_status ON settlements(payment_status, updated_at)`,
			)
			return err
		},
	},
}

// Migrate runs all pending migrations, recording the schema version in
// PRAGMA user_version.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}

		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}

		// PRAGMA cannot be parameterized.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set schema version %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}

		slog.Info("Applied migration",
			"version", m.Version,
			"description", m.Description)
		current = m.Version
	}

	if current != ExpectedSchemaVersion {
		return fmt.Errorf("schema version %d does not match expected %d", current, ExpectedSchemaVersion)
	}
	return nil
}
