package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections, and a single
	// connection serializes the compare-and-set updates.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

// Transaction methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) SaveRevenueTransactions(ctx context.Context, txns []model.RevenueTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRevenueTransactions(txns); err != nil {
		return err
	}
	return t.storage.saveRevenueTransactionsTx(ctx, t.tx, txns)
}

func (t *sqliteTransaction) GetRevenueTransactions(ctx context.Context, providerID string, start, end time.Time) ([]model.RevenueTransaction, error) {
	return t.storage.GetRevenueTransactions(ctx, providerID, start, end)
}

func (t *sqliteTransaction) SaveRateRules(ctx context.Context, rules []model.RateRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRateRules(rules); err != nil {
		return err
	}
	return t.storage.saveRateRulesTx(ctx, t.tx, rules)
}

func (t *sqliteTransaction) GetRateRules(ctx context.Context) ([]model.RateRule, error) {
	return t.storage.GetRateRules(ctx)
}

func (t *sqliteTransaction) CreateSettlement(ctx context.Context, settlement *model.Settlement) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSettlement(settlement); err != nil {
		return err
	}
	return t.storage.createSettlementTx(ctx, t.tx, settlement)
}

func (t *sqliteTransaction) GetSettlement(ctx context.Context, id string) (*model.Settlement, error) {
	return t.storage.GetSettlement(ctx, id)
}

func (t *sqliteTransaction) GetSettlementByPeriod(ctx context.Context, providerID string, periodStart, periodEnd time.Time) (*model.Settlement, error) {
	return t.storage.GetSettlementByPeriod(ctx, providerID, periodStart, periodEnd)
}

func (t *sqliteTransaction) ListSettlements(ctx context.Context, filter service.SettlementFilter) ([]model.Settlement, error) {
	return t.storage.ListSettlements(ctx, filter)
}

func (t *sqliteTransaction) UpdateSettlementStatus(ctx context.Context, id string, expected, next model.PaymentStatus, meta service.StatusMetadata) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if !expected.Valid() || !next.Valid() {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, expected, next)
	}
	return t.storage.updateSettlementStatusTx(ctx, t.tx, id, expected, next, meta)
}

func (t *sqliteTransaction) ListProcessingOlderThan(ctx context.Context, cutoff time.Time) ([]model.Settlement, error) {
	return t.storage.ListProcessingOlderThan(ctx, cutoff)
}

func (t *sqliteTransaction) CreateTranches(ctx context.Context, tranches []model.PayoutTranche) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTranches(tranches); err != nil {
		return err
	}
	return t.storage.createTranchesTx(ctx, t.tx, tranches)
}

func (t *sqliteTransaction) GetTranche(ctx context.Context, settlementID string, index int) (*model.PayoutTranche, error) {
	return t.storage.GetTranche(ctx, settlementID, index)
}

func (t *sqliteTransaction) ListTranchesBySettlement(ctx context.Context, settlementID string) ([]model.PayoutTranche, error) {
	return t.storage.ListTranchesBySettlement(ctx, settlementID)
}

func (t *sqliteTransaction) ListDueTranches(ctx context.Context, now time.Time) ([]model.PayoutTranche, error) {
	return t.storage.ListDueTranches(ctx, now)
}

func (t *sqliteTransaction) UpdateTrancheStatus(ctx context.Context, settlementID string, index int, expected, next model.TrancheStatus, meta service.StatusMetadata) error {
	return t.storage.UpdateTrancheStatus(ctx, settlementID, index, expected, next, meta)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}
