package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/config"
	"github.com/jmcallister/fareledger/internal/disburse"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/payout"
	"github.com/jmcallister/fareledger/internal/service"
	"github.com/jmcallister/fareledger/internal/settle"
	"github.com/jmcallister/fareledger/internal/storage"
)

// initStorage initializes the storage service with proper path expansion
// and runs any pending migrations.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/fareledger/fareledger.db"
	}
	dbPath = config.ExpandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, common.NewUserError(fmt.Sprintf("could not open database at %s", dbPath), err)
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// engine bundles the payout components wired over one storage instance.
type engine struct {
	store      *storage.SQLiteStorage
	disburser  service.Disburser
	machine    *payout.Machine
	processor  *payout.Processor
	scheduler  *payout.Scheduler
	sweeper    *payout.Sweeper
	aggregator *settle.Aggregator
}

// initEngine wires the engine from configuration. The manual disburser is
// the default; a real payment provider replaces it via the same interface.
func initEngine(ctx context.Context) (*engine, error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, err
	}

	disburser := disburse.NewManual()
	retry := service.RetryOptions{
		MaxAttempts:  viper.GetInt("disburse.max_attempts"),
		InitialDelay: viper.GetDuration("disburse.initial_delay"),
		MaxDelay:     viper.GetDuration("disburse.max_delay"),
	}
	machine := payout.NewMachine(store, disburser, retry)

	platformFee := model.Money(viper.GetInt64("settlement.platform_fee"))

	return &engine{
		store:      store,
		disburser:  disburser,
		machine:    machine,
		processor:  payout.NewProcessor(store, machine),
		scheduler:  payout.NewScheduler(store, machine),
		sweeper:    payout.NewSweeper(store, disburser, machine),
		aggregator: settle.NewAggregator(store, settle.WithPlatformFee(platformFee)),
	}, nil
}

// parseDay parses a YYYY-MM-DD flag value as midnight UTC.
func parseDay(value, flagName string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: expected YYYY-MM-DD", flagName, value)
	}
	return t.UTC(), nil
}
