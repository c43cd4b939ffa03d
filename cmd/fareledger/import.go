package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcallister/fareledger/internal/cli"
	"github.com/jmcallister/fareledger/internal/model"
)

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file.json]",
		Short: "Import revenue transactions from a feed export",
		Long: `Import completed-booking revenue transactions from a JSON feed export.
Import is safe to repeat: transactions already landed are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	var txns []model.RevenueTransaction
	if err := json.Unmarshal(data, &txns); err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}
	if len(txns) == 0 {
		slog.Info(cli.FormatWarning("No transactions in file"))
		return nil
	}

	eng, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.store.Close() }()

	if err := eng.store.SaveRevenueTransactions(ctx, txns); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	slog.Info(cli.FormatSuccess(fmt.Sprintf("Imported %d transactions from %s", len(txns), args[0])))
	return nil
}
