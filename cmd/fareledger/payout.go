package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jmcallister/fareledger/internal/cli"
	"github.com/jmcallister/fareledger/internal/model"
)

func payoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payout",
		Short: "Pay settlements",
	}
	cmd.AddCommand(payoutBatchCmd())
	return cmd
}

func payoutBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [settlement-id ...]",
		Short: "Pay a batch of pending settlements",
		Long: `Pay each listed settlement as an independent unit of work. A failed
item never aborts the rest; the result reports each item's outcome.
Settlements that are no longer pending are skipped with reason
NotPending.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runPayoutBatch,
	}

	cmd.Flags().StringP("method", "m", string(model.MethodBankTransfer), "Payment method (bank_transfer, wallet, check)")

	return cmd
}

func runPayoutBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	methodStr, _ := cmd.Flags().GetString("method")
	method := model.PaymentMethod(methodStr)

	eng, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.store.Close() }()

	bar := progressbar.NewOptions(len(args),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Paying settlements...[reset]"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)

	result, err := eng.processor.ProcessBatch(ctx, args, method, func(_ string, _ error) {
		_ = bar.Add(1)
	})
	if err != nil {
		return fmt.Errorf("batch payout failed: %w", err)
	}

	var lines []string
	for _, id := range result.Succeeded {
		lines = append(lines, cli.FormatSuccess(id))
	}
	for _, failure := range result.Failed {
		lines = append(lines, cli.FormatError(fmt.Sprintf("%s: %s", failure.ID, failure.Reason)))
	}

	slog.Info(cli.RenderBox(
		fmt.Sprintf("Batch result: %d paid, %d failed", len(result.Succeeded), len(result.Failed)),
		strings.Join(lines, "\n")))
	return nil
}
