package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcallister/fareledger/internal/cli"
	"github.com/jmcallister/fareledger/internal/model"
)

func tranchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tranches",
		Short: "Manage split two-tranche payouts",
	}
	cmd.AddCommand(tranchesScheduleCmd())
	cmd.AddCommand(tranchesRunCmd())
	cmd.AddCommand(tranchesCancelCmd())
	return cmd
}

func tranchesScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule [settlement-id]",
		Short: "Schedule a settlement's 50/50 tranche pair",
		Long: `Split a settlement's net payout into two tranches: half due 6 hours
after completion, the remainder (including any rounding cent) due 72
hours after. Scheduling claims the settlement, so it can no longer be
paid in full through a batch payout. Re-scheduling returns the
existing tranches.`,
		Args: cobra.ExactArgs(1),
		RunE: runTranchesSchedule,
	}

	cmd.Flags().String("completed-at", "", "Transaction completion time, RFC 3339 (default: now)")

	return cmd
}

func runTranchesSchedule(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	completedStr, _ := cmd.Flags().GetString("completed-at")
	completedAt := time.Now().UTC()
	if completedStr != "" {
		var err error
		completedAt, err = time.Parse(time.RFC3339, completedStr)
		if err != nil {
			return fmt.Errorf("invalid --completed-at %q: %w", completedStr, err)
		}
	}

	eng, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.store.Close() }()

	settlement, err := eng.store.GetSettlement(ctx, args[0])
	if err != nil {
		return err
	}

	tranches, err := eng.scheduler.Schedule(ctx, settlement, completedAt)
	if err != nil {
		return err
	}

	var lines []string
	for _, t := range tranches {
		lines = append(lines, fmt.Sprintf("Tranche %d: %s due %s (%s)",
			t.Index, t.Amount, t.DueAt.Format(time.RFC3339), t.Status))
	}
	slog.Info(cli.RenderBox("Split payout scheduled", strings.Join(lines, "\n")))
	return nil
}

func tranchesRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute every pending tranche whose due time has passed",
		RunE:  runTranchesRun,
	}

	cmd.Flags().StringP("method", "m", string(model.MethodBankTransfer), "Payment method")

	return cmd
}

func runTranchesRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	methodStr, _ := cmd.Flags().GetString("method")

	eng, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.store.Close() }()

	result, err := eng.scheduler.ExecuteDueTranches(ctx, time.Now().UTC(), model.PaymentMethod(methodStr))
	if err != nil {
		return err
	}

	if result.Total() == 0 {
		slog.Info(cli.FormatWarning("No tranches due"))
		return nil
	}

	var lines []string
	for _, key := range result.Succeeded {
		lines = append(lines, cli.FormatSuccess(key))
	}
	for _, failure := range result.Failed {
		lines = append(lines, cli.FormatError(fmt.Sprintf("%s: %s", failure.ID, failure.Reason)))
	}
	slog.Info(cli.RenderBox(
		fmt.Sprintf("Tranche run: %d paid, %d failed", len(result.Succeeded), len(result.Failed)),
		strings.Join(lines, "\n")))
	return nil
}

func tranchesCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel [settlement-id] [index]",
		Short: "Cancel an unpaid tranche after a dispute or reversal",
		Args:  cobra.ExactArgs(2),
		RunE:  runTranchesCancel,
	}

	cmd.Flags().String("reason", "cancelled by operator", "Cancellation reason")

	return cmd
}

func runTranchesCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var index int
	if _, err := fmt.Sscanf(args[1], "%d", &index); err != nil {
		return fmt.Errorf("tranche index must be 1 or 2, got %q", args[1])
	}
	reason, _ := cmd.Flags().GetString("reason")

	eng, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.store.Close() }()

	if err := eng.scheduler.CancelTranche(ctx, args[0], index, reason); err != nil {
		return err
	}

	slog.Info(cli.FormatSuccess(fmt.Sprintf("Cancelled tranche %s/%d", args[0], index)))
	return nil
}
