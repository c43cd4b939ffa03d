package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcallister/fareledger/internal/cli"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve settlements stuck in processing",
		Long: `Check every settlement that has been processing longer than the
threshold against the payment provider's record of the attempt, and
transition it to completed or failed accordingly. This is the only
sanctioned way to resolve a settlement left processing by a crash or
timeout; the payment is never blindly re-sent.`,
		RunE: runReconcile,
	}

	cmd.Flags().Duration("older-than", 15*time.Minute, "Only sweep settlements processing longer than this")

	return cmd
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	olderThan, _ := cmd.Flags().GetDuration("older-than")

	eng, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.store.Close() }()

	result, err := eng.sweeper.SweepProcessing(ctx, olderThan)
	if err != nil {
		return err
	}

	if result.Total() == 0 {
		slog.Info(cli.FormatSuccess("No settlements stuck in processing"))
		return nil
	}

	var lines []string
	for _, id := range result.Succeeded {
		lines = append(lines, cli.FormatSuccess(id))
	}
	for _, failure := range result.Failed {
		lines = append(lines, cli.FormatWarning(fmt.Sprintf("%s: %s", failure.ID, failure.Reason)))
	}
	slog.Info(cli.RenderBox(
		fmt.Sprintf("Sweep: %d resolved, %d still unresolved", len(result.Succeeded), len(result.Failed)),
		strings.Join(lines, "\n")))
	return nil
}
