package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcallister/fareledger/internal/cli"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/service"
)

func settlementsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settlements",
		Short: "Inspect and manage settlements",
	}
	cmd.AddCommand(settlementsListCmd())
	cmd.AddCommand(settlementsShowCmd())
	cmd.AddCommand(settlementsHoldCmd())
	cmd.AddCommand(settlementsResumeCmd())
	cmd.AddCommand(settlementsRetryCmd())
	return cmd
}

func settlementsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List settlements",
		RunE:  runSettlementsList,
	}

	cmd.Flags().StringP("provider", "p", "", "Filter by provider ID")
	cmd.Flags().StringP("status", "s", "", "Filter by payment status")
	cmd.Flags().Int("limit", 50, "Maximum rows")

	return cmd
}

func runSettlementsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	provider, _ := cmd.Flags().GetString("provider")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	eng, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.store.Close() }()

	settlements, err := eng.store.ListSettlements(ctx, service.SettlementFilter{
		ProviderID: provider,
		Status:     model.PaymentStatus(status),
		Limit:      limit,
	})
	if err != nil {
		return err
	}

	if len(settlements) == 0 {
		slog.Info(cli.FormatWarning("No settlements match"))
		return nil
	}

	var rows []string
	rows = append(rows, cli.TableHeaderStyle.Render(
		fmt.Sprintf("%-36s  %-12s  %-10s  %12s", "ID", "PROVIDER", "STATUS", "NET")))
	for _, s := range settlements {
		rows = append(rows, cli.TableCellStyle.Render(
			fmt.Sprintf("%-36s  %-12s  %-10s  %12s", s.ID, s.ProviderID, s.PaymentStatus, s.NetPayout)))
	}

	slog.Info(cli.FormatTitle(fmt.Sprintf("%d settlements", len(settlements))))
	fmt.Println(strings.Join(rows, "\n"))
	return nil
}

func settlementsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [settlement-id]",
		Short: "Show one settlement with its line results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = eng.store.Close() }()

			s, err := eng.store.GetSettlement(ctx, args[0])
			if err != nil {
				return err
			}

			var lines []string
			for _, lr := range s.LineResults {
				lines = append(lines, fmt.Sprintf("%-12s %-10s gross %10s  commission %10s  net %10s",
					lr.Category, lr.Tier, lr.GrossAmount, lr.CommissionAmount, lr.ProviderNet))
			}
			lines = append(lines, "")
			lines = append(lines, fmt.Sprintf("Gross %s  Fees %s  Commission %s  Bonuses %s  Net %s",
				s.GrossEarnings, s.PlatformFees, s.CommissionAmount, s.TotalBonuses, s.NetPayout))
			lines = append(lines, fmt.Sprintf("Status %s  Method %s  Ref %s",
				s.PaymentStatus, s.PaymentMethod, s.ExternalReference))
			if s.FailureReason != "" {
				lines = append(lines, cli.FormatError("Failure: "+s.FailureReason))
			}

			slog.Info(cli.RenderBox(
				fmt.Sprintf("Settlement %s (%s)", s.ID, s.ProviderID),
				strings.Join(lines, "\n")))
			return nil
		},
	}
}

func settlementsHoldCmd() *cobra.Command {
	return transitionCmd("hold", "Place a pending settlement on hold",
		model.PaymentPending, model.PaymentOnHold, "")
}

func settlementsResumeCmd() *cobra.Command {
	return transitionCmd("resume", "Resume an on-hold settlement to pending",
		model.PaymentOnHold, model.PaymentPending, "")
}

func settlementsRetryCmd() *cobra.Command {
	return transitionCmd("retry", "Return a failed settlement to pending for another attempt",
		model.PaymentFailed, model.PaymentPending, "")
}

// transitionCmd builds a command applying one guarded transition. The
// expected status is presented to the compare-and-set, so an operator
// racing another actor sees the conflict instead of overwriting it.
func transitionCmd(use, short string, expected, next model.PaymentStatus, reason string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [settlement-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = eng.store.Close() }()

			err = eng.machine.Transition(ctx, args[0], expected, next, service.StatusMetadata{
				FailureReason: reason,
			})
			if err != nil {
				return err
			}

			slog.Info(cli.FormatSuccess(fmt.Sprintf("Settlement %s: %s → %s", args[0], expected, next)))
			return nil
		},
	}
}
