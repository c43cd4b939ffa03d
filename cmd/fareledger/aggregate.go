package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmcallister/fareledger/internal/cli"
	"github.com/jmcallister/fareledger/internal/model"
)

func aggregateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Close a provider's period into a settlement",
		Long: `Aggregate a provider's completed transactions for a period into a
settlement record. The period is half-open [start, end); re-running an
already-aggregated period returns the existing settlement unchanged.`,
		RunE: runAggregate,
	}

	cmd.Flags().StringP("provider", "p", "", "Provider ID (required)")
	cmd.Flags().String("start", "", "Period start, YYYY-MM-DD (required)")
	cmd.Flags().String("end", "", "Period end, YYYY-MM-DD (required)")
	cmd.Flags().Int64("bonus-completion", 0, "Completion bonus in minor units")
	cmd.Flags().Int64("bonus-rating", 0, "Rating bonus in minor units")
	cmd.Flags().Int64("bonus-volume", 0, "Volume bonus in minor units")
	cmd.Flags().Int64("bonus-referral", 0, "Referral bonus in minor units")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	_ = viper.BindPFlag("aggregate.provider", cmd.Flags().Lookup("provider"))

	return cmd
}

func runAggregate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	provider, _ := cmd.Flags().GetString("provider")
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")

	start, err := parseDay(startStr, "start")
	if err != nil {
		return err
	}
	end, err := parseDay(endStr, "end")
	if err != nil {
		return err
	}

	bonuses := model.BonusBreakdown{}
	bonuses.Completion, _ = moneyFlag(cmd, "bonus-completion")
	bonuses.Rating, _ = moneyFlag(cmd, "bonus-rating")
	bonuses.Volume, _ = moneyFlag(cmd, "bonus-volume")
	bonuses.Referral, _ = moneyFlag(cmd, "bonus-referral")

	eng, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.store.Close() }()

	settlement, err := eng.aggregator.AggregateFromStore(ctx, provider, start, end, bonuses)
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}

	content := fmt.Sprintf(`Settlement: %s
Provider:   %s
Gross:      %s
Commission: %s
Fees:       %s
Bonuses:    %s
Net payout: %s
Status:     %s`,
		settlement.ID, settlement.ProviderID,
		settlement.GrossEarnings, settlement.CommissionAmount,
		settlement.PlatformFees, settlement.TotalBonuses,
		settlement.NetPayout, settlement.PaymentStatus)

	slog.Info(cli.RenderBox(fmt.Sprintf("Period %s – %s", startStr, endStr), content))
	return nil
}

func moneyFlag(cmd *cobra.Command, name string) (model.Money, error) {
	v, err := cmd.Flags().GetInt64(name)
	return model.Money(v), err
}
