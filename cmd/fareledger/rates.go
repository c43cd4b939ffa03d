package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jmcallister/fareledger/internal/cli"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/rates"
)

func ratesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Manage the commission rate table",
	}
	cmd.AddCommand(ratesListCmd())
	cmd.AddCommand(ratesSetCmd())
	return cmd
}

func ratesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the active commission rates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = eng.store.Close() }()

			table, err := rates.LoadActive(ctx, eng.store)
			if err != nil {
				return err
			}

			var rows []string
			rows = append(rows, cli.TableHeaderStyle.Render(
				fmt.Sprintf("%-12s  %-10s  %8s  %10s", "CATEGORY", "TIER", "RATE", "FLAT FEE")))
			for _, rule := range table.Rules() {
				tier := rule.Tier
				if tier == "" {
					tier = "(default)"
				}
				rows = append(rows, cli.TableCellStyle.Render(
					fmt.Sprintf("%-12s  %-10s  %8s  %10s", rule.Category, tier, rule.Rate, rule.FlatFee)))
			}

			slog.Info(cli.FormatTitle("Commission rate table"))
			fmt.Println(strings.Join(rows, "\n"))
			return nil
		},
	}
}

func ratesSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set [category] [rate]",
		Short: "Set the commission rate for a category (and optional tier)",
		Long: `Set the platform's commission rate for a revenue category. Rate is a
decimal in [0,1], e.g. 0.15. Paid settlements are never recomputed: each
settlement keeps the rate snapshot it was aggregated under.`,
		Args: cobra.ExactArgs(2),
		RunE: runRatesSet,
	}

	cmd.Flags().String("tier", "", "Provider tier this rate applies to (default: category default)")
	cmd.Flags().Int64("flat-fee", 0, "Flat fee in minor units added to the percentage commission")

	return cmd
}

func runRatesSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	category := model.RevenueCategory(strings.ToUpper(args[0]))
	rate, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("invalid rate %q: %w", args[1], err)
	}
	tier, _ := cmd.Flags().GetString("tier")
	flatFee, _ := cmd.Flags().GetInt64("flat-fee")

	rule := model.RateRule{
		Category: category,
		Tier:     tier,
		Rate:     rate,
		FlatFee:  model.Money(flatFee),
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	eng, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.store.Close() }()

	if err := eng.store.SaveRateRules(ctx, []model.RateRule{rule}); err != nil {
		return err
	}

	slog.Info(cli.FormatSuccess(fmt.Sprintf("Rate for %s/%s set to %s", category, tier, rate)))
	return nil
}
