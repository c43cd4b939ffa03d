package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmcallister/fareledger/internal/cli"
	"github.com/jmcallister/fareledger/internal/storage"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run any pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			slog.Info(cli.FormatSuccess("Database is up to date"),
				"schema_version", storage.ExpectedSchemaVersion)
			return nil
		},
	}
}
