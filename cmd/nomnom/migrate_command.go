package main

import (
	"fmt"

	"github.com/nomnom/receiver/internal/storage"
	"github.com/spf13/cobra"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and list applied ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			store, err := storage.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer store.Close()

			applied, err := store.AppliedMigrations(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database: %s\n", cfg.DatabasePath)
			for _, name := range applied {
				fmt.Fprintf(out, "  applied %s\n", name)
			}
			return nil
		},
	}
}
