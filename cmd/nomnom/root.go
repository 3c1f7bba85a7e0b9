package main

import (
	"github.com/nomnom/receiver/internal/config"
	"github.com/spf13/cobra"
)

// commandContext lazily loads configuration shared by subcommands
type commandContext struct {
	dbFlag *string
	cfg    *config.Config
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if c.dbFlag != nil && *c.dbFlag != "" {
		cfg.DatabasePath = *c.dbFlag
	}
	c.cfg = cfg
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	var dbFlag string
	ctx := &commandContext{dbFlag: &dbFlag}

	rootCmd := &cobra.Command{
		Use:           "nomnom",
		Short:         "NomNom content receiver",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "SQLite database path (overrides DB_PATH)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))

	return rootCmd
}
