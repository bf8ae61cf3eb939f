package main

import (
	"fmt"

	"github.com/mvreeden/gridsim/internal/config"
	"github.com/mvreeden/gridsim/internal/db"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateSchema(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gridsim.yaml", "path to gridsim config file")
	return cmd
}

func runMigrateSchema(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := gormDB.AutoMigrate(db.AllModels()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema migrated (%d tables)\n", len(db.AllModels()))
	return nil
}
