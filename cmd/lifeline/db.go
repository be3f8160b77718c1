package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/zulandar/lifeline/internal/config"
	"github.com/zulandar/lifeline/internal/db"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBSeedCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database and migrate all tables",
		Long:  "Creates the MySQL database if needed (sqlite files are created on open), then migrates every lifeline table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to lifeline config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	return withGateway(configPath, cmd.ErrOrStderr(), func(ctx context.Context, cfg *config.Config, gw *db.Gateway, _ *logrus.Logger) error {
		if cfg.Database.Driver == config.DriverMySQL {
			adminDB, err := db.ConnectAdmin(cfg.Database)
			if err != nil {
				return err
			}
			err = db.CreateDatabase(adminDB, cfg.Database.Name)
			db.Close(adminDB)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Name)
		}

		conn, err := gw.Acquire(ctx)
		if err != nil {
			return err
		}
		if err := db.AutoMigrate(conn); err != nil {
			return err
		}
		fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
		return nil
	})
}

func newDBSeedCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed responder bases and units",
		Long: `Upserts the default responder bases and units. Units are matched by
call sign, so re-running keeps each unit's current status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBSeed(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to lifeline config file")
	return cmd
}

func runDBSeed(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	return withGateway(configPath, cmd.ErrOrStderr(), func(ctx context.Context, _ *config.Config, gw *db.Gateway, _ *logrus.Logger) error {
		var n int64
		err := gw.Run(ctx, "db.seed", func(tx *gorm.DB) error {
			var err error
			n, err = db.SeedResponders(tx, db.DefaultLocations, db.DefaultUnits)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Seeded %d responders across %d locations\n", n, len(db.DefaultLocations))
		return nil
	})
}
