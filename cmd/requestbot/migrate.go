package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	coredatabase "github.com/m3rciful/requestbot/core/database"
	"github.com/m3rciful/requestbot/core/logger"
	"github.com/m3rciful/requestbot/internal/app"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the SQL session store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.Load(opts.resolveConfigPath())
			if err != nil {
				return err
			}
			dbCfg := cfg.DatabaseConfig()
			if dbCfg == nil {
				return errors.New("migrate: store.driver is 'memory', nothing to migrate")
			}
			if err := logger.InitLogger(cfg.CoreConfig()); err != nil {
				return err
			}
			defer func() { _ = logger.Shutdown() }()

			db, err := coredatabase.Connect(*dbCfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := coredatabase.RunMigrations(db, *dbCfg); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", dbCfg.Driver)
			return err
		},
	}
}
