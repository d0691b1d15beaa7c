package main

import (
	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/portunus-access/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Open migrates as part of connecting.
		conn, err := db.Open(cmd.Context(), db.Config{Path: cfg.DBPath, Env: cfg.Env}, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		if seed, _ := cmd.Flags().GetBool("seed-dev"); seed {
			if err := db.SeedDev(cmd.Context(), conn, db.SeedDevOptions{KnownModules: cfg.KnownModules}); err != nil {
				return err
			}
			logger.Info("dev seed applied")
		}
		logger.WithField("db", cfg.DBPath).Info("database is up to date")
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("seed-dev", false, "also load the development seed data")
	rootCmd.AddCommand(migrateCmd)
}
