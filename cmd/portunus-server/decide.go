package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/portunus-access/internal/db"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/service"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store/sqlite"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/types"
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Evaluate a card at a door against the database without recording anything",
	Example: `  portunus-server decide --card 0000abcd --door front
  portunus-server decide --card 0000abcd --door lab --at 2026-12-25T10:00:00-05:00`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		card, _ := cmd.Flags().GetString("card")
		door, _ := cmd.Flags().GetString("door")
		at, _ := cmd.Flags().GetString("at")

		ctx := cmd.Context()
		conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env}, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		writer := db.NewWorker(conn)
		defer writer.Close()

		registry := service.NewDeviceRegistry(sqlite.NewDeviceStore(conn, writer))
		svc := service.NewAccessService(registry, sqlite.NewAccessModel(conn, writer), nil, formatRegistry(), service.AccessOptions{
			Location: cfg.Location(),
			Policy:   cfg.Policy(),
			Logger:   logger,
		})

		resp, err := svc.Evaluate(ctx, types.EvaluateRequest{CardID: card, Door: door, At: at})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	decideCmd.Flags().String("card", "", "card id (hex)")
	decideCmd.Flags().String("door", "", "door name")
	decideCmd.Flags().String("at", "", "RFC3339 instant to evaluate at (default now)")
	_ = decideCmd.MarkFlagRequired("card")
	_ = decideCmd.MarkFlagRequired("door")
	rootCmd.AddCommand(decideCmd)
}
