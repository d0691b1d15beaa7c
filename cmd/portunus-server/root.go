package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/portunus-access/internal/config"
	"github.com/BrandonDHaskell/portunus-access/internal/logging"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/wiegand"
)

var (
	cfg    config.Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:           "portunus-server",
	Short:         "Door access decision server for Portunus reader modules",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		if cfg, err = config.FromEnv(); err != nil {
			return err
		}
		if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
			cfg.DBPath = dbPath
		}
		logger, err = logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		return err
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().String("db", "", "sqlite database path (overrides PORTUNUS_DB_PATH)")
}

// formatRegistry returns the standard Wiegand formats plus any custom ones
// from PORTUNUS_WIEGAND_FORMATS_FILE. A bad file is logged and skipped.
func formatRegistry() *wiegand.Registry {
	reg := wiegand.NewRegistry()
	if cfg.WiegandFormatsFile == "" {
		return reg
	}
	if err := reg.LoadFile(cfg.WiegandFormatsFile); err != nil {
		logger.WithError(err).Warn("custom wiegand formats not loaded; using standard formats")
		return wiegand.NewRegistry()
	}
	logger.WithField("lengths", fmt.Sprint(reg.Lengths())).Info("wiegand formats loaded")
	return reg
}
