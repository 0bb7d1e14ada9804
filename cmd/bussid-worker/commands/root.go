// Package commands はbussid-workerのCLIコマンドを定義する.
package commands

import (
	"github.com/spf13/cobra"

	"bussid/internal/config"
	"bussid/internal/interface/repository/logger"
)

// ビルド情報. main から設定される.
var (
	Version = "dev"
	Commit  = "none"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "bussid-worker",
	Short: "Offline cache and update coordinator for the Tartu bus timetable",
	Long: `bussid-worker serves the Tartu bus timetable through a cache-first
worker: the application shell is pre-cached per generation, live transit
and map endpoints always go to the network, and open pages are told to
reload when a new generation replaces an old one.

Settings are read from bussid.yaml (or --config), overridden by BUSSID_*
environment variables and command line flags.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: ./bussid.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(storesCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute はルートコマンドを実行する.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configFile, cmd.Flags())
}

func newLogger(cfg *config.Config) (*logger.Repository, error) {
	return logger.New(logger.Config{
		Dir:      cfg.Logging.Dir,
		Filename: cfg.Logging.File,
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Rotation: logger.DefaultRotationConfig(),
	})
}
