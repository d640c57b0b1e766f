// Package commands provides the CLI commands for Quorum.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/logging"
)

var (
	// Version information set at build time.
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	workDirFlag string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "quorum",
	Short: "Quorum - multi-agent deliberation coordinator",
	Long: `Quorum coordinates structured deliberations between AI agents and
humans: a fixed speaker rotation over a set number of rounds, with
responses arriving through local CLIs, automated browser tabs, the
clipboard, or by hand.

Run 'quorum serve' to expose the coordinator as an MCP tool server
over stdio.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDirFlag, "directory", "d", "", "Working directory (defaults to cwd)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("quorum %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(statusCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig builds the runtime configuration: .env overrides first, then
// environment, then flags.
func loadConfig() (*config.Config, error) {
	// A local .env is optional.
	_ = godotenv.Load()

	workDir := workDirFlag
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		workDir = wd
	}

	cfg := config.FromEnv(workDir)

	logCfg := logging.DefaultConfig()
	if logLevel != "" {
		logCfg.Level = logging.ParseLevel(logLevel)
	}
	logCfg.File = cfg.LogPath()
	logging.Init(logCfg)

	return cfg, nil
}
