package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/depotgrab/depotgrab/internal/config"
	"github.com/depotgrab/depotgrab/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Global connection flags, usable with every client subcommand.
var (
	globalHost  string
	globalToken string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "depotgrab",
	Short: "A depot download orchestrator for the command line",
	Long: `Depotgrab resolves depot manifests and decryption keys from public
sources and drives an external depot downloader tool, one depot at a time,
with live progress events.

Run 'depotgrab server start' to launch the daemon, then use 'get', 'status',
'cancel' and friends against it.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalHost, "host", "", "Daemon address (host:port), overrides local discovery")
	rootCmd.PersistentFlags().StringVar(&globalToken, "token", "", "Auth token for the daemon")
	rootCmd.SetVersionTemplate("depotgrab version {{.Version}}\n")
}

// initializeGlobalState sets up the app directories and configures logging
func initializeGlobalState() {
	stateDir := config.GetStateDir()
	logsDir := config.GetLogsDir()

	// Ensure directories exist
	os.MkdirAll(stateDir, 0755)
	os.MkdirAll(logsDir, 0755)

	// Config logging
	utils.ConfigureDebug(logsDir)

	// Clean up old logs
	settings, err := config.LoadSettings()
	retention := config.DefaultSettings().General.LogRetentionCount
	if err == nil {
		retention = settings.General.LogRetentionCount
	}
	utils.CleanupLogs(retention)
}

func loadSettingsOrDefault() *config.Settings {
	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load settings: %v\n", err)
		return config.DefaultSettings()
	}
	return settings
}
