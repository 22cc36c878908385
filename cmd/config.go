package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/depotgrab/depotgrab/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change daemon settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	Run: func(cmd *cobra.Command, args []string) {
		settings := loadSettingsOrDefault()
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		fmt.Printf("# %s\n%s\n", config.GetSettingsPath(), data)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a settings value",
	Long: `set writes one settings value and saves the settings file. Known keys:

  tool.path           path to the downloader tool binary
  download.dir        download directory
  github.token        GitHub API token for repo lookups
  manifesthub.key     API key for the manifest hosting service
  keep.minutes        minutes to retain finished jobs in the registry`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, value := args[0], args[1]
		settings := loadSettingsOrDefault()

		switch key {
		case "tool.path":
			settings.Tool.Path = value
		case "download.dir":
			settings.General.DownloadDir = value
		case "github.token":
			settings.Sources.GithubToken = value
		case "manifesthub.key":
			settings.Sources.ManifestHubAPIKey = value
		case "keep.minutes":
			minutes, err := strconv.Atoi(value)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: keep.minutes wants a number, got %q\n", value)
				os.Exit(1)
			}
			settings.General.KeepJobMinutes = minutes
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown settings key %q\n", key)
			os.Exit(1)
		}

		if err := config.SaveSettings(settings); err != nil {
			fmt.Fprintln(os.Stderr, "Error saving settings:", err)
			os.Exit(1)
		}
		fmt.Printf("Saved %s\n", key)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
