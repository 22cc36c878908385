package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/depotgrab/depotgrab/internal/batch"
	"github.com/depotgrab/depotgrab/internal/config"
	"github.com/depotgrab/depotgrab/internal/keyfile"
	"github.com/depotgrab/depotgrab/internal/runner"
)

var exportCmd = &cobra.Command{
	Use:   "export [jobId]",
	Short: "Export a job's downloads as a standalone script",
	Long: `export renders the downloader tool invocations for a job's resolved
depots as a shell or batch script, for running outside the daemon.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		outFile, _ := cmd.Flags().GetString("out")
		toClipboard, _ := cmd.Flags().GetBool("copy")

		svc, err := connectService()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		defer svc.Shutdown()

		jobID, err := resolveJobID(svc, args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		snap, err := svc.Status(jobID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		if len(snap.Tasks) == 0 {
			fmt.Fprintln(os.Stderr, "Error: job has no resolved depots yet")
			os.Exit(1)
		}

		settings := loadSettingsOrDefault()
		r := runner.New(settings.Tool.Path, settings.Tool.ExtraArgs)
		keyPath := filepath.Join(config.GetAppDir(), "jobs", snap.JobID, keyfile.FileName)

		script, err := batch.Script(batch.Format(format), snap.AppID, snap.Tasks, r, keyPath, settings.General.DownloadDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

		switch {
		case toClipboard:
			if err := batch.CopyToClipboard(script); err != nil {
				fmt.Fprintln(os.Stderr, "Error copying to clipboard:", err)
				os.Exit(1)
			}
			fmt.Println("Script copied to clipboard.")
		case outFile != "":
			if err := batch.WriteFile(outFile, script, batch.Format(format)); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				os.Exit(1)
			}
			fmt.Printf("Script written to %s\n", outFile)
		default:
			fmt.Print(script)
		}
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("format", "f", "sh", "Script format: sh or bat")
	exportCmd.Flags().StringP("out", "o", "", "Write the script to a file")
	exportCmd.Flags().BoolP("copy", "c", false, "Copy the script to the clipboard")
}
