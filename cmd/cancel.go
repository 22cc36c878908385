package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [jobId]",
	Short: "Cancel an active download job",
	Long: `cancel kills the job's running downloader process and stops further
depots from starting. Accepts a unique job ID prefix.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
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

		if err := svc.Cancel(jobID); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		fmt.Printf("Cancellation requested for job %s\n", shortID(jobID))
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
