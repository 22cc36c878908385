package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/depotgrab/depotgrab/internal/orchestrator"
)

var statusCmd = &cobra.Command{
	Use:   "status [jobId]",
	Short: "Show the current state of a download job",
	Args:  cobra.ExactArgs(1),
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

		snap, err := svc.Status(jobID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		printSnapshot(snap)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered download jobs",
	Run: func(cmd *cobra.Command, args []string) {
		svc, err := connectService()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		defer svc.Shutdown()

		snaps, err := svc.List()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		if len(snaps) == 0 {
			fmt.Println("No jobs.")
			return
		}
		for _, snap := range snaps {
			fmt.Printf("%s  app %-10s %-20s %d depot(s)  %s\n",
				shortID(snap.JobID), snap.AppID, snap.Status,
				len(snap.Tasks), snap.CreatedAt.Format(time.TimeOnly))
		}
	},
}

func printSnapshot(snap orchestrator.JobSnapshot) {
	fmt.Printf("Job:     %s\n", snap.JobID)
	fmt.Printf("App:     %s\n", snap.AppID)
	fmt.Printf("Status:  %s\n", snap.Status)
	if snap.CancelRequested && !snap.Status.Terminal() {
		fmt.Println("         (cancellation requested)")
	}
	if snap.Error != "" {
		fmt.Printf("Error:   %s\n", snap.Error)
	}
	if len(snap.Tasks) > 0 {
		fmt.Printf("Depots:  %d\n", len(snap.Tasks))
		for i, t := range snap.Tasks {
			marker := " "
			if snap.Status == orchestrator.StatusRunning && i == snap.CurrentTask {
				marker = ">"
			}
			manifest := t.ManifestID
			if manifest == "" {
				manifest = "(unresolved)"
			}
			fmt.Printf("  %s %s  manifest %s\n", marker, t.DepotID, manifest)
		}
	}
	if len(snap.Results) > 0 {
		fmt.Println("Results:")
		for _, r := range snap.Results {
			if r.Success {
				fmt.Printf("  %s  ok\n", r.DepotID)
			} else {
				fmt.Printf("  %s  failed: %s\n", r.DepotID, r.Error)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
}
