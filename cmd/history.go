package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show finished download jobs",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		svc, err := connectService()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		defer svc.Shutdown()

		entries, err := svc.History(limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		if len(entries) == 0 {
			fmt.Println("No finished jobs.")
			return
		}
		for _, e := range entries {
			fmt.Printf("%s  app %-10s %-10s %d/%d depot(s) ok  %s\n",
				shortID(e.JobID), e.AppID, e.Status,
				e.SuccessCount, e.DepotCount,
				e.FinishedAt.Local().Format(time.DateTime))
		}
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum entries to show")
}
