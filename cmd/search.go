package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search [appId]",
	Short: "Search the known manifest repos for an app",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		svc, err := connectService()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		defer svc.Shutdown()

		result, err := svc.Search(context.Background(), args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

		if result.GithubRateLimited {
			fmt.Fprintln(os.Stderr, "Warning: some repos were skipped due to GitHub rate limiting.")
		}
		if len(result.Repos) == 0 {
			fmt.Printf("No manifest branch found for app %s.\n", args[0])
			return
		}
		for _, r := range result.Repos {
			date := r.Date
			if date == "" {
				date = "unknown date"
			}
			fmt.Printf("%-40s %s\n", r.Repo, date)
		}
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
}
