package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/depotgrab/depotgrab/internal/events"
	"github.com/depotgrab/depotgrab/internal/keydata"
	"github.com/depotgrab/depotgrab/internal/orchestrator"
	"github.com/depotgrab/depotgrab/internal/resolver"
)

var getCmd = &cobra.Command{
	Use:   "get [appId]",
	Short: "Download an app's depots through the daemon",
	Long: `get submits a download job for the given app ID and streams its
progress until the job finishes. Credential files (.lua, .st, Key.vdf) can be
supplied with --keys; without them the daemon resolves depots from its
configured sources.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		appID := args[0]
		repo, _ := cmd.Flags().GetString("repo")
		outputDir, _ := cmd.Flags().GetString("output")
		keysFiles, _ := cmd.Flags().GetStringSlice("keys")
		manifestOverrides, _ := cmd.Flags().GetStringSlice("manifest")
		detach, _ := cmd.Flags().GetBool("detach")
		verbose, _ := cmd.Flags().GetBool("verbose")

		svc, err := connectService()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		defer svc.Shutdown()

		req := orchestrator.DownloadRequest{
			AppID:       appID,
			Repo:        repo,
			DownloadDir: outputDir,
		}

		for _, path := range keysFiles {
			depots, err := parseKeysFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
				os.Exit(1)
			}
			req.Depots = append(req.Depots, resolver.FromKeydata(depots, resolver.SourceEmbedded)...)
		}

		for _, o := range manifestOverrides {
			parts := strings.SplitN(o, "=", 2)
			if len(parts) != 2 {
				fmt.Fprintf(os.Stderr, "Error: --manifest expects depotId=manifestId, got %q\n", o)
				os.Exit(1)
			}
			req.Overrides = append(req.Overrides, resolver.Override{
				DepotID:          parts[0],
				CustomManifestID: parts[1],
			})
		}

		jobID, err := svc.Submit(req)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		fmt.Printf("Job %s queued for app %s\n", shortID(jobID), appID)

		if detach {
			fmt.Printf("Track it with: depotgrab status %s\n", shortID(jobID))
			return
		}

		streamJob(svc, jobID, verbose)
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringP("repo", "r", "", "Pin a specific manifest repo (owner/name)")
	getCmd.Flags().StringP("output", "o", "", "Download directory (overrides settings)")
	getCmd.Flags().StringSliceP("keys", "k", nil, "Credential file(s) to use (.lua, .st, .vdf)")
	getCmd.Flags().StringSliceP("manifest", "m", nil, "Per-depot manifest override (depotId=manifestId)")
	getCmd.Flags().BoolP("detach", "d", false, "Queue the job and return immediately")
	getCmd.Flags().BoolP("verbose", "v", false, "Print raw tool output")
}

// parseKeysFile loads depot credentials from a local .lua, .st or .vdf file.
func parseKeysFile(path string) ([]keydata.DepotInfo, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		return keydata.ParseLua(string(content)).Depots, nil
	case ".st":
		result, err := keydata.ParseST(content)
		if err != nil {
			return nil, err
		}
		return result.Depots, nil
	case ".vdf":
		keys := keydata.ParseKeyVDF(string(content), "")
		depots := make([]keydata.DepotInfo, 0, len(keys))
		for depotID, key := range keys {
			depots = append(depots, keydata.DepotInfo{DepotID: depotID, DepotKey: key})
		}
		return depots, nil
	}
	return nil, fmt.Errorf("unsupported credential file type %q", filepath.Ext(path))
}

// streamJob follows a job's events until it reaches a terminal state.
func streamJob(svc interface {
	StreamEvents(ctx context.Context, jobID string) (<-chan any, func(), error)
}, jobID string, verbose bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, stop, err := svc.StreamEvents(ctx, jobID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer stop()

	for msg := range ch {
		if verbose {
			printEventVerbose(msg)
		} else {
			printEvent(msg)
		}

		switch m := msg.(type) {
		case events.CompleteMsg:
			failed := 0
			for _, r := range m.Results {
				if !r.Success {
					failed++
				}
			}
			if failed > 0 {
				fmt.Printf("%d of %d depot(s) failed\n", failed, len(m.Results))
				os.Exit(1)
			}
			return
		case events.CancelledMsg:
			os.Exit(1)
		case events.ErrorMsg:
			if m.DepotID == "" {
				os.Exit(1)
			}
		}
	}
}
