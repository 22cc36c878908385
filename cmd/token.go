package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the auth token used by the depotgrab daemon",
	Long: `token prints the Bearer token clients must present to the local daemon,
generating and persisting one on first use. With --env the token is printed
as an export line for DEPOTGRAB_TOKEN, suitable for eval in a shell.`,
	Run: func(cmd *cobra.Command, args []string) {
		asEnv, _ := cmd.Flags().GetBool("env")

		token := ensureAuthToken()
		if token == "" {
			fmt.Fprintln(os.Stderr, "Error: could not generate an auth token")
			os.Exit(1)
		}
		fmt.Println(renderToken(token, asEnv))
	},
}

func renderToken(token string, asEnv bool) string {
	if asEnv {
		return "export DEPOTGRAB_TOKEN=" + token
	}
	return token
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().Bool("env", false, "Print as an export line for DEPOTGRAB_TOKEN")
}
