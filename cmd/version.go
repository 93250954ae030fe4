package cmd

import (
	"fmt"

	"github.com/galamiram/spotauth/internal/version"
	"github.com/spf13/cobra"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the current version of spotauth.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "spotauth version: %s\n", version.Version)
		fmt.Fprintln(cmd.OutOrStdout(), "Spotify login and search from the terminal")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
