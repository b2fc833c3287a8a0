package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information set via ldflags
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	verbose    bool
	configFile string
	projectDir string
)

var rootCmd = &cobra.Command{
	Use:   "hoptrail",
	Short: "Redirect chain capture and health scoring",
	Long: `Hoptrail captures and scores HTTP redirect chains.

It receives navigation events from a browser extension, assembles them into
per-tab redirect chains, scores each chain for SEO health, and keeps a
searchable history. URLs can also be traced actively from the command line
without a browser.

Configure in:
  - ~/.hoptrail/config.yaml (global)
  - .hoptrail/config.yaml (project-specific)`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hoptrail %s\n", Version)
		fmt.Printf("  commit: %s\n", Commit)
		fmt.Printf("  built:  %s\n", Date)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Override config file path")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", "", "Override project directory")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
