package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	baseURL string
	apiKey  string
	env     string
	format  string
	quiet   bool
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "paywallctl",
	Short: "CLI tool for the paywall decision service",
	Long: `Paywallctl is a command-line tool for operating the gopaywall service.

It provides commands for importing campaign configurations, resolving
event outcomes, listing preloadable paywalls and inspecting or resetting
user assignments.

Examples:
  paywallctl import campaigns.yaml --env prod
  paywallctl outcome user-1 campaign_trigger --env prod
  paywallctl preload user-1 --env prod
  paywallctl assignments get user-1 --env prod`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the paywall API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "Environment (dev, staging, prod)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
}
