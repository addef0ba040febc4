package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/gopaywall/internal/cli"
	"github.com/TimurManjosov/gopaywall/internal/client"
)

var preloadIgnorePolicy bool

var preloadCmd = &cobra.Command{
	Use:   "preload <user-id>",
	Short: "List paywalls worth preloading for a user",
	Long: `List the paywall identifiers the user's active treatment assignments
point at, honoring per-rule preload policies unless --ignore-policy is
set.

Examples:
  paywallctl preload user-1 --env prod
  paywallctl preload user-1 --ignore-policy --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]

		envCfg, _, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)
		ids, err := c.PreloadPaywallIDs(context.Background(), userID, preloadIgnorePolicy)
		if err != nil {
			return fmt.Errorf("failed to list preloadable paywalls: %w", err)
		}

		if !quiet {
			return cli.PrintPaywallIDs(ids, cli.OutputFormat(format))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(preloadCmd)

	preloadCmd.Flags().BoolVar(&preloadIgnorePolicy, "ignore-policy", false, "Ignore per-rule preload policies")
}
