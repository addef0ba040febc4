package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/gopaywall/internal/cli"
	"github.com/TimurManjosov/gopaywall/internal/client"
)

var outcomeParams string

var outcomeCmd = &cobra.Command{
	Use:   "outcome <user-id> <event>",
	Short: "Resolve the outcome of an event for a user",
	Long: `Resolve the trigger outcome of a fired event for a user, rolling and
recording a variant if the user has none yet.

Examples:
  paywallctl outcome user-1 campaign_trigger --env prod
  paywallctl outcome user-1 campaign_trigger --params '{"days_since_install": 3}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, event := args[0], args[1]

		var params map[string]any
		if outcomeParams != "" {
			if err := json.Unmarshal([]byte(outcomeParams), &params); err != nil {
				return fmt.Errorf("failed to parse --params: %w", err)
			}
		}

		envCfg, _, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)
		out, err := c.GetOutcome(context.Background(), userID, event, params)
		if err != nil {
			return fmt.Errorf("failed to resolve outcome: %w", err)
		}

		if !quiet {
			return cli.PrintOutcome(out, cli.OutputFormat(format))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(outcomeCmd)

	outcomeCmd.Flags().StringVar(&outcomeParams, "params", "", "Event parameters as a JSON object")
}
