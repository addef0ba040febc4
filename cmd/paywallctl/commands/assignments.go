package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/cli"
	"github.com/TimurManjosov/gopaywall/internal/client"
)

var assignmentsCmd = &cobra.Command{
	Use:   "assignments",
	Short: "Inspect and manage user assignments",
}

var assignmentsGetCmd = &cobra.Command{
	Use:   "get <user-id>",
	Short: "Show a user's confirmed and unconfirmed assignments",
	Long: `Show the user's current assignment maps.

Examples:
  paywallctl assignments get user-1 --env prod
  paywallctl assignments get user-1 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]

		envCfg, _, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)
		view, err := c.GetAssignments(context.Background(), userID)
		if err != nil {
			return fmt.Errorf("failed to get assignments: %w", err)
		}

		if !quiet {
			rows := cli.AssignmentRows(view.Confirmed, view.Unconfirmed)
			return cli.PrintAssignments(rows, cli.OutputFormat(format))
		}

		return nil
	},
}

var assignmentsPushCmd = &cobra.Command{
	Use:   "push <user-id> <file>",
	Short: "Push server-side assignments for a user",
	Long: `Push assignments from a YAML or JSON file, overwriting the user's
confirmed assignments for the listed experiments.

The file holds a list of {experimentId, variantId} pairs.

Examples:
  paywallctl assignments push user-1 assignments.yaml --env prod`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, filename := args[0], args[1]

		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		var assignments []campaign.Assignment
		if err := yaml.Unmarshal(data, &assignments); err != nil {
			return fmt.Errorf("failed to parse file: %w", err)
		}
		if len(assignments) == 0 {
			return fmt.Errorf("no assignments found in file")
		}

		envCfg, _, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)
		if err := c.PushAssignments(context.Background(), userID, assignments); err != nil {
			return fmt.Errorf("failed to push assignments: %w", err)
		}

		if !quiet {
			fmt.Printf("Pushed %d assignment(s)\n", len(assignments))
		}

		return nil
	},
}

var assignmentsResetCmd = &cobra.Command{
	Use:   "reset <user-id>",
	Short: "Clear all assignments for a user",
	Long: `Clear the user's confirmed and unconfirmed assignments, as happens on
identity reset.

Examples:
  paywallctl assignments reset user-1 --env prod`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]

		envCfg, _, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)
		if err := c.ResetAssignments(context.Background(), userID); err != nil {
			return fmt.Errorf("failed to reset assignments: %w", err)
		}

		if !quiet {
			fmt.Println("Assignments cleared")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(assignmentsCmd)
	assignmentsCmd.AddCommand(assignmentsGetCmd)
	assignmentsCmd.AddCommand(assignmentsPushCmd)
	assignmentsCmd.AddCommand(assignmentsResetCmd)
}
