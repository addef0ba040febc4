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

var importDryRun bool

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a campaign configuration from a file",
	Long: `Import a campaign configuration from a YAML or JSON file and push it to
the server, replacing the active configuration.

Examples:
  paywallctl import campaigns.yaml --env prod
  paywallctl import campaigns.yaml --env staging --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := args[0]

		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		var cfg campaign.Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse file: %w", err)
		}

		if err := campaign.Validate(cfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = campaign.Normalize(cfg)

		if verbose {
			fmt.Printf("Found %d trigger(s) and %d paywall(s)\n", len(cfg.Triggers), len(cfg.Paywalls))
		}

		// Dry run mode - just validate and show what would be imported
		if importDryRun {
			fmt.Println("Dry run mode - the following triggers would be imported:")
			for _, trigger := range cfg.Triggers {
				fmt.Printf("  - %s (%d rule(s))\n", trigger.EventName, len(trigger.Rules))
			}
			return nil
		}

		envCfg, _, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)
		if err := c.ImportCampaigns(context.Background(), cfg); err != nil {
			return fmt.Errorf("failed to import campaigns: %w", err)
		}

		if !quiet {
			fmt.Println("Import complete")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate without importing")
}
