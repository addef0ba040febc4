package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/outcome"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// AssignmentRow is one experiment assignment with its confirmation
// status, flattened for display.
type AssignmentRow struct {
	ExperimentID string `json:"experimentId" yaml:"experiment_id"`
	VariantID    string `json:"variantId" yaml:"variant_id"`
	VariantType  string `json:"variantType" yaml:"variant_type"`
	PaywallID    string `json:"paywallId,omitempty" yaml:"paywall_id,omitempty"`
	Status       string `json:"status" yaml:"status"`
}

// AssignmentRows flattens confirmed and unconfirmed maps into sorted
// display rows, confirmed first.
func AssignmentRows(confirmed, unconfirmed map[string]campaign.Variant) []AssignmentRow {
	rows := make([]AssignmentRow, 0, len(confirmed)+len(unconfirmed))
	rows = append(rows, variantRows(confirmed, "confirmed")...)
	rows = append(rows, variantRows(unconfirmed, "unconfirmed")...)
	return rows
}

func variantRows(variants map[string]campaign.Variant, status string) []AssignmentRow {
	rows := make([]AssignmentRow, 0, len(variants))
	for expID, v := range variants {
		row := AssignmentRow{
			ExperimentID: expID,
			VariantID:    v.ID,
			VariantType:  string(v.Type),
			Status:       status,
		}
		if v.PaywallID != nil {
			row.PaywallID = *v.PaywallID
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ExperimentID < rows[j].ExperimentID })
	return rows
}

// PrintAssignments outputs assignment rows in the specified format
func PrintAssignments(rows []AssignmentRow, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(map[string][]AssignmentRow{"assignments": rows})
	case FormatYAML:
		return printYAML(rows)
	case FormatTable:
		return printAssignmentTable(rows)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintOutcome outputs a resolved outcome in the specified format
func PrintOutcome(out *outcome.Outcome, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(out)
	case FormatYAML:
		return printYAML(out)
	case FormatTable:
		return printOutcomeTable(out)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintPaywallIDs outputs preloadable paywall identifiers
func PrintPaywallIDs(ids []string, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(map[string][]string{"paywallIds": ids})
	case FormatYAML:
		return printYAML(ids)
	case FormatTable:
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Paywall ID")
		for _, id := range ids {
			table.Append(id)
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(data interface{}) error {
	encoder := yaml.NewEncoder(os.Stdout)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func printAssignmentTable(rows []AssignmentRow) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Experiment", "Variant", "Type", "Paywall", "Status")

	for _, row := range rows {
		table.Append(row.ExperimentID, row.VariantID, row.VariantType, row.PaywallID, row.Status)
	}

	return table.Render()
}

func printOutcomeTable(out *outcome.Outcome) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Result", "Experiment", "Group", "Variant", "Type", "Paywall")

	expID, groupID, variantID, variantType, paywallID := "", "", "", "", ""
	if exp := out.Result.Experiment; exp != nil {
		expID = exp.ID
		groupID = exp.GroupID
		variantID = exp.Variant.ID
		variantType = string(exp.Variant.Type)
		if exp.Variant.PaywallID != nil {
			paywallID = *exp.Variant.PaywallID
		}
	}

	table.Append(string(out.Result.Kind), expID, groupID, variantID, variantType, paywallID)
	return table.Render()
}
