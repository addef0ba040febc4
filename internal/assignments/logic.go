// Package assignments keeps the confirmed and unconfirmed experiment
// assignments consistent with the current campaign configuration and
// with assignments pushed down from the server.
//
// The reconciliation functions in this file are pure given a draw
// source. The Store in store.go owns the shared maps and serializes
// every read-modify-write against them.
package assignments

import (
	"context"
	"log"

	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/experiment"
	"github.com/TimurManjosov/gopaywall/internal/expression"
)

// Maps is the pair of assignment mappings, confirmed and unconfirmed,
// keyed by experiment id.
type Maps struct {
	Confirmed   map[string]campaign.Variant
	Unconfirmed map[string]campaign.Variant
}

// RulesPerCampaign partitions rules across all triggers by campaign
// (the experiment group id of the trigger's first rule), yielding one
// representative rule list per distinct campaign. A campaign referenced
// by several trigger names is only processed once downstream.
func RulesPerCampaign(triggers map[string]campaign.Trigger) [][]campaign.Rule {
	seenGroups := make(map[string]struct{})
	var groups [][]campaign.Rule

	for _, trigger := range triggers {
		if len(trigger.Rules) == 0 {
			continue
		}
		groupID := trigger.Rules[0].Experiment.GroupID
		if _, seen := seenGroups[groupID]; seen {
			continue
		}
		seenGroups[groupID] = struct{}{}
		groups = append(groups, trigger.Rules)
	}

	return groups
}

// ChooseAssignments reconciles the on-disk confirmed assignments with
// the current triggers.
//
// For each deduplicated rule group's experiment:
//   - a confirmed variant that still exists among the experiment's
//     variants is kept unchanged;
//   - a confirmed variant that is no longer offered is demoted: a fresh
//     variant is rolled into unconfirmed and the confirmed entry is
//     dropped (or dropped entirely if the experiment offers nothing);
//   - with no confirmed variant, a fresh variant is rolled into
//     unconfirmed.
//
// Confirmed entries for experiments no trigger references pass through
// untouched. This must be re-run whenever the campaign configuration
// changes so stale confirmed variants are demoted, not silently kept.
func ChooseAssignments(
	triggers map[string]campaign.Trigger,
	confirmed map[string]campaign.Variant,
	draws experiment.DrawFactory,
) Maps {
	out := Maps{
		Confirmed:   cloneVariants(confirmed),
		Unconfirmed: make(map[string]campaign.Variant),
	}

	for _, rules := range RulesPerCampaign(triggers) {
		for _, rule := range rules {
			exp := rule.Experiment
			available := make(map[string]struct{}, len(exp.Variants))
			for _, option := range exp.Variants {
				available[option.ID] = struct{}{}
			}

			if current, ok := out.Confirmed[exp.ID]; ok {
				if _, stillOffered := available[current.ID]; stillOffered {
					continue
				}
				// The confirmed variant was withdrawn: reroll, or drop
				// the experiment entirely when nothing is offered.
				variant, err := experiment.ChooseVariant(exp.Variants, draws(exp.ID))
				if err != nil {
					delete(out.Confirmed, exp.ID)
					continue
				}
				out.Unconfirmed[exp.ID] = variant
				delete(out.Confirmed, exp.ID)
				continue
			}

			variant, err := experiment.ChooseVariant(exp.Variants, draws(exp.ID))
			if err != nil {
				continue
			}
			out.Unconfirmed[exp.ID] = variant
		}
	}

	return out
}

// TransferFromServer applies assignments pushed down by the remote
// authority. Each resolvable assignment overwrites the confirmed entry
// for its experiment and removes any unconfirmed entry with the same
// id. Unresolvable assignments (unknown experiment or variant id) are
// ignored without error; entries the server does not mention pass
// through untouched.
func TransferFromServer(
	serverAssignments []campaign.Assignment,
	triggers map[string]campaign.Trigger,
	confirmed map[string]campaign.Variant,
	unconfirmed map[string]campaign.Variant,
) Maps {
	out := Maps{
		Confirmed:   cloneVariants(confirmed),
		Unconfirmed: cloneVariants(unconfirmed),
	}

	for _, assignment := range serverAssignments {
		option, ok := findVariantOption(triggers, assignment.ExperimentID, assignment.VariantID)
		if !ok {
			log.Printf("[assignments] ignoring server assignment for unknown experiment=%s variant=%s",
				assignment.ExperimentID, assignment.VariantID)
			continue
		}
		out.Confirmed[assignment.ExperimentID] = option.ToVariant()
		delete(out.Unconfirmed, assignment.ExperimentID)
	}

	return out
}

// ActiveTreatmentPaywallIDs resolves the effective variant for every
// experiment referenced by a trigger, with precedence confirmed then
// unconfirmed, and collects the paywall ids of treatment variants.
// Holdout variants never contribute: they represent users deliberately
// excluded from treatment.
func ActiveTreatmentPaywallIDs(
	triggers map[string]campaign.Trigger,
	confirmed map[string]campaign.Variant,
	unconfirmed map[string]campaign.Variant,
) map[string]struct{} {
	merged := mergeWithConfirmedPrecedence(confirmed, unconfirmed)

	identifiers := make(map[string]struct{})
	for _, rules := range RulesPerCampaign(triggers) {
		for _, rule := range rules {
			variant, ok := merged[rule.Experiment.ID]
			if !ok {
				continue
			}
			if variant.Type == campaign.VariantTypeTreatment && variant.PaywallID != nil {
				identifiers[*variant.PaywallID] = struct{}{}
			}
		}
	}

	return identifiers
}

// AllActiveTreatmentPaywallIDs applies the same resolution as
// ActiveTreatmentPaywallIDs but additionally consults each rule's
// preload behavior: never excludes the rule unconditionally, always
// includes it, and if_true asks the expression evaluator against a
// neutral context. Confirmed entries for experiments no trigger
// references (an archived campaign) are dropped before merging.
func AllActiveTreatmentPaywallIDs(
	ctx context.Context,
	triggers map[string]campaign.Trigger,
	confirmed map[string]campaign.Variant,
	unconfirmed map[string]campaign.Variant,
	eval expression.Evaluator,
) (map[string]struct{}, error) {
	allExperimentIDs := make(map[string]struct{})
	skipped := make(map[string]struct{})

	for _, rules := range RulesPerCampaign(triggers) {
		for _, rule := range rules {
			allExperimentIDs[rule.Experiment.ID] = struct{}{}

			switch rule.Preload {
			case campaign.PreloadNever:
				skipped[rule.Experiment.ID] = struct{}{}
			case campaign.PreloadIfTrue:
				if rule.Expression == nil {
					continue // no expression always matches
				}
				match, err := eval.Matches(ctx, *rule.Expression, nil)
				if err != nil {
					return nil, err
				}
				if !match {
					skipped[rule.Experiment.ID] = struct{}{}
				}
			default:
				continue
			}
		}
	}

	merged := make(map[string]campaign.Variant, len(confirmed)+len(unconfirmed))
	for id, variant := range unconfirmed {
		merged[id] = variant
	}
	for id, variant := range confirmed {
		// Drop confirmed assignments for experiments that are no longer
		// part of any trigger.
		if _, active := allExperimentIDs[id]; !active {
			continue
		}
		merged[id] = variant
	}
	for id := range skipped {
		delete(merged, id)
	}

	identifiers := make(map[string]struct{})
	for _, variant := range merged {
		if variant.Type == campaign.VariantTypeTreatment && variant.PaywallID != nil {
			identifiers[*variant.PaywallID] = struct{}{}
		}
	}

	return identifiers, nil
}

// findVariantOption locates the variant option for an experiment by
// scanning every rule of every trigger.
func findVariantOption(triggers map[string]campaign.Trigger, experimentID, variantID string) (campaign.VariantOption, bool) {
	for _, trigger := range triggers {
		for _, rule := range trigger.Rules {
			if rule.Experiment.ID != experimentID {
				continue
			}
			for _, option := range rule.Experiment.Variants {
				if option.ID == variantID {
					return option, true
				}
			}
		}
	}
	return campaign.VariantOption{}, false
}

// mergeWithConfirmedPrecedence overlays confirmed entries on top of
// unconfirmed ones: an experiment present in both resolves to its
// confirmed variant.
func mergeWithConfirmedPrecedence(confirmed, unconfirmed map[string]campaign.Variant) map[string]campaign.Variant {
	merged := make(map[string]campaign.Variant, len(confirmed)+len(unconfirmed))
	for id, variant := range unconfirmed {
		merged[id] = variant
	}
	for id, variant := range confirmed {
		merged[id] = variant
	}
	return merged
}

func cloneVariants(m map[string]campaign.Variant) map[string]campaign.Variant {
	out := make(map[string]campaign.Variant, len(m))
	for id, variant := range m {
		out[id] = variant
	}
	return out
}
