// Package outcome classifies a fired event against the campaign
// configuration and the current assignments.
package outcome

import (
	"context"
	"log"

	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/experiment"
	"github.com/TimurManjosov/gopaywall/internal/expression"
)

// Kind is the closed set of outcome classifications. Unknown events and
// unmatched rules are expected, non-exceptional outcomes, not errors.
type Kind string

const (
	// KindPaywall means a matching rule assigned a treatment variant.
	KindPaywall Kind = "paywall"
	// KindHoldout means a matching rule assigned a holdout variant.
	KindHoldout Kind = "holdout"
	// KindNoRuleMatch means the trigger exists but no rule matched.
	KindNoRuleMatch Kind = "no_rule_match"
	// KindEventNotFound means no trigger exists for the event name.
	KindEventNotFound Kind = "event_not_found"
)

// Result is the classified outcome. Experiment is set only for
// KindPaywall and KindHoldout.
type Result struct {
	Kind       Kind                 `json:"kind"`
	Experiment *campaign.Experiment `json:"experiment,omitempty"`
}

// Outcome pairs the classified result with the assignment still
// awaiting remote acknowledgment, when one exists.
type Outcome struct {
	Result      Result                          `json:"result"`
	Confirmable *campaign.ConfirmableAssignment `json:"confirmable,omitempty"`
}

// Resolve determines the outcome of an event against the given
// triggers and assignment mappings.
//
// The effective variant for the matched rule's experiment is resolved
// with precedence confirmed > unconfirmed > freshly chosen. Once a
// variant is confirmed it is sticky for the lifetime of that experiment
// definition; a confirmed entry always wins over an unconfirmed one and
// yields no confirmable assignment.
//
// The returned fresh flag reports that a brand new variant was rolled;
// the caller owns recording it as unconfirmed under the same exclusion
// domain that produced the input maps.
func Resolve(
	ctx context.Context,
	eventName string,
	eventParams map[string]any,
	triggers map[string]campaign.Trigger,
	confirmed map[string]campaign.Variant,
	unconfirmed map[string]campaign.Variant,
	eval expression.Evaluator,
	draws experiment.DrawFactory,
) (Outcome, bool, error) {
	trigger, ok := triggers[eventName]
	if !ok {
		return Outcome{Result: Result{Kind: KindEventNotFound}}, false, nil
	}

	rule, matched := findMatchingRule(ctx, trigger, eventParams, eval)
	if !matched {
		return Outcome{Result: Result{Kind: KindNoRuleMatch}}, false, nil
	}

	exp := rule.Experiment

	var variant campaign.Variant
	var confirmable *campaign.ConfirmableAssignment
	fresh := false

	if confirmedVariant, ok := confirmed[exp.ID]; ok {
		variant = confirmedVariant
	} else if unconfirmedVariant, ok := unconfirmed[exp.ID]; ok {
		variant = unconfirmedVariant
		confirmable = &campaign.ConfirmableAssignment{
			ExperimentID: exp.ID,
			Variant:      unconfirmedVariant,
		}
	} else {
		chosen, err := experiment.ChooseVariant(exp.Variants, draws(exp.ID))
		if err != nil {
			return Outcome{}, false, err
		}
		variant = chosen
		confirmable = &campaign.ConfirmableAssignment{
			ExperimentID: exp.ID,
			Variant:      chosen,
		}
		fresh = true
	}

	resolved := &campaign.Experiment{
		ID:      exp.ID,
		GroupID: exp.GroupID,
		Variant: variant,
	}

	kind := KindPaywall
	if variant.Type == campaign.VariantTypeHoldout {
		kind = KindHoldout
	}

	return Outcome{
		Result:      Result{Kind: kind, Experiment: resolved},
		Confirmable: confirmable,
	}, fresh, nil
}

// findMatchingRule scans the trigger's rules in order and returns the
// first whose expression matches the event parameters. A rule with no
// expression always matches. An expression that fails to evaluate is
// treated as no match, not as a hard failure.
func findMatchingRule(
	ctx context.Context,
	trigger campaign.Trigger,
	eventParams map[string]any,
	eval expression.Evaluator,
) (campaign.Rule, bool) {
	for _, rule := range trigger.Rules {
		if rule.Expression == nil {
			return rule, true
		}
		match, err := eval.Matches(ctx, *rule.Expression, eventParams)
		if err != nil {
			log.Printf("[outcome] expression evaluation failed for event=%s experiment=%s: %v",
				trigger.EventName, rule.Experiment.ID, err)
			continue
		}
		if match {
			return rule, true
		}
	}
	return campaign.Rule{}, false
}
