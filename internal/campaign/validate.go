package campaign

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Validate.
var (
	ErrInvalidTrigger    = errors.New("invalid trigger")
	ErrInvalidExperiment = errors.New("invalid experiment")
	ErrInvalidVariant    = errors.New("invalid variant")
	ErrInvalidPreload    = errors.New("invalid preload behavior")
	ErrInvalidPaywall    = errors.New("invalid paywall")
)

// validPreloads is the set of recognised preload behaviors. An empty
// value is also accepted and normalised to PreloadAlways at load time.
var validPreloads = map[PreloadBehavior]struct{}{
	PreloadAlways: {},
	PreloadNever:  {},
	PreloadIfTrue: {},
}

var validVariantTypes = map[VariantType]struct{}{
	VariantTypeTreatment: {},
	VariantTypeHoldout:   {},
}

// Validate performs strict validation of a campaign configuration
// document. It is a pure function: it never mutates c.
func Validate(c Config) error {
	seenEvents := make(map[string]struct{}, len(c.Triggers))
	for _, trigger := range c.Triggers {
		if trigger.EventName == "" {
			return fmt.Errorf("%w: event name must not be empty", ErrInvalidTrigger)
		}
		if _, dup := seenEvents[trigger.EventName]; dup {
			return fmt.Errorf("%w: duplicate trigger for event %q", ErrInvalidTrigger, trigger.EventName)
		}
		seenEvents[trigger.EventName] = struct{}{}

		for i, rule := range trigger.Rules {
			if err := validateRule(trigger.EventName, i, rule); err != nil {
				return err
			}
		}
	}

	seenPaywalls := make(map[string]struct{}, len(c.Paywalls))
	for _, paywall := range c.Paywalls {
		if paywall.Identifier == "" {
			return fmt.Errorf("%w: paywall identifier must not be empty", ErrInvalidPaywall)
		}
		if _, dup := seenPaywalls[paywall.Identifier]; dup {
			return fmt.Errorf("%w: duplicate paywall %q", ErrInvalidPaywall, paywall.Identifier)
		}
		seenPaywalls[paywall.Identifier] = struct{}{}
	}

	return nil
}

func validateRule(event string, i int, r Rule) error {
	if r.Experiment.ID == "" {
		return fmt.Errorf("%w: trigger %q rule[%d] experiment id must not be empty", ErrInvalidExperiment, event, i)
	}
	if r.Experiment.GroupID == "" {
		return fmt.Errorf("%w: trigger %q rule[%d] experiment group id must not be empty", ErrInvalidExperiment, event, i)
	}

	if r.Preload != "" {
		if _, ok := validPreloads[r.Preload]; !ok {
			return fmt.Errorf("%w: trigger %q rule[%d] preload %q is not supported", ErrInvalidPreload, event, i, r.Preload)
		}
	}

	seenVariants := make(map[string]struct{}, len(r.Experiment.Variants))
	for j, option := range r.Experiment.Variants {
		if option.ID == "" {
			return fmt.Errorf("%w: experiment %q variant[%d] id must not be empty", ErrInvalidVariant, r.Experiment.ID, j)
		}
		if _, dup := seenVariants[option.ID]; dup {
			return fmt.Errorf("%w: experiment %q duplicate variant id %q", ErrInvalidVariant, r.Experiment.ID, option.ID)
		}
		seenVariants[option.ID] = struct{}{}

		if _, ok := validVariantTypes[option.Type]; !ok {
			return fmt.Errorf("%w: experiment %q variant %q type %q is not supported", ErrInvalidVariant, r.Experiment.ID, option.ID, option.Type)
		}
		if option.Percentage < 0 || option.Percentage > 100 {
			return fmt.Errorf("%w: experiment %q variant %q percentage must be between 0 and 100", ErrInvalidVariant, r.Experiment.ID, option.ID)
		}
	}

	return nil
}

// Normalize fills in defaults that the wire format allows to be
// omitted: an absent preload behavior means always, an absent
// presentation condition means check the user's subscription.
func Normalize(c Config) Config {
	for ti := range c.Triggers {
		for ri := range c.Triggers[ti].Rules {
			if c.Triggers[ti].Rules[ri].Preload == "" {
				c.Triggers[ti].Rules[ri].Preload = PreloadAlways
			}
		}
	}
	for pi := range c.Paywalls {
		if c.Paywalls[pi].PresentationCondition == "" {
			c.Paywalls[pi].PresentationCondition = ConditionCheckUserSubscription
		}
	}
	return c
}
