// Package campaign defines the immutable value types that describe a
// campaign configuration: triggers keyed by event name, the rules they
// carry, and the experiments those rules activate.
package campaign

// VariantType classifies a variant as either showing a paywall or
// deliberately showing nothing.
type VariantType string

const (
	// VariantTypeTreatment shows the variant's paywall.
	VariantTypeTreatment VariantType = "treatment"
	// VariantTypeHoldout is a control group that sees no paywall.
	VariantTypeHoldout VariantType = "holdout"
)

// PreloadBehavior is the per-rule directive governing proactive
// paywall content fetching.
type PreloadBehavior string

const (
	PreloadAlways PreloadBehavior = "always"
	PreloadNever  PreloadBehavior = "never"
	PreloadIfTrue PreloadBehavior = "if_true"
)

// PresentationCondition controls whether an active subscription
// suppresses a paywall.
type PresentationCondition string

const (
	// ConditionCheckUserSubscription skips presentation for subscribed users.
	ConditionCheckUserSubscription PresentationCondition = "check_user_subscription"
	// ConditionAlways presents regardless of subscription state.
	ConditionAlways PresentationCondition = "always"
)

// VariantOption is one weighted arm of an experiment as configured on
// the server. Weights are integer percentages and need not sum to 100
// across siblings.
type VariantOption struct {
	ID         string      `json:"id" yaml:"id"`
	Type       VariantType `json:"type" yaml:"type"`
	Percentage int         `json:"percentage" yaml:"percentage"`
	PaywallID  *string     `json:"paywallId,omitempty" yaml:"paywallId,omitempty"`
}

// ToVariant detaches the option from its sibling list, producing the
// persistable form of a chosen variant.
func (o VariantOption) ToVariant() Variant {
	return Variant{
		ID:        o.ID,
		Type:      o.Type,
		PaywallID: o.PaywallID,
	}
}

// RawExperiment is an experiment as fetched from configuration, before
// a concrete variant has been chosen. GroupID identifies the campaign:
// rules across triggers that share a GroupID are one logical unit.
type RawExperiment struct {
	ID       string          `json:"id" yaml:"id"`
	GroupID  string          `json:"groupId" yaml:"groupId"`
	Variants []VariantOption `json:"variants" yaml:"variants"`
}

// Variant is the resolved, persistable form of a VariantOption.
type Variant struct {
	ID        string      `json:"id" yaml:"id"`
	Type      VariantType `json:"type" yaml:"type"`
	PaywallID *string     `json:"paywallId,omitempty" yaml:"paywallId,omitempty"`
}

// Experiment is the outcome of resolving a RawExperiment to one
// concrete chosen variant.
type Experiment struct {
	ID      string  `json:"id"`
	GroupID string  `json:"groupId"`
	Variant Variant `json:"variant"`
}

// Assignment is the wire/disk form of a decision: which variant a user
// holds for an experiment.
type Assignment struct {
	ExperimentID string `json:"experimentId"`
	VariantID    string `json:"variantId"`
}

// ConfirmableAssignment is a locally decided assignment that has not
// yet been acknowledged by the remote authority.
type ConfirmableAssignment struct {
	ExperimentID string  `json:"experimentId"`
	Variant      Variant `json:"variant"`
}

// Rule is a conditional expression plus the experiment it activates.
// A rule with no expression always matches.
type Rule struct {
	Experiment RawExperiment   `json:"experiment" yaml:"experiment"`
	Expression *string         `json:"expression,omitempty" yaml:"expression,omitempty"`
	Preload    PreloadBehavior `json:"preload" yaml:"preload"`
}

// Trigger binds an event name to an ordered list of rules. At most one
// trigger per event name exists in a configuration snapshot.
type Trigger struct {
	EventName string `json:"eventName" yaml:"eventName"`
	Rules     []Rule `json:"rules" yaml:"rules"`
}

// Product is the product metadata attached to a paywall.
type Product struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Paywall describes one piece of presentable paywall content.
type Paywall struct {
	Identifier            string                `json:"identifier" yaml:"identifier"`
	Name                  string                `json:"name,omitempty" yaml:"name,omitempty"`
	URL                   string                `json:"url,omitempty" yaml:"url,omitempty"`
	CacheKey              string                `json:"cacheKey,omitempty" yaml:"cacheKey,omitempty"`
	Products              []Product             `json:"products,omitempty" yaml:"products,omitempty"`
	PresentationCondition PresentationCondition `json:"presentationCondition,omitempty" yaml:"presentationCondition,omitempty"`
}

// Config is one campaign configuration document as pushed by an
// operator or fetched from a dashboard.
type Config struct {
	Triggers []Trigger `json:"triggers" yaml:"triggers"`
	Paywalls []Paywall `json:"paywalls,omitempty" yaml:"paywalls,omitempty"`
}

// TriggersByEventName indexes the configuration's triggers by event
// name for exact-match lookup.
func (c Config) TriggersByEventName() map[string]Trigger {
	triggers := make(map[string]Trigger, len(c.Triggers))
	for _, trigger := range c.Triggers {
		triggers[trigger.EventName] = trigger
	}
	return triggers
}

// PaywallsByIdentifier indexes the configuration's paywalls.
func (c Config) PaywallsByIdentifier() map[string]Paywall {
	paywalls := make(map[string]Paywall, len(c.Paywalls))
	for _, paywall := range c.Paywalls {
		paywalls[paywall.Identifier] = paywall
	}
	return paywalls
}
