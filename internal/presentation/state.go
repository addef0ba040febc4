package presentation

import (
	"github.com/TimurManjosov/gopaywall/internal/campaign"
)

// SkipReason explains why a presentation request terminated without a
// paywall. Every reason is an expected outcome of the decision logic,
// not an error.
type SkipReason string

const (
	// SkipHoldout: the user is in the experiment's control group.
	SkipHoldout SkipReason = "holdout"
	// SkipNoRuleMatch: the trigger exists but no rule matched.
	SkipNoRuleMatch SkipReason = "no_rule_match"
	// SkipEventNotFound: no trigger is configured for the event.
	SkipEventNotFound SkipReason = "event_not_found"
	// SkipUserIsSubscribed: the user's subscription is active and the
	// paywall's presentation condition checks it.
	SkipUserIsSubscribed SkipReason = "user_is_subscribed"
)

// DismissResult describes how a presented paywall was closed.
type DismissResult string

const (
	DismissPurchased DismissResult = "purchased"
	DismissRestored  DismissResult = "restored"
	DismissDeclined  DismissResult = "declined"
)

// PaywallState is the closed set of terminal states a presentation
// request can reach. A request is implicitly pending until one of these
// is emitted; Dismissed is reachable only after Presented, as a later
// transition driven by the renderer reporting completion.
//
// The sum is sealed: only the types in this file implement it, and
// consumers must switch over all of them.
type PaywallState interface {
	paywallState()
}

// Presented carries the hydrated paywall handed to the renderer.
type Presented struct {
	Paywall    campaign.Paywall     `json:"paywall"`
	Experiment *campaign.Experiment `json:"experiment,omitempty"`
}

// Skipped means the decision logic chose not to present. Experiment is
// set when a rule matched (holdout and subscribed skips).
type Skipped struct {
	Reason     SkipReason           `json:"reason"`
	Experiment *campaign.Experiment `json:"experiment,omitempty"`
}

// Dismissed means a previously presented paywall left the screen.
type Dismissed struct {
	Result DismissResult `json:"result"`
}

// PresentationError means acquiring the paywall content failed.
type PresentationError struct {
	Err error `json:"-"`
}

func (Presented) paywallState()         {}
func (Skipped) paywallState()           {}
func (Dismissed) paywallState()         {}
func (PresentationError) paywallState() {}

func (e PresentationError) Error() string {
	return "paywall presentation failed: " + e.Err.Error()
}
