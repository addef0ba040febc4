// Package testutil provides shared builders and stubs for tests.
package testutil

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/experiment"
)

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// Option builds a weighted variant option. An empty paywallID means a
// holdout; anything else is a treatment pointing at that paywall.
func Option(id string, percentage int, paywallID string) campaign.VariantOption {
	opt := campaign.VariantOption{
		ID:         id,
		Type:       campaign.VariantTypeTreatment,
		Percentage: percentage,
	}
	if paywallID == "" {
		opt.Type = campaign.VariantTypeHoldout
	} else {
		opt.PaywallID = StringPtr(paywallID)
	}
	return opt
}

// Rule builds a rule for an experiment with the given options. A nil
// expression always matches.
func Rule(experimentID, groupID string, expression *string, options ...campaign.VariantOption) campaign.Rule {
	return campaign.Rule{
		Experiment: campaign.RawExperiment{
			ID:       experimentID,
			GroupID:  groupID,
			Variants: options,
		},
		Expression: expression,
		Preload:    campaign.PreloadAlways,
	}
}

// Trigger builds a trigger for an event.
func Trigger(eventName string, rules ...campaign.Rule) campaign.Trigger {
	return campaign.Trigger{EventName: eventName, Rules: rules}
}

// Triggers indexes triggers by event name, the shape decision logic
// consumes.
func Triggers(triggers ...campaign.Trigger) map[string]campaign.Trigger {
	m := make(map[string]campaign.Trigger, len(triggers))
	for _, trigger := range triggers {
		m[trigger.EventName] = trigger
	}
	return m
}

// FixedDraws returns a draw factory whose draws always produce the
// given value, letting tests force a specific variant band.
func FixedDraws(value int) experiment.DrawFactory {
	return func(string) experiment.Draw {
		return func(n int) int {
			if value >= n {
				return n - 1
			}
			return value
		}
	}
}

// DrawsByExperiment returns a draw factory producing a fixed value per
// experiment id, defaulting to zero.
func DrawsByExperiment(values map[string]int) experiment.DrawFactory {
	return func(experimentID string) experiment.Draw {
		value := values[experimentID]
		return func(n int) int {
			if value >= n {
				return n - 1
			}
			return value
		}
	}
}

// EvalFunc adapts a function to the expression.Evaluator interface.
type EvalFunc func(ctx context.Context, expr string, params map[string]any) (bool, error)

func (f EvalFunc) Matches(ctx context.Context, expr string, params map[string]any) (bool, error) {
	return f(ctx, expr, params)
}

// MatchAll is an evaluator for which every expression matches.
func MatchAll() EvalFunc {
	return func(context.Context, string, map[string]any) (bool, error) { return true, nil }
}

// MatchNone is an evaluator for which no expression matches.
func MatchNone() EvalFunc {
	return func(context.Context, string, map[string]any) (bool, error) { return false, nil }
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
