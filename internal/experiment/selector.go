// Package experiment provides weighted variant selection for
// experiments. Selection is deterministic given a draw function, which
// keeps the algorithm independently testable with fixed inputs.
package experiment

import (
	"errors"
	"math/rand/v2"

	"github.com/TimurManjosov/gopaywall/internal/campaign"
)

// ErrNoVariantsFound is returned when an experiment offers no variants.
// This is a configuration defect and must propagate to the caller.
var ErrNoVariantsFound = errors.New("no variants found for experiment")

// ErrInvalidState is returned when the cumulative-weight walk fails to
// land in any band. Weights consistent with the selection invariant
// make this unreachable.
var ErrInvalidState = errors.New("invalid variant selection state")

// Draw returns a pseudo-random integer in the half-open range [0, n).
type Draw func(n int) int

// DrawFactory yields the draw source used when rolling a variant for a
// given experiment. Injecting it keeps selection deterministic in tests
// and lets sticky bucketing key the draw off the experiment id.
type DrawFactory func(experimentID string) Draw

// DefaultDraw draws from the process-wide random source.
func DefaultDraw(n int) int {
	return rand.IntN(n)
}

// RandomDraws is the default DrawFactory: an ordinary pseudo-random
// draw for every experiment.
func RandomDraws(string) Draw {
	return DefaultDraw
}

// ChooseVariant selects exactly one variant from the given options.
//
// Algorithm:
//  1. A single option is returned regardless of its weight, even 0.
//  2. Otherwise the options partition [0, sum of weights) into
//     contiguous, order-preserving bands proportional to each weight;
//     the band containing draw(sum) wins.
//  3. If every weight is 0, a uniformly random option is chosen.
func ChooseVariant(options []campaign.VariantOption, draw Draw) (campaign.Variant, error) {
	if len(options) == 0 {
		return campaign.Variant{}, ErrNoVariantsFound
	}

	if len(options) == 1 {
		return options[0].ToVariant(), nil
	}

	sum := 0
	for _, option := range options {
		sum += option.Percentage
	}

	// All weights zero: degenerate range, fall back to a uniform pick.
	if sum == 0 {
		return options[draw(len(options))].ToVariant(), nil
	}

	threshold := draw(sum)
	cumulative := 0
	for _, option := range options {
		cumulative += option.Percentage
		if threshold < cumulative {
			return option.ToVariant(), nil
		}
	}

	return campaign.Variant{}, ErrInvalidState
}
