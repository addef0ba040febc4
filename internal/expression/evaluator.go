// Package expression evaluates rule expressions against event
// parameters. Expressions are JSON Logic (jsonlogic.com) documents,
// evaluated with JavaScript-like truthiness on the result.
package expression

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/diegoholiveira/jsonlogic/v3"
)

// ErrInvalidExpression is returned when an expression is not valid JSON Logic.
var ErrInvalidExpression = errors.New("invalid expression: not valid JSON Logic")

// ErrEmptyExpression is returned when an expression is empty or whitespace.
var ErrEmptyExpression = errors.New("invalid expression: empty or whitespace")

// Evaluator decides whether a rule expression matches a set of event
// parameters. Implementations may be remote or asynchronous, hence the
// context.
type Evaluator interface {
	Matches(ctx context.Context, expr string, params map[string]any) (bool, error)
}

// JSONLogic evaluates expressions locally using the JSON Logic library.
type JSONLogic struct{}

// Matches evaluates expr against the given event parameters.
// A nil parameter map is evaluated against an empty object, which is
// how preload policy probes a rule with a neutral context.
func (JSONLogic) Matches(_ context.Context, expr string, params map[string]any) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return false, ErrEmptyExpression
	}

	// Apply evaluates unrecognized operators without complaint, so an
	// admin-pushed typo would silently never match. Validate first.
	if !jsonlogic.IsValid(strings.NewReader(expr)) {
		return false, ErrInvalidExpression
	}

	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return false, err
	}

	var resultBuf bytes.Buffer
	if err := jsonlogic.Apply(strings.NewReader(expr), bytes.NewReader(data), &resultBuf); err != nil {
		return false, ErrInvalidExpression
	}

	var result any
	if err := json.Unmarshal(resultBuf.Bytes(), &result); err != nil {
		return false, err
	}

	return isTruthy(result), nil
}

// ValidateExpression checks that an expression is valid JSON Logic by
// applying it against an empty parameter set.
func ValidateExpression(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return ErrEmptyExpression
	}

	if !jsonlogic.IsValid(strings.NewReader(expr)) {
		return ErrInvalidExpression
	}

	var resultBuf bytes.Buffer
	if err := jsonlogic.Apply(strings.NewReader(expr), strings.NewReader("{}"), &resultBuf); err != nil {
		return ErrInvalidExpression
	}

	return nil
}

// isTruthy follows JavaScript-like truthiness rules: non-zero numbers,
// non-empty strings, non-empty arrays/objects and true are truthy.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
