package condition

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lumora/pulse/internal/model"
)

// Evaluate applies a single condition to a profile snapshot.
//
// Total: never panics, never errors. An unresolvable path produces the
// operator-specific miss default:
//
//	equals, contains, greater_than, less_than, in, in_last_days  -> false
//	not_equals, not_in                                           -> true
//	exists -> false, not_exists -> true
//
// A malformed condition (unknown operator, non-list operand for in or
// not_in) is a non-match regardless of operator.
//
// now is supplied by the caller so the evaluator stays pure; only
// in_last_days reads it.
func Evaluate(snapshot model.Object, cond model.RuleCondition, now time.Time) bool {
	resolved := Resolve(snapshot, cond.Field)

	switch cond.Operator {
	case model.OpExists:
		return !model.IsAbsent(resolved)
	case model.OpNotExists:
		return model.IsAbsent(resolved)
	case model.OpEquals:
		return model.Equal(resolved, cond.Value)
	case model.OpNotEquals:
		if model.IsAbsent(resolved) {
			return true
		}
		return !model.Equal(resolved, cond.Value)
	case model.OpContains:
		return evalContains(resolved, cond.Value)
	case model.OpGreaterThan:
		a, aok := asNumber(resolved)
		b, bok := asNumber(cond.Value)
		return aok && bok && a > b
	case model.OpLessThan:
		a, aok := asNumber(resolved)
		b, bok := asNumber(cond.Value)
		return aok && bok && a < b
	case model.OpIn:
		list, ok := cond.Value.(model.Array)
		return ok && member(list, resolved)
	case model.OpNotIn:
		list, ok := cond.Value.(model.Array)
		if !ok {
			// Malformed operand: non-match
			return false
		}
		return !member(list, resolved)
	case model.OpInLastDays:
		return evalInLastDays(resolved, cond.Value, now)
	default:
		// Unknown operator: non-match, never fatal
		return false
	}
}

// MatchAll reports whether every condition in the list evaluates true.
// An empty list matches (AND over nothing).
func MatchAll(snapshot model.Object, conds []model.RuleCondition, now time.Time) bool {
	for _, cond := range conds {
		if !Evaluate(snapshot, cond, now) {
			return false
		}
	}
	return true
}

// Validate performs static checks on a condition: operator membership,
// path syntax, and operand shape. Called by the definition compiler and
// the admin surface; the evaluator itself never needs it.
func Validate(cond model.RuleCondition) error {
	if !cond.Operator.Valid() {
		return fmt.Errorf("unknown operator %q", cond.Operator)
	}
	if _, err := parsePath(cond.Field); err != nil {
		return err
	}
	switch cond.Operator {
	case model.OpIn, model.OpNotIn:
		if _, ok := cond.Value.(model.Array); !ok {
			return fmt.Errorf("operator %q requires a list value", cond.Operator)
		}
	case model.OpInLastDays:
		if _, ok := asNumber(cond.Value); !ok {
			return fmt.Errorf("operator %q requires a numeric day count", cond.Operator)
		}
	case model.OpExists, model.OpNotExists:
		// No operand
	default:
		if cond.Value == nil {
			return fmt.Errorf("operator %q requires a value", cond.Operator)
		}
	}
	return nil
}

// evalContains tests list membership when the resolved value is a list,
// substring containment on string coercion otherwise.
func evalContains(resolved, operand model.Value) bool {
	if model.IsAbsent(resolved) {
		return false
	}
	if list, ok := resolved.(model.Array); ok {
		return member(list, operand)
	}
	haystack, hok := asString(resolved)
	needle, nok := asString(operand)
	if !hok || !nok {
		return false
	}
	return strings.Contains(haystack, needle)
}

// evalInLastDays reports whether the resolved timestamp falls within the
// last N days. The resolved value may be an RFC 3339 string or a numeric
// Unix-seconds value; anything else resolves false.
func evalInLastDays(resolved, operand model.Value, now time.Time) bool {
	days, ok := asNumber(operand)
	if !ok || days < 0 {
		return false
	}
	t, ok := asTime(resolved)
	if !ok {
		return false
	}
	return now.Sub(t) <= time.Duration(days*24)*time.Hour
}

// member tests membership of v in list using strict equality.
func member(list model.Array, v model.Value) bool {
	for _, elem := range list {
		if model.Equal(elem, v) {
			return true
		}
	}
	return false
}

// asNumber coerces a value to float64. Numbers pass through; numeric
// strings parse. Everything else fails the coercion.
func asNumber(v model.Value) (float64, bool) {
	switch val := v.(type) {
	case model.Number:
		return float64(val), true
	case model.String:
		f, err := strconv.ParseFloat(string(val), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// asString coerces a scalar to its string form.
func asString(v model.Value) (string, bool) {
	switch val := v.(type) {
	case model.String:
		return string(val), true
	case model.Number:
		return strconv.FormatFloat(float64(val), 'f', -1, 64), true
	case model.Bool:
		return strconv.FormatBool(bool(val)), true
	default:
		return "", false
	}
}

// asTime parses a timestamp value: RFC 3339 string or Unix seconds.
func asTime(v model.Value) (time.Time, bool) {
	switch val := v.(type) {
	case model.String:
		t, err := time.Parse(time.RFC3339, string(val))
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case model.Number:
		return time.Unix(int64(val), 0), true
	default:
		return time.Time{}, false
	}
}
