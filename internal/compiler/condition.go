package compiler

import (
	"cuelang.org/go/cue"

	"github.com/lumora/pulse/internal/condition"
	"github.com/lumora/pulse/internal/model"
)

// compileConditions parses the optional "conditions" list of a rule,
// segment, trigger, or step. Each compiled condition is statically
// validated.
func compileConditions(v cue.Value) ([]model.RuleCondition, error) {
	condsVal := v.LookupPath(cue.ParsePath("conditions"))
	if !condsVal.Exists() {
		return nil, nil
	}

	iter, err := condsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var conds []model.RuleCondition
	for iter.Next() {
		cond, err := compileCondition(iter.Value())
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

// compileCondition parses a single {field, operator, value} struct.
func compileCondition(v cue.Value) (model.RuleCondition, error) {
	var cond model.RuleCondition

	fieldVal := v.LookupPath(cue.ParsePath("field"))
	if !fieldVal.Exists() {
		return cond, &CompileError{
			Field:   "conditions.field",
			Message: "field is required",
			Pos:     v.Pos(),
		}
	}
	field, err := fieldVal.String()
	if err != nil {
		return cond, formatCUEError(err)
	}
	cond.Field = field

	opVal := v.LookupPath(cue.ParsePath("operator"))
	if !opVal.Exists() {
		return cond, &CompileError{
			Field:   "conditions.operator",
			Message: "operator is required",
			Pos:     v.Pos(),
		}
	}
	op, err := opVal.String()
	if err != nil {
		return cond, formatCUEError(err)
	}
	cond.Operator = model.Operator(op)

	valueVal := v.LookupPath(cue.ParsePath("value"))
	if valueVal.Exists() {
		value, err := compileValue(valueVal)
		if err != nil {
			return cond, err
		}
		cond.Value = value
	}

	if err := condition.Validate(cond); err != nil {
		return cond, &CompileError{
			Field:   "conditions",
			Message: err.Error(),
			Pos:     v.Pos(),
		}
	}
	return cond, nil
}
