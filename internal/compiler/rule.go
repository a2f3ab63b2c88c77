// Package compiler turns CUE definition files into the engine's rule,
// segment, and automation types. It uses the CUE SDK's Go API directly
// (not a CLI subprocess); errors carry source positions.
package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/lumora/pulse/internal/model"
)

// CompileRule parses a CUE value into a PersonalizationRule.
//
// The CUE value should be the rule struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`rule: "summer-sale": { ... }`)
//	rule, err := CompileRule(v.LookupPath(cue.ParsePath(`rule."summer-sale"`)))
func CompileRule(v cue.Value) (*model.PersonalizationRule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &model.PersonalizationRule{
		// Rules are live unless the definition says otherwise
		Enabled: true,
	}

	// Parse rule id from the struct label
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		rule.ID = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if kindVal.Exists() {
		kind, err := kindVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		rule.Kind = kind
	}

	priorityVal := v.LookupPath(cue.ParsePath("priority"))
	if priorityVal.Exists() {
		priority, err := priorityVal.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		rule.Priority = int(priority)
	}

	enabledVal := v.LookupPath(cue.ParsePath("enabled"))
	if enabledVal.Exists() {
		enabled, err := enabledVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		rule.Enabled = enabled
	}

	var err error
	rule.Conditions, err = compileConditions(v)
	if err != nil {
		return nil, err
	}

	rule.Actions, err = compileActions(v)
	if err != nil {
		return nil, err
	}
	if len(rule.Actions) == 0 {
		return nil, &CompileError{
			Field:   "actions",
			Message: "at least one action is required",
			Pos:     v.Pos(),
		}
	}

	return rule, nil
}

// compileActions parses the "actions" list of a rule or the single
// "action" of an automation step.
func compileActions(v cue.Value) ([]model.RuleAction, error) {
	actionsVal := v.LookupPath(cue.ParsePath("actions"))
	if !actionsVal.Exists() {
		return nil, nil
	}

	iter, err := actionsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var actions []model.RuleAction
	for iter.Next() {
		action, err := compileAction(iter.Value())
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// compileAction parses a single {type, params} struct.
func compileAction(v cue.Value) (model.RuleAction, error) {
	var action model.RuleAction

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return action, &CompileError{
			Field:   "actions.type",
			Message: "action type is required",
			Pos:     v.Pos(),
		}
	}
	typ, err := typeVal.String()
	if err != nil {
		return action, formatCUEError(err)
	}
	action.Type = model.ActionType(typ)
	if !action.Type.Valid() {
		return action, &CompileError{
			Field:   "actions.type",
			Message: fmt.Sprintf("unknown action type %q", typ),
			Pos:     typeVal.Pos(),
		}
	}

	action.Params = model.Object{}
	paramsVal := v.LookupPath(cue.ParsePath("params"))
	if paramsVal.Exists() {
		params, err := compileObject(paramsVal)
		if err != nil {
			return action, err
		}
		action.Params = params
	}

	return action, nil
}
