package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/lumora/pulse/internal/model"
)

// CompileAutomation parses a CUE value into an Automation.
//
// The CUE value should be the automation struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`automation: "welcome-series": { ... }`)
//	a, err := CompileAutomation(v.LookupPath(cue.ParsePath(`automation."welcome-series"`)))
func CompileAutomation(v cue.Value) (*model.Automation, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	a := &model.Automation{Status: model.AutomationActive}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		a.ID = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	statusVal := v.LookupPath(cue.ParsePath("status"))
	if statusVal.Exists() {
		status, err := statusVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		switch model.AutomationStatus(status) {
		case model.AutomationActive, model.AutomationPaused, model.AutomationDraft:
			a.Status = model.AutomationStatus(status)
		default:
			return nil, &CompileError{
				Field:   "status",
				Message: fmt.Sprintf("invalid status %q, must be \"active\", \"paused\", or \"draft\"", status),
				Pos:     statusVal.Pos(),
			}
		}
	}

	retriggerVal := v.LookupPath(cue.ParsePath("allowRetrigger"))
	if retriggerVal.Exists() {
		allow, err := retriggerVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		a.AllowRetrigger = allow
	}

	trigger, err := compileTrigger(v)
	if err != nil {
		return nil, err
	}
	a.Trigger = trigger

	steps, err := compileSteps(v)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, &CompileError{
			Field:   "steps",
			Message: "at least one step is required",
			Pos:     v.Pos(),
		}
	}
	a.Steps = steps

	return a, nil
}

// compileTrigger parses the required trigger clause.
func compileTrigger(v cue.Value) (model.AutomationTrigger, error) {
	var trigger model.AutomationTrigger

	triggerVal := v.LookupPath(cue.ParsePath("trigger"))
	if !triggerVal.Exists() {
		return trigger, &CompileError{
			Field:   "trigger",
			Message: "trigger is required",
			Pos:     v.Pos(),
		}
	}

	kindVal := triggerVal.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return trigger, &CompileError{
			Field:   "trigger.kind",
			Message: "trigger kind is required",
			Pos:     triggerVal.Pos(),
		}
	}
	kind, err := kindVal.String()
	if err != nil {
		return trigger, formatCUEError(err)
	}
	trigger.Kind = kind

	delay, err := compileDelay(triggerVal)
	if err != nil {
		return trigger, err
	}
	trigger.DelayMinutes = delay

	trigger.Conditions, err = compileConditions(triggerVal)
	if err != nil {
		return trigger, err
	}

	return trigger, nil
}

// compileSteps parses the ordered step list. A step's order defaults to
// its list position.
func compileSteps(v cue.Value) ([]model.AutomationStep, error) {
	stepsVal := v.LookupPath(cue.ParsePath("steps"))
	if !stepsVal.Exists() {
		return nil, nil
	}

	iter, err := stepsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var steps []model.AutomationStep
	for iter.Next() {
		step, err := compileStep(iter.Value(), len(steps))
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// compileStep parses a single {delayMinutes, action, conditions} struct.
func compileStep(v cue.Value, position int) (model.AutomationStep, error) {
	step := model.AutomationStep{Order: position}

	orderVal := v.LookupPath(cue.ParsePath("order"))
	if orderVal.Exists() {
		order, err := orderVal.Int64()
		if err != nil {
			return step, formatCUEError(err)
		}
		step.Order = int(order)
	}

	delay, err := compileDelay(v)
	if err != nil {
		return step, err
	}
	step.DelayMinutes = delay

	actionVal := v.LookupPath(cue.ParsePath("action"))
	if !actionVal.Exists() {
		return step, &CompileError{
			Field:   "steps.action",
			Message: "step action is required",
			Pos:     v.Pos(),
		}
	}
	step.Action, err = compileAction(actionVal)
	if err != nil {
		return step, err
	}

	step.Conditions, err = compileConditions(v)
	if err != nil {
		return step, err
	}

	return step, nil
}

// compileDelay parses an optional non-negative delayMinutes field.
func compileDelay(v cue.Value) (int, error) {
	delayVal := v.LookupPath(cue.ParsePath("delayMinutes"))
	if !delayVal.Exists() {
		return 0, nil
	}
	delay, err := delayVal.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	if delay < 0 {
		return 0, &CompileError{
			Field:   "delayMinutes",
			Message: "delay must not be negative",
			Pos:     delayVal.Pos(),
		}
	}
	return int(delay), nil
}
