package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/lumora/pulse/internal/compiler"
	"github.com/lumora/pulse/internal/engine"
)

// LoadMode controls how errors are handled during definition loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the definitions loaded from a directory.
type LoadResult struct {
	Definitions engine.Definitions
	CUEValue    cue.Value // The raw CUE value for additional processing
	FileCount   int       // Number of CUE files found
}

// LoadError represents an error that occurred during definition loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDefinitions loads and compiles CUE definition files from a directory.
// Definitions live under three top-level structs: "rule", "segment", and
// "automation", each keyed by identifier.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadDefinitions(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	// Verify directory exists
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing definitions directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	// Find CUE files
	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	// Load CUE instances
	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}

	// Check for load errors
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	// Build value from instance
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	// Extract rules
	rulesVal := value.LookupPath(cue.ParsePath("rule"))
	if rulesVal.Exists() {
		iter, iterErr := rulesVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating rules: %v", iterErr)})
			if mode == LoadModeFailFast {
				return result, errs
			}
		} else {
			for iter.Next() {
				rule, compileErr := compiler.CompileRule(iter.Value())
				if compileErr != nil {
					errs = append(errs, convertCompileError(compileErr, "rule."+iter.Label()))
					if mode == LoadModeFailFast {
						return result, errs
					}
					continue
				}
				result.Definitions.Rules = append(result.Definitions.Rules, *rule)
			}
		}
	}

	// Extract segments
	segmentsVal := value.LookupPath(cue.ParsePath("segment"))
	if segmentsVal.Exists() {
		iter, iterErr := segmentsVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating segments: %v", iterErr)})
			if mode == LoadModeFailFast {
				return result, errs
			}
		} else {
			for iter.Next() {
				seg, compileErr := compiler.CompileSegment(iter.Value())
				if compileErr != nil {
					errs = append(errs, convertCompileError(compileErr, "segment."+iter.Label()))
					if mode == LoadModeFailFast {
						return result, errs
					}
					continue
				}
				result.Definitions.Segments = append(result.Definitions.Segments, *seg)
			}
		}
	}

	// Extract automations
	automationsVal := value.LookupPath(cue.ParsePath("automation"))
	if automationsVal.Exists() {
		iter, iterErr := automationsVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating automations: %v", iterErr)})
			if mode == LoadModeFailFast {
				return result, errs
			}
		} else {
			for iter.Next() {
				auto, compileErr := compiler.CompileAutomation(iter.Value())
				if compileErr != nil {
					errs = append(errs, convertCompileError(compileErr, "automation."+iter.Label()))
					if mode == LoadModeFailFast {
						return result, errs
					}
					continue
				}
				result.Definitions.Automations = append(result.Definitions.Automations, *auto)
			}
		}
	}

	// Check if we found anything
	d := result.Definitions
	if len(d.Rules) == 0 && len(d.Segments) == 0 && len(d.Automations) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no rules, segments, or automations found in definitions"})
	}

	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error

	// Condition validation errors
	ErrCodeConditionField    = "E101" // Missing condition field path
	ErrCodeConditionOperator = "E102" // Unknown or misused operator
	ErrCodeConditionValue    = "E103" // Unsupported condition value

	// Rule validation errors
	ErrCodeRuleActions = "E111" // Missing or invalid actions

	// Automation validation errors
	ErrCodeAutomationTrigger = "E121" // Missing or invalid trigger
	ErrCodeAutomationSteps   = "E122" // Missing or invalid steps
	ErrCodeAutomationStatus  = "E123" // Invalid lifecycle status
	ErrCodeAutomationDelay   = "E124" // Negative delay
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "conditions", "conditions.field":
		return ErrCodeConditionField
	case "conditions.operator":
		return ErrCodeConditionOperator
	case "value":
		return ErrCodeConditionValue
	case "actions", "actions.type":
		return ErrCodeRuleActions
	case "trigger", "trigger.kind":
		return ErrCodeAutomationTrigger
	case "steps", "steps.action":
		return ErrCodeAutomationSteps
	case "status":
		return ErrCodeAutomationStatus
	case "delayMinutes":
		return ErrCodeAutomationDelay
	default:
		return ErrCodeGeneric
	}
}
