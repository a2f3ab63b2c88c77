package compiler

import (
	"strings"

	"cuelang.org/go/cue"

	"github.com/lumora/pulse/internal/model"
)

// CompileSegment parses a CUE value into a SegmentDefinition.
//
// The CUE value should be the segment struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`segment: "vip-customers": { ... }`)
//	def, err := CompileSegment(v.LookupPath(cue.ParsePath(`segment."vip-customers"`)))
func CompileSegment(v cue.Value) (*model.SegmentDefinition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &model.SegmentDefinition{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		def.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	conds, err := compileConditions(v)
	if err != nil {
		return nil, err
	}
	if len(conds) == 0 {
		return nil, &CompileError{
			Field:   "conditions",
			Message: "a segment needs at least one condition",
			Pos:     v.Pos(),
		}
	}
	def.Conditions = conds

	return def, nil
}
