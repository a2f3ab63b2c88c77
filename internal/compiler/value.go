package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/lumora/pulse/internal/model"
)

// compileValue converts a concrete CUE value into the engine's tagged
// value type. Ints and floats both become Number.
func compileValue(v cue.Value) (model.Value, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	switch v.Kind() {
	case cue.NullKind:
		return model.Null{}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return model.String(s), nil
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return model.Number(f), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return model.Bool(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := model.Array{}
		for iter.Next() {
			elem, err := compileValue(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		return compileObject(v)
	default:
		return nil, &CompileError{
			Field:   "value",
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

// compileObject converts a CUE struct into an Object.
func compileObject(v cue.Value) (model.Object, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	obj := model.Object{}
	for iter.Next() {
		val, err := compileValue(iter.Value())
		if err != nil {
			return nil, err
		}
		obj[iter.Label()] = val
	}
	return obj, nil
}
