package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Value is a sealed interface representing profile data for evaluation.
// Only Absent, Null, String, Number, Bool, Array, and Object implement it.
//
// Absent is the "path did not resolve" sentinel. It is never stored in a
// profile and never serialized; it only appears as a path-resolution result.
type Value interface {
	value() // Sealed - only these types implement it
}

// Absent is the sentinel for an unresolvable path. Distinct from Null:
// a profile field explicitly set to null resolves to Null, not Absent.
type Absent struct{}

func (Absent) value() {}

// MarshalJSON implements json.Marshaler. Absent has no serialized form;
// it must never reach an encoder.
func (Absent) MarshalJSON() ([]byte, error) {
	return nil, fmt.Errorf("absent value cannot be serialized")
}

// Null represents an explicit JSON null stored in profile data.
type Null struct{}

func (Null) value() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String represents a string value.
type String string

func (String) value() {}

// Number represents a numeric value. Stored as float64 because behavioral
// event properties arrive as free-form JSON.
type Number float64

func (Number) value() {}

// Bool represents a boolean value.
type Bool bool

func (Bool) value() {}

// Array represents an ordered list of values.
type Array []Value

func (Array) value() {}

// Object represents a map of string keys to values.
type Object map[string]Value

func (Object) value() {}

// IsAbsent reports whether v is the absent sentinel.
// A nil Value is treated as absent for safety.
func IsAbsent(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Absent)
	return ok
}

// Equal reports strict value equality between two values.
//
// Scalars compare by value, arrays element-wise in order, objects key-wise.
// Absent equals nothing, including itself: equality over a non-resolved
// path is meaningless and the evaluator handles it before comparing.
func Equal(a, b Value) bool {
	if IsAbsent(a) || IsAbsent(b) {
		return false
	}
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Number:
		bv, ok := b.(Number)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, ok := bv[k]
			if !ok || !Equal(v, bval) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// FromAny converts a decoded-JSON Go value into a Value tree.
// Accepts the types produced by encoding/json plus the native Go numerics
// that show up in hand-constructed test fixtures.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case float64:
		return Number(val), nil
	case int:
		return Number(float64(val)), nil
	case int64:
		return Number(float64(val)), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %q out of range: %w", val, err)
		}
		return Number(f), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// ObjectFromAny converts a free-form properties bag into an Object.
// A nil map converts to an empty Object, never to nil.
func ObjectFromAny(m map[string]any) (Object, error) {
	obj := make(Object, len(m))
	for k, v := range m {
		conv, err := FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		obj[k] = conv
	}
	return obj, nil
}

// ToAny converts a Value tree back into plain Go values for JSON encoding.
// Absent converts to nil; callers should not serialize absent values.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Absent, Null:
		return nil
	case String:
		return string(val)
	case Number:
		return float64(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler for Object.
func (o Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToAny(o))
}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (o *Object) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	obj, err := ObjectFromAny(raw)
	if err != nil {
		return err
	}
	*o = obj
	return nil
}

// MarshalJSON implements json.Marshaler for Array.
func (a Array) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToAny(a))
}

// UnmarshalJSON implements json.Unmarshaler for Array.
func (a *Array) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	conv, err := FromAny(raw)
	if err != nil {
		return err
	}
	arr, ok := conv.(Array)
	if !ok {
		return fmt.Errorf("expected array, got %T", conv)
	}
	*a = arr
	return nil
}

// UnmarshalValue decodes arbitrary JSON into a Value.
// Used for condition literals in stored definitions.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}

// MarshalValue encodes a Value as JSON bytes.
func MarshalValue(v Value) ([]byte, error) {
	if IsAbsent(v) {
		return nil, fmt.Errorf("cannot marshal absent value")
	}
	if n, ok := v.(Number); ok {
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return nil, fmt.Errorf("cannot marshal non-finite number")
		}
	}
	return json.Marshal(ToAny(v))
}
