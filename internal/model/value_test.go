package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual_Scalars(t *testing.T) {
	assert.True(t, Equal(String("a"), String("a")))
	assert.False(t, Equal(String("a"), String("b")))
	assert.True(t, Equal(Number(3), Number(3)))
	assert.False(t, Equal(Number(3), String("3")), "no cross-type equality")
	assert.True(t, Equal(Bool(true), Bool(true)))
	assert.True(t, Equal(Null{}, Null{}))
}

func TestEqual_AbsentEqualsNothing(t *testing.T) {
	assert.False(t, Equal(Absent{}, Absent{}))
	assert.False(t, Equal(Absent{}, Null{}))
	assert.False(t, Equal(String("x"), Absent{}))
	assert.False(t, Equal(nil, String("x")))
}

func TestEqual_Composite(t *testing.T) {
	a := Object{"tags": Array{String("x"), Number(1)}}
	b := Object{"tags": Array{String("x"), Number(1)}}
	c := Object{"tags": Array{Number(1), String("x")}}
	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c), "array equality is order-sensitive")
}

func TestFromAny_RoundTrip(t *testing.T) {
	raw := map[string]any{
		"name":  "amelie",
		"count": float64(3),
		"flags": []any{true, nil},
		"nested": map[string]any{
			"deep": "value",
		},
	}
	v, err := FromAny(raw)
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, String("amelie"), obj["name"])
	assert.Equal(t, Number(3), obj["count"])
	assert.Equal(t, Array{Bool(true), Null{}}, obj["flags"])

	back := ToAny(v)
	assert.Equal(t, "amelie", back.(map[string]any)["name"])
}

func TestFromAny_RejectsUnsupportedTypes(t *testing.T) {
	_, err := FromAny(struct{}{})
	assert.Error(t, err)
}

func TestObject_JSONRoundTrip(t *testing.T) {
	src := Object{
		"kind":  String("purchase"),
		"value": Number(49.5),
		"items": Array{String("shampoo"), String("conditioner")},
	}
	data, err := json.Marshal(src)
	require.NoError(t, err)

	var dst Object
	require.NoError(t, json.Unmarshal(data, &dst))
	assert.True(t, Equal(src, dst))
}

func TestMarshalValue_RejectsAbsent(t *testing.T) {
	_, err := MarshalValue(Absent{})
	assert.Error(t, err)
}
