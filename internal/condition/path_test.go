package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora/pulse/internal/model"
)

func testSnapshot() model.Object {
	return model.Object{
		"preferences": model.Object{
			"hairType": model.String("curly"),
			"notify":   model.Bool(true),
		},
		"behavior": model.Object{
			"bookings": model.Array{
				model.Object{"kind": model.String("booking")},
				model.Object{"kind": model.String("booking")},
				model.Object{"kind": model.String("booking")},
			},
			"purchases": model.Array{},
		},
		"lifetimeValue": model.Number(1200),
	}
}

func TestResolve_NestedObject(t *testing.T) {
	got := Resolve(testSnapshot(), "preferences.hairType")
	assert.Equal(t, model.String("curly"), got)
}

func TestResolve_MissingIntermediateIsAbsent(t *testing.T) {
	got := Resolve(testSnapshot(), "preferences.missing.deeper")
	assert.True(t, model.IsAbsent(got), "missing intermediate node should resolve absent")
}

func TestResolve_MissingLeafIsAbsent(t *testing.T) {
	got := Resolve(testSnapshot(), "preferences.skinType")
	assert.True(t, model.IsAbsent(got))
}

func TestResolve_ArrayIndex(t *testing.T) {
	got := Resolve(testSnapshot(), "behavior.bookings[1].kind")
	assert.Equal(t, model.String("booking"), got)
}

func TestResolve_ArrayIndexOutOfRange(t *testing.T) {
	got := Resolve(testSnapshot(), "behavior.bookings[9].kind")
	assert.True(t, model.IsAbsent(got))
}

func TestResolve_LengthOfArray(t *testing.T) {
	got := Resolve(testSnapshot(), "behavior.bookings.length")
	assert.Equal(t, model.Number(3), got)

	got = Resolve(testSnapshot(), "behavior.purchases.length")
	assert.Equal(t, model.Number(0), got)
}

func TestResolve_LengthOfString(t *testing.T) {
	got := Resolve(testSnapshot(), "preferences.hairType.length")
	assert.Equal(t, model.Number(5), got)
}

func TestResolve_LengthOfStringCountsRunes(t *testing.T) {
	snap := model.Object{"name": model.String("Amélie")}
	got := Resolve(snap, "name.length")
	assert.Equal(t, model.Number(6), got)
}

func TestResolve_ExplicitLengthKeyWins(t *testing.T) {
	snap := model.Object{
		"meta": model.Object{"length": model.String("custom")},
	}
	got := Resolve(snap, "meta.length")
	assert.Equal(t, model.String("custom"), got)
}

func TestResolve_TraversalThroughScalarIsAbsent(t *testing.T) {
	got := Resolve(testSnapshot(), "lifetimeValue.nested")
	assert.True(t, model.IsAbsent(got))
}

func TestParsePath_Errors(t *testing.T) {
	cases := []string{"", "a..b", ".a", "a.", "a[x]", "a[", "a[-1]", "[0]"}
	for _, path := range cases {
		_, err := parsePath(path)
		assert.Error(t, err, "path %q should fail to parse", path)
	}
}

func TestParsePath_IndexForm(t *testing.T) {
	segs, err := parsePath("behavior.bookings[2].kind")
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, "bookings", segs[1].key)
	assert.True(t, segs[1].hasIndex)
	assert.Equal(t, 2, segs[1].index)
}
