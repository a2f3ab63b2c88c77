package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/lumora/pulse/internal/model"
)

// lengthSegment is the terminal segment name producing a container's size.
const lengthSegment = "length"

// segment is one component of a parsed field path: an object key,
// optionally followed by an array index.
type segment struct {
	key      string
	index    int
	hasIndex bool
}

// parsePath splits a dotted path into segments. Supports "a.b.c" and
// indexed access "a.b[2].c". Returns an error for empty paths, empty
// segments, unbalanced brackets, or non-numeric indices.
func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, fmt.Errorf("empty field path")
	}
	parts := strings.Split(path, ".")
	segments := make([]segment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("empty segment in path %q", path)
		}
		seg := segment{key: part}
		if open := strings.IndexByte(part, '['); open >= 0 {
			if !strings.HasSuffix(part, "]") {
				return nil, fmt.Errorf("unbalanced brackets in path segment %q", part)
			}
			idxStr := part[open+1 : len(part)-1]
			idx, err := strconv.Atoi(idxStr)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid array index %q in path %q", idxStr, path)
			}
			seg.key = part[:open]
			seg.index = idx
			seg.hasIndex = true
			if seg.key == "" {
				return nil, fmt.Errorf("missing key before index in path %q", path)
			}
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// Resolve walks a field path over a value tree. Total: any failure
// (bad syntax, missing key, index out of range, scalar traversal)
// resolves to the absent sentinel.
func Resolve(root model.Value, path string) model.Value {
	segments, err := parsePath(path)
	if err != nil {
		return model.Absent{}
	}
	current := root
	for i, seg := range segments {
		terminal := i == len(segments)-1

		// Terminal ".length" yields the container size. An object with an
		// explicit "length" key wins over the synthesized size.
		if terminal && seg.key == lengthSegment && !seg.hasIndex {
			if size, ok := containerSize(current); ok {
				if obj, isObj := current.(model.Object); isObj {
					if v, exists := obj[lengthSegment]; exists {
						return v
					}
				}
				return size
			}
		}

		obj, ok := current.(model.Object)
		if !ok {
			return model.Absent{}
		}
		next, exists := obj[seg.key]
		if !exists {
			return model.Absent{}
		}
		if seg.hasIndex {
			arr, ok := next.(model.Array)
			if !ok || seg.index >= len(arr) {
				return model.Absent{}
			}
			next = arr[seg.index]
		}
		current = next
	}
	return current
}

// containerSize returns the size of an array, object, or string value.
// String length counts runes, not bytes.
func containerSize(v model.Value) (model.Number, bool) {
	switch val := v.(type) {
	case model.Array:
		return model.Number(len(val)), true
	case model.Object:
		return model.Number(len(val)), true
	case model.String:
		return model.Number(utf8.RuneCountInString(string(val))), true
	default:
		return 0, false
	}
}
