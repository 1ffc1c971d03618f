// Package flatten converts nested JSON structures into single-level maps
// with path-concatenated keys.
package flatten

import "strconv"

// DefaultSeparator joins parent and child keys in flattened names.
const DefaultSeparator = "_"

// Flatten converts an arbitrarily nested JSON value (as decoded by
// encoding/json: map[string]interface{}, []interface{}, or scalar) into a
// single-level map. Nested object keys are joined to their parent key with
// sep; array elements use their numeric index in place of a key. A bare
// scalar at the top level yields an empty map.
//
// No collision detection is performed: a literal key containing sep can
// collide with a synthesized key of the same text, in which case the last
// value written wins.
func Flatten(v interface{}, sep string) map[string]interface{} {
	if sep == "" {
		sep = DefaultSeparator
	}
	out := make(map[string]interface{})
	walk(v, "", sep, out)
	return out
}

func walk(v interface{}, parentKey, sep string, out map[string]interface{}) {
	switch node := v.(type) {
	case map[string]interface{}:
		for key, value := range node {
			walk(value, joinKey(parentKey, key, sep), sep, out)
		}
	case []interface{}:
		for i, value := range node {
			walk(value, joinKey(parentKey, strconv.Itoa(i), sep), sep, out)
		}
	default:
		// Scalar reached through a container gets assigned under its
		// synthesized key. A top-level scalar has no key and is dropped.
		if parentKey != "" {
			out[parentKey] = node
		}
	}
}

func joinKey(parentKey, key, sep string) string {
	if parentKey == "" {
		return key
	}
	return parentKey + sep + key
}
