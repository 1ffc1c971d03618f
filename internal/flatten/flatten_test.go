package flatten

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestFlatten(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		sep   string
		want  map[string]interface{}
	}{
		{
			name: "already flat map is returned unchanged",
			input: map[string]interface{}{
				"temperature": 21.5,
				"humidity":    60.0,
				"cloudCover":  nil,
				"sunny":       true,
			},
			sep: "_",
			want: map[string]interface{}{
				"temperature": 21.5,
				"humidity":    60.0,
				"cloudCover":  nil,
				"sunny":       true,
			},
		},
		{
			name: "nested object and array",
			input: map[string]interface{}{
				"a": map[string]interface{}{
					"b": 1,
					"c": []interface{}{2, 3},
				},
			},
			sep: "_",
			want: map[string]interface{}{
				"a_b":   1,
				"a_c_0": 2,
				"a_c_1": 3,
			},
		},
		{
			name: "deeply nested objects",
			input: map[string]interface{}{
				"wind": map[string]interface{}{
					"gust": map[string]interface{}{
						"speed": 12.3,
					},
				},
			},
			sep: "_",
			want: map[string]interface{}{
				"wind_gust_speed": 12.3,
			},
		},
		{
			name:  "top-level array",
			input: []interface{}{"x", "y"},
			sep:   "_",
			want: map[string]interface{}{
				"0": "x",
				"1": "y",
			},
		},
		{
			name:  "top-level scalar yields empty map",
			input: 42,
			sep:   "_",
			want:  map[string]interface{}{},
		},
		{
			name: "custom separator",
			input: map[string]interface{}{
				"a": map[string]interface{}{"b": 1},
			},
			sep: ".",
			want: map[string]interface{}{
				"a.b": 1,
			},
		},
		{
			name: "empty separator falls back to default",
			input: map[string]interface{}{
				"a": map[string]interface{}{"b": 1},
			},
			sep: "",
			want: map[string]interface{}{
				"a_b": 1,
			},
		},
		{
			name: "literal key colliding with synthesized key collapses silently",
			input: map[string]interface{}{
				"a_b": 1,
				"a":   map[string]interface{}{"b": 1},
			},
			sep: "_",
			want: map[string]interface{}{
				"a_b": 1,
			},
		},
		{
			name:  "empty object",
			input: map[string]interface{}{},
			sep:   "_",
			want:  map[string]interface{}{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Flatten(tt.input, tt.sep)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Flatten() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestFlatten_FromDecodedJSON exercises the flattener against the untyped
// shapes encoding/json actually produces.
func TestFlatten_FromDecodedJSON(t *testing.T) {
	raw := `{
		"temperature": 21.5,
		"precipitationProbability": 0,
		"weatherCode": 1000,
		"wind": {"speed": 3.2, "direction": 185.0},
		"alerts": ["frost", "fog"]
	}`

	var values interface{}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		t.Fatalf("failed to decode fixture: %v", err)
	}

	got := Flatten(values, "_")

	want := map[string]interface{}{
		"temperature":              21.5,
		"precipitationProbability": 0.0,
		"weatherCode":              1000.0,
		"wind_speed":               3.2,
		"wind_direction":           185.0,
		"alerts_0":                 "frost",
		"alerts_1":                 "fog",
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Flatten() = %v, want %v", got, want)
	}
}
