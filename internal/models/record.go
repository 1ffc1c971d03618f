package models

import "fmt"

// Record is a single flattened weather observation: field name to scalar
// value (string, number, boolean, or nil). Flattened fields come from the
// upstream API's nested values object; the pipeline injects latitude,
// longitude, time, load_datetime, and units. Key order is irrelevant.
type Record map[string]interface{}

// Injected field names added to every record alongside the flattened
// upstream values.
const (
	FieldLatitude     = "latitude"
	FieldLongitude    = "longitude"
	FieldTime         = "time"
	FieldLoadDatetime = "load_datetime"
	FieldUnits        = "units"
)

// DefaultUnits is used when the caller supplies no units value.
const DefaultUnits = "metric"

// ValidationError represents an invalid construction argument
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}
