package services

import "fmt"

// FetchError indicates the upstream weather API call failed (transport
// error or non-2xx status). The embedded message is already redacted.
type FetchError struct {
	Message string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch weather data: %s", e.Message)
}

// IsTransient returns true; the orchestration layer may retry the whole
// invocation.
func (e *FetchError) IsTransient() bool {
	return true
}

// ParseError indicates the API call succeeded but its response could not
// be processed. The embedded message is already redacted.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("error processing API response: %s", e.Message)
}

func (e *ParseError) IsTransient() bool {
	return false
}
