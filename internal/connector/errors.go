package connector

import "fmt"

// InvalidURIError indicates the connection URI could not be parsed into
// call parameters. Any parse failure not covered by a more specific error
// type is wrapped into one of these.
type InvalidURIError struct {
	Message string
	Cause   error
}

func (e *InvalidURIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid connection URI: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("invalid connection URI: %s", e.Message)
}

func (e *InvalidURIError) Unwrap() error {
	return e.Cause
}

// IsTransient returns false as URI errors are permanent
func (e *InvalidURIError) IsTransient() bool {
	return false
}

// MissingParameterError indicates a required inner-URL query parameter is
// absent or blank.
type MissingParameterError struct {
	Param string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required '%s' in URL query parameters", e.Param)
}

func (e *MissingParameterError) IsTransient() bool {
	return false
}

// EmptyLocationError indicates the location parameter is blank after
// percent-decoding and trimming.
type EmptyLocationError struct{}

func (e *EmptyLocationError) Error() string {
	return "location is empty after cleaning"
}

func (e *EmptyLocationError) IsTransient() bool {
	return false
}

// InvalidCredentialError indicates the base64-encoded apikey could not be
// decoded to UTF-8 text. The cause message is already redacted.
type InvalidCredentialError struct {
	Cause string
}

func (e *InvalidCredentialError) Error() string {
	return fmt.Sprintf("invalid or missing base64-encoded apikey in URL: %s", e.Cause)
}

func (e *InvalidCredentialError) IsTransient() bool {
	return false
}
