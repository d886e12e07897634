package adcp

import "fmt"

// Error codes defined by the AdCP error taxonomy. Every failure that crosses
// the tool boundary carries exactly one of these.
const (
	CodeAuthentication = "authentication_error"
	CodeValidation     = "validation_error"
	CodeDataIntegrity  = "data_integrity_error"
	CodeNotFound       = "not_found"
	CodeInvalidRequest = "invalid_request"
	CodeAdapter        = "adapter_error"
	CodeTimeout        = "timeout_error"
	CodeUnavailable    = "unavailable"
)

// Error is the wire shape for a single AdCP error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf constructs an Error with a formatted message.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError maps an arbitrary error to the taxonomy, preserving the original
// error string in Details. Errors that already carry a code pass through.
func WrapError(code, message string, err error) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*Error); ok {
		return ae
	}
	return &Error{Code: code, Message: message, Details: err.Error()}
}
