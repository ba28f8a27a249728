package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lineage is absent or not in a state the
// operation can act on.
var ErrNotFound = errors.New("not found")

type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// OracleError reports a failed or unparsable language model call.
type OracleError struct {
	Message string
	Err     error
}

func (e *OracleError) Error() string {
	if e.Err == nil {
		return "oracle: " + e.Message
	}
	return fmt.Sprintf("oracle: %s: %v", e.Message, e.Err)
}

func (e *OracleError) Unwrap() error {
	return e.Err
}

// TransportError reports a socket level failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

func AsOracleError(err error) (*OracleError, bool) {
	var oe *OracleError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
