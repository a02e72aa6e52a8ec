package pipeline

import "fmt"

// ErrorKind is the closed taxonomy of pipeline failures. The values are
// stored verbatim in the audit record's error_type column.
type ErrorKind string

const (
	ErrorKindGeneration    ErrorKind = "generation_failure"
	ErrorKindSafety        ErrorKind = "safety_rejection"
	ErrorKindExecution     ErrorKind = "execution_failure"
	ErrorKindConfiguration ErrorKind = "configuration_error"
	ErrorKindPersistence   ErrorKind = "persistence_failure"
)

// Error is a classified pipeline failure. Messages carry the raw
// underlying text; redaction is a caller concern.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}
