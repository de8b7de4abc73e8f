package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for the caller. The HTTP layer maps kinds to
// status codes; everything else only needs to preserve the kind while wrapping.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindExtraction      ErrorKind = "extraction"
	KindUpstreamService ErrorKind = "upstream_service"
	KindPersistence     ErrorKind = "persistence"
	KindNotFound        ErrorKind = "not_found"
)

// Error is a user-facing failure. Message names what went wrong and Remedy
// tells the user what to do about it.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Remedy  string
	// Constraint names the rule that rejected the input, for validation errors.
	Constraint string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage is the text safe to show to an end user.
func (e *Error) UserMessage() string {
	if e.Remedy == "" {
		return e.Message
	}
	return e.Message + ". " + e.Remedy
}

// NewValidationError rejects caller input.
func NewValidationError(op, constraint, message, remedy string) *Error {
	return &Error{Kind: KindValidation, Op: op, Constraint: constraint, Message: message, Remedy: remedy}
}

// NewExtractionError reports that no usable text could be recovered from a file.
func NewExtractionError(op, message, remedy string, err error) *Error {
	return &Error{Kind: KindExtraction, Op: op, Message: message, Remedy: remedy, Err: err}
}

// NewUpstreamError reports a failure of the extraction model or its output.
func NewUpstreamError(op, message, remedy string, err error) *Error {
	return &Error{Kind: KindUpstreamService, Op: op, Message: message, Remedy: remedy, Err: err}
}

// NewPersistenceError reports a storage failure.
func NewPersistenceError(op, message string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Message: message, Remedy: "Please try again later", Err: err}
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(op, what, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Op:      op,
		Message: fmt.Sprintf("%s %s not found", what, id),
		Remedy:  "Check the identifier and try again",
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
