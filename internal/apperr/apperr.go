// Package apperr defines the error kinds shared by the workflow packages.
// Callers classify errors with errors.Is against the sentinel kinds.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrStorage      = errors.New("storage failure")
	ErrProcessing   = errors.New("processing failure")
)

type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *kindError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

// Message returns the caller-facing part of the error without its cause.
func Message(err error) string {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.msg
	}
	return err.Error()
}

func Invalid(format string, args ...any) error {
	return &kindError{kind: ErrInvalidInput, msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &kindError{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

func Storage(cause error, format string, args ...any) error {
	return &kindError{kind: ErrStorage, msg: fmt.Sprintf(format, args...), cause: cause}
}

func Processing(cause error, format string, args ...any) error {
	return &kindError{kind: ErrProcessing, msg: fmt.Sprintf(format, args...), cause: cause}
}
