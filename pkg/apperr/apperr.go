// Package apperr defines the error taxonomy shared by the tile selection
// core, the pipelines and the handler, and the report envelope returned to
// callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by who has to act on it
type Kind int

const (
	// KindConfig is a user-facing configuration problem detected before any
	// per-image work starts.
	KindConfig Kind = iota + 1
	// KindData is a problem with one image or its annotations.
	KindData
	// KindInternal is anything else, wrapped at a pipeline boundary.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindData:
		return "data"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error codes
const (
	CodePathNotFound       = 101
	CodeDirNotFound        = 102
	CodeInvalidValue       = 104
	CodeTileTooLarge       = 105
	CodeImageNotInDataset  = 301
	CodeDegenerateGeometry = 302
	CodeUndecodableImage   = 303
	CodeInternal           = 401
)

// Error is a structured failure carrying a stable code, a human message and
// the stage at which it happened.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Details string
	Stage   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config returns a configuration error
func Config(code int, message, details string) *Error {
	return &Error{Kind: KindConfig, Code: code, Message: message, Details: details}
}

// Data returns a data error
func Data(code int, message, details string) *Error {
	return &Error{Kind: KindData, Code: code, Message: message, Details: details}
}

// Internal wraps an unexpected error with the stage it surfaced in
func Internal(stage string, err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    CodeInternal,
		Message: "an error occurred during " + stage,
		Stage:   stage,
		Err:     err,
	}
}

// As extracts an *Error from an error chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// AtStage makes sure err is an *Error tagged with a stage. Structured
// errors keep their kind and code; anything else becomes an internal error.
func AtStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		if e.Stage == "" {
			e.Stage = stage
		}
		return e
	}
	return Internal(stage, err)
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}
