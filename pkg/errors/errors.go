// Package errors provides the categorized error type shared by the send pipeline
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Category groups error kinds by how the pipeline recovers from them
type Category string

const (
	// CategoryInput is a recoverable, user-facing input problem
	CategoryInput Category = "input"
	// CategoryStaleness is recoverable via a forced refresh
	CategoryStaleness Category = "staleness"
	// CategoryNetwork is recoverable via retry
	CategoryNetwork Category = "network"
	// CategoryProtocol is usually fatal to the current attempt
	CategoryProtocol Category = "protocol"
	// CategoryOperator signals a caller bug and is never shown to users
	CategoryOperator Category = "operator"
	// CategoryTerminal covers benign outcomes such as user cancellation
	CategoryTerminal Category = "terminal"
)

// FieldError represents a validation error for a specific field
type FieldError struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message,omitempty"`
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("%s (%s): %s", f.Field, f.Kind, f.Message)
}

func NewFieldError(kind, field, reason string) FieldError {
	return FieldError{Kind: kind, Field: field, Message: reason}
}

// Prototypes, refine with Reason and Explain
var (
	Input     = NewWithCategory(CategoryInput)
	Stale     = NewWithCategory(CategoryStaleness)
	Network   = NewWithCategory(CategoryNetwork)
	Protocol  = NewWithCategory(CategoryProtocol)
	Operator  = NewWithCategory(CategoryOperator)
	Terminal  = NewWithCategory(CategoryTerminal)
	Unhandled = New("unhandled")
)

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Category tells callers how to recover
	Category Category `json:"category"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`
	// Fields used when there's validation error for a field.
	Fields []FieldError `json:"fields,omitempty"`

	trace []byte
	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: "Unknown", Message: message}
}

func NewWithCategory(category Category) *Error {
	return &Error{Kind: string(category), Category: category}
}

func Wrap(err error) *Error {
	return &Error{cause: err}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] ", e.Kind)
	if e.Message != "" {
		str += e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	if len(e.trace) > 0 {
		str = str + fmt.Sprintf("\n\nTrace: %s", string(e.trace))
	}
	return str
}

// Reason returns a copy of the error with kind set to given value
func (e *Error) Reason(kind string) *Error {
	err := *e
	err.Kind = kind
	return &err
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the cause set
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Trace sets the error stack trace
func (e *Error) Trace() *Error {
	stack := make([]byte, 2048)
	n := runtime.Stack(stack, false)
	e.trace = stack[:n]
	return e
}

// WithField returns a copy of error with the field appended.
func (e *Error) WithField(kind, field, message string) *Error {
	newError := *e
	newError.Fields = append(append([]FieldError(nil), e.Fields...), NewFieldError(kind, field, message))
	return &newError
}

// Is implements the needed interface for errors.Is
// It checks kind for equality
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// CategoryOf returns the category of the first *Error in the chain
func CategoryOf(err error) (Category, bool) {
	var e *Error
	if As(err, &e) && e.Category != "" {
		return e.Category, true
	}
	return "", false
}

// IsRecoverable reports whether the presentation layer may offer a retry
func IsRecoverable(err error) bool {
	category, ok := CategoryOf(err)
	if !ok {
		return false
	}
	switch category {
	case CategoryInput, CategoryStaleness, CategoryNetwork:
		return true
	default:
		return false
	}
}
