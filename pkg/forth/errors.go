// Package forth implements an embeddable, line-driven Forth interpreter with
// resumable execution.
package forth

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error definitions for the interpreter. Errors raised while a line is being
// processed are reported through the output sink and never escape ReadLine.
var (
	ErrMismatchedControl         = errors.New("mismatched control structure")
	ErrUnexpectedDefinitionStart = errors.New("unexpected definition start")
	ErrDivisionByZero            = errors.New("division by zero")
	ErrPaused                    = errors.New("interpreter is paused")
	ErrNotPaused                 = errors.New("interpreter is not paused")
)

// StackUnderflowError is returned when a pop hits an empty stack.
type StackUnderflowError struct {
	Stack string
}

func (e *StackUnderflowError) Error() string {
	return "Stack underflow in " + e.Stack
}

// MissingWordError is returned for a token that is neither a dictionary word
// nor a number.
type MissingWordError struct {
	Word string
}

func (e *MissingWordError) Error() string {
	return e.Word + "?"
}

// ControlError carries the control word that could not be resolved.
type ControlError struct {
	Word string
	Err  error
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("%s: %v", e.Word, e.Err)
}

func (e *ControlError) Unwrap() error { return e.Err }

// MissingNameError is returned when a defining word reaches the end of the line
// before its name.
type MissingNameError struct {
	Word string
}

func (e *MissingNameError) Error() string {
	return e.Word + ": missing name"
}

func mismatched(word string) error {
	return &ControlError{Word: word, Err: ErrMismatchedControl}
}
