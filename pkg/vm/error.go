package vm

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of runtime error.
type ErrorType string

const (
	// Fatal errors - the program is marked Faulted
	ErrorStackOverflow      ErrorType = "STACK_OVERFLOW"
	ErrorCallDepth          ErrorType = "CALL_DEPTH_EXCEEDED"
	ErrorBudgetExceeded     ErrorType = "INSTRUCTION_BUDGET_EXCEEDED"
	ErrorDivisionByZero     ErrorType = "DIVISION_BY_ZERO"
	ErrorTypeMismatch       ErrorType = "TYPE_MISMATCH"
	ErrorInvalidInstruction ErrorType = "INVALID_INSTRUCTION"
	ErrorNativeContract     ErrorType = "NATIVE_CONTRACT"
	ErrorArrayBounds        ErrorType = "ARRAY_BOUNDS"

	// Non-fatal errors - logged, execution continues
	ErrorNative ErrorType = "NATIVE_ERROR"
)

var (
	// ErrFaulted is returned by every run after a fatal runtime error.
	ErrFaulted = errors.New("program is faulted")
	// ErrBind is returned by New when the program references symbols the
	// registry does not provide.
	ErrBind = errors.New("cannot bind program")
	// ErrNotInitialized is returned by runs before Init.
	ErrNotInitialized = errors.New("program is not initialized")
	// ErrBusy is returned when a run is started from inside another run.
	ErrBusy = errors.New("program is already running")
	// ErrClosed is returned after Teardown.
	ErrClosed = errors.New("program is torn down")
)

// RuntimeError is a fault raised while executing a program.
type RuntimeError struct {
	Type    ErrorType
	Program string
	Offset  int
	Line    int // 0 when unknown
	Message string
	// Err is the error a native returned, if any.
	Err error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] %s: %s at offset %d (line %d)", e.Type, e.Program, e.Message, e.Offset, e.Line)
	}
	return fmt.Sprintf("[%s] %s: %s at offset %d", e.Type, e.Program, e.Message, e.Offset)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// IsFatal returns true if the error stops the program.
func (e *RuntimeError) IsFatal() bool {
	return e.Type != ErrorNative
}
