package cmd

import (
	"errors"

	"disassemble/internal/image"
)

// Process exit statuses.
const (
	ExitOK    = 0
	ExitLoad  = 1
	ExitUsage = 2
	ExitEmpty = 3

	// ExitOutput covers failures after a successful load: writing the
	// report or DOT files, profiling, cancellation.
	ExitOutput = 4
)

// ExitError carries the process exit status for err.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

func usageError(err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: ExitUsage, Err: err}
}

func outputError(err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: ExitOutput, Err: err}
}

// ExitCode maps err to a process exit status. An unwrapped image.LoadError
// is a load failure; any other error without a status is ExitOutput.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	var le *image.LoadError
	if errors.As(err, &le) {
		return ExitLoad
	}
	return ExitOutput
}
