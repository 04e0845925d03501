package main

import (
	"errors"
	"fmt"
)

const (
	exitFailure      = 1 // a scenario missed its expectations
	exitCommandError = 2 // bad input, unreadable files
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code    int
	message string
	err     error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.message
}

func (e *exitError) Unwrap() error { return e.err }

func failure(message string) error {
	return &exitError{code: exitFailure, message: message}
}

func commandError(message string, err error) error {
	return &exitError{code: exitCommandError, message: message, err: err}
}

func exitCode(err error) int {
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return exitCommandError
}
