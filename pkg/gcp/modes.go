package gcp

import "fmt"

// ErrorMode controls how delete-style operations report failures.
type ErrorMode string

const (
	// ErrorsRaise returns every error to the caller. This is the default.
	ErrorsRaise ErrorMode = "raise"

	// ErrorsIgnore swallows errors (typically not-found on delete).
	ErrorsIgnore ErrorMode = "ignore"
)

// Handle applies the mode to err.
func (m ErrorMode) Handle(err error) error {
	if err == nil || m == ErrorsIgnore {
		return nil
	}
	return err
}

// ParseErrorMode parses "raise" or "ignore". Empty means raise.
func ParseErrorMode(s string) (ErrorMode, error) {
	switch ErrorMode(s) {
	case "", ErrorsRaise:
		return ErrorsRaise, nil
	case ErrorsIgnore:
		return ErrorsIgnore, nil
	}
	return "", fmt.Errorf("%w: unknown error mode %q (want raise|ignore)", ErrInvalidArgument, s)
}

// IfExists controls what create operations do when the resource already exists.
type IfExists string

const (
	// IfExistsError fails with ErrAlreadyExists. This is the default.
	IfExistsError IfExists = "error"

	// IfExistsIgnore returns the existing resource unchanged.
	IfExistsIgnore IfExists = "ignore"

	// IfExistsUpdate updates the existing resource in place.
	IfExistsUpdate IfExists = "update"

	// IfExistsReplace deletes the existing resource and creates it again.
	IfExistsReplace IfExists = "replace"
)

// ParseIfExists parses an IfExists policy. Empty means error.
func ParseIfExists(s string) (IfExists, error) {
	switch IfExists(s) {
	case "", IfExistsError:
		return IfExistsError, nil
	case IfExistsIgnore, IfExistsUpdate, IfExistsReplace:
		return IfExists(s), nil
	}
	return "", fmt.Errorf("%w: unknown if-exists policy %q (want error|ignore|update|replace)", ErrInvalidArgument, s)
}
