package cluster

import "errors"

var (
	// ErrInvalidParameter is returned when clustering or batch parameters are out of range.
	// It is reported before any work starts.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidInput is returned when the assembler receives mismatched inputs.
	ErrInvalidInput = errors.New("invalid input")
)
