package calls

import "errors"

var (
	ErrNotFound            = errors.New("call not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrConcurrencyConflict = errors.New("call was modified concurrently")
	// ErrProviderCallIDAlreadySet is returned when a different provider id is attached.
	ErrProviderCallIDAlreadySet = errors.New("provider call id already set")
)
