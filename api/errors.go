package api

import "errors"

// Errors returned by transports. Check with errors.Is as they are usually wrapped.
var (
	// ErrNotSupported is returned by operations the transport does not implement
	ErrNotSupported = errors.New("transport: operation not supported")

	// ErrInvalidArgument is returned when a required argument is missing or unusable
	ErrInvalidArgument = errors.New("transport: invalid argument")
)
