package engine

import "errors"

var (
	// ErrUnknownProcessor is returned when a request references a processor
	// id that is not registered.
	ErrUnknownProcessor = errors.New("unknown processor")

	// ErrNilProcessor is returned by RegisterProcessor.
	ErrNilProcessor = errors.New("processor cannot be nil")

	// ErrClosed is returned for submissions after Close.
	ErrClosed = errors.New("engine closed")

	errNoMessage = errors.New("processor returned without delivering a message")
)
