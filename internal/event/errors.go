package event

import "errors"

var (
	// ErrUnregisteredType is returned when a type tag has no handler.
	ErrUnregisteredType = errors.New("unregistered event type")
)
