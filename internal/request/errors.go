// ABOUTME: Sentinel errors for request lifecycle operations
// ABOUTME: Terminal errors are surfaced to the caller without retry

package request

import "errors"

// ErrInvalidTransition is returned when a status change violates the
// lifecycle state machine. Terminal: never retried.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrUnauthorized is returned when the acting user may not perform the
// requested mutation. Terminal: never retried.
var ErrUnauthorized = errors.New("actor not authorized for this request")
