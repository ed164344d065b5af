package bus

import (
	"errors"
	"fmt"
)

// ErrDisconnected fails outstanding and subsequent requests once the
// websocket session is gone. Callers treat it as a transient cycle failure.
var ErrDisconnected = errors.New("device bus disconnected")

// AuthError is a terminal authentication failure during the handshake.
// It is never retried; the bootstrap layer surfaces it and exits.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("device bus authentication failed: %s", e.Message)
}

// RequestError is a command the bus accepted but answered with success=false.
type RequestError struct {
	Command string
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s failed: %s (%s)", e.Command, e.Message, e.Code)
	}
	return fmt.Sprintf("%s failed: %s", e.Command, e.Message)
}

// EntityNotFoundError reports a state lookup for an unknown entity id.
type EntityNotFoundError struct {
	EntityID string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("entity %s not found", e.EntityID)
}
