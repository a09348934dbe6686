// Package errors defines the error taxonomy shared by every layer.
// Storage, dispatch, and transport wrap these sentinels with context;
// only the transport boundary translates them into wire codes.
package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrValidation covers malformed requests and domain rule violations,
	// such as a private chat without exactly two members.
	ErrValidation = fmt.Errorf("validation failed")

	// ErrPermissionDenied is returned when a non-creator attempts a
	// creator-only operation, or a non-member tries to send.
	ErrPermissionDenied = fmt.Errorf("permission denied")

	// ErrNotFound covers unknown chats, agents, messages, and memberships.
	ErrNotFound = fmt.Errorf("not found")

	// ErrConflict covers duplicate memberships and duplicate agent names.
	ErrConflict = fmt.Errorf("conflict")

	// ErrBrokerUnavailable marks a transient publish/subscribe failure.
	// The message stays durable; delivery is healed by catch-up.
	ErrBrokerUnavailable = fmt.Errorf("broker unavailable")

	// ErrConnectionLost is session level and triggers reconnect + catch-up.
	ErrConnectionLost = fmt.Errorf("connection lost")

	// ErrSessionOverflow means a session's outbound buffer filled up.
	// The session is closed rather than dropping or reordering events.
	ErrSessionOverflow = fmt.Errorf("session outbound buffer overflow")

	ErrWorkerPanic = fmt.Errorf("worker panic")
)

// Code returns the stable wire identifier for an error, used by both the
// WebSocket error frame and the HTTP surface.
func Code(err error) string {
	switch {
	case stderrors.Is(err, ErrValidation):
		return "validation_error"
	case stderrors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case stderrors.Is(err, ErrNotFound):
		return "not_found"
	case stderrors.Is(err, ErrConflict):
		return "conflict"
	case stderrors.Is(err, ErrBrokerUnavailable):
		return "broker_unavailable"
	case stderrors.Is(err, ErrConnectionLost):
		return "connection_lost"
	default:
		return "internal"
	}
}
