package service

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/licensectl/internal/apiclient"
)

// Kind classifies a failure for presentation.
type Kind int

const (
	KindServer Kind = iota
	KindNetwork
	KindSessionExpired
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindSessionExpired:
		return "session_expired"
	case KindValidation:
		return "validation"
	default:
		return "server"
	}
}

// MsgSessionExpired is shown when the server rejected the credential.
const MsgSessionExpired = "Session expired. Please log in again."

// Error is the single failure shape returned by every service method.
// Message is safe to show to the user: the server's message when it sent one,
// the operation's fallback text otherwise.
type Error struct {
	Op      string
	Kind    Kind
	Message string
	Status  int
	// Fields holds per-field messages for local form validation failures.
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindServer when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}

// IsSessionExpired reports whether err means the user must sign in again.
func IsSessionExpired(err error) bool {
	return KindOf(err) == KindSessionExpired || errors.Is(err, apiclient.ErrSessionExpired)
}

func normalize(op, fallback string, err error) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}

	e := &Error{Op: op, Kind: KindServer, Message: fallback, Err: err}
	switch {
	case errors.Is(err, apiclient.ErrSessionExpired):
		e.Kind = KindSessionExpired
		e.Message = MsgSessionExpired
	case errors.Is(err, apiclient.ErrUnreachable),
		errors.Is(err, apiclient.ErrTimeout),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		e.Kind = KindNetwork
	default:
		if apiErr, ok := apiclient.AsAPIError(err); ok {
			e.Status = apiErr.Status
			if apiErr.IsValidation() {
				e.Kind = KindValidation
			}
			if apiErr.Message != "" {
				e.Message = apiErr.Message
			}
		}
	}
	return e
}

func invalid(op, message string) *Error {
	return &Error{Op: op, Kind: KindValidation, Message: message}
}
