package session

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jrsteele09/membership-session/authapi"
	apperrors "github.com/jrsteele09/membership-session/internal/errors"
)

// ErrorKind classifies failures shown to the user.
type ErrorKind string

const (
	InvalidCredentials ErrorKind = "invalid_credentials"
	NetworkUnreachable ErrorKind = "network_unreachable"
	SessionExpired     ErrorKind = "session_expired"
	ServerError        ErrorKind = "server_error"
	StorageFailure     ErrorKind = "storage_failure"
)

var defaultMessages = map[ErrorKind]string{
	InvalidCredentials: "Invalid email or password.",
	NetworkUnreachable: "Network error. Please check your connection and try again.",
	SessionExpired:     "Authentication failed. Please log in again.",
	ServerError:        "Server error. Please try again later.",
	StorageFailure:     "Secure storage is unavailable.",
}

// DefaultMessage is the text used when the backend supplies none.
func DefaultMessage(kind ErrorKind) string {
	return defaultMessages[kind]
}

// Error is a classified failure. Message is safe to show to the user.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the kind sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidCredentials = &Error{Kind: InvalidCredentials, Message: defaultMessages[InvalidCredentials]}
	ErrNetworkUnreachable = &Error{Kind: NetworkUnreachable, Message: defaultMessages[NetworkUnreachable]}
	ErrSessionExpired     = &Error{Kind: SessionExpired, Message: defaultMessages[SessionExpired]}
	ErrServerError        = &Error{Kind: ServerError, Message: defaultMessages[ServerError]}
	ErrStorageFailure     = &Error{Kind: StorageFailure, Message: defaultMessages[StorageFailure]}
)

func newError(kind ErrorKind, message string, err error) *Error {
	if message == "" {
		message = defaultMessages[kind]
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

type operation string

const (
	opLogin     operation = "login"
	opRegister  operation = "register"
	opRehydrate operation = "rehydrate"
	opRefresh   operation = "refresh"
	opProfile   operation = "profile"
)

func (op operation) credentialExchange() bool {
	return op == opLogin || op == opRegister
}

// classify maps a gateway or storage failure to the user-facing taxonomy.
func classify(op operation, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	var status *authapi.StatusError
	switch {
	case errors.As(err, &status):
		switch {
		case status.ServerSide():
			return newError(ServerError, status.Message, err)
		case op.credentialExchange():
			return newError(InvalidCredentials, status.Message, err)
		case status.Unauthorized(), op == opRefresh:
			return newError(SessionExpired, status.Message, err)
		default:
			return newError(ServerError, status.Message, err)
		}
	case authapi.IsTransport(err), errors.Is(err, context.DeadlineExceeded):
		return newError(NetworkUnreachable, "", err)
	case errors.Is(err, apperrors.ErrEmptyRefreshToken):
		return newError(SessionExpired, "", err)
	default:
		return newError(ServerError, "", err)
	}
}
