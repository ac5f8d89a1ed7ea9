package errors

import "errors"

// Shared sentinel errors for the session client
var (
	// Credential errors
	ErrNoCredentials     = errors.New("no stored credentials")
	ErrEmptyAccessToken  = errors.New("access token is empty")
	ErrEmptyRefreshToken = errors.New("refresh token is empty")

	// Session errors
	ErrIllegalTransition = errors.New("illegal session transition")
	ErrStaleOperation    = errors.New("operation superseded by a newer session transition")

	// Gateway errors
	ErrMalformedResponse = errors.New("malformed response")

	// Storage errors
	ErrSecretCorrupted = errors.New("stored secret could not be opened")
	ErrInvalidKey      = errors.New("invalid storage key")
)
