package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidFactor means the service rejected the master password
	// presented for a reveal or a registration. The session is untouched.
	ErrInvalidFactor = errors.New("incorrect master password")
	// ErrInvalidCredentials means login was refused.
	ErrInvalidCredentials = errors.New("incorrect credentials")
	// ErrEmailUnverified means login was refused until the email address
	// has been verified.
	ErrEmailUnverified = errors.New("email address not verified")
	// ErrSessionExpired means an authenticated call was rejected and the
	// session has been cleared.
	ErrSessionExpired = errors.New("session expired")
	// ErrNotAuthenticated means an authenticated call was attempted without
	// a session.
	ErrNotAuthenticated = errors.New("not logged in")
	// ErrNotFound means the record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrRateLimited means the service is throttling the caller.
	ErrRateLimited = errors.New("too many attempts")
	// ErrConflict means the resource already exists (e.g. signup with a
	// registered email).
	ErrConflict = errors.New("already exists")
)

// Codes carried in the error body's "code" field.
const (
	CodeInvalidMasterPassword = "invalid_master_password"
	CodeInvalidCredentials    = "invalid_credentials"
	CodeEmailUnverified       = "email_unverified"
	CodeInvalidToken          = "invalid_token"
	CodeNotFound              = "not_found"
	CodeRateLimited           = "rate_limited"
	CodeConflict              = "conflict"
	CodeValidation            = "validation_error"
)

// Error is a non-2xx response that does not map to one of the sentinel
// errors. It unwraps to the matching sentinel when there is one.
type Error struct {
	Status  int
	Code    string
	Message string
	kind    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.kind != nil {
		return fmt.Sprintf("%s: %s", e.kind, msg)
	}
	return fmt.Sprintf("service returned %d: %s", e.Status, msg)
}

func (e *Error) Unwrap() error {
	return e.kind
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (r ErrorResponse) text() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}
