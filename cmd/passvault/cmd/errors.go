package cmd

import (
	"errors"

	"github.com/jmcleod/passvault/api"
	"github.com/jmcleod/passvault/reveal"
	"github.com/jmcleod/passvault/vault"
)

// cliError carries the message printed for an error while keeping the
// cause available to errors.Is.
type cliError struct {
	msg string
	err error
}

func (e *cliError) Error() string { return e.msg }
func (e *cliError) Unwrap() error { return e.err }

var errNotLoggedIn = errors.New(`not logged in: run "passvault login" first`)

// explain turns service and validation errors into messages for the
// terminal. Unknown errors pass through unchanged.
func explain(err error) error {
	var msg string
	switch {
	case err == nil:
		return nil
	case errors.Is(err, api.ErrNotAuthenticated):
		msg = errNotLoggedIn.Error()
	case errors.Is(err, api.ErrSessionExpired):
		msg = "Your session has expired. Log in again."
	case errors.Is(err, api.ErrInvalidCredentials):
		msg = "Incorrect credentials"
	case errors.Is(err, api.ErrEmailUnverified):
		msg = "Please verify your email before logging in"
	case errors.Is(err, api.ErrInvalidFactor):
		msg = "Incorrect master password"
	case errors.Is(err, api.ErrConflict):
		msg = "An account with that email already exists"
	case errors.Is(err, api.ErrNotFound):
		msg = "Credential not found"
	case errors.Is(err, api.ErrRateLimited):
		msg = "Too many attempts. Try again later."
	case errors.Is(err, reveal.ErrEmptyFactor):
		msg = reveal.Describe(err)
	case errors.Is(err, vault.ErrValidation):
		msg = err.Error()
	default:
		return err
	}
	return &cliError{msg: msg, err: err}
}
