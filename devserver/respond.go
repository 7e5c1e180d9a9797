package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmcleod/passvault/api"
	"github.com/jmcleod/passvault/vault"
)

const (
	maxBodySize = 64 << 10

	codeInvalidMasterPassword = api.CodeInvalidMasterPassword
	codeInvalidCredentials    = api.CodeInvalidCredentials
	codeEmailUnverified       = api.CodeEmailUnverified
	codeInvalidToken          = api.CodeInvalidToken
	codeNotFound              = api.CodeNotFound
	codeRateLimited           = api.CodeRateLimited
	codeConflict              = api.CodeConflict
	codeValidation            = api.CodeValidation
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg, Code: code})
}

func writeInternalError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "", msg)
}

// decodeJSON reads a size-limited JSON body into T, writing a 400 and
// returning false on failure.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, fmt.Sprintf("invalid request body: %v", err))
		return v, false
	}
	return v, true
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vault.ErrValidation):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, errRecordNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, errEmailTaken):
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, errInvalidVerification):
		writeError(w, http.StatusBadRequest, codeInvalidToken, err.Error())
	case errors.Is(err, errWrongMasterPassword):
		writeError(w, http.StatusUnauthorized, codeInvalidMasterPassword, "incorrect master password")
	default:
		writeError(w, http.StatusInternalServerError, "", err.Error())
	}
}
