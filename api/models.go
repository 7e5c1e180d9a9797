package api

import (
	"encoding/json"
	"fmt"

	"github.com/jmcleod/passvault/vault"
)

// MessageResponse is returned by signup and verification.
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginResponse is returned by POST /auth/login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
}

func (r LoginResponse) token() string {
	if r.AccessToken != "" {
		return r.AccessToken
	}
	return r.Token
}

// ListResponse is returned by GET /vault/list.
type ListResponse struct {
	Items []vault.Record `json:"items"`
}

// UnmarshalJSON accepts both {"items": [...]} and a bare array.
func (l *ListResponse) UnmarshalJSON(data []byte) error {
	var bare []vault.Record
	if err := json.Unmarshal(data, &bare); err == nil {
		l.Items = bare
		return nil
	}
	type wrapped ListResponse
	var w wrapped
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decoding record list: %w", err)
	}
	*l = ListResponse(w)
	return nil
}

// RevealRequest is the body of POST /vault/reveal/{id}.
type RevealRequest struct {
	MasterPassword string `json:"master_password"`
}

// RevealResponse is returned by POST /vault/reveal/{id}.
type RevealResponse struct {
	Password string `json:"password"`
}
