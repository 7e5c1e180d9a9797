// Package vault defines the credential records exchanged with the password
// service and the client-side checks applied before anything is sent.
package vault

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	MaxIDLength             = 256
	MaxAppNameLength        = 256
	MaxPasswordLength       = 4096
	MinSignupPasswordLength = 12
	MaxMasterPasswordLength = 1024

	maxEmailLength = 254

	timestampLayoutNoZone      = "2006-01-02T15:04:05.999999999"
	timestampLayoutSpaceNoZone = "2006-01-02 15:04:05.999999999"
)

// Record is the metadata of one stored credential. It never carries the
// plaintext password.
type Record struct {
	ID        string     `json:"id"`
	AppName   string     `json:"app_name"`
	LoginURL  string     `json:"app_login_url,omitempty"`
	Username  string     `json:"username,omitempty"`
	CreatedAt Timestamp  `json:"created_at"`
	UpdatedAt *Timestamp `json:"updated_at,omitempty"`
}

// NewRecord is the payload for registering a credential. The service
// encrypts Password with a key derived from MasterPassword.
type NewRecord struct {
	AppName        string `json:"app_name"`
	LoginURL       string `json:"app_login_url,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password"`
	MasterPassword string `json:"master_password"`
}

// Signup is the payload for creating an account.
type Signup struct {
	Email          string `json:"email"`
	MasterPassword string `json:"master_password"`
}

// Login is the payload for authenticating an account.
type Login struct {
	Email          string `json:"email"`
	MasterPassword string `json:"master_password"`
}

// Timestamp is a time.Time that also accepts the zone-less ISO layouts some
// backends emit. Zone-less values are read as UTC.
type Timestamp struct {
	time.Time
}

// MarshalJSON encodes the timestamp as RFC 3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts RFC 3339 and zone-less ISO timestamps.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, timestampLayoutNoZone, timestampLayoutSpaceNoZone} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognised format %q", s)
}

// Filter returns the records whose app name contains term, ignoring case.
// An empty term returns records unchanged.
func Filter(records []Record, term string) []Record {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return records
	}
	var out []Record
	for _, r := range records {
		if strings.Contains(strings.ToLower(r.AppName), term) {
			out = append(out, r)
		}
	}
	return out
}
