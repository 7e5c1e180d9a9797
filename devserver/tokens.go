package devserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	tokenIssuer     = "passvault-devserver"
	signingKeyLen   = 32
	defaultTokenTTL = 15 * time.Minute
)

var errInvalidToken = errors.New("invalid or expired token")

// tokenAuthority issues and verifies HS256 access tokens. The signing key
// lives in a memguard enclave and is only opened for the duration of a
// sign or verify.
type tokenAuthority struct {
	key *memguard.Enclave
	ttl time.Duration
	now func() time.Time
}

func newTokenAuthority(ttl time.Duration, now func() time.Time) *tokenAuthority {
	return &tokenAuthority{
		key: memguard.NewBufferRandom(signingKeyLen).Seal(),
		ttl: ttl,
		now: now,
	}
}

// issue returns a signed token for accountID and its expiry.
func (ta *tokenAuthority) issue(accountID string) (string, time.Time, error) {
	now := ta.now().UTC().Truncate(time.Second)
	exp := now.Add(ta.ttl)
	tok, err := jwt.NewBuilder().
		Issuer(tokenIssuer).
		Subject(accountID).
		IssuedAt(now).
		Expiration(exp).
		Build()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("building token: %w", err)
	}

	key, err := ta.key.Open()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("opening signing key: %w", err)
	}
	defer key.Destroy()

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, key.Bytes()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return string(signed), exp, nil
}

// verify checks the signature, issuer and expiry of raw and returns the
// account id it was issued to.
func (ta *tokenAuthority) verify(raw string) (string, error) {
	key, err := ta.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening signing key: %w", err)
	}
	defer key.Destroy()

	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, key.Bytes()),
		jwt.WithValidate(true),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithClock(jwt.ClockFunc(ta.now)),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if tok.Subject() == "" {
		return "", errInvalidToken
	}
	return tok.Subject(), nil
}
