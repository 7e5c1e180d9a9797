// Package api is the request layer for the password service.
//
// Every call goes through Client.do, which attaches the session's bearer
// token and a request id, decodes error bodies into the package's sentinel
// errors, and reports rejected tokens back to the session manager so the
// session is cleared the moment the service stops accepting it.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/passvault/internal/uuid"
	"github.com/jmcleod/passvault/session"
	"github.com/jmcleod/passvault/storage"
	"github.com/jmcleod/passvault/vault"
)

const (
	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 1 << 20

	defaultTimeout = 15 * time.Second

	requestIDHeader = "X-Request-ID"
)

// Client talks to the password service on behalf of one session.
type Client struct {
	baseURL     string
	http        *http.Client
	sessions    *session.Manager
	cache       storage.RecordCache
	logger      *slog.Logger
	now         func() time.Time
	unsubscribe func()
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request, including reading the response.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

// WithCache enables write-through caching of record lists. The cache is
// purged whenever the session ends.
func WithCache(cache storage.RecordCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a Client for the service at baseURL that authorizes calls
// with the token held by sessions.
func New(baseURL string, sessions *session.Manager, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid service URL %q", baseURL)
	}
	if sessions == nil {
		return nil, errors.New("session manager is required")
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: defaultTimeout},
		sessions: sessions,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "api")
	c.unsubscribe = sessions.Subscribe(c.onSessionEvent)
	return c, nil
}

// Close detaches the client from the session manager.
func (c *Client) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// BaseURL returns the service URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Sessions returns the session manager the client authorizes with.
func (c *Client) Sessions() *session.Manager {
	return c.sessions
}

func (c *Client) onSessionEvent(e session.Event) {
	if e == session.EventEstablished || c.cache == nil {
		return
	}
	if err := c.cache.Purge(c.baseURL); err != nil {
		c.logger.Warn("purging record cache", "error", err)
	}
}

// Signup creates an account. The service sends a verification email.
func (c *Client) Signup(ctx context.Context, req vault.Signup) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	var resp MessageResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", req, false, &resp); err != nil {
		return "", fmt.Errorf("signup: %w", err)
	}
	return resp.Message, nil
}

// VerifyEmail confirms an email address with the token from the
// verification email.
func (c *Client) VerifyEmail(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: verification token is required", vault.ErrValidation)
	}
	var resp MessageResponse
	path := "/auth/verify?token=" + url.QueryEscape(token)
	if err := c.do(ctx, http.MethodGet, path, nil, false, &resp); err != nil {
		return "", fmt.Errorf("verify email: %w", err)
	}
	return resp.Message, nil
}

// Login authenticates and installs the returned token as the current
// session, replacing any previous one. Rejected credentials end a session
// that was already established; with no prior session they only fail the
// login.
func (c *Client) Login(ctx context.Context, req vault.Login) error {
	if err := req.Validate(); err != nil {
		return err
	}
	hadSession := c.sessions.IsAuthenticated()
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, false, &resp); err != nil {
		if hadSession && errors.Is(err, ErrInvalidCredentials) {
			c.sessions.OnUnauthorized()
		}
		return fmt.Errorf("login: %w", err)
	}
	token := resp.token()
	if token == "" {
		return errors.New("login: response carried no token")
	}
	c.sessions.SetSession(token)
	c.logger.Info("logged in")
	return nil
}

// Logout ends the session locally. Cached records are purged through the
// session event.
func (c *Client) Logout() {
	c.sessions.ClearSession()
}

// ListRecords fetches the metadata of every record and refreshes the cache.
func (c *Client) ListRecords(ctx context.Context) ([]vault.Record, error) {
	var resp ListResponse
	if err := c.do(ctx, http.MethodGet, "/vault/list", nil, true, &resp); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if c.cache != nil {
		if err := c.cache.Put(c.baseURL, resp.Items, c.now()); err != nil {
			c.logger.Warn("caching record list", "error", err)
		}
	}
	return resp.Items, nil
}

// CachedRecords returns the last list fetched from this service. It
// returns storage.ErrNotFound when caching is off or nothing is cached.
func (c *Client) CachedRecords() (*storage.Snapshot, error) {
	if c.cache == nil {
		return nil, fmt.Errorf("record cache disabled: %w", storage.ErrNotFound)
	}
	return c.cache.Load(c.baseURL)
}

// GetRecord fetches one record's metadata.
func (c *Client) GetRecord(ctx context.Context, id string) (*vault.Record, error) {
	if err := vault.ValidateID(id); err != nil {
		return nil, err
	}
	var rec vault.Record
	if err := c.do(ctx, http.MethodGet, "/vault/detail/"+url.PathEscape(id), nil, true, &rec); err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &rec, nil
}

// RegisterRecord stores a new credential. The service encrypts the
// password with a key derived from the master password in req.
func (c *Client) RegisterRecord(ctx context.Context, req vault.NewRecord) (*vault.Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var rec vault.Record
	if err := c.do(ctx, http.MethodPost, "/vault/register", req, true, &rec); err != nil {
		return nil, fmt.Errorf("register record: %w", err)
	}
	return &rec, nil
}

// RequestReveal asks the service to decrypt a record's password with
// factor, the user's master password. The plaintext is returned in a
// locked buffer the caller must Destroy.
func (c *Client) RequestReveal(ctx context.Context, id, factor string) (*memguard.LockedBuffer, error) {
	if err := vault.ValidateID(id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(factor) == "" {
		return nil, fmt.Errorf("%w: master password is required", vault.ErrValidation)
	}

	body, err := c.send(ctx, http.MethodPost, "/vault/reveal/"+url.PathEscape(id), RevealRequest{MasterPassword: factor}, true)
	if err != nil {
		return nil, fmt.Errorf("reveal: %w", err)
	}
	defer memguard.WipeBytes(body)

	var resp RevealResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("reveal: decoding response: %w", err)
	}
	if resp.Password == "" {
		return nil, errors.New("reveal: service returned an empty password")
	}
	return memguard.NewBufferFromBytes([]byte(resp.Password)), nil
}

// do sends a JSON request and decodes a successful JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in any, authenticated bool, out any) error {
	body, err := c.send(ctx, method, path, in, authenticated)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// send performs the request and returns the raw body of a 2xx response.
// Authenticated calls need a session; a 401 on one of them (other than a
// rejected master password) ends the session.
func (c *Client) send(ctx context.Context, method, path string, in any, authenticated bool) ([]byte, error) {
	var token string
	if authenticated {
		var ok bool
		token, ok = c.sessions.CurrentToken()
		if !ok {
			return nil, ErrNotAuthenticated
		}
	}

	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	requestID := uuid.New()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, stripQuery(path), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	c.logger.Debug("request",
		slog.String("method", method),
		slog.String("path", stripQuery(path)),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", requestID),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	apiErr := decodeError(resp.StatusCode, body, authenticated)
	if errors.Is(apiErr, ErrSessionExpired) {
		c.sessions.OnUnauthorized()
	}
	return nil, apiErr
}

// decodeError maps a failed response to an *Error wrapping the matching
// sentinel.
func decodeError(status int, body []byte, authenticated bool) error {
	var er ErrorResponse
	_ = json.Unmarshal(body, &er)
	e := &Error{Status: status, Code: er.Code, Message: er.text()}

	switch {
	case status == http.StatusUnauthorized && er.Code == CodeInvalidMasterPassword:
		e.kind = ErrInvalidFactor
	case status == http.StatusUnauthorized && authenticated:
		e.kind = ErrSessionExpired
	case status == http.StatusUnauthorized:
		e.kind = ErrInvalidCredentials
	case status == http.StatusForbidden && er.Code == CodeEmailUnverified:
		e.kind = ErrEmailUnverified
	case status == http.StatusNotFound:
		e.kind = ErrNotFound
	case status == http.StatusConflict:
		e.kind = ErrConflict
	case status == http.StatusTooManyRequests:
		e.kind = ErrRateLimited
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		e.kind = vault.ErrValidation
	}
	return e
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
