package api_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/passvault/api"
	"github.com/jmcleod/passvault/devserver"
	"github.com/jmcleod/passvault/internal/util"
	"github.com/jmcleod/passvault/session"
	"github.com/jmcleod/passvault/storage"
	"github.com/jmcleod/passvault/storage/memory"
	"github.com/jmcleod/passvault/vault"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct horse battery"
)

var fastParams = util.Argon2idParams{Time: 1, MemoryKiB: 64, Parallelism: 1, KeyLen: 32}

type fixture struct {
	srv      *httptest.Server
	sessions *session.Manager
	client   *api.Client
	cache    *memory.Cache

	mu     sync.Mutex
	tokens map[string]string
	now    time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fixture) verificationToken(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[email]
}

func setup(t *testing.T, opts ...devserver.Option) *fixture {
	t.Helper()
	f := &fixture{tokens: make(map[string]string), now: time.Now().UTC()}
	opts = append([]devserver.Option{
		devserver.WithArgon2idParams(fastParams),
		devserver.WithClock(f.clock),
		devserver.WithSignupHook(func(email, token string) {
			f.mu.Lock()
			f.tokens[email] = token
			f.mu.Unlock()
		}),
	}, opts...)
	f.srv = httptest.NewServer(devserver.New(opts...).Router())
	t.Cleanup(f.srv.Close)

	var err error
	f.sessions, err = session.NewManager()
	require.NoError(t, err)
	f.cache = memory.NewCache()
	f.client, err = api.New(f.srv.URL+"/", f.sessions, api.WithCache(f.cache), api.WithTimeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(f.client.Close)
	return f
}

func (f *fixture) signupAndLogin(t *testing.T) {
	t.Helper()
	ctx := t.Context()
	msg, err := f.client.Signup(ctx, vault.Signup{Email: testEmail, MasterPassword: testPassword})
	require.NoError(t, err)
	assert.NotEmpty(t, msg)

	_, err = f.client.VerifyEmail(ctx, f.verificationToken(testEmail))
	require.NoError(t, err)

	require.NoError(t, f.client.Login(ctx, vault.Login{Email: testEmail, MasterPassword: testPassword}))
	require.True(t, f.sessions.IsAuthenticated())
}

func (f *fixture) register(t *testing.T, app, password string) *vault.Record {
	t.Helper()
	rec, err := f.client.RegisterRecord(t.Context(), vault.NewRecord{
		AppName:        app,
		Username:       "alice",
		Password:       password,
		MasterPassword: testPassword,
	})
	require.NoError(t, err)
	return rec
}

func TestNewRejectsBadURL(t *testing.T) {
	m, err := session.NewManager()
	require.NoError(t, err)
	for _, u := range []string{"", "127.0.0.1:5000", "ftp://example.com"} {
		_, err := api.New(u, m)
		assert.Error(t, err, u)
	}
	_, err = api.New("http://127.0.0.1:5000", nil)
	assert.Error(t, err)
}

func TestBaseURLTrimmed(t *testing.T) {
	f := setup(t)
	assert.Equal(t, f.srv.URL, f.client.BaseURL())
}

func TestLoginInstallsToken(t *testing.T) {
	f := setup(t)
	f.signupAndLogin(t)

	exp, ok := f.sessions.ExpiresAt()
	require.True(t, ok)
	assert.True(t, exp.After(f.clock()))
}

func TestLoginErrors(t *testing.T) {
	f := setup(t)
	ctx := t.Context()

	_, err := f.client.Signup(ctx, vault.Signup{Email: testEmail, MasterPassword: testPassword})
	require.NoError(t, err)

	err = f.client.Login(ctx, vault.Login{Email: testEmail, MasterPassword: testPassword})
	assert.ErrorIs(t, err, api.ErrEmailUnverified)

	_, err = f.client.VerifyEmail(ctx, f.verificationToken(testEmail))
	require.NoError(t, err)

	err = f.client.Login(ctx, vault.Login{Email: testEmail, MasterPassword: "wrong wrong wrong"})
	assert.ErrorIs(t, err, api.ErrInvalidCredentials)
	assert.False(t, f.sessions.IsAuthenticated())

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, api.CodeInvalidCredentials, apiErr.Code)
}

func TestFailedLoginEndsExistingSession(t *testing.T) {
	f := setup(t)
	f.signupAndLogin(t)
	var got []session.Event
	f.sessions.Subscribe(func(e session.Event) { got = append(got, e) })

	err := f.client.Login(t.Context(), vault.Login{Email: testEmail, MasterPassword: "wrong wrong wrong"})
	assert.ErrorIs(t, err, api.ErrInvalidCredentials)
	assert.False(t, f.sessions.IsAuthenticated())
	assert.Equal(t, []session.Event{session.EventExpired}, got)
}

func TestFailedLoginWithoutSessionEmitsNothing(t *testing.T) {
	f := setup(t)
	f.signupAndLogin(t)
	f.client.Logout()
	events := 0
	f.sessions.Subscribe(func(session.Event) { events++ })

	err := f.client.Login(t.Context(), vault.Login{Email: testEmail, MasterPassword: "wrong wrong wrong"})
	assert.ErrorIs(t, err, api.ErrInvalidCredentials)
	assert.False(t, f.sessions.IsAuthenticated())
	assert.Zero(t, events)
}

func TestClientValidationShortCircuits(t *testing.T) {
	f := setup(t)
	ctx := t.Context()

	_, err := f.client.Signup(ctx, vault.Signup{Email: testEmail, MasterPassword: "short"})
	assert.ErrorIs(t, err, vault.ErrValidation)

	_, err = f.client.VerifyEmail(ctx, "  ")
	assert.ErrorIs(t, err, vault.ErrValidation)

	err = f.client.Login(ctx, vault.Login{Email: "nope", MasterPassword: "x"})
	assert.ErrorIs(t, err, vault.ErrValidation)
}

func TestSignupConflict(t *testing.T) {
	f := setup(t)
	f.signupAndLogin(t)
	_, err := f.client.Signup(t.Context(), vault.Signup{Email: testEmail, MasterPassword: testPassword})
	assert.ErrorIs(t, err, api.ErrConflict)
}

func TestVerifyBadToken(t *testing.T) {
	f := setup(t)
	_, err := f.client.VerifyEmail(t.Context(), "NOT-A-TOKEN")
	assert.ErrorIs(t, err, vault.ErrValidation)
}

func TestAuthenticatedCallsRequireSession(t *testing.T) {
	f := setup(t)
	_, err := f.client.ListRecords(t.Context())
	assert.ErrorIs(t, err, api.ErrNotAuthenticated)

	_, err = f.client.RequestReveal(t.Context(), "abc", testPassword)
	assert.ErrorIs(t, err, api.ErrNotAuthenticated)
}

func TestRegisterListGet(t *testing.T) {
	f := setup(t)
	f.signupAndLogin(t)
	ctx := t.Context()

	gh := f.register(t, "GitHub", "gh-secret")
	f.register(t, "Gmail", "gm-secret")

	records, err := f.client.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "GitHub", records[0].AppName)

	rec, err := f.client.GetRecord(ctx, gh.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Username)

	_, err = f.client.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, api.ErrNotFound)

	_, err = f.client.GetRecord(ctx, "../etc")
	assert.ErrorIs(t, err, vault.ErrValidation)
}

func TestRegisterWrongMasterPassword(t *testing.T) {
	f := setup(t)
	f.signupAndLogin(t)

	_, err := f.client.RegisterRecord(t.Context(), vault.NewRecord{
		AppName:        "GitHub",
		Password:       "pw",
		MasterPassword: "not it",
	})
	assert.ErrorIs(t, err, api.ErrInvalidFactor)
	assert.True(t, f.sessions.IsAuthenticated())
}

func TestListWritesThroughCache(t *testing.T) {
	f := setup(t)
	f.signupAndLogin(t)
	f.register(t, "GitHub", "gh-secret")

	_, err := f.client.CachedRecords()
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.client.ListRecords(t.Context())
	require.NoError(t, err)

	snap, err := f.client.CachedRecords()
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "GitHub", snap.Records[0].AppName)

	f.client.Logout()
	assert.False(t, f.sessions.IsAuthenticated())
	_, err = f.client.CachedRecords()
	assert.ErrorIs(t, err, storage.ErrNotFound, "logout purges cached records")
}

func TestRequestReveal(t *testing.T) {
	f := setup(t)
	f.signupAndLogin(t)
	rec := f.register(t, "GitHub", "gh-secret")

	buf, err := f.client.RequestReveal(t.Context(), rec.ID, testPassword)
	require.NoError(t, err)
	defer buf.Destroy()
	assert.Equal(t, "gh-secret", string(buf.Bytes()))
}

func TestRequestRevealInvalidFactorKeepsSession(t *testing.T) {
	f := setup(t)
	f.signupAndLogin(t)
	rec := f.register(t, "GitHub", "gh-secret")

	_, err := f.client.RequestReveal(t.Context(), rec.ID, "wrong")
	assert.ErrorIs(t, err, api.ErrInvalidFactor)
	assert.False(t, errors.Is(err, api.ErrSessionExpired))
	assert.True(t, f.sessions.IsAuthenticated())
}

func TestRequestRevealNotFound(t *testing.T) {
	f := setup(t)
	f.signupAndLogin(t)
	_, err := f.client.RequestReveal(t.Context(), "missing", testPassword)
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestRequestRevealBlankFactor(t *testing.T) {
	f := setup(t)
	f.signupAndLogin(t)
	_, err := f.client.RequestReveal(t.Context(), "any", " \t")
	assert.ErrorIs(t, err, vault.ErrValidation)
}

func TestExpiredTokenEndsSession(t *testing.T) {
	f := setup(t, devserver.WithTokenTTL(time.Minute))
	f.signupAndLogin(t)
	rec := f.register(t, "GitHub", "gh-secret")
	_, err := f.client.ListRecords(t.Context())
	require.NoError(t, err)

	var got []session.Event
	f.sessions.Subscribe(func(e session.Event) { got = append(got, e) })

	f.advance(2 * time.Minute)
	_, err = f.client.RequestReveal(t.Context(), rec.ID, testPassword)
	assert.ErrorIs(t, err, api.ErrSessionExpired)
	assert.False(t, f.sessions.IsAuthenticated())
	assert.Equal(t, []session.Event{session.EventExpired}, got)

	_, err = f.client.CachedRecords()
	assert.ErrorIs(t, err, storage.ErrNotFound, "expiry purges cached records")
}

func TestRequestHeaders(t *testing.T) {
	var gotAuth, gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"1","app_name":"Legacy","created_at":"2024-05-01T10:00:00"}]`))
	}))
	defer srv.Close()

	m, err := session.NewManager()
	require.NoError(t, err)
	m.SetSession("tok-123")
	c, err := api.New(srv.URL, m)
	require.NoError(t, err)
	defer c.Close()

	records, err := c.ListRecords(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Len(t, gotID, 36)
	require.Len(t, records, 1, "a bare array response is accepted")
	assert.Equal(t, 2024, records[0].CreatedAt.Year())

	_, err = c.CachedRecords()
	assert.ErrorIs(t, err, storage.ErrNotFound, "no cache configured")
}

func TestErrorBodyFallbacks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"token":"legacy-token"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"message":"upstream down"}`))
		}
	}))
	defer srv.Close()

	m, err := session.NewManager()
	require.NoError(t, err)
	c, err := api.New(srv.URL, m)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Login(t.Context(), vault.Login{Email: testEmail, MasterPassword: "x"}))
	tok, _ := m.CurrentToken()
	assert.Equal(t, "legacy-token", tok)

	_, err = c.ListRecords(t.Context())
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.True(t, m.IsAuthenticated(), "only 401 ends the session")
}

func TestRateLimitedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down","code":"rate_limited"}`))
	}))
	defer srv.Close()

	m, err := session.NewManager()
	require.NoError(t, err)
	m.SetSession("tok")
	c, err := api.New(srv.URL, m)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.RequestReveal(t.Context(), "rec", "factor")
	assert.ErrorIs(t, err, api.ErrRateLimited)
	assert.Contains(t, err.Error(), "slow down")
}
