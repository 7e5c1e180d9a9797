package cmd

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/passvault/api"
	"github.com/jmcleod/passvault/config"
	"github.com/jmcleod/passvault/devserver"
	"github.com/jmcleod/passvault/internal/util"
	"github.com/jmcleod/passvault/reveal"
	"github.com/jmcleod/passvault/session"
	"github.com/jmcleod/passvault/vault"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct horse battery"
	storedSecret = "gh-s3cret-pass"
)

var fastParams = util.Argon2idParams{Time: 1, MemoryKiB: 64, Parallelism: 1, KeyLen: 32}

func TestMain(m *testing.M) {
	// Keep output free of escape codes whatever terminal runs the tests.
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

type cli struct {
	dir string
	srv *httptest.Server

	mu     sync.Mutex
	tokens map[string]string
	now    time.Time
}

func (c *cli) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *cli) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *cli) verificationToken(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[email]
}

// newCLI starts a dev server and points the CLI at it through the
// environment, the way a user's shell would.
func newCLI(t *testing.T, opts ...devserver.Option) *cli {
	t.Helper()
	c := &cli{dir: t.TempDir(), tokens: make(map[string]string), now: time.Now().UTC()}
	opts = append([]devserver.Option{
		devserver.WithArgon2idParams(fastParams),
		devserver.WithClock(c.clock),
		devserver.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		devserver.WithSignupHook(func(email, token string) {
			c.mu.Lock()
			c.tokens[email] = token
			c.mu.Unlock()
		}),
	}, opts...)
	c.srv = httptest.NewServer(devserver.New(opts...).Router())
	t.Cleanup(c.srv.Close)

	t.Setenv(config.EnvAPIURL, c.srv.URL)
	t.Setenv(config.EnvLogLevel, "error")
	t.Setenv(config.EnvCachePath, "")
	t.Setenv(session.EnvVar, "")
	return c
}

type result struct {
	stdout string
	stderr string
	err    error
}

// run executes one CLI invocation as a separate process would: fresh
// command tree, fresh session manager loaded from the environment.
func (c *cli) run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	root, a := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", filepath.Join(c.dir, "config.toml")}, args...))

	err := root.ExecuteContext(t.Context())
	require.NoError(t, a.close())
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func (c *cli) signupAndLogin(t *testing.T) {
	t.Helper()
	r := c.run(t, testPassword+"\n"+testPassword+"\n", "signup", "-e", testEmail)
	require.NoError(t, r.err, r.stderr)
	r = c.run(t, "", "verify", c.verificationToken(testEmail))
	require.NoError(t, r.err, r.stderr)
	r = c.run(t, testPassword+"\n", "login", "-e", testEmail)
	require.NoError(t, r.err, r.stderr)
	require.NotEmpty(t, os.Getenv(session.EnvVar))
}

var storedID = regexp.MustCompile(`Stored \S+ \(([^)]+)\)`)

func (c *cli) add(t *testing.T, app string) string {
	t.Helper()
	r := c.run(t, storedSecret+"\n"+testPassword+"\n",
		"add", "--app", app, "--url", "https://github.com/login", "--username", "alice")
	require.NoError(t, r.err, r.stderr)
	m := storedID.FindStringSubmatch(r.stdout)
	require.Len(t, m, 2, r.stdout)
	return m[1]
}

func TestSignupVerifyLogin(t *testing.T) {
	c := newCLI(t)

	r := c.run(t, testPassword+"\n"+testPassword+"\n", "signup", "-e", testEmail)
	require.NoError(t, r.err)
	assert.NotEmpty(t, strings.TrimSpace(r.stdout))

	r = c.run(t, testPassword+"\n", "login", "-e", testEmail)
	require.Error(t, r.err)
	assert.ErrorIs(t, r.err, api.ErrEmailUnverified)
	assert.Equal(t, "Please verify your email before logging in", r.err.Error())
	assert.Empty(t, os.Getenv(session.EnvVar))

	r = c.run(t, "", "verify", c.verificationToken(testEmail))
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "verified")

	r = c.run(t, testEmail+"\n"+testPassword+"\n", "login")
	require.NoError(t, r.err)
	token := os.Getenv(session.EnvVar)
	require.NotEmpty(t, token)
	assert.Equal(t, "export "+session.EnvVar+"="+token+"\n", r.stdout)
	assert.Contains(t, r.stderr, "Logged in as "+testEmail)
}

func TestSignupMismatchedPasswords(t *testing.T) {
	c := newCLI(t)
	r := c.run(t, testPassword+"\nsomething else entirely\n", "signup", "-e", testEmail)
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "do not match")
}

func TestSignupValidation(t *testing.T) {
	c := newCLI(t)
	r := c.run(t, "short\nshort\n", "signup", "-e", testEmail)
	require.Error(t, r.err)
	assert.ErrorIs(t, r.err, vault.ErrValidation)
}

func TestSignupDuplicate(t *testing.T) {
	c := newCLI(t, devserver.WithAutoVerify(true))
	input := testPassword + "\n" + testPassword + "\n"
	require.NoError(t, c.run(t, input, "signup", "-e", testEmail).err)

	r := c.run(t, input, "signup", "-e", testEmail)
	assert.ErrorIs(t, r.err, api.ErrConflict)
}

func TestLoginWrongPassword(t *testing.T) {
	c := newCLI(t, devserver.WithAutoVerify(true))
	require.NoError(t, c.run(t, testPassword+"\n"+testPassword+"\n", "signup", "-e", testEmail).err)

	r := c.run(t, "not the password\n", "login", "-e", testEmail)
	assert.ErrorIs(t, r.err, api.ErrInvalidCredentials)
	assert.Equal(t, "Incorrect credentials", r.err.Error())
	assert.Empty(t, os.Getenv(session.EnvVar))
}

func TestLoginWrongPasswordEndsExistingSession(t *testing.T) {
	c := newCLI(t)
	c.signupAndLogin(t)

	r := c.run(t, "not the password\n", "login", "-e", testEmail)
	assert.ErrorIs(t, r.err, api.ErrInvalidCredentials)
	assert.Equal(t, "unset "+session.EnvVar+"\n", r.stdout)
	assert.Empty(t, os.Getenv(session.EnvVar))
}

func TestCommandsRequireLogin(t *testing.T) {
	c := newCLI(t)

	r := c.run(t, "", "list")
	assert.ErrorIs(t, r.err, api.ErrNotAuthenticated)
	assert.Contains(t, r.err.Error(), "passvault login")

	r = c.run(t, testPassword+"\n", "reveal", "some-id")
	assert.ErrorIs(t, r.err, errNotLoggedIn)

	r = c.run(t, "", "add", "--app", "GitHub")
	assert.ErrorIs(t, r.err, errNotLoggedIn)

	r = c.run(t, "", "show", "some-id")
	assert.ErrorIs(t, r.err, api.ErrNotAuthenticated)
}

func TestAddListShow(t *testing.T) {
	c := newCLI(t)
	c.signupAndLogin(t)
	id := c.add(t, "GitHub")
	c.add(t, "Gmail")

	r := c.run(t, "", "list")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "GitHub")
	assert.Contains(t, r.stdout, "Gmail")
	assert.Contains(t, r.stdout, id)
	assert.NotContains(t, r.stdout, storedSecret)

	r = c.run(t, "", "list", "--search", "git")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "GitHub")
	assert.NotContains(t, r.stdout, "Gmail")

	r = c.run(t, "", "list", "-s", "dropbox")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "No credentials found")

	r = c.run(t, "", "show", id)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "GitHub")
	assert.Contains(t, r.stdout, "https://github.com/login")
	assert.Contains(t, r.stdout, "alice")
	assert.NotContains(t, r.stdout, storedSecret)

	r = c.run(t, "", "show", "missing-id")
	assert.ErrorIs(t, r.err, api.ErrNotFound)
	assert.Equal(t, "Credential not found", r.err.Error())
}

func TestAddInteractive(t *testing.T) {
	c := newCLI(t)
	c.signupAndLogin(t)

	r := c.run(t, "Dropbox\n\nbob\n"+storedSecret+"\n"+testPassword+"\n", "add")
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, "Stored Dropbox")
	assert.Contains(t, r.stderr, "Login URL (optional)")
}

func TestAddWrongMasterPassword(t *testing.T) {
	c := newCLI(t)
	c.signupAndLogin(t)

	r := c.run(t, storedSecret+"\nwrong master password\n", "add", "--app", "GitHub")
	assert.ErrorIs(t, r.err, api.ErrInvalidFactor)
	assert.NotEmpty(t, os.Getenv(session.EnvVar), "a wrong master password keeps the session")
}

func TestReveal(t *testing.T) {
	c := newCLI(t)
	c.signupAndLogin(t)
	id := c.add(t, "GitHub")

	r := c.run(t, testPassword+"\n\n", "reveal", id)
	require.NoError(t, r.err, r.stderr)
	assert.Equal(t, storedSecret+"\n", r.stdout)
	assert.Contains(t, r.stderr, "Password hidden")
}

func TestRevealEndOfInputHides(t *testing.T) {
	c := newCLI(t)
	c.signupAndLogin(t)
	id := c.add(t, "GitHub")

	r := c.run(t, testPassword, "reveal", id)
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, storedSecret)
	assert.Contains(t, r.stderr, "Password hidden")
}

func TestRevealErrors(t *testing.T) {
	c := newCLI(t)
	c.signupAndLogin(t)
	id := c.add(t, "GitHub")

	r := c.run(t, "wrong master password\n", "reveal", id)
	assert.ErrorIs(t, r.err, api.ErrInvalidFactor)
	assert.Equal(t, "Incorrect master password", r.err.Error())
	assert.NotEmpty(t, os.Getenv(session.EnvVar), "a wrong master password keeps the session")

	r = c.run(t, "\n", "reveal", id)
	assert.ErrorIs(t, r.err, reveal.ErrEmptyFactor)
	assert.Equal(t, "Enter your master password", r.err.Error())

	r = c.run(t, testPassword+"\n", "reveal", "no-such-record")
	assert.ErrorIs(t, r.err, api.ErrNotFound)
}

func TestExpiredSessionIsCleared(t *testing.T) {
	c := newCLI(t)
	c.signupAndLogin(t)
	c.advance(time.Hour)

	r := c.run(t, "", "list")
	assert.ErrorIs(t, r.err, api.ErrSessionExpired)
	assert.Equal(t, "Your session has expired. Log in again.", r.err.Error())
	assert.Empty(t, os.Getenv(session.EnvVar))

	r = c.run(t, "", "list")
	assert.ErrorIs(t, r.err, api.ErrNotAuthenticated)
}

func TestLogout(t *testing.T) {
	c := newCLI(t)
	c.signupAndLogin(t)

	r := c.run(t, "", "logout")
	require.NoError(t, r.err)
	assert.Equal(t, "unset "+session.EnvVar+"\n", r.stdout)
	assert.Empty(t, os.Getenv(session.EnvVar))

	r = c.run(t, "", "list")
	assert.ErrorIs(t, r.err, api.ErrNotAuthenticated)
}

func TestStatus(t *testing.T) {
	c := newCLI(t)

	r := c.run(t, "", "status")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, c.srv.URL)
	assert.Contains(t, r.stdout, "not logged in")

	c.signupAndLogin(t)
	r = c.run(t, "", "status")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "active")
	assert.Contains(t, r.stdout, "expires in")
}

func TestOfflineListUsesDiskCache(t *testing.T) {
	c := newCLI(t)
	t.Setenv(config.EnvCachePath, filepath.Join(c.dir, "cache", "records.db"))
	c.signupAndLogin(t)
	c.add(t, "GitHub")

	r := c.run(t, "", "list", "--offline")
	require.Error(t, r.err, "nothing cached before the first online list")
	assert.Contains(t, r.err.Error(), "no cached records")

	require.NoError(t, c.run(t, "", "list").err)

	c.srv.Close()
	r = c.run(t, "", "list", "--offline")
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, "GitHub")
	assert.Contains(t, r.stderr, "Cached")

	r = c.run(t, "", "status")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "Cache:    1 records")

	require.NoError(t, c.run(t, "", "logout").err)
	r = c.run(t, "", "list", "--offline")
	require.Error(t, r.err, "logout purges the cache")
}

func TestConfigOverrides(t *testing.T) {
	c := newCLI(t)

	r := c.run(t, "", "--api-url", "ftp://example.com", "status")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "api_url")

	r = c.run(t, "", "--log-level", "loud", "status")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "log_level")

	require.NoError(t, os.WriteFile(filepath.Join(c.dir, "config.toml"), []byte("timeout_seconds = 0\n"), 0o600))
	r = c.run(t, "", "status")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "timeout_seconds")
}

func TestShell(t *testing.T) {
	c := newCLI(t)
	c.signupAndLogin(t)
	id := c.add(t, "GitHub")
	require.NoError(t, c.run(t, "", "logout").err)

	script := strings.Join([]string{
		"list",
		"login " + testEmail,
		testPassword,
		"status",
		"list git",
		"show " + id,
		"reveal",
		"wrong master password",
		"reveal",
		testPassword,
		"hide",
		"reveal " + id,
		testPassword,
		"list",
		"frobnicate",
		"logout",
		"list",
		"exit",
	}, "\n") + "\n"

	r := c.run(t, script, "shell")
	require.NoError(t, r.err, r.stderr)
	out := r.stdout

	assert.Contains(t, out, "Interactive Shell")
	assert.Contains(t, out, "Logged in as "+testEmail)
	assert.Contains(t, out, "expires in")
	assert.Contains(t, out, "https://github.com/login")
	assert.Contains(t, out, "Error: Incorrect master password")
	assert.Equal(t, 2, strings.Count(out, "Password: "+storedSecret))
	assert.Equal(t, 2, strings.Count(out, "[password for "+id+" hidden]"),
		"hide and navigating to the list both wipe the password")
	assert.Contains(t, out, `Error: unknown command "frobnicate"`)
	assert.Contains(t, out, "Logged out")
	assert.Contains(t, out, `Error: not logged in: run "passvault login" first`)
	assert.Empty(t, os.Getenv(session.EnvVar), "the shell leaves no session behind after logout")
}

func TestShellEndOfInput(t *testing.T) {
	c := newCLI(t)
	r := c.run(t, "help\n", "shell")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "reveal [id]")
}

func TestShellSessionEndHidesPassword(t *testing.T) {
	c := newCLI(t)
	c.signupAndLogin(t)
	id := c.add(t, "GitHub")

	script := "reveal " + id + "\n" + testPassword + "\nlogout\nexit\n"
	r := c.run(t, script, "shell")
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, "Password: "+storedSecret)
	assert.Contains(t, r.stdout, "[password for "+id+" hidden]")
}

func TestDevServerHandler(t *testing.T) {
	srv := httptest.NewServer(devServerHandler(devserver.New(
		devserver.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDevServerFlagValidation(t *testing.T) {
	c := newCLI(t)
	r := c.run(t, "", "devserver", "--tls-cert", "cert.pem")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "--tls-key")

	r = c.run(t, "", "devserver", "--sweep-interval", "0s")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "sweep-interval")
}

type scriptedAsker struct {
	answers []string
	asked   []string
}

func (s *scriptedAsker) next(label string) (string, error) {
	s.asked = append(s.asked, label)
	if len(s.answers) == 0 {
		return "", io.EOF
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func (s *scriptedAsker) ask(label string) (string, error)       { return s.next(label) }
func (s *scriptedAsker) askSecret(label string) (string, error) { return s.next(label) }

func TestPromptNewRecord(t *testing.T) {
	t.Run("flags skip optional prompts", func(t *testing.T) {
		q := &scriptedAsker{answers: []string{"pw", "master"}}
		req, err := promptNewRecord(q, addFlags{app: "GitHub"})
		require.NoError(t, err)
		assert.Equal(t, vault.NewRecord{AppName: "GitHub", Password: "pw", MasterPassword: "master"}, req)
		assert.Len(t, q.asked, 2)
	})

	t.Run("prompts for everything", func(t *testing.T) {
		q := &scriptedAsker{answers: []string{"GitHub", "https://github.com", "alice", "pw", "master"}}
		req, err := promptNewRecord(q, addFlags{})
		require.NoError(t, err)
		assert.Equal(t, vault.NewRecord{
			AppName:        "GitHub",
			LoginURL:       "https://github.com",
			Username:       "alice",
			Password:       "pw",
			MasterPassword: "master",
		}, req)
	})

	t.Run("end of input", func(t *testing.T) {
		_, err := promptNewRecord(&scriptedAsker{}, addFlags{})
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestExplain(t *testing.T) {
	assert.NoError(t, explain(nil))

	assert.Equal(t, io.ErrUnexpectedEOF, explain(io.ErrUnexpectedEOF))

	err := explain(api.ErrRateLimited)
	assert.Equal(t, "Too many attempts. Try again later.", err.Error())
	assert.ErrorIs(t, err, api.ErrRateLimited)
}
