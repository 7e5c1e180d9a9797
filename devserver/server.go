// Package devserver is a self-contained implementation of the password
// service used for local development and integration tests.
//
// Accounts are protected by an argon2id-derived verifier. Each account's
// passwords are sealed with AES-GCM under a record key derived from the
// same master password, so a reveal needs the master password again.
// Access tokens are short-lived HS256 JWTs. Everything lives in memory.
package devserver

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/passvault/internal/util"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Server holds the state behind the dev service's handlers.
type Server struct {
	store         *store
	tokens        *tokenAuthority
	loginLimiter  *failureLimiter
	ipLimiter     *failureLimiter
	revealLimiter *failureLimiter
	audit         *auditLogger
	logger        *slog.Logger

	params     util.Argon2idParams
	tokenTTL   time.Duration
	autoVerify bool
	onSignup   func(email, token string)
	onAlert    AlertFunc
	now        func() time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger for request and audit events.
// If not set, a JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTokenTTL sets the lifetime of issued access tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) { s.tokenTTL = d }
}

// WithAutoVerify marks new accounts as verified at signup.
func WithAutoVerify(on bool) Option {
	return func(s *Server) { s.autoVerify = on }
}

// WithArgon2idParams overrides the key derivation cost. Tests use cheap
// parameters.
func WithArgon2idParams(p util.Argon2idParams) Option {
	return func(s *Server) { s.params = p }
}

// WithSignupHook is called with each new account's verification token. It
// stands in for sending the verification email.
func WithSignupHook(fn func(email, token string)) Option {
	return func(s *Server) { s.onSignup = fn }
}

// WithAlertFunc receives anomaly alerts raised from the audit stream. If
// not set, alerts are logged at warn level.
func WithAlertFunc(fn AlertFunc) Option {
	return func(s *Server) { s.onAlert = fn }
}

// WithClock sets the time source for tokens, rate limiting and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a Server.
func New(opts ...Option) *Server {
	s := &Server{
		params:   util.DefaultArgon2idParams(),
		tokenTTL: defaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	s.logger = s.logger.With("component", "devserver")
	if s.onAlert == nil {
		logger := s.logger
		s.onAlert = func(a Alert) {
			logger.Warn("security alert",
				slog.String("type", string(a.Type)),
				slog.String("message", a.Message),
				slog.Int("count", a.Count),
				slog.Int("threshold", a.Threshold),
			)
		}
	}
	s.audit = newAuditLogger(s.logger, s.now, newAlertMonitor(s.onAlert, s.now))
	s.store = newStore(s.params, s.now)
	s.tokens = newTokenAuthority(s.tokenTTL, s.now)
	s.loginLimiter = newFailureLimiter(loginMaxFailures, baseLockout, maxLockout, s.now)
	s.ipLimiter = newFailureLimiter(ipMaxFailures, baseLockout, ipMaxLockout, s.now)
	s.revealLimiter = newFailureLimiter(revealMaxFailures, baseLockout, maxLockout, s.now)
	return s
}

// Router returns a chi.Router with every route mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)
	r.Use(echoRequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", s.Signup)
		r.Get("/verify", s.VerifyEmail)
		r.Post("/login", s.Login)
	})

	r.Route("/vault", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/list", s.ListRecords)
		r.Get("/detail/{id}", s.GetRecord)
		r.Post("/reveal/{id}", s.RevealRecord)
		r.Post("/register", s.RegisterRecord)
	})

	return r
}

// Sweep drops expired rate-limit state. Call periodically.
func (s *Server) Sweep() {
	s.loginLimiter.sweep()
	s.ipLimiter.sweep()
	s.revealLimiter.sweep()
}
