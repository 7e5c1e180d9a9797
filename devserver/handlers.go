package devserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/passvault/api"
	"github.com/jmcleod/passvault/internal/util"
	"github.com/jmcleod/passvault/vault"
)

// Signup handles POST /auth/signup.
func (s *Server) Signup(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[vault.Signup](w, r)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		mapError(w, err)
		return
	}

	acct, err := s.store.createAccount(req.Email, req.MasterPassword, s.autoVerify)
	if err != nil {
		if errors.Is(err, errEmailTaken) {
			mapError(w, err)
			return
		}
		writeInternalError(w, s.logger, "failed to create account", err)
		return
	}
	if !acct.Verified && s.onSignup != nil {
		s.onSignup(acct.Email, acct.VerifyToken)
	}

	s.audit.logEvent(AuditSignup, r, acct.ID)
	msg := "account created; check your email to verify your address"
	if acct.Verified {
		msg = "account created"
	}
	writeJSON(w, http.StatusCreated, api.MessageResponse{Message: msg})
}

// VerifyEmail handles GET /auth/verify?token=.
func (s *Server) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, codeInvalidToken, "token is required")
		return
	}
	acct, err := s.store.verifyEmail(token)
	if err != nil {
		mapError(w, err)
		return
	}
	s.audit.logEvent(AuditEmailVerified, r, acct.ID)
	writeJSON(w, http.StatusOK, api.MessageResponse{Message: "email verified; you can now log in"})
}

// Login handles POST /auth/login.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[vault.Login](w, r)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		mapError(w, err)
		return
	}

	email := normalizeEmail(req.Email)
	ip := clientIP(r)

	// Check rate limits before any expensive work: IP, then account.
	if blocked, retryAfter := s.ipLimiter.check(ip); blocked {
		s.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited",
			slog.String("client_ip", ip))
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := s.loginLimiter.check(email); blocked {
		s.audit.logFailure(AuditLoginRateLimited, r, "account rate limited")
		writeRateLimited(w, retryAfter)
		return
	}

	recordLoginFailure := func() {
		s.ipLimiter.recordFailure(ip)
		s.loginLimiter.recordFailure(email)
	}

	acct, err := s.store.accountByEmail(email)
	if err != nil {
		recordLoginFailure()
		s.audit.logFailure(AuditLoginFailure, r, "account not found")
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials")
		return
	}
	keys, err := s.store.unlock(acct, req.MasterPassword)
	if err != nil {
		recordLoginFailure()
		s.audit.logFailure(AuditLoginFailure, r, "invalid master password",
			slog.String("account_id", acct.ID))
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials")
		return
	}
	keys.Wipe()

	if !acct.Verified {
		s.audit.logFailure(AuditLoginFailure, r, "email unverified",
			slog.String("account_id", acct.ID))
		writeError(w, http.StatusForbidden, codeEmailUnverified, "verify your email address before logging in")
		return
	}

	// Login succeeded; clear rate-limit state.
	s.loginLimiter.recordSuccess(email)
	s.ipLimiter.recordSuccess(ip)

	token, exp, err := s.tokens.issue(acct.ID)
	if err != nil {
		writeInternalError(w, s.logger, "failed to issue token", err)
		return
	}
	s.audit.logEvent(AuditLoginSuccess, r, acct.ID)
	writeJSON(w, http.StatusOK, api.LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(exp.Sub(s.now()).Seconds()),
	})
}

// ListRecords handles GET /vault/list.
func (s *Server) ListRecords(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, api.ListResponse{Items: s.store.listRecords(accountID)})
}

// GetRecord handles GET /vault/detail/{id}.
func (s *Server) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := vault.ValidateID(id); err != nil {
		mapError(w, err)
		return
	}
	rec, err := s.store.record(accountIDFromContext(r.Context()), id)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Record)
}

// RevealRecord handles POST /vault/reveal/{id}. The master password is
// checked again and used to derive the key that opens the record.
func (s *Server) RevealRecord(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := vault.ValidateID(id); err != nil {
		mapError(w, err)
		return
	}
	req, ok := decodeJSON[api.RevealRequest](w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.MasterPassword) == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "master_password is required")
		return
	}

	if blocked, retryAfter := s.revealLimiter.check(accountID); blocked {
		s.audit.logFailure(AuditRevealRateLimited, r, "reveal rate limited",
			slog.String("account_id", accountID))
		writeRateLimited(w, retryAfter)
		return
	}

	rec, err := s.store.record(accountID, id)
	if err != nil {
		mapError(w, err)
		return
	}
	acct, err := s.store.accountByID(accountID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeInvalidToken, "unknown account")
		return
	}
	keys, err := s.store.unlock(acct, req.MasterPassword)
	if err != nil {
		if errors.Is(err, errWrongMasterPassword) {
			s.revealLimiter.recordFailure(accountID)
			s.audit.logFailure(AuditRevealFailure, r, "invalid master password",
				slog.String("account_id", accountID), slog.String("record_id", id))
		}
		mapError(w, err)
		return
	}
	defer keys.Wipe()

	plain, err := s.store.reveal(rec, keys)
	if err != nil {
		writeInternalError(w, s.logger, "failed to open record", err)
		return
	}
	defer util.WipeBytes(plain)

	s.revealLimiter.recordSuccess(accountID)
	s.audit.logEvent(AuditSecretRevealed, r, accountID, slog.String("record_id", id))
	writeJSON(w, http.StatusOK, api.RevealResponse{Password: string(plain)})
}

// RegisterRecord handles POST /vault/register.
func (s *Server) RegisterRecord(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())
	req, ok := decodeJSON[vault.NewRecord](w, r)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		mapError(w, err)
		return
	}
	acct, err := s.store.accountByID(accountID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeInvalidToken, "unknown account")
		return
	}
	keys, err := s.store.unlock(acct, req.MasterPassword)
	if err != nil {
		mapError(w, err)
		return
	}
	defer keys.Wipe()

	rec, err := s.store.addRecord(acct, keys, req)
	if err != nil {
		writeInternalError(w, s.logger, "failed to store record", err)
		return
	}
	s.audit.logEvent(AuditRecordCreated, r, accountID, slog.String("record_id", rec.ID))
	writeJSON(w, http.StatusCreated, rec)
}
