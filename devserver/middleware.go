package devserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmcleod/passvault/internal/uuid"
)

type contextKey int

const accountIDKey contextKey = iota

const requestIDHeader = "X-Request-ID"

// authMiddleware requires a valid bearer token and stores the account id
// it names on the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeError(w, http.StatusUnauthorized, codeInvalidToken, "authentication required")
			return
		}
		accountID, err := s.tokens.verify(strings.TrimSpace(raw))
		if err != nil {
			s.audit.logFailure(AuditTokenRejected, r, "invalid token")
			writeError(w, http.StatusUnauthorized, codeInvalidToken, "invalid or expired token")
			return
		}
		if _, err := s.store.accountByID(accountID); err != nil {
			writeError(w, http.StatusUnauthorized, codeInvalidToken, "unknown account")
			return
		}
		ctx := context.WithValue(r.Context(), accountIDKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(accountIDKey).(string)
	return id
}

// echoRequestID copies the caller's request id onto the response. Ids
// that are not UUIDs are replaced so audit entries stay well formed.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !uuid.Valid(id) {
			id = uuid.New()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// securityHeaders sets standard security response headers on every
// response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
