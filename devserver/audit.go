package devserver

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditSignup            AuditEvent = "signup"
	AuditEmailVerified     AuditEvent = "email_verified"
	AuditLoginSuccess      AuditEvent = "login_success"
	AuditLoginFailure      AuditEvent = "login_failure"
	AuditLoginRateLimited  AuditEvent = "login_rate_limited"
	AuditRecordCreated     AuditEvent = "record_created"
	AuditSecretRevealed    AuditEvent = "secret_revealed"
	AuditRevealFailure     AuditEvent = "reveal_failure"
	AuditRevealRateLimited AuditEvent = "reveal_rate_limited"
	AuditTokenRejected     AuditEvent = "token_rejected"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Every event is also fed to the alert monitor.
type auditLogger struct {
	logger *slog.Logger
	now    func() time.Time
	alerts *alertMonitor
}

func newAuditLogger(logger *slog.Logger, now func() time.Time, alerts *alertMonitor) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
		now:    now,
		alerts: alerts,
	}
}

// log writes a structured audit log entry.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}
	if id := r.Header.Get(requestIDHeader); id != "" {
		baseAttrs = append(baseAttrs, slog.String("request_id", id))
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	al.alerts.record(event)
}

// logEvent is a convenience for events with an account ID.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, accountID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("account_id", accountID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a refused request.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
