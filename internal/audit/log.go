package audit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Audit event names.
const (
	EventLoginChallenged = "auth.login.challenged"
	EventLoginFailed     = "auth.login.failed"
	EventLoginLocked     = "auth.login.locked"
	EventLoginCompleted  = "auth.login.completed"
	EventOTPResent       = "auth.otp.resent"
	EventLogout          = "auth.logout"
	EventRefresh         = "auth.refresh"
	EventSessionsRevoked = "auth.sessions.revoked"
	EventPasswordChanged = "auth.password.changed"
	EventUserCreated     = "auth.user.created"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the identifier stored by WithRequestID.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit record through the request logger, enriched with
// request and user context. Fields are grouped under "fields".
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}
	attrs := []any{slog.String("type", "audit"), slog.String("event", event)}
	if rid := RequestID(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	group := make([]any, 0, len(keys))
	for _, k := range keys {
		group = append(group, slog.Any(k, fields[k]))
	}
	attrs = append(attrs, slog.Group("fields", group...))

	obs.FromContext(ctx).InfoContext(ctx, "audit", attrs...)
	return nil
}
