package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type tokenMessages struct {
	required string
	invalid  string
	session  string
}

var (
	accessMessages = tokenMessages{
		required: "Access token required",
		invalid:  "Access token invalid or expired",
		session:  "Access session not found or invalidated",
	}
	refreshMessages = tokenMessages{
		required: "Refresh token required",
		invalid:  "Refresh token invalid or expired",
		session:  "Refresh session not found or invalidated",
	}
)

// authCheck requires a valid access token bound to an active session.
func (a *API) authCheck(next http.Handler) http.Handler {
	return a.withToken(auth.ModeAccess, accessMessages, next)
}

// authRefresh requires a valid refresh token bound to an active session.
func (a *API) authRefresh(next http.Handler) http.Handler {
	return a.withToken(auth.ModeRefresh, refreshMessages, next)
}

func (a *API) withToken(mode auth.TokenMode, msg tokenMessages, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r.Header.Get(authHeader))
		if !ok {
			respondError(w, http.StatusUnauthorized, msg.required, map[string]any{})
			return
		}
		principal, err := a.service.Authenticate(r.Context(), token, mode)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenInvalid):
				respondError(w, http.StatusUnauthorized, msg.invalid, map[string]any{})
			case errors.Is(err, auth.ErrSessionInvalid):
				respondError(w, http.StatusUnauthorized, msg.session, map[string]any{})
			case errors.Is(err, auth.ErrSessionInactive):
				respondError(w, http.StatusUnauthorized, "Session is inactive", map[string]any{})
			default:
				obs.FromContext(r.Context()).Error("authenticate", "error", err)
				respondError(w, http.StatusInternalServerError, "Internal server error", nil)
			}
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearer) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	return token, token != ""
}

// guard runs allowed against the request principal. It answers 401 without
// a principal and 403 with denied when allowed returns false.
func guard(denied string, allowed func(auth.PermissionSet) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok || principal.User == nil {
				respondError(w, http.StatusUnauthorized, "Authentication required", nil)
				return
			}
			if !allowed(principal.Permissions()) {
				respondError(w, http.StatusForbidden, denied, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requirePermission(resource, action string) func(http.Handler) http.Handler {
	return guard(fmt.Sprintf("Insufficient permissions. Required: %s:%s", resource, action),
		func(ps auth.PermissionSet) bool { return ps.Has(resource, action) })
}

func requireAllPermissions(required map[string][]string) func(http.Handler) http.Handler {
	return guard("Insufficient permissions",
		func(ps auth.PermissionSet) bool { return ps.HasAll(required) })
}

func requireAnyPermission(required map[string][]string) func(http.Handler) http.Handler {
	return guard("Insufficient permissions",
		func(ps auth.PermissionSet) bool { return ps.HasAnyOf(required) })
}

func requireResourceAccess(resource string) func(http.Handler) http.Handler {
	return guard("No access to resource: "+resource,
		func(ps auth.PermissionSet) bool { return ps.HasAnyFor(resource) })
}
