package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

type userView struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	RoleID     string `json:"roleId,omitempty"`
	MFAEnabled *bool  `json:"mfa_enabled,omitempty"`
	Status     string `json:"status,omitempty"`
}

func viewUser(u *auth.User) userView {
	return userView{ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName, RoleID: u.RoleID}
}

type tokensView struct {
	Auth    string `json:"auth"`
	Refresh string `json:"refresh"`
}

type sessionResult struct {
	User      userView   `json:"user"`
	Tokens    tokensView `json:"tokens"`
	ExpiresIn time.Time  `json:"expiresIn"`
}

func viewLogin(res auth.LoginResult) sessionResult {
	return sessionResult{
		User:      viewUser(res.User),
		Tokens:    tokensView{Auth: res.Tokens.AccessToken, Refresh: res.Tokens.RefreshToken},
		ExpiresIn: res.Tokens.AccessExpiresAt.UTC(),
	}
}

type sessionView struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"userAgent,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	LastUsed  time.Time `json:"lastUsed"`
	CreatedAt time.Time `json:"createdAt"`
	Current   bool      `json:"current"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "Validation failed", FieldErrors{"body": {err.Error()}})
		return
	}
	if errs := req.validate(); len(errs) > 0 {
		respondError(w, http.StatusUnprocessableEntity, "Validation failed", errs)
		return
	}

	ctx := r.Context()
	challenge, err := a.service.Login(ctx, req.Email, req.Password)
	if err != nil {
		var locked *auth.LockedError
		switch {
		case errors.As(err, &locked):
			_ = audit.LogEvent(ctx, audit.EventLoginLocked, map[string]any{"email": auth.NormalizeEmail(req.Email)})
			respondError(w, http.StatusUnauthorized, locked.Error(), nil)
		case errors.Is(err, auth.ErrUnknownAccount):
			respondError(w, http.StatusForbidden, "Invalid combination of credentials", nil)
		case errors.Is(err, auth.ErrInvalidCredentials):
			_ = audit.LogEvent(ctx, audit.EventLoginFailed, map[string]any{"email": auth.NormalizeEmail(req.Email)})
			respondError(w, http.StatusUnauthorized, "Invalid combination of credentials", nil)
		case errors.Is(err, auth.ErrNotImplemented):
			respondError(w, http.StatusNotImplemented, "Google Authenticator not implemented", nil)
		default:
			obs.FromContext(ctx).Error("login", "error", err)
			respondError(w, http.StatusInternalServerError, "An error occurred during login", nil)
		}
		return
	}
	_ = audit.LogEvent(ctx, audit.EventLoginChallenged, map[string]any{
		"email":      challenge.Email,
		"expires_at": challenge.ExpiresAt.UTC().Format(time.RFC3339),
	})
	respondSuccess(w, "OTP sent successfully", map[string]any{
		"reference": challenge.Reference,
		"user":      map[string]string{"email": challenge.Email},
	})
}

// otpFailure maps verification errors shared by validate and resend.
func otpFailure(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, auth.ErrOTPNotFound):
		respondError(w, http.StatusUnauthorized, "Invalid reference", nil)
	case errors.Is(err, auth.ErrOTPExpired):
		respondError(w, http.StatusUnauthorized, "OTP expired", nil)
	case errors.Is(err, auth.ErrOTPMismatch):
		respondError(w, http.StatusUnauthorized, "Invalid OTP", nil)
	case errors.Is(err, auth.ErrOTPTooFrequent):
		respondError(w, http.StatusTooManyRequests, "Please wait before requesting another OTP", nil)
	default:
		return false
	}
	return true
}

func (a *API) handleLoginValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Validation failed", FieldErrors{"body": {err.Error()}})
		return
	}
	if errs := req.validate(); len(errs) > 0 {
		respondError(w, http.StatusBadRequest, "Validation failed", errs)
		return
	}

	ctx := r.Context()
	res, err := a.service.ValidateLogin(ctx, req.Reference, req.Code, auth.DeviceMeta{
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
	})
	if err != nil {
		if otpFailure(w, err) {
			return
		}
		if errors.Is(err, auth.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, "User not found", nil)
			return
		}
		obs.FromContext(ctx).Error("login validate", "error", err)
		respondError(w, http.StatusInternalServerError, "An error occurred during login validation", nil)
		return
	}
	ctx = auth.ContextWithPrincipal(ctx, auth.NewPrincipal(res.User, nil, res.Session, auth.ModeAccess))
	_ = audit.LogEvent(ctx, audit.EventLoginCompleted, map[string]any{
		"session_id": res.Session.ID,
		"user_id":    res.User.ID,
	})
	respondSuccess(w, "Login successful", viewLogin(res))
}

func (a *API) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Validation failed", FieldErrors{"body": {err.Error()}})
		return
	}
	if errs := req.validate(); len(errs) > 0 {
		respondError(w, http.StatusBadRequest, "Validation failed", errs)
		return
	}
	res, err := a.service.ResendOTP(r.Context(), req.Reference)
	if err != nil {
		if otpFailure(w, err) {
			return
		}
		obs.FromContext(r.Context()).Error("resend otp", "error", err)
		respondError(w, http.StatusInternalServerError, "An error occurred while resending OTP", nil)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventOTPResent, nil)
	respondSuccess(w, "OTP resent successfully", map[string]any{
		"reference": res.Reference,
		"expiresIn": res.ExpiresIn,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	if err := a.service.Logout(r.Context(), principal); err != nil {
		obs.FromContext(r.Context()).Error("logout", "error", err)
		respondError(w, http.StatusInternalServerError, "An error occurred during logout", nil)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventLogout, nil)
	respondSuccess(w, "Logged out successfully", nil)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok || principal.User == nil {
		respondError(w, http.StatusUnauthorized, "User not authenticated", nil)
		return
	}
	u := viewUser(principal.User)
	mfa := principal.User.MFAEnabled
	u.MFAEnabled = &mfa
	u.Status = string(principal.User.Status)
	respondSuccess(w, "User information retrieved successfully", map[string]any{"user": u})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	res, err := a.service.Refresh(r.Context(), principal)
	if err != nil {
		if errors.Is(err, auth.ErrSessionInvalid) {
			respondError(w, http.StatusUnauthorized, refreshMessages.session, map[string]any{})
			return
		}
		obs.FromContext(r.Context()).Error("refresh", "error", err)
		respondError(w, http.StatusInternalServerError, "An error occurred while refreshing token", nil)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRefresh, map[string]any{"session_id": res.Session.ID})
	respondSuccess(w, "Token refreshed successfully", viewLogin(res))
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	sessions, err := a.service.Sessions(r.Context(), principal)
	if err != nil {
		obs.FromContext(r.Context()).Error("list sessions", "error", err)
		respondError(w, http.StatusInternalServerError, "An error occurred while listing sessions", nil)
		return
	}
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionView{
			ID:        s.ID,
			UserAgent: s.UserAgent,
			IPAddress: s.IPAddress,
			LastUsed:  s.LastUsed.UTC(),
			CreatedAt: s.CreatedAt.UTC(),
			Current:   principal.Session != nil && s.ID == principal.Session.ID,
		})
	}
	respondSuccess(w, "Active sessions retrieved successfully", map[string]any{"sessions": out})
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	perms := principal.Permissions().Effective()
	if perms == nil {
		perms = auth.Permissions{}
	}
	respondSuccess(w, "Permissions retrieved successfully", map[string]any{"permissions": perms})
}

func (a *API) handleRevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	n, err := a.service.RevokeUserSessions(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			respondError(w, http.StatusNotFound, "User not found", nil)
			return
		}
		obs.FromContext(r.Context()).Error("revoke sessions", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "An error occurred while revoking sessions", nil)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventSessionsRevoked, map[string]any{"target_user_id": userID, "revoked": n})
	respondSuccess(w, "Sessions revoked successfully", map[string]any{"revoked": n})
}
