package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatehouse.dev/internal/obs"
)

const (
	defaultMaxLoginAttempts = 3
	defaultLockoutDuration  = 24 * time.Hour
)

// Service drives login, second factor, session and token lifecycle.
type Service struct {
	store       Store
	tokens      *TokenIssuer
	cipher      SecretCipher
	credentials *Credentials
	otps        *OTPs
	notifier    Notifier
	now         func() time.Time

	maxAttempts    int
	lockout        time.Duration
	passwordTTL    time.Duration
	otpTTL         time.Duration
	resendInterval time.Duration
	enforceMode    bool
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLockoutPolicy sets the failed attempt threshold and lockout window.
func WithLockoutPolicy(maxAttempts int, lockout time.Duration) ServiceOption {
	return func(s *Service) error {
		if maxAttempts < 1 {
			return fmt.Errorf("auth: max login attempts must be positive, got %d", maxAttempts)
		}
		s.maxAttempts = maxAttempts
		if lockout > 0 {
			s.lockout = lockout
		}
		return nil
	}
}

// WithOTPPolicy sets code lifetime and minimum resend interval.
func WithOTPPolicy(ttl, resendInterval time.Duration) ServiceOption {
	return func(s *Service) error {
		s.otpTTL = ttl
		s.resendInterval = resendInterval
		return nil
	}
}

// WithPasswordTTL sets how long a new password record stays valid.
func WithPasswordTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		s.passwordTTL = ttl
		return nil
	}
}

// WithNotifier sets the OTP delivery channel.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) error {
		if n != nil {
			s.notifier = n
		}
		return nil
	}
}

// WithModeEnforcement rejects refresh tokens on access routes and vice versa.
func WithModeEnforcement(enabled bool) ServiceOption {
	return func(s *Service) error {
		s.enforceMode = enabled
		return nil
	}
}

// NewService wires the credential, OTP, token and session components.
func NewService(store Store, tokens *TokenIssuer, cipher SecretCipher, opts ...ServiceOption) (*Service, error) {
	if store == nil || tokens == nil || cipher == nil {
		return nil, errors.New("auth: store, token issuer and cipher are required")
	}
	svc := &Service{
		store:       store,
		tokens:      tokens,
		cipher:      cipher,
		notifier:    discardNotifier,
		now:         time.Now,
		maxAttempts: defaultMaxLoginAttempts,
		lockout:     defaultLockoutDuration,
		enforceMode: true,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	svc.credentials = NewCredentials(store, cipher, svc.passwordTTL, svc.now)
	svc.otps = NewOTPs(store, svc.otpTTL, svc.resendInterval, svc.now)
	return svc, nil
}

// Credentials exposes the credential component.
func (s *Service) Credentials() *Credentials { return s.credentials }

// LoginChallenge is returned after a successful first factor.
type LoginChallenge struct {
	Reference string
	Email     string
	ExpiresAt time.Time
}

// LoginResult is returned once a session exists.
type LoginResult struct {
	User    *User
	Session *Session
	Tokens  TokenPair
}

// ResendResult describes a redelivered code.
type ResendResult struct {
	Reference string
	ExpiresIn int
}

// Login verifies email and password, applies the lockout policy and issues
// an OTP for the second factor.
func (s *Service) Login(ctx context.Context, email, password string) (LoginChallenge, error) {
	log := obs.FromContext(ctx)
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return LoginChallenge{}, ErrInvalidInput
	}
	users := s.store.Users(ctx)

	user, err := users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.LoginOutcome("unknown_account")
			return LoginChallenge{}, ErrUnknownAccount
		}
		return LoginChallenge{}, fmt.Errorf("find user: %w", err)
	}
	if user.DeletedAt != nil {
		obs.LoginOutcome("unknown_account")
		return LoginChallenge{}, ErrUnknownAccount
	}

	now := s.now()
	if user.LoginAttempts >= s.maxAttempts {
		// A counter at the limit without an expiry never locks.
		if user.InactiveTill == nil || user.InactiveTill.Before(now) {
			if err := users.ResetLoginAttempts(ctx, user.ID); err != nil {
				return LoginChallenge{}, fmt.Errorf("reset login attempts: %w", err)
			}
			user.LoginAttempts = 0
			user.InactiveTill = nil
		} else {
			obs.LoginOutcome("locked")
			return LoginChallenge{}, &LockedError{Until: *user.InactiveTill}
		}
	}

	if !s.credentials.Verify(ctx, user.ID, password) {
		state, err := users.RecordFailedLogin(ctx, user.ID, s.maxAttempts, now.Add(s.lockout).UTC())
		if err != nil {
			return LoginChallenge{}, fmt.Errorf("record failed login: %w", err)
		}
		if state.Attempts >= s.maxAttempts {
			log.Warn("account locked", "user_id", user.ID, "attempts", state.Attempts, "until", state.InactiveTill)
		}
		obs.LoginOutcome("invalid_password")
		return LoginChallenge{}, ErrInvalidCredentials
	}
	if user.Status != UserActive {
		obs.LoginOutcome("inactive_account")
		return LoginChallenge{}, ErrInvalidCredentials
	}

	if err := users.ResetLoginAttempts(ctx, user.ID); err != nil {
		return LoginChallenge{}, fmt.Errorf("reset login attempts: %w", err)
	}

	if user.MFAEnabled {
		obs.LoginOutcome("mfa_unsupported")
		return LoginChallenge{}, ErrNotImplemented
	}

	v, err := s.otps.Issue(ctx, user.ID)
	if err != nil {
		return LoginChallenge{}, err
	}
	obs.OTPEvent("issue", "ok")
	s.deliver(ctx, user, v, false)
	obs.LoginOutcome("otp_sent")
	return LoginChallenge{Reference: v.Reference, Email: user.Email, ExpiresAt: v.ExpiredAt}, nil
}

// ValidateLogin completes the second factor and opens a session.
func (s *Service) ValidateLogin(ctx context.Context, reference, code string, device DeviceMeta) (LoginResult, error) {
	userID, err := s.otps.Validate(ctx, reference, code)
	if err != nil {
		obs.OTPEvent("validate", otpOutcome(err))
		return LoginResult{}, err
	}
	obs.OTPEvent("validate", "ok")

	users := s.store.Users(ctx)
	user, err := users.Find(ctx, userID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}
	now := s.now().UTC()
	if err := users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return LoginResult{}, fmt.Errorf("update last login: %w", err)
	}
	user.LastLoginAt = &now

	pair, err := s.tokens.Issue()
	if err != nil {
		return LoginResult{}, err
	}
	session := &Session{
		UserID:    user.ID,
		Token:     pair.CorrelationID,
		UserAgent: device.UserAgent,
		IPAddress: device.IPAddress,
		Status:    true,
		LastUsed:  now,
		CreatedAt: now,
	}
	if err := s.store.Sessions(ctx).Create(ctx, session); err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}
	obs.SessionEvent("created")
	return LoginResult{User: user, Session: session, Tokens: pair}, nil
}

// ResendOTP issues a fresh code for a pending reference.
func (s *Service) ResendOTP(ctx context.Context, reference string) (ResendResult, error) {
	v, err := s.otps.Resend(ctx, reference)
	if err != nil {
		obs.OTPEvent("resend", otpOutcome(err))
		return ResendResult{}, err
	}
	obs.OTPEvent("resend", "ok")
	user, err := s.store.Users(ctx).Find(ctx, v.UserID)
	if err != nil {
		obs.FromContext(ctx).Warn("otp owner lookup failed", "user_id", v.UserID, "error", err)
		user = &User{ID: v.UserID}
	}
	s.deliver(ctx, user, v, true)
	return ResendResult{Reference: v.Reference, ExpiresIn: int(s.otps.TTL().Seconds())}, nil
}

// Authenticate resolves a bearer token into a principal bound to a live session.
func (s *Service) Authenticate(ctx context.Context, token string, mode TokenMode) (Principal, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return Principal{}, ErrTokenInvalid
	}
	if s.enforceMode && claims.Mode != mode {
		return Principal{}, ErrTokenInvalid
	}
	sessions := s.store.Sessions(ctx)
	session, err := sessions.FindActive(ctx, claims.CorrelationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrSessionInvalid
		}
		return Principal{}, fmt.Errorf("find session: %w", err)
	}
	if !session.Status {
		return Principal{}, ErrSessionInactive
	}
	user, err := s.store.Users(ctx).Find(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrSessionInvalid
		}
		return Principal{}, fmt.Errorf("load user: %w", err)
	}
	if user.DeletedAt != nil {
		return Principal{}, ErrSessionInvalid
	}
	var role *Role
	if user.RoleID != "" {
		role, err = s.store.Roles(ctx).Find(ctx, user.RoleID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Principal{}, fmt.Errorf("load role: %w", err)
		}
	}
	now := s.now().UTC()
	if err := sessions.Touch(ctx, session.Token, now); err != nil {
		obs.FromContext(ctx).Warn("session touch failed", "session_id", session.ID, "error", err)
	} else {
		session.LastUsed = now
	}
	return NewPrincipal(user, role, session, claims.Mode), nil
}

// Logout deactivates the caller's session. Repeated calls succeed.
func (s *Service) Logout(ctx context.Context, p Principal) error {
	if p.Session == nil {
		return nil
	}
	if err := s.store.Sessions(ctx).Deactivate(ctx, p.Session.Token); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	obs.SessionEvent("logout")
	return nil
}

// Refresh rotates the session to a new correlation id and returns new tokens.
// The previous tokens stop resolving to any session.
func (s *Service) Refresh(ctx context.Context, p Principal) (LoginResult, error) {
	if p.Session == nil || p.User == nil {
		return LoginResult{}, ErrSessionInvalid
	}
	pair, err := s.tokens.Issue()
	if err != nil {
		return LoginResult{}, err
	}
	now := s.now().UTC()
	if err := s.store.Sessions(ctx).Rotate(ctx, p.Session.ID, pair.CorrelationID, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrSessionInvalid
		}
		return LoginResult{}, fmt.Errorf("rotate session: %w", err)
	}
	session := *p.Session
	session.Token = pair.CorrelationID
	session.LastUsed = now
	obs.SessionEvent("refreshed")
	return LoginResult{User: p.User, Session: &session, Tokens: pair}, nil
}

// Sessions lists the active sessions of the principal's user.
func (s *Service) Sessions(ctx context.Context, p Principal) ([]*Session, error) {
	if p.User == nil {
		return nil, ErrUnauthorized
	}
	return s.store.Sessions(ctx).ListActiveByUser(ctx, p.User.ID)
}

// RevokeUserSessions deactivates every session of a user.
func (s *Service) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	if _, err := s.store.Users(ctx).Find(ctx, userID); err != nil {
		return 0, err
	}
	n, err := s.store.Sessions(ctx).DeactivateAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("deactivate sessions: %w", err)
	}
	obs.SessionEvent("revoked")
	return n, nil
}

func (s *Service) deliver(ctx context.Context, user *User, v *Verification, resend bool) {
	d := OTPDelivery{
		UserID:    user.ID,
		Email:     user.Email,
		Phone:     user.Phone,
		Reference: v.Reference,
		Code:      v.Code,
		ExpiresAt: v.ExpiredAt,
		Resend:    resend,
	}
	if err := s.notifier.DeliverOTP(ctx, d); err != nil {
		obs.OTPEvent("deliver", "error")
		obs.FromContext(ctx).Error("otp delivery failed", "user_id", user.ID, "error", err)
	}
}

func otpOutcome(err error) string {
	switch {
	case errors.Is(err, ErrOTPNotFound):
		return "not_found"
	case errors.Is(err, ErrOTPExpired):
		return "expired"
	case errors.Is(err, ErrOTPMismatch):
		return "mismatch"
	case errors.Is(err, ErrOTPTooFrequent):
		return "too_frequent"
	default:
		return "error"
	}
}
