package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Passwords(ctx context.Context) PasswordStore
	Verifications(ctx context.Context) VerificationStore
	Sessions(ctx context.Context) SessionStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// UserStore manages users and their lockout counters.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// RecordFailedLogin increments the attempt counter and, in the same
	// atomic update, sets InactiveTill to lockUntil once the new count
	// reaches maxAttempts. It returns the counter as stored.
	RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (LockoutState, error)
	ResetLoginAttempts(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// LockoutState is a user's lockout counter after a failed attempt.
type LockoutState struct {
	Attempts     int
	InactiveTill *time.Time
}

// RoleStore manages roles.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindBySlug(ctx context.Context, slug string) (*Role, error)
}

// PasswordStore manages versioned credential records.
type PasswordStore interface {
	// Replace deactivates every record of rec.UserID and inserts rec.
	Replace(ctx context.Context, rec *PasswordRecord) error
	FindActive(ctx context.Context, userID string, now time.Time) (*PasswordRecord, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// VerificationStore manages OTP records.
type VerificationStore interface {
	Create(ctx context.Context, v *Verification) error
	FindByReference(ctx context.Context, reference string) (*Verification, error)
	// UpdateCode stores a resent code together with its new expiry.
	UpdateCode(ctx context.Context, v *Verification) error
	// Consume deletes the record only if reference and code both match.
	// It reports false when no row was deleted.
	Consume(ctx context.Context, reference string, code int) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionStore manages login sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	FindActive(ctx context.Context, token string) (*Session, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*Session, error)
	Rotate(ctx context.Context, id, token string, now time.Time) error
	Touch(ctx context.Context, token string, now time.Time) error
	Deactivate(ctx context.Context, token string) error
	DeactivateAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}
