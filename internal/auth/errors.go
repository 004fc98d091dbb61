package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound             = errors.New("auth: not found")
	ErrAlreadyExists        = errors.New("auth: already exists")
	ErrInvalidInput         = errors.New("auth: invalid input")
	ErrUnauthorized         = errors.New("auth: unauthorized")
	ErrNotImplemented       = errors.New("auth: not implemented")
	ErrInvalidCredentials   = errors.New("auth: invalid combination of credentials")
	ErrAccountLocked        = errors.New("auth: account locked")
	ErrOTPNotFound          = errors.New("auth: otp reference not found")
	ErrOTPExpired           = errors.New("auth: otp expired")
	ErrOTPMismatch          = errors.New("auth: otp mismatch")
	ErrOTPTooFrequent       = errors.New("auth: otp resend too frequent")
	ErrTokenInvalid         = errors.New("auth: token invalid or expired")
	ErrSessionInvalid       = errors.New("auth: session not found or invalidated")
	ErrSessionInactive      = errors.New("auth: session inactive")
	ErrCorrelationCollision = errors.New("auth: session token collision")

	// ErrUnknownAccount is an ErrInvalidCredentials raised before any password
	// check took place.
	ErrUnknownAccount = fmt.Errorf("%w: unknown account", ErrInvalidCredentials)
)

// LockedError reports an active lockout window.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	if e.Until.IsZero() {
		return "Account locked till: unknown time"
	}
	return fmt.Sprintf("Account locked till: %s", e.Until.Format("1/2/2006, 3:04:05 PM"))
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }
