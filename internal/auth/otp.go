package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

const (
	otpMin            = 100000
	otpMax            = 999999
	otpReferenceBytes = 64

	defaultOTPTTL         = 10 * time.Minute
	defaultResendInterval = time.Minute
)

// OTPs issues and validates one-time passcodes keyed by opaque references.
type OTPs struct {
	store          Store
	ttl            time.Duration
	resendInterval time.Duration
	now            func() time.Time
}

// NewOTPs constructs the OTP component.
func NewOTPs(store Store, ttl, resendInterval time.Duration, now func() time.Time) *OTPs {
	if ttl <= 0 {
		ttl = defaultOTPTTL
	}
	if resendInterval <= 0 {
		resendInterval = defaultResendInterval
	}
	if now == nil {
		now = time.Now
	}
	return &OTPs{store: store, ttl: ttl, resendInterval: resendInterval, now: now}
}

// TTL is the lifetime of a freshly issued or resent code.
func (o *OTPs) TTL() time.Duration { return o.ttl }

// Issue persists a new code for userID and returns its reference.
func (o *OTPs) Issue(ctx context.Context, userID string) (*Verification, error) {
	code, err := generateOTP()
	if err != nil {
		return nil, err
	}
	reference, err := randomHex(otpReferenceBytes)
	if err != nil {
		return nil, err
	}
	now := o.now().UTC()
	v := &Verification{
		Reference:    reference,
		UserID:       userID,
		Code:         code,
		ForLogin:     true,
		ExpiredAt:    now.Add(o.ttl),
		LastResentAt: now,
		CreatedAt:    now,
	}
	if err := o.store.Verifications(ctx).Create(ctx, v); err != nil {
		return nil, fmt.Errorf("store verification: %w", err)
	}
	return v, nil
}

// Validate consumes the record on success and returns the owning user id.
func (o *OTPs) Validate(ctx context.Context, reference, code string) (string, error) {
	v, err := o.load(ctx, reference)
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(code)
	if err != nil || n != v.Code {
		return "", ErrOTPMismatch
	}
	ok, err := o.store.Verifications(ctx).Consume(ctx, reference, v.Code)
	if err != nil {
		return "", fmt.Errorf("consume verification: %w", err)
	}
	if !ok {
		// lost the race against a concurrent validator
		return "", ErrOTPNotFound
	}
	return v.UserID, nil
}

// Resend rotates the code of a pending record, at most once per interval.
func (o *OTPs) Resend(ctx context.Context, reference string) (*Verification, error) {
	v, err := o.load(ctx, reference)
	if err != nil {
		return nil, err
	}
	now := o.now().UTC()
	if now.Sub(v.LastResentAt) < o.resendInterval {
		return nil, ErrOTPTooFrequent
	}
	code, err := generateOTP()
	if err != nil {
		return nil, err
	}
	v.Code = code
	v.ExpiredAt = now.Add(o.ttl)
	v.LastResentAt = now
	v.ResendAttempts++
	if err := o.store.Verifications(ctx).UpdateCode(ctx, v); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrOTPNotFound
		}
		return nil, fmt.Errorf("update verification: %w", err)
	}
	return v, nil
}

func (o *OTPs) load(ctx context.Context, reference string) (*Verification, error) {
	if reference == "" {
		return nil, ErrOTPNotFound
	}
	v, err := o.store.Verifications(ctx).FindByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrOTPNotFound
		}
		return nil, fmt.Errorf("find verification: %w", err)
	}
	if o.now().After(v.ExpiredAt) {
		return nil, ErrOTPExpired
	}
	return v, nil
}

func generateOTP() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return 0, fmt.Errorf("generate otp: %w", err)
	}
	return otpMin + int(n.Int64()), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reference: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
