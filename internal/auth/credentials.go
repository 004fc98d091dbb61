package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatehouse.dev/internal/obs"
)

const defaultPasswordTTL = 365 * 24 * time.Hour

// Credentials stores and verifies versioned password records.
type Credentials struct {
	store  Store
	cipher SecretCipher
	ttl    time.Duration
	now    func() time.Time
}

// NewCredentials constructs the credential component.
func NewCredentials(store Store, cipher SecretCipher, ttl time.Duration, now func() time.Time) *Credentials {
	if ttl <= 0 {
		ttl = defaultPasswordTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Credentials{store: store, cipher: cipher, ttl: ttl, now: now}
}

// SetPassword supersedes every earlier record of the user with a new one.
func (c *Credentials) SetPassword(ctx context.Context, userID, plaintext string) error {
	if userID == "" || plaintext == "" {
		return ErrInvalidInput
	}
	secret, err := c.cipher.Seal(plaintext)
	if err != nil {
		return err
	}
	now := c.now().UTC()
	rec := &PasswordRecord{
		UserID:    userID,
		Secret:    secret,
		Status:    true,
		ExpiredAt: now.Add(c.ttl),
		CreatedAt: now,
	}
	if err := c.store.Passwords(ctx).Replace(ctx, rec); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	return nil
}

// Verify reports whether plaintext matches the active record of the user.
// Store and decryption failures count as a mismatch.
func (c *Credentials) Verify(ctx context.Context, userID, plaintext string) bool {
	rec, err := c.store.Passwords(ctx).FindActive(ctx, userID, c.now())
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			obs.FromContext(ctx).Warn("password lookup failed", "user_id", userID, "error", err)
		}
		return false
	}
	if !rec.ActiveAt(c.now()) {
		return false
	}
	return c.cipher.Matches(rec.Secret, plaintext)
}
