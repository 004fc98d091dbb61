package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse.dev/internal/auth"
)

func TestUserLockoutCounters(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := &auth.User{Email: "a@example.com", Status: auth.UserActive}
	require.NoError(t, s.Users(ctx).Create(ctx, u))
	require.NotEmpty(t, u.ID)

	assert.ErrorIs(t, s.Users(ctx).Create(ctx, &auth.User{Email: "a@example.com"}), auth.ErrAlreadyExists)

	until := time.Now().Add(time.Hour).UTC()
	state, err := s.Users(ctx).RecordFailedLogin(ctx, u.ID, 2, until)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Attempts)
	assert.Nil(t, state.InactiveTill, "below the limit the account stays open")

	state, err = s.Users(ctx).RecordFailedLogin(ctx, u.ID, 2, until)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Attempts)
	require.NotNil(t, state.InactiveTill)

	got, err := s.Users(ctx).FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, got.LoginAttempts)
	require.NotNil(t, got.InactiveTill)
	assert.True(t, got.InactiveTill.Equal(until))

	require.NoError(t, s.Users(ctx).ResetLoginAttempts(ctx, u.ID))
	got, err = s.Users(ctx).Find(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.LoginAttempts)
	assert.Nil(t, got.InactiveTill)

	_, err = s.Users(ctx).Find(ctx, "missing")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestUserPhoneUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Users(ctx).Create(ctx, &auth.User{Email: "a@example.com", Phone: "+15550001"}))
	assert.ErrorIs(t, s.Users(ctx).Create(ctx, &auth.User{Email: "b@example.com", Phone: "+15550001"}), auth.ErrAlreadyExists)

	// an empty phone is not a value
	require.NoError(t, s.Users(ctx).Create(ctx, &auth.User{Email: "c@example.com"}))
	require.NoError(t, s.Users(ctx).Create(ctx, &auth.User{Email: "d@example.com"}))
}

func TestReturnedUsersAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := &auth.User{Email: "b@example.com", Permissions: auth.Permissions{"users": {"read": true}}}
	require.NoError(t, s.Users(ctx).Create(ctx, u))

	got, err := s.Users(ctx).Find(ctx, u.ID)
	require.NoError(t, err)
	got.Permissions["users"]["read"] = false

	again, err := s.Users(ctx).Find(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, again.Permissions["users"]["read"])
}

func TestPasswordReplaceKeepsSingleActive(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	first := &auth.PasswordRecord{UserID: "u1", Secret: "one", Status: true, ExpiredAt: now.Add(time.Hour), CreatedAt: now}
	second := &auth.PasswordRecord{UserID: "u1", Secret: "two", Status: true, ExpiredAt: now.Add(time.Hour), CreatedAt: now.Add(time.Second)}
	require.NoError(t, s.Passwords(ctx).Replace(ctx, first))
	require.NoError(t, s.Passwords(ctx).Replace(ctx, second))

	active, err := s.Passwords(ctx).FindActive(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, "two", active.Secret)

	_, err = s.Passwords(ctx).FindActive(ctx, "u1", now.Add(2*time.Hour))
	assert.ErrorIs(t, err, auth.ErrNotFound)

	n, err := s.Passwords(ctx).DeleteExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestVerificationConsumeOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	v := &auth.Verification{Reference: "ref", UserID: "u1", Code: 123456, ExpiredAt: time.Now().Add(time.Minute)}
	require.NoError(t, s.Verifications(ctx).Create(ctx, v))

	ok, err := s.Verifications(ctx).Consume(ctx, "ref", 654321)
	require.NoError(t, err)
	assert.False(t, ok, "wrong code must not consume")

	ok, err = s.Verifications(ctx).Consume(ctx, "ref", 123456)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Verifications(ctx).Consume(ctx, "ref", 123456)
	require.NoError(t, err)
	assert.False(t, ok, "second consume must fail")
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	sess := &auth.Session{UserID: "u1", Token: "t1", Status: true, LastUsed: now}
	require.NoError(t, s.Sessions(ctx).Create(ctx, sess))
	assert.ErrorIs(t, s.Sessions(ctx).Create(ctx, &auth.Session{UserID: "u2", Token: "t1", Status: true}), auth.ErrCorrelationCollision)

	require.NoError(t, s.Sessions(ctx).Rotate(ctx, sess.ID, "t2", now.Add(time.Minute)))
	_, err := s.Sessions(ctx).FindActive(ctx, "t1")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	got, err := s.Sessions(ctx).FindActive(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	require.NoError(t, s.Sessions(ctx).Deactivate(ctx, "t2"))
	require.NoError(t, s.Sessions(ctx).Deactivate(ctx, "t2"))
	_, err = s.Sessions(ctx).FindActive(ctx, "t2")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	n, err := s.Sessions(ctx).DeleteStale(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestDeactivateAllForUser(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, tok := range []string{"a", "b"} {
		require.NoError(t, s.Sessions(ctx).Create(ctx, &auth.Session{UserID: "u1", Token: tok, Status: true}))
	}
	require.NoError(t, s.Sessions(ctx).Create(ctx, &auth.Session{UserID: "u2", Token: "c", Status: true}))

	n, err := s.Sessions(ctx).DeactivateAllForUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	list, err := s.Sessions(ctx).ListActiveByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = s.Sessions(ctx).ListActiveByUser(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
