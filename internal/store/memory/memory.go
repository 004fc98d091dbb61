// Package memory is an in-process auth.Store used by tests and the
// DB_DRIVER=memory mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/ids"
)

var _ auth.Store = (*Store)(nil)

// Store keeps every entity in maps guarded by one mutex.
type Store struct {
	mu            sync.Mutex
	users         map[string]*auth.User
	roles         map[string]*auth.Role
	passwords     map[string]*auth.PasswordRecord
	verifications map[string]*auth.Verification // keyed by reference
	sessions      map[string]*auth.Session      // keyed by id
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]*auth.User),
		roles:         make(map[string]*auth.Role),
		passwords:     make(map[string]*auth.PasswordRecord),
		verifications: make(map[string]*auth.Verification),
		sessions:      make(map[string]*auth.Session),
	}
}

func (s *Store) Users(context.Context) auth.UserStore                 { return userStore{s} }
func (s *Store) Roles(context.Context) auth.RoleStore                 { return roleStore{s} }
func (s *Store) Passwords(context.Context) auth.PasswordStore         { return passwordStore{s} }
func (s *Store) Verifications(context.Context) auth.VerificationStore { return verificationStore{s} }
func (s *Store) Sessions(context.Context) auth.SessionStore           { return sessionStore{s} }

func (s *Store) Ping(context.Context) error  { return nil }
func (s *Store) Close(context.Context) error { return nil }

func copyUser(u *auth.User) *auth.User {
	cp := *u
	cp.Permissions = u.Permissions.Clone()
	cp.InactiveTill = copyTime(u.InactiveTill)
	cp.LastLoginAt = copyTime(u.LastLoginAt)
	cp.DeletedAt = copyTime(u.DeletedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Users ----------------------------------------------------------------------
type userStore struct{ s *Store }

func (st userStore) Create(_ context.Context, u *auth.User) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.users {
		if existing.Email == u.Email || (u.Phone != "" && existing.Phone == u.Phone) {
			return auth.ErrAlreadyExists
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	st.s.users[u.ID] = copyUser(u)
	return nil
}

func (st userStore) Find(_ context.Context, id string) (*auth.User, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	u, ok := st.s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return copyUser(u), nil
}

func (st userStore) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, u := range st.s.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (st userStore) RecordFailedLogin(_ context.Context, id string, maxAttempts int, lockUntil time.Time) (auth.LockoutState, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	u, ok := st.s.users[id]
	if !ok {
		return auth.LockoutState{}, auth.ErrNotFound
	}
	u.LoginAttempts++
	if u.LoginAttempts >= maxAttempts {
		u.InactiveTill = copyTime(&lockUntil)
	}
	u.UpdatedAt = time.Now().UTC()
	return auth.LockoutState{Attempts: u.LoginAttempts, InactiveTill: copyTime(u.InactiveTill)}, nil
}

func (st userStore) ResetLoginAttempts(_ context.Context, id string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	u, ok := st.s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.LoginAttempts = 0
	u.InactiveTill = nil
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (st userStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	u, ok := st.s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

// Roles ----------------------------------------------------------------------
type roleStore struct{ s *Store }

func (st roleStore) Create(_ context.Context, r *auth.Role) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.roles {
		if existing.Slug == r.Slug {
			return auth.ErrAlreadyExists
		}
	}
	if r.ID == "" {
		r.ID = ids.New()
	}
	cp := *r
	cp.Permissions = r.Permissions.Clone()
	st.s.roles[r.ID] = &cp
	return nil
}

func (st roleStore) Find(_ context.Context, id string) (*auth.Role, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	r, ok := st.s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *r
	cp.Permissions = r.Permissions.Clone()
	return &cp, nil
}

func (st roleStore) FindBySlug(_ context.Context, slug string) (*auth.Role, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, r := range st.s.roles {
		if r.Slug == slug {
			cp := *r
			cp.Permissions = r.Permissions.Clone()
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

// Passwords ------------------------------------------------------------------
type passwordStore struct{ s *Store }

func (st passwordStore) Replace(_ context.Context, rec *auth.PasswordRecord) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, p := range st.s.passwords {
		if p.UserID == rec.UserID {
			p.Status = false
		}
	}
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	cp := *rec
	st.s.passwords[rec.ID] = &cp
	return nil
}

func (st passwordStore) FindActive(_ context.Context, userID string, now time.Time) (*auth.PasswordRecord, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var best *auth.PasswordRecord
	for _, p := range st.s.passwords {
		if p.UserID != userID || !p.ActiveAt(now) {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			best = p
		}
	}
	if best == nil {
		return nil, auth.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (st passwordStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var n int64
	for id, p := range st.s.passwords {
		if !p.ExpiredAt.After(now) {
			delete(st.s.passwords, id)
			n++
		}
	}
	return n, nil
}

// Verifications --------------------------------------------------------------
type verificationStore struct{ s *Store }

func (st verificationStore) Create(_ context.Context, v *auth.Verification) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, exists := st.s.verifications[v.Reference]; exists {
		return auth.ErrAlreadyExists
	}
	if v.ID == "" {
		v.ID = ids.New()
	}
	cp := *v
	st.s.verifications[v.Reference] = &cp
	return nil
}

func (st verificationStore) FindByReference(_ context.Context, reference string) (*auth.Verification, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	v, ok := st.s.verifications[reference]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (st verificationStore) UpdateCode(_ context.Context, v *auth.Verification) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	cur, ok := st.s.verifications[v.Reference]
	if !ok {
		return auth.ErrNotFound
	}
	cur.Code = v.Code
	cur.ExpiredAt = v.ExpiredAt
	cur.LastResentAt = v.LastResentAt
	cur.ResendAttempts = v.ResendAttempts
	return nil
}

func (st verificationStore) Consume(_ context.Context, reference string, code int) (bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	v, ok := st.s.verifications[reference]
	if !ok || v.Code != code {
		return false, nil
	}
	delete(st.s.verifications, reference)
	return true, nil
}

func (st verificationStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var n int64
	for ref, v := range st.s.verifications {
		if v.ExpiredAt.Before(now) {
			delete(st.s.verifications, ref)
			n++
		}
	}
	return n, nil
}

// Sessions -------------------------------------------------------------------
type sessionStore struct{ s *Store }

func (st sessionStore) byToken(token string) *auth.Session {
	for _, sess := range st.s.sessions {
		if sess.Token == token {
			return sess
		}
	}
	return nil
}

func (st sessionStore) Create(_ context.Context, sess *auth.Session) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if st.byToken(sess.Token) != nil {
		return auth.ErrCorrelationCollision
	}
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	cp := *sess
	st.s.sessions[sess.ID] = &cp
	return nil
}

func (st sessionStore) FindActive(_ context.Context, token string) (*auth.Session, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	sess := st.byToken(token)
	if sess == nil || !sess.Status {
		return nil, auth.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (st sessionStore) ListActiveByUser(_ context.Context, userID string) ([]*auth.Session, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*auth.Session
	for _, sess := range st.s.sessions {
		if sess.UserID == userID && sess.Status {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsed.After(out[j].LastUsed) })
	return out, nil
}

func (st sessionStore) Rotate(_ context.Context, id, token string, now time.Time) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	sess, ok := st.s.sessions[id]
	if !ok || !sess.Status {
		return auth.ErrNotFound
	}
	if other := st.byToken(token); other != nil && other.ID != id {
		return auth.ErrCorrelationCollision
	}
	sess.Token = token
	sess.LastUsed = now
	return nil
}

func (st sessionStore) Touch(_ context.Context, token string, now time.Time) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	sess := st.byToken(token)
	if sess == nil {
		return auth.ErrNotFound
	}
	sess.LastUsed = now
	return nil
}

func (st sessionStore) Deactivate(_ context.Context, token string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if sess := st.byToken(token); sess != nil {
		sess.Status = false
	}
	return nil
}

func (st sessionStore) DeactivateAllForUser(_ context.Context, userID string) (int64, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var n int64
	for _, sess := range st.s.sessions {
		if sess.UserID == userID && sess.Status {
			sess.Status = false
			n++
		}
	}
	return n, nil
}

func (st sessionStore) DeleteStale(_ context.Context, before time.Time) (int64, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var n int64
	for id, sess := range st.s.sessions {
		if sess.LastUsed.Before(before) {
			delete(st.s.sessions, id)
			n++
		}
	}
	return n, nil
}
