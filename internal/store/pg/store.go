package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/ids"
)

const pgErrUniqueViolation = "23505"

var _ auth.Store = (*Store)(nil)

// Store implements auth.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects through the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close(context.Context) error { return s.db.Close() }

func (s *Store) Users(context.Context) auth.UserStore         { return &userStore{db: s.db} }
func (s *Store) Roles(context.Context) auth.RoleStore         { return &roleStore{db: s.db} }
func (s *Store) Passwords(context.Context) auth.PasswordStore { return &passwordStore{db: s.db} }
func (s *Store) Verifications(context.Context) auth.VerificationStore {
	return &verificationStore{db: s.db}
}
func (s *Store) Sessions(context.Context) auth.SessionStore { return &sessionStore{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isUniqueViolation(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == pgErrUniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	return err
}

func encodePermissions(p auth.Permissions) ([]byte, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal permissions: %w", err)
	}
	return raw, nil
}

func decodePermissions(raw []byte) (auth.Permissions, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var p auth.Permissions
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	return p, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// Users ----------------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, first_name, last_name, email, phone, avatar, coalesce(role_id, ''),
	permissions, status, mfa_enabled, login_attempts, inactive_till, last_login_at, deleted_at,
	created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*auth.User, error) {
	var (
		u                              auth.User
		perms                          []byte
		status                         string
		inactiveTill, lastLogin, delAt sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.Avatar, &u.RoleID,
		&perms, &status, &u.MFAEnabled, &u.LoginAttempts, &inactiveTill, &lastLogin, &delAt,
		&u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	p, err := decodePermissions(perms)
	if err != nil {
		return nil, err
	}
	u.Permissions = p
	u.Status = auth.UserStatus(status)
	u.InactiveTill = nullTime(inactiveTill)
	u.LastLoginAt = nullTime(lastLogin)
	u.DeletedAt = nullTime(delAt)
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = auth.UserActive
	}
	perms, err := encodePermissions(u.Permissions)
	if err != nil {
		return err
	}
	var roleID any
	if u.RoleID != "" {
		roleID = u.RoleID
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, first_name, last_name, email, phone, avatar, role_id, permissions, status, mfa_enabled)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		returning created_at, updated_at
	`, u.ID, u.FirstName, u.LastName, u.Email, u.Phone, u.Avatar, roleID, perms, string(u.Status), u.MFAEnabled)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email=$1`, email))
}

func (s *userStore) RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (auth.LockoutState, error) {
	var (
		state auth.LockoutState
		until sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		update users
		set login_attempts = login_attempts + 1,
		    inactive_till = case when login_attempts + 1 >= $3 then $2 else inactive_till end,
		    updated_at = now()
		where id = $1
		returning login_attempts, inactive_till
	`, id, lockUntil, maxAttempts).Scan(&state.Attempts, &until)
	if err != nil {
		return auth.LockoutState{}, notFound(err)
	}
	state.InactiveTill = nullTime(until)
	return state, nil
}

func (s *userStore) ResetLoginAttempts(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set login_attempts = 0, inactive_till = null, updated_at = now() where id = $1
	`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *userStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login_at = $2 where id = $1`, id, at)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// Roles ----------------------------------------------------------------------
type roleStore struct{ db *sql.DB }

func scanRole(row scanner) (*auth.Role, error) {
	var (
		r     auth.Role
		perms []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Slug, &perms, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	p, err := decodePermissions(perms)
	if err != nil {
		return nil, err
	}
	r.Permissions = p
	return &r, nil
}

func (s *roleStore) Create(ctx context.Context, r *auth.Role) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	perms, err := encodePermissions(r.Permissions)
	if err != nil {
		return err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, slug, permissions, status)
		values ($1,$2,$3,$4,$5)
		returning created_at, updated_at
	`, r.ID, r.Name, r.Slug, perms, r.Status)
	if err := row.Scan(&r.CreatedAt, &r.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select id, name, slug, permissions, status, created_at, updated_at from roles where id=$1`, id))
}

func (s *roleStore) FindBySlug(ctx context.Context, slug string) (*auth.Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select id, name, slug, permissions, status, created_at, updated_at from roles where slug=$1`, slug))
}

// Passwords ------------------------------------------------------------------
type passwordStore struct{ db *sql.DB }

func (s *passwordStore) Replace(ctx context.Context, rec *auth.PasswordRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `update passwords set status = false where user_id = $1 and status`, rec.UserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into passwords (id, user_id, secret, status, expired, expired_at, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, rec.ID, rec.UserID, rec.Secret, rec.Status, rec.Expired, rec.ExpiredAt, rec.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *passwordStore) FindActive(ctx context.Context, userID string, now time.Time) (*auth.PasswordRecord, error) {
	var rec auth.PasswordRecord
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, secret, status, expired, expired_at, created_at
		from passwords
		where user_id = $1 and status and not expired and expired_at > $2
		order by created_at desc
		limit 1
	`, userID, now).Scan(&rec.ID, &rec.UserID, &rec.Secret, &rec.Status, &rec.Expired, &rec.ExpiredAt, &rec.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (s *passwordStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from passwords where expired_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Verifications --------------------------------------------------------------
type verificationStore struct{ db *sql.DB }

func (s *verificationStore) Create(ctx context.Context, v *auth.Verification) error {
	if v.ID == "" {
		v.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into verifications (id, reference, user_id, code, for_login, expired_at, last_resent_at, resend_attempts, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, v.ID, v.Reference, v.UserID, v.Code, v.ForLogin, v.ExpiredAt, v.LastResentAt, v.ResendAttempts, v.CreatedAt)
	if isUniqueViolation(err) {
		return auth.ErrAlreadyExists
	}
	return err
}

func (s *verificationStore) FindByReference(ctx context.Context, reference string) (*auth.Verification, error) {
	var v auth.Verification
	err := s.db.QueryRowContext(ctx, `
		select id, reference, user_id, code, for_login, expired_at, last_resent_at, resend_attempts, created_at
		from verifications where reference = $1
	`, reference).Scan(&v.ID, &v.Reference, &v.UserID, &v.Code, &v.ForLogin, &v.ExpiredAt, &v.LastResentAt, &v.ResendAttempts, &v.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (s *verificationStore) UpdateCode(ctx context.Context, v *auth.Verification) error {
	res, err := s.db.ExecContext(ctx, `
		update verifications
		set code = $2, expired_at = $3, last_resent_at = $4, resend_attempts = $5
		where reference = $1
	`, v.Reference, v.Code, v.ExpiredAt, v.LastResentAt, v.ResendAttempts)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *verificationStore) Consume(ctx context.Context, reference string, code int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from verifications where reference = $1 and code = $2`, reference, code)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *verificationStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from verifications where expired_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Sessions -------------------------------------------------------------------
type sessionStore struct{ db *sql.DB }

const sessionColumns = `id, user_id, token, user_agent, ip_address, status, last_used, created_at`

func scanSession(row scanner) (*auth.Session, error) {
	var sess auth.Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.UserAgent, &sess.IPAddress,
		&sess.Status, &sess.LastUsed, &sess.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

func (s *sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, token, user_agent, ip_address, status, last_used, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sess.ID, sess.UserID, sess.Token, sess.UserAgent, sess.IPAddress, sess.Status, sess.LastUsed, sess.CreatedAt)
	if isUniqueViolation(err) {
		return auth.ErrCorrelationCollision
	}
	return err
}

func (s *sessionStore) FindActive(ctx context.Context, token string) (*auth.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where token = $1 and status`, token))
}

func (s *sessionStore) ListActiveByUser(ctx context.Context, userID string) ([]*auth.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions where user_id = $1 and status order by last_used desc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*auth.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *sessionStore) Rotate(ctx context.Context, id, token string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set token = $2, last_used = $3 where id = $1 and status`, id, token, now)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrCorrelationCollision
		}
		return err
	}
	return expectOne(res)
}

func (s *sessionStore) Touch(ctx context.Context, token string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `update sessions set last_used = $2 where token = $1`, token, now)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *sessionStore) Deactivate(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `update sessions set status = false where token = $1`, token)
	return err
}

func (s *sessionStore) DeactivateAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `update sessions set status = false where user_id = $1 and status`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sessionStore) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where last_used < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
