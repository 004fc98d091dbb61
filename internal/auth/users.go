package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"gatehouse.dev/internal/obs"
)

// NewUser is the input for CreateUser.
type NewUser struct {
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	RoleID      string
	Permissions Permissions
	Password    string
}

// CreateUser provisions an active user with an initial password record.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	email := NormalizeEmail(in.Email)
	if email == "" || strings.TrimSpace(in.FirstName) == "" || in.Password == "" || in.RoleID == "" {
		return nil, ErrInvalidInput
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: email %q", ErrInvalidInput, in.Email)
	}
	if _, err := s.store.Roles(ctx).Find(ctx, in.RoleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.RoleID)
		}
		return nil, fmt.Errorf("find role: %w", err)
	}

	users := s.store.Users(ctx)
	if _, err := users.FindByEmail(ctx, email); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find user: %w", err)
	}

	now := s.now().UTC()
	user := &User{
		FirstName:   strings.TrimSpace(in.FirstName),
		LastName:    strings.TrimSpace(in.LastName),
		Email:       email,
		Phone:       strings.TrimSpace(in.Phone),
		RoleID:      in.RoleID,
		Permissions: in.Permissions.Clone(),
		Status:      UserActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, err
	}
	if err := s.credentials.SetPassword(ctx, user.ID, in.Password); err != nil {
		return nil, err
	}
	obs.FromContext(ctx).Info("user created", "user_id", user.ID, "role_id", user.RoleID)
	return user, nil
}

// ChangePassword rotates the credential and signs the user out everywhere.
func (s *Service) ChangePassword(ctx context.Context, userID, password string) error {
	if _, err := s.store.Users(ctx).Find(ctx, userID); err != nil {
		return err
	}
	if err := s.credentials.SetPassword(ctx, userID, password); err != nil {
		return err
	}
	if _, err := s.store.Sessions(ctx).DeactivateAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("deactivate sessions: %w", err)
	}
	obs.SessionEvent("revoked")
	return nil
}

// FindUserByEmail resolves an account for operator tooling.
func (s *Service) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.store.Users(ctx).FindByEmail(ctx, NormalizeEmail(email))
}
