package auth

import (
	"strings"
	"time"
)

// UserStatus is the account state of a user.
type UserStatus string

const (
	UserActive    UserStatus = "ACTIVE"
	UserInactive  UserStatus = "INACTIVE"
	UserSuspended UserStatus = "SUSPENDED"
	UserBanned    UserStatus = "BANNED"
)

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	switch s {
	case UserActive, UserInactive, UserSuspended, UserBanned:
		return true
	}
	return false
}

// User is an identity record.
type User struct {
	ID            string
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	Avatar        string
	RoleID        string
	Permissions   Permissions
	Status        UserStatus
	MFAEnabled    bool
	LoginAttempts int
	InactiveTill  *time.Time
	LastLoginAt   *time.Time
	DeletedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Role groups permissions shared by many users.
type Role struct {
	ID          string
	Name        string
	Slug        string
	Permissions Permissions
	Status      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PasswordRecord is one version of a user's credential.
type PasswordRecord struct {
	ID        string
	UserID    string
	Secret    string
	Status    bool
	Expired   bool
	ExpiredAt time.Time
	CreatedAt time.Time
}

// ActiveAt reports whether the record may be used for verification at now.
func (p PasswordRecord) ActiveAt(now time.Time) bool {
	return p.Status && !p.Expired && p.ExpiredAt.After(now)
}

// Verification is a pending one-time passcode.
type Verification struct {
	ID             string
	Reference      string
	UserID         string
	Code           int
	ForLogin       bool
	ExpiredAt      time.Time
	LastResentAt   time.Time
	ResendAttempts int
	CreatedAt      time.Time
}

// Session tracks one authenticated device.
type Session struct {
	ID        string
	UserID    string
	Token     string
	UserAgent string
	IPAddress string
	Status    bool
	LastUsed  time.Time
	CreatedAt time.Time
}

// DeviceMeta describes the client creating a session.
type DeviceMeta struct {
	UserAgent string
	IPAddress string
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
