package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"gatehouse.dev/internal/auth"
)

// Field names follow the documents already written by the existing
// deployment so both can share a database.

type userDoc struct {
	ID            primitive.ObjectID         `bson:"_id,omitempty"`
	FirstName     string                     `bson:"firstName"`
	LastName      string                     `bson:"lastName,omitempty"`
	Email         string                     `bson:"email"`
	Phone         string                     `bson:"phone,omitempty"`
	Avatar        string                     `bson:"avatar,omitempty"`
	MFAEnabled    bool                       `bson:"mfa_enabled"`
	LoginAttempts int                        `bson:"loginAttempts"`
	InactiveTill  *time.Time                 `bson:"inactiveTill,omitempty"`
	LastLoginAt   *time.Time                 `bson:"lastLoginAt,omitempty"`
	RoleID        primitive.ObjectID         `bson:"roleId,omitempty"`
	Permissions   map[string]map[string]bool `bson:"permissions,omitempty"`
	Status        string                     `bson:"status"`
	DeletedAt     *time.Time                 `bson:"deletedAt,omitempty"`
	CreatedAt     time.Time                  `bson:"createdAt"`
	UpdatedAt     time.Time                  `bson:"updatedAt"`
}

type roleDoc struct {
	ID          primitive.ObjectID         `bson:"_id,omitempty"`
	Name        string                     `bson:"name"`
	Slug        string                     `bson:"slug"`
	Permissions map[string]map[string]bool `bson:"permissions,omitempty"`
	Status      bool                       `bson:"status"`
	CreatedAt   time.Time                  `bson:"createdAt"`
	UpdatedAt   time.Time                  `bson:"updatedAt"`
}

type passwordDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    primitive.ObjectID `bson:"userId"`
	Password  string             `bson:"password"`
	Status    bool               `bson:"status"`
	Expired   bool               `bson:"expired"`
	ExpiredAt time.Time          `bson:"expiredAt"`
	CreatedAt time.Time          `bson:"createdAt"`
}

type verificationDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Reference      string             `bson:"reference"`
	ForLogin       bool               `bson:"forLogin"`
	EmailCode      int                `bson:"emailCode"`
	UserID         primitive.ObjectID `bson:"userId"`
	ExpiredAt      time.Time          `bson:"expiredAt"`
	ResendAttempts int                `bson:"resendAttempts"`
	LastResentAt   time.Time          `bson:"lastResentAt"`
	CreatedAt      time.Time          `bson:"createdAt"`
}

type sessionDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	UserID       primitive.ObjectID `bson:"userId"`
	SessionToken string             `bson:"sessionToken"`
	UserAgent    string             `bson:"userAgent,omitempty"`
	IPAddress    string             `bson:"ipAddress,omitempty"`
	Status       bool               `bson:"status"`
	LastUsed     time.Time          `bson:"lastUsed"`
	CreatedAt    time.Time          `bson:"createdAt"`
}

func newObjectID() primitive.ObjectID { return primitive.NewObjectID() }

func hexOrEmpty(id primitive.ObjectID) string {
	if id.IsZero() {
		return ""
	}
	return id.Hex()
}

// objectID parses an auth id. Ids that are not ObjectIDs cannot match any
// document.
func objectID(id string) (primitive.ObjectID, bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, false
	}
	return oid, true
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func userFromDoc(d *userDoc) *auth.User {
	return &auth.User{
		ID:            d.ID.Hex(),
		FirstName:     d.FirstName,
		LastName:      d.LastName,
		Email:         d.Email,
		Phone:         d.Phone,
		Avatar:        d.Avatar,
		RoleID:        hexOrEmpty(d.RoleID),
		Permissions:   auth.Permissions(d.Permissions),
		Status:        auth.UserStatus(d.Status),
		MFAEnabled:    d.MFAEnabled,
		LoginAttempts: d.LoginAttempts,
		InactiveTill:  utcPtr(d.InactiveTill),
		LastLoginAt:   utcPtr(d.LastLoginAt),
		DeletedAt:     utcPtr(d.DeletedAt),
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
}

func userToDoc(u *auth.User) (*userDoc, error) {
	d := &userDoc{
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Email:         u.Email,
		Phone:         u.Phone,
		Avatar:        u.Avatar,
		MFAEnabled:    u.MFAEnabled,
		LoginAttempts: u.LoginAttempts,
		InactiveTill:  u.InactiveTill,
		LastLoginAt:   u.LastLoginAt,
		Permissions:   u.Permissions,
		Status:        string(u.Status),
		DeletedAt:     u.DeletedAt,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
	if u.ID != "" {
		oid, ok := objectID(u.ID)
		if !ok {
			return nil, auth.ErrInvalidInput
		}
		d.ID = oid
	}
	if u.RoleID != "" {
		oid, ok := objectID(u.RoleID)
		if !ok {
			return nil, auth.ErrInvalidInput
		}
		d.RoleID = oid
	}
	return d, nil
}

func roleFromDoc(d *roleDoc) *auth.Role {
	return &auth.Role{
		ID:          d.ID.Hex(),
		Name:        d.Name,
		Slug:        d.Slug,
		Permissions: auth.Permissions(d.Permissions),
		Status:      d.Status,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

func passwordFromDoc(d *passwordDoc) *auth.PasswordRecord {
	return &auth.PasswordRecord{
		ID:        d.ID.Hex(),
		UserID:    d.UserID.Hex(),
		Secret:    d.Password,
		Status:    d.Status,
		Expired:   d.Expired,
		ExpiredAt: d.ExpiredAt.UTC(),
		CreatedAt: d.CreatedAt.UTC(),
	}
}

func verificationFromDoc(d *verificationDoc) *auth.Verification {
	return &auth.Verification{
		ID:             d.ID.Hex(),
		Reference:      d.Reference,
		UserID:         d.UserID.Hex(),
		Code:           d.EmailCode,
		ForLogin:       d.ForLogin,
		ExpiredAt:      d.ExpiredAt.UTC(),
		LastResentAt:   d.LastResentAt.UTC(),
		ResendAttempts: d.ResendAttempts,
		CreatedAt:      d.CreatedAt.UTC(),
	}
}

func sessionFromDoc(d *sessionDoc) *auth.Session {
	return &auth.Session{
		ID:        d.ID.Hex(),
		UserID:    d.UserID.Hex(),
		Token:     d.SessionToken,
		UserAgent: d.UserAgent,
		IPAddress: d.IPAddress,
		Status:    d.Status,
		LastUsed:  d.LastUsed.UTC(),
		CreatedAt: d.CreatedAt.UTC(),
	}
}
