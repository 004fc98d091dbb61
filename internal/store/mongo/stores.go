package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gatehouse.dev/internal/auth"
)

// Users ----------------------------------------------------------------------
type userStore struct{ repo Repository[userDoc] }

func (s userStore) Create(ctx context.Context, u *auth.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	if u.Status == "" {
		u.Status = auth.UserActive
	}
	doc, err := userToDoc(u)
	if err != nil {
		return err
	}
	if doc.ID.IsZero() {
		doc.ID = newObjectID()
	}
	if err := s.repo.InsertOne(ctx, doc); err != nil {
		return err
	}
	u.ID = doc.ID.Hex()
	return nil
}

func (s userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	oid, ok := objectID(id)
	if !ok {
		return nil, auth.ErrNotFound
	}
	doc, err := s.repo.FindOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return nil, err
	}
	return userFromDoc(doc), nil
}

func (s userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	doc, err := s.repo.FindOne(ctx, bson.M{"email": email})
	if err != nil {
		return nil, err
	}
	return userFromDoc(doc), nil
}

// failedLoginUpdate increments loginAttempts and, in the second stage,
// sets inactiveTill when the incremented count reaches maxAttempts.
func failedLoginUpdate(maxAttempts int, lockUntil, now time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"loginAttempts": bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$loginAttempts", 0}}, 1}},
			"updatedAt":     now,
		}}},
		{{Key: "$set", Value: bson.M{
			"inactiveTill": bson.M{"$cond": bson.A{
				bson.M{"$gte": bson.A{"$loginAttempts", maxAttempts}},
				lockUntil,
				"$inactiveTill",
			}},
		}}},
	}
}

func (s userStore) RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (auth.LockoutState, error) {
	oid, ok := objectID(id)
	if !ok {
		return auth.LockoutState{}, auth.ErrNotFound
	}
	doc, err := s.repo.FindOneAndUpdate(ctx, bson.M{"_id": oid},
		failedLoginUpdate(maxAttempts, lockUntil.UTC(), time.Now().UTC()))
	if err != nil {
		return auth.LockoutState{}, err
	}
	return auth.LockoutState{Attempts: doc.LoginAttempts, InactiveTill: utcPtr(doc.InactiveTill)}, nil
}

func (s userStore) ResetLoginAttempts(ctx context.Context, id string) error {
	oid, ok := objectID(id)
	if !ok {
		return auth.ErrNotFound
	}
	matched, err := s.repo.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$set":   bson.M{"loginAttempts": 0, "updatedAt": time.Now().UTC()},
		"$unset": bson.M{"inactiveTill": ""},
	})
	return matchedOrNotFound(matched, err)
}

func (s userStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	oid, ok := objectID(id)
	if !ok {
		return auth.ErrNotFound
	}
	matched, err := s.repo.UpdateOne(ctx, bson.M{"_id": oid}, set(bson.M{"lastLoginAt": at.UTC()}))
	return matchedOrNotFound(matched, err)
}

func matchedOrNotFound(matched bool, err error) error {
	if err != nil {
		return err
	}
	if !matched {
		return auth.ErrNotFound
	}
	return nil
}

// Roles ----------------------------------------------------------------------
type roleStore struct{ repo Repository[roleDoc] }

func (s roleStore) Create(ctx context.Context, r *auth.Role) error {
	now := time.Now().UTC()
	doc := &roleDoc{
		ID:          newObjectID(),
		Name:        r.Name,
		Slug:        r.Slug,
		Permissions: r.Permissions,
		Status:      r.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if r.ID != "" {
		oid, ok := objectID(r.ID)
		if !ok {
			return auth.ErrInvalidInput
		}
		doc.ID = oid
	}
	if err := s.repo.InsertOne(ctx, doc); err != nil {
		return err
	}
	r.ID = doc.ID.Hex()
	r.CreatedAt, r.UpdatedAt = now, now
	return nil
}

func (s roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	oid, ok := objectID(id)
	if !ok {
		return nil, auth.ErrNotFound
	}
	doc, err := s.repo.FindOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return nil, err
	}
	return roleFromDoc(doc), nil
}

func (s roleStore) FindBySlug(ctx context.Context, slug string) (*auth.Role, error) {
	doc, err := s.repo.FindOne(ctx, bson.M{"slug": slug})
	if err != nil {
		return nil, err
	}
	return roleFromDoc(doc), nil
}

// Passwords ------------------------------------------------------------------
type passwordStore struct{ repo Repository[passwordDoc] }

// Replace deactivates earlier records before inserting. The two writes are
// not transactional: a crash in between leaves the user with no active
// record, which fails closed.
func (s passwordStore) Replace(ctx context.Context, rec *auth.PasswordRecord) error {
	uid, ok := objectID(rec.UserID)
	if !ok {
		return auth.ErrInvalidInput
	}
	if _, err := s.repo.UpdateMany(ctx, bson.M{"userId": uid, "status": true}, set(bson.M{"status": false})); err != nil {
		return err
	}
	doc := &passwordDoc{
		ID:        newObjectID(),
		UserID:    uid,
		Password:  rec.Secret,
		Status:    rec.Status,
		Expired:   rec.Expired,
		ExpiredAt: rec.ExpiredAt,
		CreatedAt: rec.CreatedAt,
	}
	if err := s.repo.InsertOne(ctx, doc); err != nil {
		return err
	}
	rec.ID = doc.ID.Hex()
	return nil
}

func (s passwordStore) FindActive(ctx context.Context, userID string, now time.Time) (*auth.PasswordRecord, error) {
	uid, ok := objectID(userID)
	if !ok {
		return nil, auth.ErrNotFound
	}
	doc, err := s.repo.FindOne(ctx, bson.M{
		"userId":    uid,
		"status":    true,
		"expired":   false,
		"expiredAt": bson.M{"$gt": now},
	}, options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	return passwordFromDoc(doc), nil
}

func (s passwordStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.DeleteMany(ctx, bson.M{"expiredAt": bson.M{"$lte": now}})
}

// Verifications --------------------------------------------------------------
type verificationStore struct{ repo Repository[verificationDoc] }

func (s verificationStore) Create(ctx context.Context, v *auth.Verification) error {
	uid, ok := objectID(v.UserID)
	if !ok {
		return auth.ErrInvalidInput
	}
	doc := &verificationDoc{
		ID:             newObjectID(),
		Reference:      v.Reference,
		ForLogin:       v.ForLogin,
		EmailCode:      v.Code,
		UserID:         uid,
		ExpiredAt:      v.ExpiredAt,
		ResendAttempts: v.ResendAttempts,
		LastResentAt:   v.LastResentAt,
		CreatedAt:      v.CreatedAt,
	}
	if err := s.repo.InsertOne(ctx, doc); err != nil {
		return err
	}
	v.ID = doc.ID.Hex()
	return nil
}

func (s verificationStore) FindByReference(ctx context.Context, reference string) (*auth.Verification, error) {
	doc, err := s.repo.FindOne(ctx, bson.M{"reference": reference})
	if err != nil {
		return nil, err
	}
	return verificationFromDoc(doc), nil
}

func (s verificationStore) UpdateCode(ctx context.Context, v *auth.Verification) error {
	matched, err := s.repo.UpdateOne(ctx, bson.M{"reference": v.Reference}, set(bson.M{
		"emailCode":      v.Code,
		"expiredAt":      v.ExpiredAt,
		"lastResentAt":   v.LastResentAt,
		"resendAttempts": v.ResendAttempts,
	}))
	return matchedOrNotFound(matched, err)
}

func (s verificationStore) Consume(ctx context.Context, reference string, code int) (bool, error) {
	return s.repo.DeleteOne(ctx, bson.M{"reference": reference, "emailCode": code})
}

func (s verificationStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.DeleteMany(ctx, bson.M{"expiredAt": bson.M{"$lt": now}})
}

// Sessions -------------------------------------------------------------------
type sessionStore struct{ repo Repository[sessionDoc] }

func (s sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	uid, ok := objectID(sess.UserID)
	if !ok {
		return auth.ErrInvalidInput
	}
	doc := &sessionDoc{
		ID:           newObjectID(),
		UserID:       uid,
		SessionToken: sess.Token,
		UserAgent:    sess.UserAgent,
		IPAddress:    sess.IPAddress,
		Status:       sess.Status,
		LastUsed:     sess.LastUsed,
		CreatedAt:    sess.CreatedAt,
	}
	if err := s.repo.InsertOne(ctx, doc); err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			return auth.ErrCorrelationCollision
		}
		return err
	}
	sess.ID = doc.ID.Hex()
	return nil
}

func (s sessionStore) FindActive(ctx context.Context, token string) (*auth.Session, error) {
	doc, err := s.repo.FindOne(ctx, bson.M{"sessionToken": token, "status": true})
	if err != nil {
		return nil, err
	}
	return sessionFromDoc(doc), nil
}

func (s sessionStore) ListActiveByUser(ctx context.Context, userID string) ([]*auth.Session, error) {
	uid, ok := objectID(userID)
	if !ok {
		return nil, nil
	}
	docs, err := s.repo.Find(ctx, bson.M{"userId": uid, "status": true},
		options.Find().SetSort(bson.D{{Key: "lastUsed", Value: -1}}))
	if err != nil {
		return nil, err
	}
	out := make([]*auth.Session, 0, len(docs))
	for i := range docs {
		out = append(out, sessionFromDoc(&docs[i]))
	}
	return out, nil
}

func (s sessionStore) Rotate(ctx context.Context, id, token string, now time.Time) error {
	oid, ok := objectID(id)
	if !ok {
		return auth.ErrNotFound
	}
	matched, err := s.repo.UpdateOne(ctx, bson.M{"_id": oid, "status": true},
		set(bson.M{"sessionToken": token, "lastUsed": now}))
	if errors.Is(err, auth.ErrAlreadyExists) {
		return auth.ErrCorrelationCollision
	}
	return matchedOrNotFound(matched, err)
}

func (s sessionStore) Touch(ctx context.Context, token string, now time.Time) error {
	matched, err := s.repo.UpdateOne(ctx, bson.M{"sessionToken": token}, set(bson.M{"lastUsed": now}))
	return matchedOrNotFound(matched, err)
}

func (s sessionStore) Deactivate(ctx context.Context, token string) error {
	_, err := s.repo.UpdateOne(ctx, bson.M{"sessionToken": token}, set(bson.M{"status": false}))
	return err
}

func (s sessionStore) DeactivateAllForUser(ctx context.Context, userID string) (int64, error) {
	uid, ok := objectID(userID)
	if !ok {
		return 0, nil
	}
	return s.repo.UpdateMany(ctx, bson.M{"userId": uid, "status": true}, set(bson.M{"status": false}))
}

func (s sessionStore) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.DeleteMany(ctx, bson.M{"lastUsed": bson.M{"$lt": before}})
}
