package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"gatehouse.dev/internal/auth"
)

func TestUserDocRoundTrip(t *testing.T) {
	till := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	in := &auth.User{
		ID:            primitive.NewObjectID().Hex(),
		FirstName:     "Ada",
		Email:         "a@x.com",
		RoleID:        primitive.NewObjectID().Hex(),
		Permissions:   auth.Permissions{"users": {"read": true}},
		Status:        auth.UserActive,
		LoginAttempts: 2,
		InactiveTill:  &till,
	}
	doc, err := userToDoc(in)
	require.NoError(t, err)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var decoded userDoc
	require.NoError(t, bson.Unmarshal(raw, &decoded))

	out := userFromDoc(&decoded)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.RoleID, out.RoleID)
	assert.Equal(t, in.Permissions, out.Permissions)
	assert.Equal(t, 2, out.LoginAttempts)
	require.NotNil(t, out.InactiveTill)
	assert.True(t, out.InactiveTill.Equal(till))
	assert.Nil(t, out.DeletedAt)
}

func TestUserDocFieldNames(t *testing.T) {
	doc, err := userToDoc(&auth.User{FirstName: "A", Email: "a@x.com", Status: auth.UserActive, MFAEnabled: true})
	require.NoError(t, err)
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	for _, key := range []string{"firstName", "email", "mfa_enabled", "loginAttempts", "status", "createdAt"} {
		assert.Contains(t, m, key)
	}
	assert.NotContains(t, m, "_id", "zero id must be omitted")
	assert.NotContains(t, m, "roleId")
}

func TestUserToDocRejectsForeignIDs(t *testing.T) {
	_, err := userToDoc(&auth.User{ID: "01HXYZ"})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	_, err = userToDoc(&auth.User{RoleID: "admin"})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestObjectID(t *testing.T) {
	oid := primitive.NewObjectID()
	got, ok := objectID(oid.Hex())
	assert.True(t, ok)
	assert.Equal(t, oid, got)

	_, ok = objectID("not-hex")
	assert.False(t, ok)
	assert.Empty(t, hexOrEmpty(primitive.NilObjectID))
}

func TestSessionFromDoc(t *testing.T) {
	uid := primitive.NewObjectID()
	now := time.Now().UTC().Truncate(time.Millisecond)
	s := sessionFromDoc(&sessionDoc{ID: primitive.NewObjectID(), UserID: uid, SessionToken: "abc", Status: true, LastUsed: now})
	assert.Equal(t, uid.Hex(), s.UserID)
	assert.Equal(t, "abc", s.Token)
	assert.True(t, s.Status)
	assert.True(t, s.LastUsed.Equal(now))
}

// Integration: runs only against a real server.
func TestStoreAgainstServer(t *testing.T) {
	uri := os.Getenv("GATEHOUSE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("GATEHOUSE_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbName := "gatehouse_test_" + primitive.NewObjectID().Hex()
	store, err := Open(ctx, Options{URI: uri, Database: dbName, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.db.Drop(context.Background())
		_ = store.Close(context.Background())
	})

	role := &auth.Role{Name: "User", Slug: "user", Status: true}
	require.NoError(t, store.Roles(ctx).Create(ctx, role))
	u := &auth.User{FirstName: "A", Email: "a@x.com", RoleID: role.ID}
	require.NoError(t, store.Users(ctx).Create(ctx, u))
	assert.ErrorIs(t, store.Users(ctx).Create(ctx, &auth.User{FirstName: "B", Email: "a@x.com"}), auth.ErrAlreadyExists)

	require.NoError(t, store.Users(ctx).Create(ctx, &auth.User{FirstName: "P", Email: "p@x.com", Phone: "+15550001"}))
	assert.ErrorIs(t, store.Users(ctx).Create(ctx, &auth.User{FirstName: "Q", Email: "q@x.com", Phone: "+15550001"}), auth.ErrAlreadyExists)
	require.NoError(t, store.Users(ctx).Create(ctx, &auth.User{FirstName: "R", Email: "r@x.com"}))

	until := time.Now().Add(time.Hour)
	state, err := store.Users(ctx).RecordFailedLogin(ctx, u.ID, 2, until)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Attempts)
	assert.Nil(t, state.InactiveTill)
	state, err = store.Users(ctx).RecordFailedLogin(ctx, u.ID, 2, until)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Attempts)
	require.NotNil(t, state.InactiveTill)
	got, err := store.Users(ctx).Find(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.LoginAttempts)
	assert.NotNil(t, got.InactiveTill)

	v := &auth.Verification{Reference: "ref", UserID: u.ID, Code: 111111, ExpiredAt: time.Now().Add(time.Minute)}
	require.NoError(t, store.Verifications(ctx).Create(ctx, v))
	ok, err := store.Verifications(ctx).Consume(ctx, "ref", 111111)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Verifications(ctx).Consume(ctx, "ref", 111111)
	require.NoError(t, err)
	assert.False(t, ok)

	sess := &auth.Session{UserID: u.ID, Token: "t1", Status: true, LastUsed: time.Now()}
	require.NoError(t, store.Sessions(ctx).Create(ctx, sess))
	assert.ErrorIs(t, store.Sessions(ctx).Create(ctx, &auth.Session{UserID: u.ID, Token: "t1"}), auth.ErrCorrelationCollision)
	require.NoError(t, store.Sessions(ctx).Rotate(ctx, sess.ID, "t2", time.Now()))
	_, err = store.Sessions(ctx).FindActive(ctx, "t1")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}
