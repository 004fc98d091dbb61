// Package mongo implements auth.Store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"gatehouse.dev/internal/auth"
)

const (
	usersCollection         = "users"
	rolesCollection         = "roles"
	passwordsCollection     = "passwords"
	verificationsCollection = "codeverifications"
	sessionsCollection      = "loginsessions"
)

// Options configures the client pool.
type Options struct {
	URI                    string
	Database               string
	MaxPoolSize            uint64
	ServerSelectionTimeout time.Duration
	SocketTimeout          time.Duration
	ConnectTimeout         time.Duration
}

var _ auth.Store = (*Store)(nil)

// Store holds the client and typed repositories.
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	users         Repository[userDoc]
	roles         Repository[roleDoc]
	passwords     Repository[passwordDoc]
	verifications Repository[verificationDoc]
	sessions      Repository[sessionDoc]
}

// Open connects, pings the primary and ensures indexes.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.URI == "" {
		return nil, errors.New("mongo: URI is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetWriteConcern(writeconcern.New(writeconcern.WMajority()))
	if opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(opts.MaxPoolSize)
	}
	if opts.ServerSelectionTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(opts.ServerSelectionTimeout)
	}
	if opts.SocketTimeout > 0 {
		clientOpts.SetSocketTimeout(opts.SocketTimeout)
	}
	if opts.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(opts.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	s := newStore(client, opts.Database)
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func newStore(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:        client,
		db:            db,
		users:         NewRepository[userDoc](db.Collection(usersCollection)),
		roles:         NewRepository[roleDoc](db.Collection(rolesCollection)),
		passwords:     NewRepository[passwordDoc](db.Collection(passwordsCollection)),
		verifications: NewRepository[verificationDoc](db.Collection(verificationsCollection)),
		sessions:      NewRepository[sessionDoc](db.Collection(sessionsCollection)),
	}
}

// EnsureIndexes creates the unique and lookup indexes. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := func(field string) mongo.IndexModel {
		return mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}, Options: options.Index().SetUnique(true)}
	}
	plain := func(fields ...string) mongo.IndexModel {
		keys := bson.D{}
		for _, f := range fields {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
		return mongo.IndexModel{Keys: keys}
	}
	specs := map[*mongo.Collection][]mongo.IndexModel{
		s.users.Collection(): {unique("email"), {
			Keys: bson.D{{Key: "phone", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"phone": bson.M{"$gt": ""}}),
		}},
		s.roles.Collection():         {unique("slug")},
		s.passwords.Collection():     {plain("userId", "status"), plain("expiredAt")},
		s.verifications.Collection(): {unique("reference"), plain("expiredAt")},
		s.sessions.Collection():      {unique("sessionToken"), plain("userId", "status"), plain("lastUsed")},
	}
	for coll, models := range specs {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongo: create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, readpref.Primary()) }

func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

func (s *Store) Users(context.Context) auth.UserStore         { return userStore{s.users} }
func (s *Store) Roles(context.Context) auth.RoleStore         { return roleStore{s.roles} }
func (s *Store) Passwords(context.Context) auth.PasswordStore { return passwordStore{s.passwords} }
func (s *Store) Verifications(context.Context) auth.VerificationStore {
	return verificationStore{s.verifications}
}
func (s *Store) Sessions(context.Context) auth.SessionStore { return sessionStore{s.sessions} }
