package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gatehouse.dev/internal/auth"
)

// Repository is the CRUD capability shared by every collection. Entity
// stores compose it and add their own filters.
type Repository[T any] struct {
	coll *mongo.Collection
}

// NewRepository binds a repository to a collection.
func NewRepository[T any](coll *mongo.Collection) Repository[T] {
	return Repository[T]{coll: coll}
}

// Collection exposes the underlying collection for index management.
func (r Repository[T]) Collection() *mongo.Collection { return r.coll }

// FindOne decodes the first match. A miss is auth.ErrNotFound.
func (r Repository[T]) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) (*T, error) {
	var doc T
	if err := r.coll.FindOne(ctx, filter, opts...).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// Find decodes every match.
func (r Repository[T]) Find(ctx context.Context, filter any, opts ...*options.FindOptions) ([]T, error) {
	cur, err := r.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertOne stores doc. Unique index violations become auth.ErrAlreadyExists.
func (r Repository[T]) InsertOne(ctx context.Context, doc *T) error {
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// UpdateOne applies update to the first match and reports whether one matched.
func (r Repository[T]) UpdateOne(ctx context.Context, filter, update any) (bool, error) {
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, auth.ErrAlreadyExists
		}
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// FindOneAndUpdate applies update to the first match and decodes the
// document as it is after the update. A miss is auth.ErrNotFound.
func (r Repository[T]) FindOneAndUpdate(ctx context.Context, filter, update any) (*T, error) {
	var doc T
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// UpdateMany applies update to every match and returns the modified count.
func (r Repository[T]) UpdateMany(ctx context.Context, filter, update any) (int64, error) {
	res, err := r.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// DeleteOne removes the first match and reports whether one was removed.
func (r Repository[T]) DeleteOne(ctx context.Context, filter any) (bool, error) {
	res, err := r.coll.DeleteOne(ctx, filter)
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// DeleteMany removes every match.
func (r Repository[T]) DeleteMany(ctx context.Context, filter any) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func set(fields bson.M) bson.M { return bson.M{"$set": fields} }
