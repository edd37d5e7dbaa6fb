package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"usersync/internal/usersync/config"
	"usersync/internal/usersync/model"
)

const (
	fieldUserID          = "user_id"
	fieldSourceTimestamp = "source_timestamp"
	fieldMongoID         = "_id"
)

// collection is the subset of *mongo.Collection the repository uses.
type collection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Indexes() mongo.IndexView
}

type MongoUserRepository struct {
	Users collection
}

func NewMongoUserRepository(db *mongo.Database, collectionName string) *MongoUserRepository {
	return &MongoUserRepository{
		Users: db.Collection(collectionName),
	}
}

// Connect opens the pooled client and pings the deployment.
func Connect(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetConnectTimeout(cfg.RequestTimeout).
		SetServerSelectionTimeout(cfg.RequestTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}

func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	// user_id is the upsert key; one document per user
	idxUserUnique := mongo.IndexModel{
		Keys:    bson.D{{Key: fieldUserID, Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_user_id"),
	}
	_, err := r.Users.Indexes().CreateOne(ctx, idxUserUnique)
	return err
}

func (r *MongoUserRepository) UpsertUser(ctx context.Context, u model.UserUpdate) (model.UpsertOutcome, error) {
	update, err := buildUpsert(u)
	if err != nil {
		return "", &StorageError{UserID: u.UserID, Op: OpValidate, Err: err}
	}

	filter := bson.M{fieldUserID: u.UserID}
	opts := options.Update().SetUpsert(true)

	res, err := r.Users.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return "", &StorageError{UserID: u.UserID, Op: OpUpsert, Err: err}
	}
	return outcomeOf(res), nil
}

func outcomeOf(res *mongo.UpdateResult) model.UpsertOutcome {
	switch {
	case res == nil:
		return model.OutcomeUnchanged
	case res.UpsertedCount > 0:
		return model.OutcomeInserted
	case res.ModifiedCount > 0:
		return model.OutcomeModified
	default:
		return model.OutcomeUnchanged
	}
}

func (r *MongoUserRepository) FindUser(ctx context.Context, userID string) (bson.M, error) {
	opts := options.FindOne().SetProjection(bson.M{fieldMongoID: 0})

	var doc bson.M
	err := r.Users.FindOne(ctx, bson.M{fieldUserID: userID}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{UserID: userID, Op: OpFind, Err: err}
	}
	return doc, nil
}

// buildUpsert merges fields with $set and writes user_id only on insert.
// Null fields are skipped and leave the stored value alone. Nothing
// time-dependent is written, so reapplying an update is a no-op.
func buildUpsert(u model.UserUpdate) (bson.M, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	set := bson.M{}
	for k, v := range u.Fields {
		if err := checkFieldName(k); err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		set[k] = v
	}
	if len(set) == 0 {
		return nil, errors.New("no non-null fields")
	}
	if !u.SourceTimestamp.IsZero() {
		set[fieldSourceTimestamp] = u.SourceTimestamp.UTC()
	}

	return bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			fieldUserID: u.UserID,
		},
	}, nil
}

func checkFieldName(name string) error {
	switch {
	case name == "":
		return errors.New("empty field name")
	case name == fieldMongoID, name == fieldUserID, name == fieldSourceTimestamp:
		return fmt.Errorf("field %q is reserved", name)
	case strings.HasPrefix(name, "$"):
		return fmt.Errorf("field %q must not start with '$'", name)
	case strings.Contains(name, "."):
		return fmt.Errorf("field %q must not contain '.'", name)
	}
	return nil
}
