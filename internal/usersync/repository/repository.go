package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"usersync/internal/usersync/model"
)

var ErrNotFound = errors.New("user not found")

type UserRepository interface {
	// Insert or merge the update's fields into the user document
	UpsertUser(ctx context.Context, update model.UserUpdate) (model.UpsertOutcome, error)
	// Fetch the stored user document without its _id
	FindUser(ctx context.Context, userID string) (bson.M, error)
	// Initialize Indexes
	EnsureIndexes(ctx context.Context) error
}

const (
	OpValidate = "validate"
	OpUpsert   = "upsert"
	OpFind     = "find"
)

// StorageError is returned for any gateway failure. Nothing is retried here.
type StorageError struct {
	UserID string
	Op     string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s user %s: %v", e.Op, e.UserID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Kind is the failure kind reported in sync results.
func (e *StorageError) Kind() string {
	if e.Op == OpValidate {
		return model.FailureKindInvalid
	}
	return model.FailureKindStorage
}
