package model

import "time"

// UserUpdate is one pending change to a user document. Only its effect, an
// upsert keyed by UserID, is persisted.
type UserUpdate struct {
	UserID          string         `json:"user_id" bson:"user_id" validate:"required"`
	Fields          map[string]any `json:"fields" bson:"fields" validate:"required,min=1"`
	SourceTimestamp time.Time      `json:"source_timestamp,omitempty" bson:"source_timestamp,omitempty"`
}

func (u UserUpdate) Validate() error {
	return FormatValidationError(GetValidator().Struct(u))
}
