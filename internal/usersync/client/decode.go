package client

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"usersync/internal/usersync/model"
)

const (
	keyUserID          = "user_id"
	keyFields          = "fields"
	keySourceTimestamp = "source_timestamp"
	keyMongoID         = "_id"
)

// decodeUpdates turns a response body into updates. Any bad element fails
// the whole body.
func decodeUpdates(body []byte, recordsPath string) ([]model.UserUpdate, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("response body is not valid JSON")
	}

	records := gjson.ParseBytes(body)
	if recordsPath != "" {
		records = records.Get(recordsPath)
		if !records.Exists() {
			return nil, fmt.Errorf("records path %q not found in response", recordsPath)
		}
	}
	if !records.IsArray() {
		return nil, fmt.Errorf("expected a JSON array of records, got %s", records.Type)
	}

	elems := records.Array()
	updates := make([]model.UserUpdate, 0, len(elems))
	for i, elem := range elems {
		u, err := decodeUpdate(elem)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// decodeUpdate reads one element as relaxed Extended JSON. Elements with a
// "fields" object use it directly; flat elements use every other key.
func decodeUpdate(elem gjson.Result) (model.UserUpdate, error) {
	if !elem.IsObject() {
		return model.UserUpdate{}, errors.New("record is not a JSON object")
	}

	var doc bson.M
	if err := bson.UnmarshalExtJSON([]byte(elem.Raw), false, &doc); err != nil {
		return model.UserUpdate{}, fmt.Errorf("decode record: %w", err)
	}

	userID, err := userIDOf(doc[keyUserID])
	if err != nil {
		return model.UserUpdate{}, err
	}
	ts, err := timestampOf(doc[keySourceTimestamp])
	if err != nil {
		return model.UserUpdate{}, fmt.Errorf("user %s: %w", userID, err)
	}

	var fields map[string]any
	if raw, ok := doc[keyFields]; ok {
		fields, ok = asMap(raw)
		if !ok {
			return model.UserUpdate{}, fmt.Errorf("user %s: fields must be an object", userID)
		}
	} else {
		fields = make(map[string]any, len(doc))
		for k, v := range doc {
			switch k {
			case keyUserID, keySourceTimestamp, keyMongoID:
				continue
			}
			fields[k] = v
		}
	}

	u := model.UserUpdate{
		UserID:          userID,
		Fields:          withoutNulls(fields),
		SourceTimestamp: ts,
	}
	if err := u.Validate(); err != nil {
		return model.UserUpdate{}, fmt.Errorf("user %s: %w", userID, err)
	}
	return u, nil
}

func userIDOf(v any) (string, error) {
	switch id := v.(type) {
	case string:
		if s := strings.TrimSpace(id); s != "" {
			return s, nil
		}
	case int32:
		return strconv.FormatInt(int64(id), 10), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	case primitive.ObjectID:
		return id.Hex(), nil
	case nil:
		return "", errors.New("missing user_id")
	}
	return "", fmt.Errorf("invalid user_id %v", v)
}

func timestampOf(v any) (time.Time, error) {
	switch ts := v.(type) {
	case nil:
		return time.Time{}, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid source_timestamp %q", ts)
		}
		return t.UTC(), nil
	case primitive.DateTime:
		return ts.Time().UTC(), nil
	case int32:
		return time.Unix(int64(ts), 0).UTC(), nil
	case int64:
		return time.Unix(ts, 0).UTC(), nil
	case float64:
		sec, frac := math.Modf(ts)
		return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid source_timestamp %v", v)
}

// withoutNulls drops null values so an absent upstream value never clears
// the stored one.
func withoutNulls(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]any:
		return m, true
	case primitive.D:
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	}
	return nil, false
}
