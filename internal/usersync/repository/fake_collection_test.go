package repository

import (
	"context"
	"errors"
	"maps"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// fakeCollection keeps documents keyed by user_id and applies the $set and
// $setOnInsert operators the repository emits.
type fakeCollection struct {
	docs    map[string]bson.M
	failFor map[string]error
	calls   int
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{
		docs:    make(map[string]bson.M),
		failFor: make(map[string]error),
	}
}

func (f *fakeCollection) UpdateOne(_ context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.calls++
	id, ok := filter.(bson.M)[fieldUserID].(string)
	if !ok {
		return nil, errors.New("fake: filter without user_id")
	}
	if err := f.failFor[id]; err != nil {
		return nil, err
	}

	upsert := false
	for _, o := range opts {
		if o != nil && o.Upsert != nil {
			upsert = *o.Upsert
		}
	}

	ops := update.(bson.M)
	doc, exists := f.docs[id]
	result := &mongo.UpdateResult{}
	if exists {
		result.MatchedCount = 1
	} else {
		if !upsert {
			return result, nil
		}
		doc = bson.M{fieldUserID: id}
		if onInsert, ok := ops["$setOnInsert"].(bson.M); ok {
			maps.Copy(doc, onInsert)
		}
		result.UpsertedCount = 1
		result.UpsertedID = id
	}

	before := maps.Clone(doc)
	if set, ok := ops["$set"].(bson.M); ok {
		maps.Copy(doc, set)
	}
	if exists && !reflect.DeepEqual(before, doc) {
		result.ModifiedCount = 1
	}
	f.docs[id] = doc
	return result, nil
}

func (f *fakeCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	id, _ := filter.(bson.M)[fieldUserID].(string)
	doc, ok := f.docs[id]
	if !ok {
		return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
	}
	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}

func (f *fakeCollection) Indexes() mongo.IndexView {
	return mongo.IndexView{}
}
