// Package mongodbtest provides a Provider fake for tool and session tests.
// Each method delegates to an optional function field; unset methods return
// zero values so tests only wire what they exercise.
package mongodbtest

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/mongodb"
)

// FakeProvider implements mongodb.Provider with overridable behavior.
type FakeProvider struct {
	PingFunc       func(ctx context.Context) error
	DisconnectFunc func(ctx context.Context) error

	ListDatabaseNamesFunc   func(ctx context.Context) ([]string, error)
	ListCollectionNamesFunc func(ctx context.Context, database string) ([]string, error)
	DatabaseStatsFunc       func(ctx context.Context, database string) (bson.M, error)

	FindFunc           func(ctx context.Context, database, collection string, opts mongodb.FindOptions) (mongodb.Cursor, error)
	AggregateFunc      func(ctx context.Context, database, collection string, pipeline []bson.M, maxTime time.Duration) (mongodb.Cursor, error)
	AggregateCountFunc func(ctx context.Context, database, collection string, pipeline []bson.M, maxTime time.Duration) (int64, error)
	CountDocumentsFunc func(ctx context.Context, database, collection string, filter bson.M, maxTime time.Duration) (int64, error)
	ExplainFunc        func(ctx context.Context, database, collection string, pipeline []bson.M) (bson.M, error)

	InsertManyFunc func(ctx context.Context, database, collection string, documents []any) (*mongodb.InsertManyResult, error)
	UpdateManyFunc func(ctx context.Context, database, collection string, filter, update bson.M, upsert bool) (*mongodb.UpdateManyResult, error)
	DeleteManyFunc func(ctx context.Context, database, collection string, filter bson.M) (int64, error)

	DropCollectionFunc func(ctx context.Context, database, collection string) error
	DropDatabaseFunc   func(ctx context.Context, database string) error

	ListIndexesFunc func(ctx context.Context, database, collection string) ([]mongodb.IndexDescription, error)
	CreateIndexFunc func(ctx context.Context, database, collection string, keys bson.D, name string) (string, error)
	DropIndexFunc   func(ctx context.Context, database, collection, name string) error

	ListSearchIndexesFunc func(ctx context.Context, database, collection string) ([]mongodb.SearchIndex, error)

	DisconnectCalls int
}

var _ mongodb.Provider = (*FakeProvider)(nil)

func (f *FakeProvider) Ping(ctx context.Context) error {
	if f.PingFunc != nil {
		return f.PingFunc(ctx)
	}
	return nil
}

func (f *FakeProvider) Disconnect(ctx context.Context) error {
	f.DisconnectCalls++
	if f.DisconnectFunc != nil {
		return f.DisconnectFunc(ctx)
	}
	return nil
}

func (f *FakeProvider) ListDatabaseNames(ctx context.Context) ([]string, error) {
	if f.ListDatabaseNamesFunc != nil {
		return f.ListDatabaseNamesFunc(ctx)
	}
	return nil, nil
}

func (f *FakeProvider) ListCollectionNames(ctx context.Context, database string) ([]string, error) {
	if f.ListCollectionNamesFunc != nil {
		return f.ListCollectionNamesFunc(ctx, database)
	}
	return nil, nil
}

func (f *FakeProvider) DatabaseStats(ctx context.Context, database string) (bson.M, error) {
	if f.DatabaseStatsFunc != nil {
		return f.DatabaseStatsFunc(ctx, database)
	}
	return bson.M{}, nil
}

func (f *FakeProvider) Find(ctx context.Context, database, collection string, opts mongodb.FindOptions) (mongodb.Cursor, error) {
	if f.FindFunc != nil {
		return f.FindFunc(ctx, database, collection, opts)
	}
	return NewFakeCursor(nil), nil
}

func (f *FakeProvider) Aggregate(ctx context.Context, database, collection string, pipeline []bson.M, maxTime time.Duration) (mongodb.Cursor, error) {
	if f.AggregateFunc != nil {
		return f.AggregateFunc(ctx, database, collection, pipeline, maxTime)
	}
	return NewFakeCursor(nil), nil
}

func (f *FakeProvider) AggregateCount(ctx context.Context, database, collection string, pipeline []bson.M, maxTime time.Duration) (int64, error) {
	if f.AggregateCountFunc != nil {
		return f.AggregateCountFunc(ctx, database, collection, pipeline, maxTime)
	}
	return 0, nil
}

func (f *FakeProvider) CountDocuments(ctx context.Context, database, collection string, filter bson.M, maxTime time.Duration) (int64, error) {
	if f.CountDocumentsFunc != nil {
		return f.CountDocumentsFunc(ctx, database, collection, filter, maxTime)
	}
	return 0, nil
}

func (f *FakeProvider) Explain(ctx context.Context, database, collection string, pipeline []bson.M) (bson.M, error) {
	if f.ExplainFunc != nil {
		return f.ExplainFunc(ctx, database, collection, pipeline)
	}
	return bson.M{}, nil
}

func (f *FakeProvider) InsertMany(ctx context.Context, database, collection string, documents []any) (*mongodb.InsertManyResult, error) {
	if f.InsertManyFunc != nil {
		return f.InsertManyFunc(ctx, database, collection, documents)
	}
	return &mongodb.InsertManyResult{}, nil
}

func (f *FakeProvider) UpdateMany(ctx context.Context, database, collection string, filter, update bson.M, upsert bool) (*mongodb.UpdateManyResult, error) {
	if f.UpdateManyFunc != nil {
		return f.UpdateManyFunc(ctx, database, collection, filter, update, upsert)
	}
	return &mongodb.UpdateManyResult{}, nil
}

func (f *FakeProvider) DeleteMany(ctx context.Context, database, collection string, filter bson.M) (int64, error) {
	if f.DeleteManyFunc != nil {
		return f.DeleteManyFunc(ctx, database, collection, filter)
	}
	return 0, nil
}

func (f *FakeProvider) DropCollection(ctx context.Context, database, collection string) error {
	if f.DropCollectionFunc != nil {
		return f.DropCollectionFunc(ctx, database, collection)
	}
	return nil
}

func (f *FakeProvider) DropDatabase(ctx context.Context, database string) error {
	if f.DropDatabaseFunc != nil {
		return f.DropDatabaseFunc(ctx, database)
	}
	return nil
}

func (f *FakeProvider) ListIndexes(ctx context.Context, database, collection string) ([]mongodb.IndexDescription, error) {
	if f.ListIndexesFunc != nil {
		return f.ListIndexesFunc(ctx, database, collection)
	}
	return nil, nil
}

func (f *FakeProvider) CreateIndex(ctx context.Context, database, collection string, keys bson.D, name string) (string, error) {
	if f.CreateIndexFunc != nil {
		return f.CreateIndexFunc(ctx, database, collection, keys, name)
	}
	return "", nil
}

func (f *FakeProvider) DropIndex(ctx context.Context, database, collection, name string) error {
	if f.DropIndexFunc != nil {
		return f.DropIndexFunc(ctx, database, collection, name)
	}
	return nil
}

func (f *FakeProvider) ListSearchIndexes(ctx context.Context, database, collection string) ([]mongodb.SearchIndex, error) {
	if f.ListSearchIndexesFunc != nil {
		return f.ListSearchIndexesFunc(ctx, database, collection)
	}
	return nil, nil
}

// FakeCursor yields a fixed document list.
type FakeCursor struct {
	docs   []bson.M
	pos    int
	err    error
	Closed bool
}

// NewFakeCursor creates a cursor over docs.
func NewFakeCursor(docs []bson.M) *FakeCursor {
	return &FakeCursor{docs: docs, pos: -1}
}

// NewFailingCursor creates a cursor that reports err after all docs.
func NewFailingCursor(docs []bson.M, err error) *FakeCursor {
	return &FakeCursor{docs: docs, pos: -1, err: err}
}

func (c *FakeCursor) Next(ctx context.Context) bool {
	if c.pos+1 >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *FakeCursor) Decode(val any) error {
	raw, err := bson.Marshal(c.docs[c.pos])
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, val)
}

func (c *FakeCursor) Err() error { return c.err }

func (c *FakeCursor) Close(ctx context.Context) error {
	c.Closed = true
	return nil
}
