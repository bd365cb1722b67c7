// Package mongodb wraps the MongoDB driver behind a Provider facade so tool
// handlers and tests can share one surface. The driver-backed implementation
// records per-operation metrics; tests substitute a fake.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
	"github.com/mongodb-labs/mongodb-mcp-broker/metrics"
)

// FindOptions narrows the driver's find options to what the find tool exposes.
type FindOptions struct {
	Filter     bson.M
	Projection bson.M
	Sort       bson.M
	Limit      int64
	Skip       int64
}

// InsertManyResult reports inserted IDs in insertion order.
type InsertManyResult struct {
	InsertedIDs []any
}

// UpdateManyResult mirrors the driver's update result.
type UpdateManyResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedCount int64
}

// IndexDescription is one entry from listIndexes.
type IndexDescription struct {
	Name string `bson:"name"`
	Keys bson.D `bson:"key"`
}

// SearchIndex is one entry from listSearchIndexes, trimmed to the fields the
// embeddings manager inspects.
type SearchIndex struct {
	Name       string
	Type       string
	Queryable  bool
	Definition bson.M
}

// Provider is the driver facade consumed by tool handlers.
type Provider interface {
	Ping(ctx context.Context) error
	Disconnect(ctx context.Context) error

	ListDatabaseNames(ctx context.Context) ([]string, error)
	ListCollectionNames(ctx context.Context, database string) ([]string, error)
	DatabaseStats(ctx context.Context, database string) (bson.M, error)

	Find(ctx context.Context, database, collection string, opts FindOptions) (Cursor, error)
	Aggregate(ctx context.Context, database, collection string, pipeline []bson.M, maxTime time.Duration) (Cursor, error)
	AggregateCount(ctx context.Context, database, collection string, pipeline []bson.M, maxTime time.Duration) (int64, error)
	CountDocuments(ctx context.Context, database, collection string, filter bson.M, maxTime time.Duration) (int64, error)
	Explain(ctx context.Context, database, collection string, pipeline []bson.M) (bson.M, error)

	InsertMany(ctx context.Context, database, collection string, documents []any) (*InsertManyResult, error)
	UpdateMany(ctx context.Context, database, collection string, filter, update bson.M, upsert bool) (*UpdateManyResult, error)
	DeleteMany(ctx context.Context, database, collection string, filter bson.M) (int64, error)

	DropCollection(ctx context.Context, database, collection string) error
	DropDatabase(ctx context.Context, database string) error

	ListIndexes(ctx context.Context, database, collection string) ([]IndexDescription, error)
	CreateIndex(ctx context.Context, database, collection string, keys bson.D, name string) (string, error)
	DropIndex(ctx context.Context, database, collection, name string) error

	ListSearchIndexes(ctx context.Context, database, collection string) ([]SearchIndex, error)
}

// DriverProvider implements Provider on top of a live mongo.Client.
type DriverProvider struct {
	client *mongo.Client
}

// Connect opens a client, verifies it with a ping, and returns the provider.
func Connect(ctx context.Context, connectionString string) (*DriverProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(connectionString).
		SetMaxPoolSize(100).
		SetMaxConnIdleTime(30 * time.Minute).
		SetRetryWrites(true).
		SetRetryReads(true).
		SetServerSelectionTimeout(5 * time.Second).
		SetAppName("mongodb-mcp-broker")

	start := time.Now()
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		metrics.RecordDriverOperation("connect", time.Since(start).Seconds(), false)
		return nil, errs.Wrap(errs.CodeConnectionFailed, "failed to connect to MongoDB", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		metrics.RecordDriverOperation("connect", time.Since(start).Seconds(), false)
		return nil, errs.Wrap(errs.CodeConnectionFailed, "failed to ping MongoDB", err)
	}
	metrics.RecordDriverOperation("connect", time.Since(start).Seconds(), true)

	return &DriverProvider{client: client}, nil
}

func (p *DriverProvider) collection(database, collection string) *mongo.Collection {
	return p.client.Database(database).Collection(collection)
}

func (p *DriverProvider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx, nil)
}

func (p *DriverProvider) Disconnect(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}

func (p *DriverProvider) ListDatabaseNames(ctx context.Context) ([]string, error) {
	return instrumented(ctx, "listDatabases", func() ([]string, error) {
		return p.client.ListDatabaseNames(ctx, bson.M{})
	})
}

func (p *DriverProvider) ListCollectionNames(ctx context.Context, database string) ([]string, error) {
	return instrumented(ctx, "listCollections", func() ([]string, error) {
		return p.client.Database(database).ListCollectionNames(ctx, bson.M{})
	})
}

func (p *DriverProvider) DatabaseStats(ctx context.Context, database string) (bson.M, error) {
	return instrumented(ctx, "dbStats", func() (bson.M, error) {
		var out bson.M
		err := p.client.Database(database).RunCommand(ctx, bson.D{{Key: "dbStats", Value: 1}}).Decode(&out)
		return out, err
	})
}

func (p *DriverProvider) Find(ctx context.Context, database, collection string, fo FindOptions) (Cursor, error) {
	return instrumented(ctx, "find", func() (Cursor, error) {
		opts := options.Find()
		if fo.Projection != nil {
			opts.SetProjection(fo.Projection)
		}
		if fo.Sort != nil {
			opts.SetSort(fo.Sort)
		}
		if fo.Limit > 0 {
			opts.SetLimit(fo.Limit)
		}
		if fo.Skip > 0 {
			opts.SetSkip(fo.Skip)
		}
		filter := fo.Filter
		if filter == nil {
			filter = bson.M{}
		}
		cur, err := p.collection(database, collection).Find(ctx, filter, opts)
		if err != nil {
			return nil, err
		}
		return &driverCursor{cur: cur}, nil
	})
}

func (p *DriverProvider) Aggregate(ctx context.Context, database, collection string, pipeline []bson.M, maxTime time.Duration) (Cursor, error) {
	return instrumented(ctx, "aggregate", func() (Cursor, error) {
		opts := options.Aggregate()
		if maxTime > 0 {
			opts.SetMaxTime(maxTime)
		}
		cur, err := p.collection(database, collection).Aggregate(ctx, toPipeline(pipeline), opts)
		if err != nil {
			return nil, err
		}
		return &driverCursor{cur: cur}, nil
	})
}

// AggregateCount runs pipeline ++ [{$count}] and returns the resulting total.
// The original pipeline slice is not modified.
func (p *DriverProvider) AggregateCount(ctx context.Context, database, collection string, pipeline []bson.M, maxTime time.Duration) (int64, error) {
	return instrumented(ctx, "aggregateCount", func() (int64, error) {
		counting := make([]bson.M, 0, len(pipeline)+1)
		counting = append(counting, pipeline...)
		counting = append(counting, bson.M{"$count": "count"})

		opts := options.Aggregate()
		if maxTime > 0 {
			opts.SetMaxTime(maxTime)
		}
		cur, err := p.collection(database, collection).Aggregate(ctx, toPipeline(counting), opts)
		if err != nil {
			return 0, err
		}
		defer func() { _ = cur.Close(ctx) }()

		if !cur.Next(ctx) {
			if err := cur.Err(); err != nil {
				return 0, err
			}
			// Empty result set counts as zero
			return 0, nil
		}
		var doc struct {
			Count int64 `bson:"count"`
		}
		if err := cur.Decode(&doc); err != nil {
			return 0, err
		}
		return doc.Count, nil
	})
}

func (p *DriverProvider) CountDocuments(ctx context.Context, database, collection string, filter bson.M, maxTime time.Duration) (int64, error) {
	return instrumented(ctx, "count", func() (int64, error) {
		opts := options.Count()
		if maxTime > 0 {
			opts.SetMaxTime(maxTime)
		}
		if filter == nil {
			filter = bson.M{}
		}
		return p.collection(database, collection).CountDocuments(ctx, filter, opts)
	})
}

func (p *DriverProvider) Explain(ctx context.Context, database, collection string, pipeline []bson.M) (bson.M, error) {
	return instrumented(ctx, "explain", func() (bson.M, error) {
		cmd := bson.D{
			{Key: "explain", Value: bson.D{
				{Key: "aggregate", Value: collection},
				{Key: "pipeline", Value: toPipeline(pipeline)},
				{Key: "cursor", Value: bson.M{}},
			}},
			{Key: "verbosity", Value: "queryPlanner"},
		}
		var out bson.M
		err := p.client.Database(database).RunCommand(ctx, cmd).Decode(&out)
		return out, err
	})
}

func (p *DriverProvider) InsertMany(ctx context.Context, database, collection string, documents []any) (*InsertManyResult, error) {
	return instrumented(ctx, "insertMany", func() (*InsertManyResult, error) {
		res, err := p.collection(database, collection).InsertMany(ctx, documents)
		if err != nil {
			return nil, err
		}
		return &InsertManyResult{InsertedIDs: res.InsertedIDs}, nil
	})
}

func (p *DriverProvider) UpdateMany(ctx context.Context, database, collection string, filter, update bson.M, upsert bool) (*UpdateManyResult, error) {
	return instrumented(ctx, "updateMany", func() (*UpdateManyResult, error) {
		opts := options.Update().SetUpsert(upsert)
		if filter == nil {
			filter = bson.M{}
		}
		res, err := p.collection(database, collection).UpdateMany(ctx, filter, update, opts)
		if err != nil {
			return nil, err
		}
		out := &UpdateManyResult{
			MatchedCount:  res.MatchedCount,
			ModifiedCount: res.ModifiedCount,
		}
		if res.UpsertedID != nil {
			out.UpsertedCount = 1
		}
		return out, nil
	})
}

func (p *DriverProvider) DeleteMany(ctx context.Context, database, collection string, filter bson.M) (int64, error) {
	return instrumented(ctx, "deleteMany", func() (int64, error) {
		if filter == nil {
			filter = bson.M{}
		}
		res, err := p.collection(database, collection).DeleteMany(ctx, filter)
		if err != nil {
			return 0, err
		}
		return res.DeletedCount, nil
	})
}

func (p *DriverProvider) DropCollection(ctx context.Context, database, collection string) error {
	_, err := instrumented(ctx, "dropCollection", func() (struct{}, error) {
		return struct{}{}, p.collection(database, collection).Drop(ctx)
	})
	return err
}

func (p *DriverProvider) DropDatabase(ctx context.Context, database string) error {
	_, err := instrumented(ctx, "dropDatabase", func() (struct{}, error) {
		return struct{}{}, p.client.Database(database).Drop(ctx)
	})
	return err
}

func (p *DriverProvider) ListIndexes(ctx context.Context, database, collection string) ([]IndexDescription, error) {
	return instrumented(ctx, "listIndexes", func() ([]IndexDescription, error) {
		cur, err := p.collection(database, collection).Indexes().List(ctx)
		if err != nil {
			return nil, err
		}
		defer func() { _ = cur.Close(ctx) }()

		var out []IndexDescription
		for cur.Next(ctx) {
			var idx IndexDescription
			if err := cur.Decode(&idx); err != nil {
				return nil, err
			}
			out = append(out, idx)
		}
		return out, cur.Err()
	})
}

func (p *DriverProvider) CreateIndex(ctx context.Context, database, collection string, keys bson.D, name string) (string, error) {
	return instrumented(ctx, "createIndex", func() (string, error) {
		model := mongo.IndexModel{Keys: keys}
		if name != "" {
			model.Options = options.Index().SetName(name)
		}
		return p.collection(database, collection).Indexes().CreateOne(ctx, model)
	})
}

func (p *DriverProvider) DropIndex(ctx context.Context, database, collection, name string) error {
	_, err := instrumented(ctx, "dropIndex", func() (struct{}, error) {
		_, err := p.collection(database, collection).Indexes().DropOne(ctx, name)
		return struct{}{}, err
	})
	return err
}

// ListSearchIndexes returns Atlas Search indexes for the namespace. Servers
// without search support reject the underlying command; that surfaces as
// AtlasSearchNotSupported.
func (p *DriverProvider) ListSearchIndexes(ctx context.Context, database, collection string) ([]SearchIndex, error) {
	return instrumented(ctx, "listSearchIndexes", func() ([]SearchIndex, error) {
		cur, err := p.collection(database, collection).Aggregate(ctx, mongo.Pipeline{
			{{Key: "$listSearchIndexes", Value: bson.M{}}},
		})
		if err != nil {
			if isSearchUnsupported(err) {
				return nil, errs.Wrap(errs.CodeAtlasSearchNotSupported,
					"the connected deployment does not support Atlas Search", err)
			}
			return nil, err
		}
		defer func() { _ = cur.Close(ctx) }()

		var out []SearchIndex
		for cur.Next(ctx) {
			var raw bson.M
			if err := cur.Decode(&raw); err != nil {
				return nil, err
			}
			out = append(out, decodeSearchIndex(raw))
		}
		return out, cur.Err()
	})
}

func decodeSearchIndex(raw bson.M) SearchIndex {
	idx := SearchIndex{}
	if v, ok := raw["name"].(string); ok {
		idx.Name = v
	}
	if v, ok := raw["type"].(string); ok {
		idx.Type = v
	}
	if v, ok := raw["queryable"].(bool); ok {
		idx.Queryable = v
	}
	switch def := raw["latestDefinition"].(type) {
	case bson.M:
		idx.Definition = def
	case bson.D:
		m := make(bson.M, len(def))
		for _, e := range def {
			m[e.Key] = e.Value
		}
		idx.Definition = m
	}
	return idx
}

// isSearchUnsupported matches the server errors returned when the
// $listSearchIndexes stage is unknown to the deployment.
func isSearchUnsupported(err error) bool {
	var cmdErr mongo.CommandError
	if mongo.IsTimeout(err) {
		return false
	}
	if ok := asCommandError(err, &cmdErr); ok {
		// 115 CommandNotSupported, 40324 unrecognized pipeline stage,
		// 59 CommandNotFound on older servers
		switch cmdErr.Code {
		case 59, 115, 40324, 6047401:
			return true
		}
	}
	return false
}

func asCommandError(err error, target *mongo.CommandError) bool {
	for err != nil {
		if ce, ok := err.(mongo.CommandError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func toPipeline(stages []bson.M) mongo.Pipeline {
	pipeline := make(mongo.Pipeline, 0, len(stages))
	for _, stage := range stages {
		d := make(bson.D, 0, len(stage))
		for k, v := range stage {
			d = append(d, bson.E{Key: k, Value: v})
		}
		pipeline = append(pipeline, d)
	}
	return pipeline
}

// instrumented wraps a driver call with latency and status metrics.
func instrumented[T any](_ context.Context, operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	metrics.RecordDriverOperation(operation, time.Since(start).Seconds(), err == nil)
	return out, err
}

// IsDuplicateKey reports whether err is a duplicate-key write error.
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// Namespace formats a db/collection pair for messages.
func Namespace(database, collection string) string {
	return fmt.Sprintf("%s.%s", database, collection)
}
