package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/config"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/mongodb"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/mongodb/mongodbtest"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/session"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/vectorsearch"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/voyage"
)

func testInvocation(provider mongodb.Provider) *Invocation {
	sess := session.New("mongodb://fake.example.net",
		session.WithConnector(func(ctx context.Context, cs string) (mongodb.Provider, error) {
			return provider, nil
		}))
	return &Invocation{Session: sess}
}

// twoDimEmbedder returns a 2-dimensional vector per input string.
type twoDimEmbedder struct {
	requests []voyage.EmbeddingRequest
}

func (e *twoDimEmbedder) Embed(ctx context.Context, req voyage.EmbeddingRequest) ([][]float64, error) {
	e.requests = append(e.requests, req)
	out := make([][]float64, len(req.Input))
	for i := range req.Input {
		out[i] = []float64{float64(i), float64(i) + 0.5}
	}
	return out, nil
}

func plotSearchIndexes() []mongodb.SearchIndex {
	return []mongodb.SearchIndex{{
		Name:      "plot_index",
		Type:      "vectorSearch",
		Queryable: true,
		Definition: bson.M{"fields": bson.A{
			bson.M{"type": "vector", "path": "plot_embedding", "numDimensions": int32(2), "similarity": "cosine"},
			bson.M{"type": "filter", "path": "genre"},
		}},
	}}
}

func TestNotConnectedWithoutSession(t *testing.T) {
	ts := NewMongoDBToolSet(config.Default(), nil)
	_, err := ts.ListDatabases(context.Background(), &Invocation{}, ListDatabasesArgs{})
	if !errs.Is(err, errs.CodeNotConnected) {
		t.Fatalf("expected NotConnected, got %v", err)
	}
}

func TestListDatabases(t *testing.T) {
	fake := &mongodbtest.FakeProvider{
		ListDatabaseNamesFunc: func(ctx context.Context) ([]string, error) {
			return []string{"admin", "movies"}, nil
		},
	}
	ts := NewMongoDBToolSet(config.Default(), nil)

	text, err := ts.ListDatabases(context.Background(), testInvocation(fake), ListDatabasesArgs{})
	if err != nil {
		t.Fatalf("ListDatabases failed: %v", err)
	}
	if !strings.Contains(text, "Found 2 databases") {
		t.Errorf("summary missing: %q", text)
	}
	data, ok := DataFromUntrustedContent(text)
	if !ok || !strings.Contains(data, "movies") {
		t.Errorf("database names not wrapped as untrusted data: %q", text)
	}
}

func TestFind(t *testing.T) {
	t.Run("caps the limit to maxDocumentsPerQuery", func(t *testing.T) {
		var gotLimit int64
		fake := &mongodbtest.FakeProvider{
			FindFunc: func(ctx context.Context, db, coll string, opts mongodb.FindOptions) (mongodb.Cursor, error) {
				gotLimit = opts.Limit
				return mongodbtest.NewFakeCursor([]bson.M{{"title": "The Matrix"}, {"title": "Dune"}}), nil
			},
		}
		cfg := config.Default()
		cfg.MaxDocumentsPerQuery = 2
		ts := NewMongoDBToolSet(cfg, nil)

		text, err := ts.Find(context.Background(), testInvocation(fake), FindArgs{
			NamespaceArgs: NamespaceArgs{Database: "media", Collection: "movies"},
			Limit:         100,
		})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if gotLimit != 2 {
			t.Errorf("driver limit = %d, want 2", gotLimit)
		}
		if !strings.Contains(text, "Found 2 documents in media.movies.") {
			t.Errorf("summary missing: %q", text)
		}
		if !strings.Contains(text, "maxDocumentsPerQuery") {
			t.Errorf("limit annotation missing: %q", text)
		}
		data, ok := DataFromUntrustedContent(text)
		if !ok || !strings.Contains(data, "The Matrix") {
			t.Errorf("documents not wrapped as untrusted data: %q", text)
		}
	})

	t.Run("no documents", func(t *testing.T) {
		ts := NewMongoDBToolSet(config.Default(), nil)
		text, err := ts.Find(context.Background(), testInvocation(&mongodbtest.FakeProvider{}), FindArgs{
			NamespaceArgs: NamespaceArgs{Database: "media", Collection: "movies"},
		})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if text != "No documents found in media.movies." {
			t.Errorf("text = %q", text)
		}
	})
}

func TestCount(t *testing.T) {
	fake := &mongodbtest.FakeProvider{
		CountDocumentsFunc: func(ctx context.Context, db, coll string, filter bson.M, maxTime time.Duration) (int64, error) {
			if filter["genre"] != "scifi" {
				t.Errorf("filter = %v", filter)
			}
			return 42, nil
		},
	}
	ts := NewMongoDBToolSet(config.Default(), nil)
	text, err := ts.Count(context.Background(), testInvocation(fake), CountArgs{
		NamespaceArgs: NamespaceArgs{Database: "media", Collection: "movies"},
		Filter:        map[string]any{"genre": "scifi"},
	})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if text != "Found 42 documents in media.movies." {
		t.Errorf("text = %q", text)
	}
}

func TestExport(t *testing.T) {
	fake := &mongodbtest.FakeProvider{
		FindFunc: func(ctx context.Context, db, coll string, opts mongodb.FindOptions) (mongodb.Cursor, error) {
			return mongodbtest.NewFakeCursor([]bson.M{{"a": int32(1)}, {"a": int32(2)}}), nil
		},
	}
	ts := NewMongoDBToolSet(config.Default(), nil)
	text, err := ts.Export(context.Background(), testInvocation(fake), ExportArgs{
		NamespaceArgs: NamespaceArgs{Database: "db", Collection: "c"},
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	data, ok := DataFromUntrustedContent(text)
	if !ok {
		t.Fatalf("no untrusted block in %q", text)
	}
	lines := strings.Split(data, "\n")
	if len(lines) != 2 {
		t.Errorf("expected one document per line, got %d lines: %q", len(lines), data)
	}
}

func TestInsertMany(t *testing.T) {
	t.Run("output format", func(t *testing.T) {
		ids := []any{primitive.NewObjectID(), primitive.NewObjectID()}
		fake := &mongodbtest.FakeProvider{
			InsertManyFunc: func(ctx context.Context, db, coll string, docs []any) (*mongodb.InsertManyResult, error) {
				return &mongodb.InsertManyResult{InsertedIDs: ids}, nil
			},
		}
		ts := NewMongoDBToolSet(config.Default(), nil)
		text, err := ts.InsertMany(context.Background(), testInvocation(fake), InsertManyArgs{
			NamespaceArgs: NamespaceArgs{Database: "media", Collection: "movies"},
			Documents:     []map[string]any{{"title": "The Matrix"}, {"title": "Dune"}},
		})
		if err != nil {
			t.Fatalf("InsertMany failed: %v", err)
		}
		if !strings.Contains(text, "Documents were inserted successfully.") {
			t.Errorf("success line missing: %q", text)
		}
		if !strings.Contains(text, "Inserted `2` document(s) into media.movies.") {
			t.Errorf("count line missing: %q", text)
		}
		hex := ids[0].(primitive.ObjectID).Hex() + ", " + ids[1].(primitive.ObjectID).Hex()
		if !strings.Contains(text, "Inserted IDs: "+hex) {
			t.Errorf("IDs line missing: %q", text)
		}
	})

	t.Run("duplicate key", func(t *testing.T) {
		fake := &mongodbtest.FakeProvider{
			InsertManyFunc: func(ctx context.Context, db, coll string, docs []any) (*mongodb.InsertManyResult, error) {
				return nil, mongo.BulkWriteException{
					WriteErrors: []mongo.BulkWriteError{{
						WriteError: mongo.WriteError{Code: 11000, Message: "E11000 duplicate key error"},
					}},
				}
			},
		}
		ts := NewMongoDBToolSet(config.Default(), nil)
		_, err := ts.InsertMany(context.Background(), testInvocation(fake), InsertManyArgs{
			NamespaceArgs: NamespaceArgs{Database: "db", Collection: "c"},
			Documents:     []map[string]any{{"_id": 1}},
		})
		if !errs.Is(err, errs.CodeInvalidArguments) {
			t.Fatalf("expected InvalidArguments for duplicate key, got %v", err)
		}
		if !strings.Contains(err.Error(), "E11000") {
			t.Errorf("duplicate key not echoed: %v", err)
		}
	})

	t.Run("embedding rewrite before insert", func(t *testing.T) {
		var inserted []any
		fake := &mongodbtest.FakeProvider{
			ListSearchIndexesFunc: func(ctx context.Context, db, coll string) ([]mongodb.SearchIndex, error) {
				return plotSearchIndexes(), nil
			},
			InsertManyFunc: func(ctx context.Context, db, coll string, docs []any) (*mongodb.InsertManyResult, error) {
				inserted = docs
				return &mongodb.InsertManyResult{InsertedIDs: []any{primitive.NewObjectID()}}, nil
			},
		}
		embedder := &twoDimEmbedder{}
		mgr := vectorsearch.NewManager(embedder)
		defer mgr.Close()
		ts := NewMongoDBToolSet(config.Default(), mgr)

		_, err := ts.InsertMany(context.Background(), testInvocation(fake), InsertManyArgs{
			NamespaceArgs: NamespaceArgs{Database: "media", Collection: "movies"},
			Documents:     []map[string]any{{"title": "The Matrix"}},
			EmbeddingParameters: &vectorsearch.Parameters{
				Model: "voyage-3.5-lite",
				Input: []map[string]string{{"plot_embedding": "A hacker discovers reality is a simulation."}},
			},
		})
		if err != nil {
			t.Fatalf("InsertMany failed: %v", err)
		}
		if len(embedder.requests) != 1 {
			t.Fatalf("embed calls = %d, want 1", len(embedder.requests))
		}
		if len(inserted) != 1 {
			t.Fatalf("inserted = %d documents", len(inserted))
		}
		doc := inserted[0].(bson.M)
		vec, ok := doc["plot_embedding"].(bson.A)
		if !ok || len(vec) != 2 {
			t.Errorf("plot_embedding = %v", doc["plot_embedding"])
		}
		if doc["title"] != "The Matrix" {
			t.Errorf("title = %v", doc["title"])
		}
	})

	t.Run("dimension mismatch blocks the write", func(t *testing.T) {
		inserts := 0
		fake := &mongodbtest.FakeProvider{
			ListSearchIndexesFunc: func(ctx context.Context, db, coll string) ([]mongodb.SearchIndex, error) {
				return plotSearchIndexes(), nil
			},
			InsertManyFunc: func(ctx context.Context, db, coll string, docs []any) (*mongodb.InsertManyResult, error) {
				inserts++
				return &mongodb.InsertManyResult{}, nil
			},
		}
		mgr := vectorsearch.NewManager(&twoDimEmbedder{})
		defer mgr.Close()
		ts := NewMongoDBToolSet(config.Default(), mgr)

		_, err := ts.InsertMany(context.Background(), testInvocation(fake), InsertManyArgs{
			NamespaceArgs: NamespaceArgs{Database: "media", Collection: "movies"},
			Documents:     []map[string]any{{"plot_embedding": "oopsie"}},
		})
		if !errs.Is(err, errs.CodeEmbeddingDimensionMismatch) {
			t.Fatalf("expected EmbeddingDimensionMismatch, got %v", err)
		}
		if inserts != 0 {
			t.Error("no documents may be written on validation failure")
		}
	})
}

func TestUpdateMany(t *testing.T) {
	t.Run("matched and modified", func(t *testing.T) {
		fake := &mongodbtest.FakeProvider{
			UpdateManyFunc: func(ctx context.Context, db, coll string, filter, update bson.M, upsert bool) (*mongodb.UpdateManyResult, error) {
				return &mongodb.UpdateManyResult{MatchedCount: 3, ModifiedCount: 2}, nil
			},
		}
		ts := NewMongoDBToolSet(config.Default(), nil)
		text, err := ts.UpdateMany(context.Background(), testInvocation(fake), UpdateManyArgs{
			NamespaceArgs: NamespaceArgs{Database: "db", Collection: "c"},
			Update:        map[string]any{"$set": map[string]any{"seen": true}},
		})
		if err != nil {
			t.Fatalf("UpdateMany failed: %v", err)
		}
		if text != "Matched 3 document(s) in db.c and modified 2 of them." {
			t.Errorf("text = %q", text)
		}
	})

	t.Run("upsert", func(t *testing.T) {
		fake := &mongodbtest.FakeProvider{
			UpdateManyFunc: func(ctx context.Context, db, coll string, filter, update bson.M, upsert bool) (*mongodb.UpdateManyResult, error) {
				if !upsert {
					t.Error("upsert flag not forwarded")
				}
				return &mongodb.UpdateManyResult{UpsertedCount: 1}, nil
			},
		}
		ts := NewMongoDBToolSet(config.Default(), nil)
		text, err := ts.UpdateMany(context.Background(), testInvocation(fake), UpdateManyArgs{
			NamespaceArgs: NamespaceArgs{Database: "db", Collection: "c"},
			Update:        map[string]any{"$set": map[string]any{"seen": true}},
			Upsert:        true,
		})
		if err != nil {
			t.Fatalf("UpdateMany failed: %v", err)
		}
		if !strings.Contains(text, "upserted 1 document(s)") {
			t.Errorf("text = %q", text)
		}
	})
}

func TestDeleteMany(t *testing.T) {
	fake := &mongodbtest.FakeProvider{
		DeleteManyFunc: func(ctx context.Context, db, coll string, filter bson.M) (int64, error) {
			return 7, nil
		},
	}
	ts := NewMongoDBToolSet(config.Default(), nil)
	text, err := ts.DeleteMany(context.Background(), testInvocation(fake), DeleteManyArgs{
		NamespaceArgs: NamespaceArgs{Database: "db", Collection: "c"},
	})
	if err != nil {
		t.Fatalf("DeleteMany failed: %v", err)
	}
	if text != "Deleted 7 document(s) from db.c." {
		t.Errorf("text = %q", text)
	}
}

func TestCreateIndex(t *testing.T) {
	fake := &mongodbtest.FakeProvider{
		CreateIndexFunc: func(ctx context.Context, db, coll string, keys bson.D, name string) (string, error) {
			if len(keys) != 2 || keys[0].Key != "title" || keys[0].Value != 1 || keys[1].Value != -1 {
				t.Errorf("keys = %v", keys)
			}
			return "title_1_year_-1", nil
		},
	}
	ts := NewMongoDBToolSet(config.Default(), nil)
	text, err := ts.CreateIndex(context.Background(), testInvocation(fake), CreateIndexArgs{
		NamespaceArgs: NamespaceArgs{Database: "media", Collection: "movies"},
		Keys:          []IndexKey{{Field: "title", Direction: 1}, {Field: "year", Direction: -1}},
	})
	if err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}
	if text != `Created index "title_1_year_-1" on media.movies.` {
		t.Errorf("text = %q", text)
	}
}

func TestCreateIndexArgs_Validate(t *testing.T) {
	args := CreateIndexArgs{
		NamespaceArgs: NamespaceArgs{Database: "db", Collection: "c"},
		Keys:          []IndexKey{{Field: "title", Direction: 2}},
	}
	if err := args.Validate(); !errs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCollectionIndexes(t *testing.T) {
	t.Run("regular and search indexes", func(t *testing.T) {
		fake := &mongodbtest.FakeProvider{
			ListIndexesFunc: func(ctx context.Context, db, coll string) ([]mongodb.IndexDescription, error) {
				return []mongodb.IndexDescription{{Name: "_id_", Keys: bson.D{{Key: "_id", Value: int32(1)}}}}, nil
			},
			ListSearchIndexesFunc: func(ctx context.Context, db, coll string) ([]mongodb.SearchIndex, error) {
				return plotSearchIndexes(), nil
			},
		}
		ts := NewMongoDBToolSet(config.Default(), nil)
		text, err := ts.CollectionIndexes(context.Background(), testInvocation(fake), CollectionIndexesArgs{
			NamespaceArgs: NamespaceArgs{Database: "media", Collection: "movies"},
		})
		if err != nil {
			t.Fatalf("CollectionIndexes failed: %v", err)
		}
		data, _ := DataFromUntrustedContent(text)
		if !strings.Contains(data, "_id_") || !strings.Contains(data, "plot_index") {
			t.Errorf("index listing incomplete: %q", data)
		}
		if !strings.Contains(data, "plot_embedding (vector, 2 dimensions, cosine)") {
			t.Errorf("vector field definition missing: %q", data)
		}
	})

	t.Run("search not supported", func(t *testing.T) {
		fake := &mongodbtest.FakeProvider{
			ListIndexesFunc: func(ctx context.Context, db, coll string) ([]mongodb.IndexDescription, error) {
				return []mongodb.IndexDescription{{Name: "_id_"}}, nil
			},
			ListSearchIndexesFunc: func(ctx context.Context, db, coll string) ([]mongodb.SearchIndex, error) {
				return nil, errs.New(errs.CodeAtlasSearchNotSupported, "no search support")
			},
		}
		ts := NewMongoDBToolSet(config.Default(), nil)
		text, err := ts.CollectionIndexes(context.Background(), testInvocation(fake), CollectionIndexesArgs{
			NamespaceArgs: NamespaceArgs{Database: "db", Collection: "c"},
		})
		if err != nil {
			t.Fatalf("CollectionIndexes failed: %v", err)
		}
		if !strings.Contains(text, "Search indexes are not supported") {
			t.Errorf("missing unsupported note: %q", text)
		}
	})
}

func TestConnect(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		inv := testInvocation(&mongodbtest.FakeProvider{})
		ts := NewMongoDBToolSet(config.Default(), nil)
		text, err := ts.Connect(context.Background(), inv, ConnectArgs{
			ConnectionString: "mongodb://localhost:27017",
		})
		if err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if text != "Successfully connected to MongoDB." {
			t.Errorf("text = %q", text)
		}
		if inv.Session.State() != session.Connected {
			t.Errorf("state = %v", inv.Session.State())
		}
	})

	t.Run("scheme validation", func(t *testing.T) {
		err := ConnectArgs{ConnectionString: "http://nope"}.Validate()
		if !errs.IsValidation(err) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}
