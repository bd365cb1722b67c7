package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/config"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/mongodb"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/mongodb/mongodbtest"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/vectorsearch"
)

func matchStage(field string, value any) map[string]any {
	return map[string]any{"$match": map[string]any{field: value}}
}

func TestAggregate(t *testing.T) {
	ns := NamespaceArgs{Database: "media", Collection: "movies"}

	t.Run("summary reports total and returned counts", func(t *testing.T) {
		var cappedPipeline []bson.M
		fake := &mongodbtest.FakeProvider{
			AggregateFunc: func(ctx context.Context, db, coll string, pipeline []bson.M, maxTime time.Duration) (mongodb.Cursor, error) {
				cappedPipeline = pipeline
				return mongodbtest.NewFakeCursor([]bson.M{{"title": "The Matrix"}, {"title": "Dune"}}), nil
			},
			AggregateCountFunc: func(ctx context.Context, db, coll string, pipeline []bson.M, maxTime time.Duration) (int64, error) {
				for _, stage := range pipeline {
					if _, ok := stage["$limit"]; ok {
						t.Error("counting pipeline must not carry the result cap")
					}
				}
				return 10, nil
			},
		}
		cfg := config.Default()
		cfg.MaxDocumentsPerQuery = 5
		ts := NewMongoDBToolSet(cfg, nil)

		text, err := ts.Aggregate(context.Background(), testInvocation(fake), AggregateArgs{
			NamespaceArgs: ns,
			Pipeline:      []map[string]any{matchStage("genre", "scifi")},
		})
		if err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		if !strings.Contains(text, "The aggregation resulted in 10 documents. Returning 2 documents.") {
			t.Errorf("summary missing: %q", text)
		}
		last := cappedPipeline[len(cappedPipeline)-1]
		if last["$limit"] != 5 {
			t.Errorf("capped pipeline missing $limit 5: %v", cappedPipeline)
		}
	})

	t.Run("count failure degrades to indeterminable", func(t *testing.T) {
		fake := &mongodbtest.FakeProvider{
			AggregateFunc: func(ctx context.Context, db, coll string, pipeline []bson.M, maxTime time.Duration) (mongodb.Cursor, error) {
				return mongodbtest.NewFakeCursor([]bson.M{{"a": int32(1)}}), nil
			},
			AggregateCountFunc: func(ctx context.Context, db, coll string, pipeline []bson.M, maxTime time.Duration) (int64, error) {
				return 0, errors.New("operation exceeded time limit")
			},
		}
		ts := NewMongoDBToolSet(config.Default(), nil)
		text, err := ts.Aggregate(context.Background(), testInvocation(fake), AggregateArgs{
			NamespaceArgs: ns,
			Pipeline:      []map[string]any{matchStage("a", 1)},
		})
		if err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		if !strings.Contains(text, "indeterminable number of documents. Returning 1 documents.") {
			t.Errorf("summary = %q", text)
		}
	})

	t.Run("read-only rejects $out", func(t *testing.T) {
		cfg := config.Default()
		cfg.ReadOnly = true
		ts := NewMongoDBToolSet(cfg, nil)
		_, err := ts.Aggregate(context.Background(), testInvocation(&mongodbtest.FakeProvider{}), AggregateArgs{
			NamespaceArgs: ns,
			Pipeline: []map[string]any{
				matchStage("a", 1),
				{"$out": "copies"},
			},
		})
		if !errs.Is(err, errs.CodeForbiddenWriteOperation) {
			t.Fatalf("expected ForbiddenWriteOperation, got %v", err)
		}
	})

	t.Run("disabled write operations reject $merge", func(t *testing.T) {
		cfg := config.Default()
		cfg.DisabledTools = []string{"create"}
		ts := NewMongoDBToolSet(cfg, nil)
		_, err := ts.Aggregate(context.Background(), testInvocation(&mongodbtest.FakeProvider{}), AggregateArgs{
			NamespaceArgs: ns,
			Pipeline:      []map[string]any{{"$merge": map[string]any{"into": "copies"}}},
		})
		if !errs.Is(err, errs.CodeForbiddenWriteOperation) {
			t.Fatalf("expected ForbiddenWriteOperation, got %v", err)
		}
	})

	t.Run("vector search requires the preview feature", func(t *testing.T) {
		ts := NewMongoDBToolSet(config.Default(), nil)
		_, err := ts.Aggregate(context.Background(), testInvocation(&mongodbtest.FakeProvider{}), AggregateArgs{
			NamespaceArgs: ns,
			Pipeline: []map[string]any{
				{"$vectorSearch": map[string]any{"index": "plot_index", "path": "plot_embedding"}},
			},
		})
		if !errs.Is(err, errs.CodeFeatureDisabled) {
			t.Fatalf("expected FeatureDisabled, got %v", err)
		}
	})

	t.Run("vector search requires a deployment with search support", func(t *testing.T) {
		fake := &mongodbtest.FakeProvider{
			ListSearchIndexesFunc: func(ctx context.Context, db, coll string) ([]mongodb.SearchIndex, error) {
				return nil, errs.New(errs.CodeAtlasSearchNotSupported,
					"the connected deployment does not support Atlas Search")
			},
		}
		mgr := vectorsearch.NewManager(&twoDimEmbedder{})
		defer mgr.Close()
		ts := NewMongoDBToolSet(config.Default(), mgr)

		// A literal queryVector with no filter skips every validation path
		// that would otherwise list indexes; the probe must still catch it.
		_, err := ts.Aggregate(context.Background(), testInvocation(fake), AggregateArgs{
			NamespaceArgs: ns,
			Pipeline: []map[string]any{
				{"$vectorSearch": map[string]any{
					"index":       "plot_index",
					"path":        "plot_embedding",
					"queryVector": []any{0.1, 0.2},
				}},
			},
		})
		if !errs.Is(err, errs.CodeAtlasSearchNotSupported) {
			t.Fatalf("expected AtlasSearchNotSupported, got %v", err)
		}
	})

	t.Run("index check rejects collection scans", func(t *testing.T) {
		fake := &mongodbtest.FakeProvider{
			ExplainFunc: func(ctx context.Context, db, coll string, pipeline []bson.M) (bson.M, error) {
				return bson.M{"queryPlanner": bson.M{"winningPlan": bson.M{"stage": "COLLSCAN"}}}, nil
			},
		}
		cfg := config.Default()
		cfg.IndexCheck = true
		ts := NewMongoDBToolSet(cfg, nil)
		_, err := ts.Aggregate(context.Background(), testInvocation(fake), AggregateArgs{
			NamespaceArgs: ns,
			Pipeline:      []map[string]any{matchStage("unindexed", 1)},
		})
		if !errs.Is(err, errs.CodeForbiddenReadOperation) {
			t.Fatalf("expected ForbiddenReadOperation, got %v", err)
		}
	})

	t.Run("index check allows indexed plans", func(t *testing.T) {
		fake := &mongodbtest.FakeProvider{
			ExplainFunc: func(ctx context.Context, db, coll string, pipeline []bson.M) (bson.M, error) {
				return bson.M{"queryPlanner": bson.M{"winningPlan": bson.M{
					"stage":      "FETCH",
					"inputStage": bson.M{"stage": "IXSCAN"},
				}}}, nil
			},
			AggregateFunc: func(ctx context.Context, db, coll string, pipeline []bson.M, maxTime time.Duration) (mongodb.Cursor, error) {
				return mongodbtest.NewFakeCursor(nil), nil
			},
		}
		cfg := config.Default()
		cfg.IndexCheck = true
		ts := NewMongoDBToolSet(cfg, nil)
		if _, err := ts.Aggregate(context.Background(), testInvocation(fake), AggregateArgs{
			NamespaceArgs: ns,
			Pipeline:      []map[string]any{matchStage("title", "Dune")},
		}); err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
	})

	t.Run("index check rejects missing vector index", func(t *testing.T) {
		fake := &mongodbtest.FakeProvider{
			ListSearchIndexesFunc: func(ctx context.Context, db, coll string) ([]mongodb.SearchIndex, error) {
				return nil, nil
			},
		}
		cfg := config.Default()
		cfg.IndexCheck = true
		mgr := vectorsearch.NewManager(&twoDimEmbedder{})
		defer mgr.Close()
		ts := NewMongoDBToolSet(cfg, mgr)

		_, err := ts.Aggregate(context.Background(), testInvocation(fake), AggregateArgs{
			NamespaceArgs: ns,
			Pipeline: []map[string]any{
				{"$vectorSearch": map[string]any{"index": "plot_index", "path": "plot_embedding", "queryVector": []any{0.1, 0.2}}},
			},
		})
		if !errs.Is(err, errs.CodeAtlasVectorSearchIndexNotFound) {
			t.Fatalf("expected AtlasVectorSearchIndexNotFound, got %v", err)
		}
	})

	t.Run("string queryVector is embedded", func(t *testing.T) {
		var executed []bson.M
		fake := &mongodbtest.FakeProvider{
			ListSearchIndexesFunc: func(ctx context.Context, db, coll string) ([]mongodb.SearchIndex, error) {
				return plotSearchIndexes(), nil
			},
			AggregateFunc: func(ctx context.Context, db, coll string, pipeline []bson.M, maxTime time.Duration) (mongodb.Cursor, error) {
				executed = pipeline
				return mongodbtest.NewFakeCursor([]bson.M{{"title": "The Matrix"}}), nil
			},
		}
		embedder := &twoDimEmbedder{}
		mgr := vectorsearch.NewManager(embedder)
		defer mgr.Close()
		ts := NewMongoDBToolSet(config.Default(), mgr)

		_, err := ts.Aggregate(context.Background(), testInvocation(fake), AggregateArgs{
			NamespaceArgs: ns,
			Pipeline: []map[string]any{
				{"$vectorSearch": map[string]any{
					"index":       "plot_index",
					"path":        "plot_embedding",
					"queryVector": "simulated reality",
					"limit":       5,
				}},
			},
			EmbeddingParameters: &vectorsearch.Parameters{Model: "voyage-3.5-lite"},
		})
		if err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		if len(embedder.requests) != 1 || embedder.requests[0].InputType != "query" {
			t.Fatalf("embed requests = %+v", embedder.requests)
		}
		vs := executed[0]["$vectorSearch"].(bson.M)
		if _, isString := vs["queryVector"].(string); isString {
			t.Error("queryVector was not replaced with a vector")
		}
		if _, ok := vs["embeddingParameters"]; ok {
			t.Error("embeddingParameters must be dropped from the executed stage")
		}
	})

	t.Run("filter fields must be declared on the index", func(t *testing.T) {
		fake := &mongodbtest.FakeProvider{
			ListSearchIndexesFunc: func(ctx context.Context, db, coll string) ([]mongodb.SearchIndex, error) {
				return plotSearchIndexes(), nil
			},
		}
		mgr := vectorsearch.NewManager(&twoDimEmbedder{})
		defer mgr.Close()
		ts := NewMongoDBToolSet(config.Default(), mgr)

		_, err := ts.Aggregate(context.Background(), testInvocation(fake), AggregateArgs{
			NamespaceArgs: ns,
			Pipeline: []map[string]any{
				{"$vectorSearch": map[string]any{
					"index":       "plot_index",
					"path":        "plot_embedding",
					"queryVector": []any{0.1, 0.2},
					"filter":      map[string]any{"director": "Villeneuve"},
				}},
			},
		})
		if !errs.Is(err, errs.CodeAtlasVectorSearchInvalidQuery) {
			t.Fatalf("expected AtlasVectorSearchInvalidQuery, got %v", err)
		}
	})

	t.Run("caller byte limit truncates results", func(t *testing.T) {
		docs := []bson.M{
			{"padding": strings.Repeat("x", 200)},
			{"padding": strings.Repeat("y", 200)},
		}
		fake := &mongodbtest.FakeProvider{
			AggregateFunc: func(ctx context.Context, db, coll string, pipeline []bson.M, maxTime time.Duration) (mongodb.Cursor, error) {
				return mongodbtest.NewFakeCursor(docs), nil
			},
			AggregateCountFunc: func(ctx context.Context, db, coll string, pipeline []bson.M, maxTime time.Duration) (int64, error) {
				return 2, nil
			},
		}
		ts := NewMongoDBToolSet(config.Default(), nil)
		text, err := ts.Aggregate(context.Background(), testInvocation(fake), AggregateArgs{
			NamespaceArgs:      ns,
			Pipeline:           []map[string]any{matchStage("a", 1)},
			ResponseBytesLimit: 250,
		})
		if err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		if !strings.Contains(text, "Returning 1 documents.") {
			t.Errorf("summary = %q", text)
		}
		if !strings.Contains(text, "truncated") {
			t.Errorf("truncation annotation missing: %q", text)
		}
	})
}

func TestResponseByteLimit(t *testing.T) {
	cfg := config.Default()
	cfg.MaxBytesPerQuery = 1000
	ts := NewMongoDBToolSet(cfg, nil)

	if got := ts.responseByteLimit(0); got != 1000 {
		t.Errorf("limit = %d, want server cap", got)
	}
	if got := ts.responseByteLimit(500); got != 500 {
		t.Errorf("limit = %d, want caller cap", got)
	}
	if got := ts.responseByteLimit(5000); got != 1000 {
		t.Errorf("limit = %d, caller may not exceed the server cap", got)
	}
}
