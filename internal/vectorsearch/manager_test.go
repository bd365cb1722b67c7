package vectorsearch

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/mongodb"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/mongodb/mongodbtest"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/voyage"
)

type fakeEmbedder struct {
	calls    int
	requests []voyage.EmbeddingRequest
	vectors  [][]float64
	err      error
}

func (f *fakeEmbedder) Embed(ctx context.Context, req voyage.EmbeddingRequest) ([][]float64, error) {
	f.calls++
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.vectors != nil {
		return f.vectors, nil
	}
	out := make([][]float64, len(req.Input))
	for i := range req.Input {
		out[i] = []float64{float64(i), float64(i) + 0.5}
	}
	return out, nil
}

func vectorIndexProvider(indexes []mongodb.SearchIndex) (*mongodbtest.FakeProvider, *int) {
	calls := 0
	return &mongodbtest.FakeProvider{
		ListSearchIndexesFunc: func(ctx context.Context, database, collection string) ([]mongodb.SearchIndex, error) {
			calls++
			return indexes, nil
		},
	}, &calls
}

func plotIndex() mongodb.SearchIndex {
	return mongodb.SearchIndex{
		Name:      "plot_index",
		Type:      "vectorSearch",
		Queryable: true,
		Definition: bson.M{
			"fields": bson.A{
				bson.M{"type": "vector", "path": "plot_embedding", "numDimensions": int32(2), "similarity": "cosine", "quantization": "scalar"},
				bson.M{"type": "filter", "path": "genre"},
				bson.M{"type": "filter", "path": "year"},
			},
		},
	}
}

func TestNamespaceIndexes_ParsesAndCaches(t *testing.T) {
	provider, calls := vectorIndexProvider([]mongodb.SearchIndex{
		plotIndex(),
		{Name: "text_index", Type: "search", Queryable: true},
	})
	m := NewManager(&fakeEmbedder{})
	defer m.Close()

	for i := 0; i < 3; i++ {
		indexes, err := m.NamespaceIndexes(context.Background(), provider, "sample", "movies")
		if err != nil {
			t.Fatalf("NamespaceIndexes failed: %v", err)
		}
		if len(indexes) != 1 {
			t.Fatalf("got %d indexes, want 1 (search-type index must be skipped)", len(indexes))
		}
		idx := indexes[0]
		if idx.Name != "plot_index" || !idx.Queryable {
			t.Errorf("index = %+v", idx)
		}
		if len(idx.VectorFields) != 1 || idx.VectorFields[0].Path != "plot_embedding" || idx.VectorFields[0].NumDimensions != 2 {
			t.Errorf("vector fields = %+v", idx.VectorFields)
		}
		if len(idx.FilterPaths) != 2 {
			t.Errorf("filter paths = %v", idx.FilterPaths)
		}
	}
	if *calls != 1 {
		t.Errorf("driver introspections = %d, want 1", *calls)
	}
}

func TestNamespaceIndexes_Invalidate(t *testing.T) {
	provider, calls := vectorIndexProvider([]mongodb.SearchIndex{plotIndex()})
	m := NewManager(&fakeEmbedder{})
	defer m.Close()

	if _, err := m.NamespaceIndexes(context.Background(), provider, "sample", "movies"); err != nil {
		t.Fatalf("NamespaceIndexes failed: %v", err)
	}
	m.InvalidateNamespace("sample", "movies")
	if _, err := m.NamespaceIndexes(context.Background(), provider, "sample", "movies"); err != nil {
		t.Fatalf("NamespaceIndexes failed: %v", err)
	}
	if *calls != 2 {
		t.Errorf("driver introspections = %d, want 2 after invalidation", *calls)
	}
}

func TestIndexExists(t *testing.T) {
	notQueryable := plotIndex()
	notQueryable.Name = "building"
	notQueryable.Queryable = false
	provider, _ := vectorIndexProvider([]mongodb.SearchIndex{plotIndex(), notQueryable})
	m := NewManager(&fakeEmbedder{})
	defer m.Close()

	tests := []struct {
		name  string
		index string
		want  bool
	}{
		{"present and queryable", "plot_index", true},
		{"present not queryable", "building", false},
		{"absent", "missing", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.IndexExists(context.Background(), provider, "sample", "movies", tt.index)
			if err != nil {
				t.Fatalf("IndexExists failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("IndexExists(%q) = %v, want %v", tt.index, got, tt.want)
			}
		})
	}
}

func TestRewriteDocuments_SingleBatchedCall(t *testing.T) {
	provider, _ := vectorIndexProvider([]mongodb.SearchIndex{plotIndex()})
	embedder := &fakeEmbedder{}
	m := NewManager(embedder)
	defer m.Close()

	docs := []bson.M{
		{"title": "first", "plot_embedding": bson.M{"stale": true}},
		{"title": "second"},
	}
	params := Parameters{
		Input: []map[string]string{
			{"plot_embedding": "a heist goes wrong"},
			{"plot_embedding": "a robot falls in love"},
		},
	}

	if err := m.RewriteDocuments(context.Background(), provider, "sample", "movies", docs, params); err != nil {
		t.Fatalf("RewriteDocuments failed: %v", err)
	}

	if embedder.calls != 1 {
		t.Fatalf("embedding calls = %d, want 1", embedder.calls)
	}
	req := embedder.requests[0]
	if len(req.Input) != 2 || req.InputType != voyage.InputTypeDocument {
		t.Errorf("request = %+v", req)
	}
	if req.OutputDimension != 1024 {
		t.Errorf("output dimension = %d, want default 1024", req.OutputDimension)
	}
	for i, doc := range docs {
		v, ok := doc["plot_embedding"].(bson.A)
		if !ok {
			t.Fatalf("doc %d plot_embedding = %T, want bson.A", i, doc["plot_embedding"])
		}
		if len(v) != 2 {
			t.Errorf("doc %d vector length = %d", i, len(v))
		}
	}
	if docs[0]["title"] != "first" || docs[1]["title"] != "second" {
		t.Error("unrelated keys must be preserved")
	}
}

func TestRewriteDocuments_NestedValueDeleted(t *testing.T) {
	nested := plotIndex()
	nested.Definition = bson.M{
		"fields": bson.A{
			bson.M{"type": "vector", "path": "meta.embedding", "numDimensions": int32(2), "similarity": "cosine"},
		},
	}
	provider, _ := vectorIndexProvider([]mongodb.SearchIndex{nested})
	m := NewManager(&fakeEmbedder{})
	defer m.Close()

	docs := []bson.M{{"meta": bson.M{"embedding": "old", "kept": 1}}}
	params := Parameters{Input: []map[string]string{{"meta.embedding": "raw text"}}}

	if err := m.RewriteDocuments(context.Background(), provider, "sample", "movies", docs, params); err != nil {
		t.Fatalf("RewriteDocuments failed: %v", err)
	}

	meta := docs[0]["meta"].(bson.M)
	if _, present := meta["embedding"]; present {
		t.Error("nested value at the dotted path must be removed")
	}
	if meta["kept"] != 1 {
		t.Error("sibling nested keys must survive")
	}
	if _, ok := docs[0]["meta.embedding"].(bson.A); !ok {
		t.Errorf("vector must be stored under the literal dotted key, got %T", docs[0]["meta.embedding"])
	}
}

func TestRewriteDocuments_UnindexedField(t *testing.T) {
	provider, _ := vectorIndexProvider([]mongodb.SearchIndex{plotIndex()})
	embedder := &fakeEmbedder{}
	m := NewManager(embedder)
	defer m.Close()

	docs := []bson.M{{"title": "x"}}
	params := Parameters{Input: []map[string]string{{"summary": "text"}}}

	err := m.RewriteDocuments(context.Background(), provider, "sample", "movies", docs, params)
	if !errs.Is(err, errs.CodeAtlasVectorSearchInvalidQuery) {
		t.Fatalf("expected AtlasVectorSearchInvalidQuery, got %v", err)
	}
	if embedder.calls != 0 {
		t.Error("no embedding call may be made for invalid input")
	}
}

func TestRewriteDocuments_LengthMismatch(t *testing.T) {
	provider, _ := vectorIndexProvider([]mongodb.SearchIndex{plotIndex()})
	m := NewManager(&fakeEmbedder{})
	defer m.Close()

	err := m.RewriteDocuments(context.Background(), provider, "sample", "movies",
		[]bson.M{{"a": 1}, {"b": 2}},
		Parameters{Input: []map[string]string{{"plot_embedding": "only one"}}})
	if !errs.Is(err, errs.CodeAtlasVectorSearchInvalidQuery) {
		t.Fatalf("expected AtlasVectorSearchInvalidQuery, got %v", err)
	}
}

func TestRewriteDocuments_EmptyInputNoop(t *testing.T) {
	embedder := &fakeEmbedder{}
	m := NewManager(embedder)
	defer m.Close()

	docs := []bson.M{{"title": "unchanged"}}
	if err := m.RewriteDocuments(context.Background(), &mongodbtest.FakeProvider{}, "db", "c", docs, Parameters{}); err != nil {
		t.Fatalf("RewriteDocuments failed: %v", err)
	}
	if embedder.calls != 0 {
		t.Error("empty input must not call the embedding service")
	}
}

func TestRewritePipeline_StringQueryVector(t *testing.T) {
	provider, _ := vectorIndexProvider([]mongodb.SearchIndex{plotIndex()})
	embedder := &fakeEmbedder{vectors: [][]float64{{0.1, 0.2}}}
	m := NewManager(embedder)
	defer m.Close()

	pipeline := []bson.M{
		{"$vectorSearch": bson.M{
			"index":       "plot_index",
			"path":        "plot_embedding",
			"queryVector": "find me heist movies",
			"limit":       5,
		}},
		{"$project": bson.M{"title": 1}},
	}

	if err := m.RewritePipeline(context.Background(), provider, "sample", "movies", pipeline, &Parameters{Model: "voyage-3-large"}); err != nil {
		t.Fatalf("RewritePipeline failed: %v", err)
	}

	vs := pipeline[0]["$vectorSearch"].(bson.M)
	vec, ok := vs["queryVector"].(bson.A)
	if !ok || len(vec) != 2 {
		t.Fatalf("queryVector = %v", vs["queryVector"])
	}
	if embedder.requests[0].InputType != voyage.InputTypeQuery {
		t.Errorf("input type = %q, want query", embedder.requests[0].InputType)
	}
	if embedder.requests[0].Model != "voyage-3-large" {
		t.Errorf("model = %q", embedder.requests[0].Model)
	}
}

func TestRewritePipeline_StringWithoutParameters(t *testing.T) {
	provider, _ := vectorIndexProvider([]mongodb.SearchIndex{plotIndex()})
	m := NewManager(&fakeEmbedder{})
	defer m.Close()

	pipeline := []bson.M{
		{"$vectorSearch": bson.M{"path": "plot_embedding", "queryVector": "raw text"}},
	}
	err := m.RewritePipeline(context.Background(), provider, "sample", "movies", pipeline, nil)
	if !errs.Is(err, errs.CodeAtlasVectorSearchInvalidQuery) {
		t.Fatalf("expected AtlasVectorSearchInvalidQuery, got %v", err)
	}
}

func TestRewritePipeline_VectorDropsParameters(t *testing.T) {
	embedder := &fakeEmbedder{}
	m := NewManager(embedder)
	defer m.Close()

	pipeline := []bson.M{
		{"$vectorSearch": bson.M{
			"path":                "plot_embedding",
			"queryVector":         bson.A{0.1, 0.2},
			"embeddingParameters": bson.M{"model": "voyage-3.5-lite"},
		}},
	}
	if err := m.RewritePipeline(context.Background(), &mongodbtest.FakeProvider{}, "sample", "movies", pipeline, &Parameters{}); err != nil {
		t.Fatalf("RewritePipeline failed: %v", err)
	}
	vs := pipeline[0]["$vectorSearch"].(bson.M)
	if _, present := vs["embeddingParameters"]; present {
		t.Error("embeddingParameters must be dropped from the stored stage")
	}
	if embedder.calls != 0 {
		t.Error("vector queryVector must not trigger embedding generation")
	}
}

func TestGenerateEmbeddings_ServiceError(t *testing.T) {
	m := NewManager(&fakeEmbedder{err: errs.New(errs.CodeEmbeddingServiceError, "upstream down")})
	defer m.Close()

	_, err := m.GenerateEmbeddings(context.Background(), []string{"text"}, Parameters{}, InputTypeQuery)
	if !errs.Is(err, errs.CodeEmbeddingServiceError) {
		t.Fatalf("expected EmbeddingServiceError, got %v", err)
	}
}

func TestValidateDimensions(t *testing.T) {
	provider, _ := vectorIndexProvider([]mongodb.SearchIndex{plotIndex()})

	tests := []struct {
		name    string
		doc     bson.M
		wantErr string
	}{
		{"valid", bson.M{"plot_embedding": bson.A{0.1, 0.2}}, ""},
		{"absent field", bson.M{"title": "no vector"}, ""},
		{
			"wrong length",
			bson.M{"plot_embedding": bson.A{0.1, 0.2, 0.3}},
			"Field plot_embedding is an embedding with 2 dimensions, and the provided value is not compatible. Actual dimensions: 3, Error: dimension-mismatch",
		},
		{
			"not an array",
			bson.M{"plot_embedding": "oops"},
			"Field plot_embedding is an embedding with 2 dimensions, and the provided value is not compatible. Actual dimensions: unknown, Error: not-a-vector",
		},
		{
			"array of strings",
			bson.M{"plot_embedding": bson.A{"a", "b"}},
			"Field plot_embedding is an embedding with 2 dimensions, and the provided value is not compatible. Actual dimensions: unknown, Error: not-a-vector",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(&fakeEmbedder{})
			defer m.Close()

			err := m.ValidateDimensions(context.Background(), provider, "sample", "movies", []bson.M{tt.doc})
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateDimensions failed: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !errs.Is(err, errs.CodeEmbeddingDimensionMismatch) {
				t.Errorf("code = %v", errs.CodeOf(err))
			}
			if err.Error() != tt.wantErr {
				t.Errorf("message = %q\nwant      %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateDimensions_Suppressed(t *testing.T) {
	provider, calls := vectorIndexProvider([]mongodb.SearchIndex{plotIndex()})
	m := NewManager(&fakeEmbedder{}, WithValidationDisabled(true))
	defer m.Close()

	err := m.ValidateDimensions(context.Background(), provider, "sample", "movies",
		[]bson.M{{"plot_embedding": "not a vector at all"}})
	if err != nil {
		t.Fatalf("ValidateDimensions failed: %v", err)
	}
	if *calls != 0 {
		t.Error("suppressed validation must not introspect indexes")
	}
}

func TestValidateFilterFields(t *testing.T) {
	provider, _ := vectorIndexProvider([]mongodb.SearchIndex{plotIndex()})

	tests := []struct {
		name    string
		filter  bson.M
		wantErr bool
	}{
		{"declared field", bson.M{"genre": "thriller"}, false},
		{"declared with operator", bson.M{"year": bson.M{"$gte": 2000}}, false},
		{"undeclared field", bson.M{"rating": bson.M{"$gte": 8}}, true},
		{"and clause", bson.M{"$and": bson.A{bson.M{"genre": "thriller"}, bson.M{"year": 1999}}}, false},
		{"and clause undeclared", bson.M{"$and": bson.A{bson.M{"genre": "thriller"}, bson.M{"rating": 8}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(&fakeEmbedder{})
			defer m.Close()

			pipeline := []bson.M{
				{"$vectorSearch": bson.M{"index": "plot_index", "path": "plot_embedding", "queryVector": bson.A{0.1, 0.2}, "filter": tt.filter}},
			}
			err := m.ValidateFilterFields(context.Background(), provider, "sample", "movies", pipeline)
			if tt.wantErr {
				if !errs.Is(err, errs.CodeAtlasVectorSearchInvalidQuery) {
					t.Fatalf("expected AtlasVectorSearchInvalidQuery, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateFilterFields failed: %v", err)
			}
		})
	}
}

func TestNamespaceIndexes_DriverError(t *testing.T) {
	provider := &mongodbtest.FakeProvider{
		ListSearchIndexesFunc: func(ctx context.Context, database, collection string) ([]mongodb.SearchIndex, error) {
			return nil, errors.New("listSearchIndexes failed")
		},
	}
	m := NewManager(&fakeEmbedder{})
	defer m.Close()

	if _, err := m.NamespaceIndexes(context.Background(), provider, "db", "c"); err == nil {
		t.Fatal("expected driver error to surface")
	}
}
