// Package vectorsearch maintains vector index metadata for connected
// namespaces and rewrites documents and pipelines that carry raw text in
// place of embeddings. Index metadata is cached with a short TTL and
// concurrent introspections of the same namespace are coalesced.
package vectorsearch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/document"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/infra"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/mongodb"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/voyage"
)

// indexCacheTTL bounds how stale cached index metadata may get. Index
// definitions change rarely; a minute keeps repeated inserts cheap.
const indexCacheTTL = time.Minute

// Embedder generates embeddings for batches of raw text. *voyage.Client is
// the production implementation.
type Embedder interface {
	Embed(ctx context.Context, req voyage.EmbeddingRequest) ([][]float64, error)
}

// Manager owns index introspection, embedding generation, and the insert and
// query rewrites that depend on both.
type Manager struct {
	embedder Embedder
	logger   *slog.Logger

	cache *infra.Cache
	dedup *infra.RequestDeduplicator

	// defaultDimensions is used when embeddingParameters omit outputDimension.
	defaultDimensions int
	// disableValidation skips dimension checks on inserted documents.
	disableValidation bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithDefaultDimensions sets the output dimension used when embedding
// parameters do not specify one.
func WithDefaultDimensions(n int) ManagerOption {
	return func(m *Manager) { m.defaultDimensions = n }
}

// WithValidationDisabled suppresses dimension validation on insert.
func WithValidationDisabled(disabled bool) ManagerOption {
	return func(m *Manager) { m.disableValidation = disabled }
}

// NewManager creates a Manager backed by the given embedder.
func NewManager(embedder Embedder, opts ...ManagerOption) *Manager {
	m := &Manager{
		embedder:          embedder,
		logger:            slog.Default(),
		cache:             infra.NewCache(DefaultMaxNamespaces),
		dedup:             infra.NewRequestDeduplicator(),
		defaultDimensions: 1024,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultMaxNamespaces caps the index metadata cache.
const DefaultMaxNamespaces = 500

// Close releases the cache cleanup goroutine.
func (m *Manager) Close() {
	m.cache.Close()
}

// InvalidateNamespace drops cached index metadata for one namespace. Index
// management tools call this after creating or dropping a search index.
func (m *Manager) InvalidateNamespace(database, collection string) {
	m.cache.Delete(namespaceKey(database, collection))
}

func namespaceKey(database, collection string) string {
	return "vectorindexes:" + mongodb.Namespace(database, collection)
}

// NamespaceIndexes returns the vector search indexes of a namespace. Results
// are cached and concurrent lookups for the same namespace share one driver
// round trip.
func (m *Manager) NamespaceIndexes(ctx context.Context, provider mongodb.Provider, database, collection string) ([]NamespaceIndex, error) {
	key := namespaceKey(database, collection)
	if cached, ok := m.cache.Get(key); ok {
		return cached.([]NamespaceIndex), nil
	}

	result, shared, err := m.dedup.Do(ctx, key, func() (interface{}, error) {
		raw, err := provider.ListSearchIndexes(ctx, database, collection)
		if err != nil {
			return nil, err
		}
		indexes := parseVectorIndexes(raw)
		m.cache.Set(key, indexes, indexCacheTTL)
		return indexes, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug("Shared in-flight index introspection", "namespace", mongodb.Namespace(database, collection))
	}
	return result.([]NamespaceIndex), nil
}

// parseVectorIndexes keeps only vectorSearch-type indexes and extracts their
// vector and filter fields from the definition document.
func parseVectorIndexes(raw []mongodb.SearchIndex) []NamespaceIndex {
	indexes := make([]NamespaceIndex, 0, len(raw))
	for _, idx := range raw {
		if idx.Type != "vectorSearch" {
			continue
		}
		ni := NamespaceIndex{Name: idx.Name, Queryable: idx.Queryable}
		fields, _ := idx.Definition["fields"].(bson.A)
		for _, f := range fields {
			field := asM(f)
			if field == nil {
				continue
			}
			path, _ := field["path"].(string)
			switch field["type"] {
			case "vector":
				dims, _ := document.ToInt64(field["numDimensions"])
				similarity, _ := field["similarity"].(string)
				quantization, _ := field["quantization"].(string)
				ni.VectorFields = append(ni.VectorFields, FieldEmbedding{
					Path:          path,
					NumDimensions: int(dims),
					Similarity:    similarity,
					Quantization:  quantization,
				})
			case "filter":
				ni.FilterPaths = append(ni.FilterPaths, path)
			}
		}
		indexes = append(indexes, ni)
	}
	return indexes
}

func asM(v any) bson.M {
	switch t := v.(type) {
	case bson.M:
		return t
	case map[string]any:
		return bson.M(t)
	case bson.D:
		out := bson.M{}
		for _, e := range t {
			out[e.Key] = e.Value
		}
		return out
	}
	return nil
}

// EmbeddingsForNamespace returns the vector-indexed fields of a namespace
// keyed by path. Fields indexed by multiple indexes appear once; the first
// definition wins.
func (m *Manager) EmbeddingsForNamespace(ctx context.Context, provider mongodb.Provider, database, collection string) (map[string]FieldEmbedding, error) {
	indexes, err := m.NamespaceIndexes(ctx, provider, database, collection)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]FieldEmbedding)
	for _, idx := range indexes {
		for _, f := range idx.VectorFields {
			if _, ok := fields[f.Path]; !ok {
				fields[f.Path] = f
			}
		}
	}
	return fields, nil
}

// IndexExists reports whether a named vector index is present and queryable.
func (m *Manager) IndexExists(ctx context.Context, provider mongodb.Provider, database, collection, name string) (bool, error) {
	indexes, err := m.NamespaceIndexes(ctx, provider, database, collection)
	if err != nil {
		return false, err
	}
	for _, idx := range indexes {
		if idx.Name == name {
			return idx.Queryable, nil
		}
	}
	return false, nil
}

// InputType values for embedding generation.
const (
	InputTypeDocument = voyage.InputTypeDocument
	InputTypeQuery    = voyage.InputTypeQuery
)

// GenerateEmbeddings batches rawValues into a single embedding service call
// and returns positionally aligned vectors.
func (m *Manager) GenerateEmbeddings(ctx context.Context, rawValues []string, params Parameters, inputType string) ([][]float64, error) {
	if len(rawValues) == 0 {
		return nil, nil
	}
	dimension := params.OutputDimension
	if dimension == 0 {
		dimension = m.defaultDimensions
	}
	vectors, err := m.embedder.Embed(ctx, voyage.EmbeddingRequest{
		Input:           rawValues,
		Model:           params.Model,
		InputType:       inputType,
		OutputDimension: dimension,
		OutputDtype:     params.OutputDtype,
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// RewriteDocuments embeds the raw text referenced by params.Input and writes
// the vectors into the matching documents. Input entry i applies to
// documents[i]; paths must be vector-indexed in the target namespace. The
// vector is stored under the dotted path as a literal top-level key after any
// nested value at that path is removed.
func (m *Manager) RewriteDocuments(ctx context.Context, provider mongodb.Provider, database, collection string, documents []bson.M, params Parameters) error {
	if len(params.Input) == 0 {
		return nil
	}
	if len(params.Input) != len(documents) {
		return errs.Newf(errs.CodeAtlasVectorSearchInvalidQuery,
			"embeddingParameters.input has %d entries for %d documents; one entry per document is required",
			len(params.Input), len(documents))
	}

	indexed, err := m.EmbeddingsForNamespace(ctx, provider, database, collection)
	if err != nil {
		return err
	}

	// Flatten all (document, path) pairs so one batched call covers the
	// whole insert.
	type target struct {
		doc  int
		path string
	}
	var targets []target
	var texts []string
	for i, entry := range params.Input {
		for _, path := range sortedKeys(entry) {
			if _, ok := indexed[path]; !ok {
				return errs.Newf(errs.CodeAtlasVectorSearchInvalidQuery,
					"Field '%s' does not have a vector search index in collection %s", path, mongodb.Namespace(database, collection))
			}
			targets = append(targets, target{doc: i, path: path})
			texts = append(texts, entry[path])
		}
	}
	if len(texts) == 0 {
		return nil
	}

	vectors, err := m.GenerateEmbeddings(ctx, texts, params, InputTypeDocument)
	if err != nil {
		return err
	}

	for i, tgt := range targets {
		doc := documents[tgt.doc]
		document.Delete(doc, tgt.path)
		document.AssignLiteralKey(doc, tgt.path, toBSONVector(vectors[i]))
	}
	return nil
}

// RewritePipeline replaces string queryVector values in $vectorSearch stages
// with generated embeddings. A string queryVector without embedding
// parameters is an error; a vector queryVector with parameters keeps the
// vector and drops the parameters.
func (m *Manager) RewritePipeline(ctx context.Context, provider mongodb.Provider, database, collection string, pipeline []bson.M, params *Parameters) error {
	for _, stage := range pipeline {
		vs := asM(stage["$vectorSearch"])
		if vs == nil {
			continue
		}
		stage["$vectorSearch"] = vs
		delete(vs, "embeddingParameters")

		raw, ok := vs["queryVector"].(string)
		if !ok {
			continue
		}
		if params == nil {
			return errs.New(errs.CodeAtlasVectorSearchInvalidQuery,
				"queryVector is a string but no embeddingParameters were provided to generate an embedding from it")
		}

		path, _ := vs["path"].(string)
		indexed, err := m.EmbeddingsForNamespace(ctx, provider, database, collection)
		if err != nil {
			return err
		}
		if _, ok := indexed[path]; !ok {
			return errs.Newf(errs.CodeAtlasVectorSearchInvalidQuery,
				"Field '%s' does not have a vector search index in collection %s", path, mongodb.Namespace(database, collection))
		}

		vectors, err := m.GenerateEmbeddings(ctx, []string{raw}, *params, InputTypeQuery)
		if err != nil {
			return err
		}
		if len(vectors) != 1 {
			return errs.Newf(errs.CodeEmbeddingServiceError,
				"expected 1 query embedding, got %d", len(vectors))
		}
		vs["queryVector"] = toBSONVector(vectors[0])
	}
	return nil
}

// ValidateDimensions checks every vector-indexed field present in the given
// documents against the index's declared dimension count. Disabled entirely
// when validation is suppressed by configuration.
func (m *Manager) ValidateDimensions(ctx context.Context, provider mongodb.Provider, database, collection string, documents []bson.M) error {
	if m.disableValidation {
		return nil
	}
	indexed, err := m.EmbeddingsForNamespace(ctx, provider, database, collection)
	if err != nil {
		return err
	}
	if len(indexed) == 0 {
		return nil
	}
	for _, doc := range documents {
		for path, field := range indexed {
			value, ok := lookupVectorField(doc, path)
			if !ok {
				continue
			}
			if err := checkVector(path, field.NumDimensions, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// lookupVectorField finds a field either stored under the literal dotted key
// or nested along the dotted path.
func lookupVectorField(doc bson.M, path string) (any, bool) {
	if v, ok := doc[path]; ok {
		return v, true
	}
	return document.Lookup(doc, path)
}

func checkVector(path string, want int, value any) error {
	got, ok := vectorLength(value)
	if !ok {
		return errs.New(errs.CodeEmbeddingDimensionMismatch, dimensionMessage(path, want, "unknown", "not-a-vector"))
	}
	if got != want {
		return errs.New(errs.CodeEmbeddingDimensionMismatch, dimensionMessage(path, want, fmt.Sprintf("%d", got), "dimension-mismatch"))
	}
	return nil
}

func dimensionMessage(path string, want int, actual, kind string) string {
	return fmt.Sprintf("Field %s is an embedding with %d dimensions, and the provided value is not compatible. Actual dimensions: %s, Error: %s",
		path, want, actual, kind)
}

// vectorLength returns the element count of value when it is an array of
// numbers.
func vectorLength(value any) (int, bool) {
	var elems []any
	switch t := value.(type) {
	case bson.A:
		elems = t
	case []any:
		elems = t
	case []float64:
		return len(t), true
	case []float32:
		return len(t), true
	default:
		return 0, false
	}
	for _, e := range elems {
		if !isNumber(e) {
			return 0, false
		}
	}
	return len(elems), true
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}

// ValidateFilterFields asserts that every field referenced by a
// $vectorSearch filter is declared filter-eligible in the index the stage
// names.
func (m *Manager) ValidateFilterFields(ctx context.Context, provider mongodb.Provider, database, collection string, pipeline []bson.M) error {
	for _, stage := range pipeline {
		vs := asM(stage["$vectorSearch"])
		if vs == nil {
			continue
		}
		filter := asM(vs["filter"])
		if filter == nil {
			continue
		}
		indexName, _ := vs["index"].(string)

		indexes, err := m.NamespaceIndexes(ctx, provider, database, collection)
		if err != nil {
			return err
		}
		allowed := map[string]bool{}
		for _, idx := range indexes {
			if indexName != "" && idx.Name != indexName {
				continue
			}
			for _, p := range idx.FilterPaths {
				allowed[p] = true
			}
		}

		for _, field := range filterFieldNames(filter) {
			if !allowed[field] {
				return errs.Newf(errs.CodeAtlasVectorSearchInvalidQuery,
					"field %q is not a filter field of the vector index; add it to the index definition with type \"filter\"", field)
			}
		}
	}
	return nil
}

// filterFieldNames collects field paths referenced by a filter document,
// descending through $and/$or/$nor operator arrays.
func filterFieldNames(filter bson.M) []string {
	var fields []string
	for key, value := range filter {
		if key == "$and" || key == "$or" || key == "$nor" {
			var clauses []any
			switch t := value.(type) {
			case bson.A:
				clauses = t
			case []any:
				clauses = t
			case []bson.M:
				for _, c := range t {
					clauses = append(clauses, c)
				}
			}
			for _, clause := range clauses {
				if cm := asM(clause); cm != nil {
					fields = append(fields, filterFieldNames(cm)...)
				}
			}
			continue
		}
		if len(key) > 0 && key[0] == '$' {
			continue
		}
		fields = append(fields, key)
	}
	return fields
}

// toBSONVector converts a float slice into a bson.A so the stored value
// round-trips through the driver like any client-supplied array.
func toBSONVector(v []float64) bson.A {
	out := make(bson.A, len(v))
	for i, f := range v {
		out[i] = f
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
