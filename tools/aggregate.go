package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/config"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/mongodb"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/vectorsearch"
)

// aggregateCountMaxTime bounds the parallel total-count query so a slow
// count cannot hold up the tool result.
const aggregateCountMaxTime = 10 * time.Second

// AggregateArgs are the arguments of the aggregate tool.
type AggregateArgs struct {
	NamespaceArgs
	Pipeline            []map[string]any         `json:"pipeline" jsonschema:"aggregation pipeline stages"`
	ResponseBytesLimit  int64                    `json:"responseBytesLimit,omitempty" jsonschema:"caller-side cap on the rendered result size in bytes"`
	EmbeddingParameters *vectorsearch.Parameters `json:"embeddingParameters,omitempty" jsonschema:"embedding model settings used to convert a string queryVector into a vector"`
}

func (a AggregateArgs) Validate() error {
	if err := a.NamespaceArgs.Validate(); err != nil {
		return err
	}
	if len(a.Pipeline) == 0 {
		return errs.FieldError("pipeline", "must contain at least one stage")
	}
	if a.ResponseBytesLimit < 0 {
		return errs.FieldError("responseBytesLimit", "must not be negative")
	}
	return nil
}

func (t *MongoDBToolSet) Aggregate(ctx context.Context, inv *Invocation, args AggregateArgs) (string, error) {
	provider, err := t.provider(ctx, inv)
	if err != nil {
		return "", err
	}

	pipeline := make([]bson.M, 0, len(args.Pipeline))
	for _, stage := range args.Pipeline {
		pipeline = append(pipeline, toBSONM(stage))
	}

	if err := t.checkPipelinePermissions(pipeline); err != nil {
		return "", err
	}

	if pipelineUsesVectorSearch(pipeline) {
		if t.embeddings == nil {
			return "", errs.Newf(errs.CodeFeatureDisabled,
				"the $vectorSearch stage requires the %q preview feature; enable it with --previewFeatures %s",
				config.FeatureVectorSearch, config.FeatureVectorSearch)
		}
		// Listing the namespace's search indexes surfaces clusters without
		// search support before the pipeline reaches the driver. The result
		// is cached, so later validation and rewrite steps reuse it.
		if _, err := t.embeddings.NamespaceIndexes(ctx, provider, args.Database, args.Collection); err != nil {
			return "", err
		}
		if err := t.embeddings.ValidateFilterFields(ctx, provider, args.Database, args.Collection, pipeline); err != nil {
			return "", err
		}
	}

	if err := t.enforceIndexUse(ctx, provider, args.Database, args.Collection, pipeline); err != nil {
		return "", err
	}

	if t.embeddings != nil {
		if err := t.embeddings.RewritePipeline(ctx, provider, args.Database, args.Collection, pipeline, args.EmbeddingParameters); err != nil {
			return "", err
		}
		if err := t.validateInlineDocuments(ctx, provider, args.Database, args.Collection, pipeline); err != nil {
			return "", err
		}
	}

	capped := pipeline
	limited := false
	if max := t.cfg.MaxDocumentsPerQuery; max > 0 {
		capped = make([]bson.M, 0, len(pipeline)+1)
		capped = append(capped, pipeline...)
		capped = append(capped, bson.M{"$limit": max})
		limited = true
	}

	// Total count runs concurrently with the capped execution; an error or
	// timeout degrades the summary, never the result.
	type countOutcome struct {
		total int64
		err   error
	}
	countCh := make(chan countOutcome, 1)
	go func() {
		total, err := provider.AggregateCount(ctx, args.Database, args.Collection, pipeline, aggregateCountMaxTime)
		countCh <- countOutcome{total: total, err: err}
	}()

	cur, err := provider.Aggregate(ctx, args.Database, args.Collection, capped, 0)
	if err != nil {
		return "", err
	}
	res, err := mongodb.ConsumeCapped(ctx, cur, t.responseByteLimit(args.ResponseBytesLimit))
	if err != nil {
		return "", err
	}
	count := <-countCh

	var summary strings.Builder
	if count.err != nil {
		fmt.Fprintf(&summary,
			"The aggregation resulted in an indeterminable number of documents. Returning %d documents.",
			len(res.Documents))
	} else {
		fmt.Fprintf(&summary, "The aggregation resulted in %d documents. Returning %d documents.",
			count.total, len(res.Documents))
	}
	if limited {
		fmt.Fprintf(&summary, " Results are limited to %d documents by the maxDocumentsPerQuery configuration.",
			t.cfg.MaxDocumentsPerQuery)
	}
	if res.CappedByBytes {
		summary.WriteString(" Results were truncated to stay within the response size limit.")
	}

	if len(res.Documents) == 0 {
		return summary.String(), nil
	}
	rendered, err := mongodb.RenderExtJSON(res.Documents)
	if err != nil {
		return "", err
	}
	return FormatUntrustedData(summary.String(), rendered), nil
}

// checkPipelinePermissions rejects write stages when write operations are
// not permitted for this server.
func (t *MongoDBToolSet) checkPipelinePermissions(pipeline []bson.M) error {
	for _, stage := range pipeline {
		for _, name := range []string{"$out", "$merge"} {
			if _, ok := stage[name]; !ok {
				continue
			}
			if t.cfg.ReadOnly {
				return errs.Newf(errs.CodeForbiddenWriteOperation,
					"the %s stage writes to a collection, which is not allowed in read-only mode", name)
			}
			if t.cfg.ToolDisabled("aggregate", CategoryMongoDB, OperationCreate) {
				return errs.Newf(errs.CodeForbiddenWriteOperation,
					"the %s stage writes to a collection, but write operations are disabled by configuration", name)
			}
		}
	}
	return nil
}

func pipelineUsesVectorSearch(pipeline []bson.M) bool {
	for _, stage := range pipeline {
		if _, ok := stage["$vectorSearch"]; ok {
			return true
		}
	}
	return false
}

// enforceIndexUse applies the indexCheck policy: vector search stages must
// target an existing index, and plain pipelines must not resolve to a full
// collection scan.
func (t *MongoDBToolSet) enforceIndexUse(ctx context.Context, provider mongodb.Provider, database, collection string, pipeline []bson.M) error {
	if !t.cfg.IndexCheck {
		return nil
	}

	if pipelineUsesVectorSearch(pipeline) {
		for _, stage := range pipeline {
			vs, ok := stage["$vectorSearch"].(bson.M)
			if !ok {
				continue
			}
			name, _ := vs["index"].(string)
			exists, err := t.embeddings.IndexExists(ctx, provider, database, collection, name)
			if err != nil {
				return err
			}
			if !exists {
				return errs.Newf(errs.CodeAtlasVectorSearchIndexNotFound,
					"vector search index %q was not found on %s or is not queryable yet",
					name, mongodb.Namespace(database, collection))
			}
		}
		return nil
	}

	plan, err := provider.Explain(ctx, database, collection, pipeline)
	if err != nil {
		return err
	}
	if planPerformsCollectionScan(plan) {
		return errs.Newf(errs.CodeForbiddenReadOperation,
			"the aggregation against %s would perform a full collection scan, which is rejected while indexCheck is enabled. Create a supporting index or disable indexCheck.",
			mongodb.Namespace(database, collection))
	}
	return nil
}

// planPerformsCollectionScan walks an explain document looking for a
// COLLSCAN stage.
func planPerformsCollectionScan(v any) bool {
	switch tv := v.(type) {
	case bson.M:
		for k, val := range tv {
			if k == "stage" && val == "COLLSCAN" {
				return true
			}
			if planPerformsCollectionScan(val) {
				return true
			}
		}
	case map[string]any:
		for k, val := range tv {
			if k == "stage" && val == "COLLSCAN" {
				return true
			}
			if planPerformsCollectionScan(val) {
				return true
			}
		}
	case bson.A:
		for _, e := range tv {
			if planPerformsCollectionScan(e) {
				return true
			}
		}
	case []any:
		for _, e := range tv {
			if planPerformsCollectionScan(e) {
				return true
			}
		}
	}
	return false
}

// validateInlineDocuments runs dimension validation over document literals
// carried by $documents stages.
func (t *MongoDBToolSet) validateInlineDocuments(ctx context.Context, provider mongodb.Provider, database, collection string, pipeline []bson.M) error {
	for _, stage := range pipeline {
		raw, ok := stage["$documents"]
		if !ok {
			continue
		}
		var docs []bson.M
		switch arr := raw.(type) {
		case bson.A:
			for _, e := range arr {
				if m, ok := e.(bson.M); ok {
					docs = append(docs, m)
				}
			}
		case []any:
			for _, e := range arr {
				if m, ok := e.(map[string]any); ok {
					docs = append(docs, toBSONM(m))
				}
			}
		}
		if len(docs) == 0 {
			continue
		}
		if err := t.embeddings.ValidateDimensions(ctx, provider, database, collection, docs); err != nil {
			return err
		}
	}
	return nil
}

// responseByteLimit combines the server-side cap with the caller's request;
// the smaller positive value wins.
func (t *MongoDBToolSet) responseByteLimit(requested int64) int64 {
	limit := t.cfg.MaxBytesPerQuery
	if requested > 0 && (limit <= 0 || requested < limit) {
		limit = requested
	}
	return limit
}
