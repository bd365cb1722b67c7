package tools

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/mongodb"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/vectorsearch"
)

// InsertManyArgs are the arguments of the insert-many tool.
type InsertManyArgs struct {
	NamespaceArgs
	Documents           []map[string]any         `json:"documents" jsonschema:"documents to insert"`
	EmbeddingParameters *vectorsearch.Parameters `json:"embeddingParameters,omitempty" jsonschema:"embedding model settings; input maps vector-indexed field paths to raw text per document"`
}

func (a InsertManyArgs) Validate() error {
	if err := a.NamespaceArgs.Validate(); err != nil {
		return err
	}
	if len(a.Documents) == 0 {
		return errs.FieldError("documents", "must contain at least one document")
	}
	return nil
}

func (t *MongoDBToolSet) InsertMany(ctx context.Context, inv *Invocation, args InsertManyArgs) (string, error) {
	provider, err := t.provider(ctx, inv)
	if err != nil {
		return "", err
	}

	docs := make([]bson.M, 0, len(args.Documents))
	for _, d := range args.Documents {
		docs = append(docs, toBSONM(d))
	}

	if t.embeddings != nil {
		if args.EmbeddingParameters != nil && len(args.EmbeddingParameters.Input) > 0 {
			if err := t.embeddings.RewriteDocuments(ctx, provider, args.Database, args.Collection, docs, *args.EmbeddingParameters); err != nil {
				return "", err
			}
		}
		if err := t.embeddings.ValidateDimensions(ctx, provider, args.Database, args.Collection, docs); err != nil {
			return "", err
		}
	}

	payload := make([]any, 0, len(docs))
	for _, d := range docs {
		payload = append(payload, d)
	}
	res, err := provider.InsertMany(ctx, args.Database, args.Collection, payload)
	if err != nil {
		if mongodb.IsDuplicateKey(err) {
			return "", errs.Wrap(errs.CodeInvalidArguments,
				"a document with the same key already exists", err)
		}
		return "", err
	}

	ids := make([]string, 0, len(res.InsertedIDs))
	for _, id := range res.InsertedIDs {
		ids = append(ids, formatInsertedID(id))
	}
	return fmt.Sprintf("Documents were inserted successfully.\nInserted `%d` document(s) into %s.\nInserted IDs: %s",
		len(res.InsertedIDs), mongodb.Namespace(args.Database, args.Collection), strings.Join(ids, ", ")), nil
}

func formatInsertedID(id any) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprintf("%v", id)
}

// UpdateManyArgs are the arguments of the update-many tool.
type UpdateManyArgs struct {
	NamespaceArgs
	Filter map[string]any `json:"filter,omitempty" jsonschema:"query filter selecting the documents to update"`
	Update map[string]any `json:"update" jsonschema:"update document using operators such as $set"`
	Upsert bool           `json:"upsert,omitempty" jsonschema:"insert a new document when no document matches the filter"`
}

func (a UpdateManyArgs) Validate() error {
	if err := a.NamespaceArgs.Validate(); err != nil {
		return err
	}
	if len(a.Update) == 0 {
		return errs.FieldError("update", "must not be empty")
	}
	return nil
}

func (t *MongoDBToolSet) UpdateMany(ctx context.Context, inv *Invocation, args UpdateManyArgs) (string, error) {
	provider, err := t.provider(ctx, inv)
	if err != nil {
		return "", err
	}
	res, err := provider.UpdateMany(ctx, args.Database, args.Collection,
		toBSONM(args.Filter), toBSONM(args.Update), args.Upsert)
	if err != nil {
		return "", err
	}

	ns := mongodb.Namespace(args.Database, args.Collection)
	if res.UpsertedCount > 0 {
		return fmt.Sprintf("No documents matched the filter; upserted %d document(s) into %s.", res.UpsertedCount, ns), nil
	}
	return fmt.Sprintf("Matched %d document(s) in %s and modified %d of them.",
		res.MatchedCount, ns, res.ModifiedCount), nil
}

// DeleteManyArgs are the arguments of the delete-many tool.
type DeleteManyArgs struct {
	NamespaceArgs
	Filter map[string]any `json:"filter,omitempty" jsonschema:"query filter selecting the documents to delete; an empty filter deletes every document"`
}

func (a DeleteManyArgs) Validate() error { return a.NamespaceArgs.Validate() }

func (t *MongoDBToolSet) DeleteMany(ctx context.Context, inv *Invocation, args DeleteManyArgs) (string, error) {
	provider, err := t.provider(ctx, inv)
	if err != nil {
		return "", err
	}
	deleted, err := provider.DeleteMany(ctx, args.Database, args.Collection, toBSONM(args.Filter))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted %d document(s) from %s.",
		deleted, mongodb.Namespace(args.Database, args.Collection)), nil
}

// DropCollectionArgs are the arguments of the drop-collection tool.
type DropCollectionArgs struct {
	NamespaceArgs
}

func (t *MongoDBToolSet) DropCollection(ctx context.Context, inv *Invocation, args DropCollectionArgs) (string, error) {
	provider, err := t.provider(ctx, inv)
	if err != nil {
		return "", err
	}
	if err := provider.DropCollection(ctx, args.Database, args.Collection); err != nil {
		return "", err
	}
	t.invalidateIndexes(args.Database, args.Collection)
	return fmt.Sprintf("Dropped collection %s.", mongodb.Namespace(args.Database, args.Collection)), nil
}

func (t *MongoDBToolSet) DropDatabase(ctx context.Context, inv *Invocation, args DatabaseArgs) (string, error) {
	provider, err := t.provider(ctx, inv)
	if err != nil {
		return "", err
	}
	if err := provider.DropDatabase(ctx, args.Database); err != nil {
		return "", err
	}
	return fmt.Sprintf("Dropped database %q.", args.Database), nil
}
