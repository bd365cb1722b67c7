package mongodb

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Cursor abstracts driver cursors so tool tests can feed canned documents.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type driverCursor struct {
	cur *mongo.Cursor
}

func (c *driverCursor) Next(ctx context.Context) bool  { return c.cur.Next(ctx) }
func (c *driverCursor) Decode(val any) error           { return c.cur.Decode(val) }
func (c *driverCursor) Err() error                     { return c.cur.Err() }
func (c *driverCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }

// CappedResult is the outcome of a capped cursor consumption.
type CappedResult struct {
	Documents []bson.M
	Bytes     int64
	// CappedByBytes is set when consumption stopped because the byte cap
	// was reached before the cursor was exhausted.
	CappedByBytes bool
}

// ConsumeCapped drains cur into memory until the cursor is exhausted or the
// accumulated extended-JSON size reaches byteLimit (0 disables the cap). The
// cursor is always closed, including on error.
func ConsumeCapped(ctx context.Context, cur Cursor, byteLimit int64) (*CappedResult, error) {
	defer func() { _ = cur.Close(ctx) }()

	res := &CappedResult{}
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}

		rendered, err := bson.MarshalExtJSON(doc, false, false)
		if err != nil {
			return nil, err
		}

		if byteLimit > 0 && res.Bytes+int64(len(rendered)) > byteLimit {
			res.CappedByBytes = true
			break
		}

		res.Documents = append(res.Documents, doc)
		res.Bytes += int64(len(rendered))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// RenderExtJSON renders documents as a relaxed extended JSON array, one
// document per line for readability.
func RenderExtJSON(docs []bson.M) (string, error) {
	if len(docs) == 0 {
		return "[]", nil
	}
	var b strings.Builder
	b.WriteString("[\n")
	for i, doc := range docs {
		rendered, err := bson.MarshalExtJSON(doc, false, false)
		if err != nil {
			return "", err
		}
		b.WriteString("  ")
		b.Write(rendered)
		if i < len(docs)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("]")
	return b.String(), nil
}
