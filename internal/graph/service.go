package graph

import (
	"context"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/mongodb"
)

// LoadNetwork reads every feature document from the collection and builds
// the road graph.
func LoadNetwork(ctx context.Context, provider mongodb.Provider, database, collection string) (*Network, error) {
	cur, err := provider.Find(ctx, database, collection, mongodb.FindOptions{})
	if err != nil {
		return nil, err
	}
	res, err := mongodb.ConsumeCapped(ctx, cur, 0)
	if err != nil {
		return nil, err
	}
	net := DecodeNetwork(res.Documents)
	if len(net.Edges) == 0 {
		return nil, errs.Newf(errs.CodeInvalidArguments,
			"collection %s contains no LineString road features", mongodb.Namespace(database, collection))
	}
	return net, nil
}

// AOIsByPOI returns the AOI documents whose name matches the POI name. In
// fuzzy mode the name is matched as a case-insensitive substring.
func AOIsByPOI(ctx context.Context, provider mongodb.Provider, database, collection, name string, fuzzy bool) ([]bson.M, error) {
	pattern := "^" + regexp.QuoteMeta(name) + "$"
	options := ""
	if fuzzy {
		pattern = regexp.QuoteMeta(name)
		options = "i"
	}
	pipeline := []bson.M{
		{"$match": bson.M{"name": bson.M{"$regex": pattern, "$options": options}}},
	}
	cur, err := provider.Aggregate(ctx, database, collection, pipeline, 0)
	if err != nil {
		return nil, err
	}
	res, err := mongodb.ConsumeCapped(ctx, cur, 0)
	if err != nil {
		return nil, err
	}
	return res.Documents, nil
}

// RoadsByAOI returns the road documents carrying a gate of the named AOI.
func RoadsByAOI(ctx context.Context, provider mongodb.Provider, database, aoiCollection, roadCollection, aoiName string) ([]bson.M, error) {
	aois, err := AOIsByPOI(ctx, provider, database, aoiCollection, aoiName, false)
	if err != nil {
		return nil, err
	}
	if len(aois) == 0 {
		return nil, errs.Newf(errs.CodeInvalidArguments, "no AOI named %q was found", aoiName)
	}

	ids := make(bson.A, 0, len(aois))
	for _, aoi := range aois {
		if id, ok := aoiID(aoi); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errs.Newf(errs.CodeInvalidArguments, "AOI %q has no numeric ID", aoiName)
	}

	pipeline := []bson.M{
		{"$match": bson.M{"$or": bson.A{
			bson.M{"gates.aoiId": bson.M{"$in": ids}},
			bson.M{"properties.gates.aoiId": bson.M{"$in": ids}},
		}}},
	}
	cur, err := provider.Aggregate(ctx, database, roadCollection, pipeline, 0)
	if err != nil {
		return nil, err
	}
	res, err := mongodb.ConsumeCapped(ctx, cur, 0)
	if err != nil {
		return nil, err
	}
	return res.Documents, nil
}

func aoiID(doc bson.M) (int64, bool) {
	if id, ok := UnboxID(fieldValue(doc, "id")); ok {
		return id, true
	}
	return UnboxID(doc["_id"])
}
