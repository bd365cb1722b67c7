// Package graph routes over a road network stored as GeoJSON-style
// documents in a single collection: Point features are junctions,
// LineString features are roads. Gates mark where an area of interest
// touches a road.
package graph

import (
	"go.mongodb.org/mongo-driver/bson"
)

// Travel modes accepted by the gate-aware routing tool.
const (
	ModeWalking = "walking"
	ModeDriving = "driving"
)

// Weight fields accepted by the routing tools.
const (
	WeightCost   = "cost"
	WeightLength = "length"
)

const (
	// syntheticJunctionBase reserves an ID range for junctions created at
	// gate split points so they cannot collide with stored junction IDs.
	syntheticJunctionBase int64 = 60_000_000_000

	// splitFromOffset and splitToOffset derive split-edge IDs from the
	// original road ID.
	splitFromOffset int64 = 10_000_000_000
	splitToOffset   int64 = 20_000_000_000

	walkingSpeedMps        = 1.4
	defaultDrivingSpeedMps = 8.33
	mpsToKmh               = 3.6
)

// drivingExcludedCategories are road categories that cannot be driven.
var drivingExcludedCategories = map[string]bool{
	"footway":  true,
	"cycleway": true,
	"steps":    true,
}

// Junction is a node of the road graph.
type Junction struct {
	ID          int64
	Coordinates [2]float64
}

// Gate marks an access point between an AOI and a road.
type Gate struct {
	AOIID       int64
	Type        string
	Coordinates [2]float64
}

// RoadEdge is one traversable road segment.
type RoadEdge struct {
	ID           int64
	FromJunction int64
	ToJunction   int64
	Length       float64
	Cost         float64
	Name         string
	Category     string
	MaxSpeed     float64
	Gates        []Gate
	Coordinates  [][2]float64
}

// Network is the in-memory road graph.
type Network struct {
	Junctions map[int64]Junction
	Edges     []RoadEdge

	adjacency map[int64][]int
	removed   map[int]bool
}

// NewNetwork builds a network from junctions and edges. Roads are
// traversable in both directions.
func NewNetwork(junctions []Junction, edges []RoadEdge) *Network {
	n := &Network{
		Junctions: make(map[int64]Junction, len(junctions)),
		Edges:     edges,
		adjacency: make(map[int64][]int),
		removed:   make(map[int]bool),
	}
	for _, j := range junctions {
		n.Junctions[j.ID] = j
	}
	for i, e := range edges {
		n.adjacency[e.FromJunction] = append(n.adjacency[e.FromJunction], i)
		n.adjacency[e.ToJunction] = append(n.adjacency[e.ToJunction], i)
	}
	return n
}

// AddJunction inserts a junction, replacing any junction with the same ID.
func (n *Network) AddJunction(j Junction) {
	n.Junctions[j.ID] = j
}

// AddEdge appends an edge and indexes it from both endpoints.
func (n *Network) AddEdge(e RoadEdge) {
	idx := len(n.Edges)
	n.Edges = append(n.Edges, e)
	n.adjacency[e.FromJunction] = append(n.adjacency[e.FromJunction], idx)
	n.adjacency[e.ToJunction] = append(n.adjacency[e.ToJunction], idx)
}

// RemoveEdgeByID unlinks the edge with the given ID from the adjacency
// index and marks it removed. Used when a road is replaced by its split
// halves.
func (n *Network) RemoveEdgeByID(id int64) {
	for i, e := range n.Edges {
		if e.ID != id || n.removed[i] {
			continue
		}
		n.removed[i] = true
		n.unlink(e.FromJunction, i)
		n.unlink(e.ToJunction, i)
		return
	}
}

func (n *Network) unlink(junction int64, edgeIndex int) {
	refs := n.adjacency[junction]
	for i, ref := range refs {
		if ref == edgeIndex {
			n.adjacency[junction] = append(refs[:i:i], refs[i+1:]...)
			return
		}
	}
}

// DecodeNetwork splits raw feature documents into junctions and roads by
// geometry type and assembles the graph.
func DecodeNetwork(docs []bson.M) *Network {
	var junctions []Junction
	var edges []RoadEdge
	for _, doc := range docs {
		geomType, coords := decodeGeometry(doc)
		switch geomType {
		case "Point":
			id, ok := UnboxID(fieldValue(doc, "id"))
			if !ok || len(coords) == 0 {
				continue
			}
			junctions = append(junctions, Junction{ID: id, Coordinates: coords[0]})
		case "LineString":
			if edge, ok := decodeRoad(doc, coords); ok {
				edges = append(edges, edge)
			}
		}
	}
	return NewNetwork(junctions, edges)
}

func decodeRoad(doc bson.M, coords [][2]float64) (RoadEdge, bool) {
	id, ok := UnboxID(fieldValue(doc, "id"))
	if !ok {
		return RoadEdge{}, false
	}
	from, okFrom := UnboxID(fieldValue(doc, "from_junction"))
	to, okTo := UnboxID(fieldValue(doc, "to_junction"))
	if !okFrom || !okTo {
		return RoadEdge{}, false
	}
	edge := RoadEdge{
		ID:           id,
		FromJunction: from,
		ToJunction:   to,
		Coordinates:  coords,
	}
	edge.Length, _ = numValue(fieldValue(doc, "length"))
	edge.Cost, _ = numValue(fieldValue(doc, "cost"))
	edge.MaxSpeed, _ = numValue(fieldValue(doc, "maxSpeed"))
	edge.Name, _ = fieldValue(doc, "name").(string)
	edge.Category, _ = fieldValue(doc, "category").(string)
	edge.Gates = decodeGates(fieldValue(doc, "gates"))
	return edge, true
}

func decodeGates(v any) []Gate {
	arr, ok := asArray(v)
	if !ok {
		return nil
	}
	var gates []Gate
	for _, raw := range arr {
		m := asDoc(raw)
		if m == nil {
			continue
		}
		g := Gate{}
		g.AOIID, _ = UnboxID(m["aoiId"])
		g.Type, _ = m["type"].(string)
		if pt, ok := decodePosition(m["coordinates"]); ok {
			g.Coordinates = pt
		}
		gates = append(gates, g)
	}
	return gates
}

func decodeGeometry(doc bson.M) (string, [][2]float64) {
	geom := asDoc(doc["geometry"])
	if geom == nil {
		return "", nil
	}
	geomType, _ := geom["type"].(string)
	switch geomType {
	case "Point":
		if pt, ok := decodePosition(geom["coordinates"]); ok {
			return geomType, [][2]float64{pt}
		}
	case "LineString":
		arr, ok := asArray(geom["coordinates"])
		if !ok {
			return geomType, nil
		}
		line := make([][2]float64, 0, len(arr))
		for _, raw := range arr {
			if pt, ok := decodePosition(raw); ok {
				line = append(line, pt)
			}
		}
		return geomType, line
	}
	return geomType, nil
}

func decodePosition(v any) ([2]float64, bool) {
	arr, ok := asArray(v)
	if !ok || len(arr) < 2 {
		return [2]float64{}, false
	}
	lon, okLon := numValue(arr[0])
	lat, okLat := numValue(arr[1])
	if !okLon || !okLat {
		return [2]float64{}, false
	}
	return [2]float64{lon, lat}, true
}

// fieldValue reads a field from the document, preferring a GeoJSON
// properties sub-document over the top level.
func fieldValue(doc bson.M, name string) any {
	if props := asDoc(doc["properties"]); props != nil {
		if v, ok := props[name]; ok {
			return v
		}
	}
	return doc[name]
}

func asDoc(v any) bson.M {
	switch tv := v.(type) {
	case bson.M:
		return tv
	case map[string]any:
		m := make(bson.M, len(tv))
		for k, val := range tv {
			m[k] = val
		}
		return m
	case bson.D:
		m := make(bson.M, len(tv))
		for _, e := range tv {
			m[e.Key] = e.Value
		}
		return m
	default:
		return nil
	}
}

func asArray(v any) ([]any, bool) {
	switch tv := v.(type) {
	case bson.A:
		return tv, true
	case []any:
		return tv, true
	default:
		return nil, false
	}
}

// UnboxID converts a stored identifier to int64. Identifiers arrive as
// plain numbers or as boxed 64-bit integers carrying high and low halves;
// the low half is treated as unsigned.
func UnboxID(v any) (int64, bool) {
	switch tv := v.(type) {
	case int64:
		return tv, true
	case int32:
		return int64(tv), true
	case int:
		return int64(tv), true
	case float64:
		return int64(tv), true
	}
	m := asDoc(v)
	if m == nil {
		return 0, false
	}
	high, okHigh := numValue(m["high"])
	low, okLow := numValue(m["low"])
	if !okHigh || !okLow {
		return 0, false
	}
	return int64(high)*(1<<32) + int64(uint32(int64(low))), true
}

func numValue(v any) (float64, bool) {
	switch tv := v.(type) {
	case float64:
		return tv, true
	case float32:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case int32:
		return float64(tv), true
	case int:
		return float64(tv), true
	default:
		return 0, false
	}
}

// DisplaySpeedKmh converts a stored m/s speed for display.
func DisplaySpeedKmh(maxSpeedMps float64) float64 {
	return maxSpeedMps * mpsToKmh
}
