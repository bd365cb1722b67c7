package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/config"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/graph"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/mongodb"
)

// GraphToolSet registers the road-network routing tools. The network is
// loaded from the collection on every call; routing state never outlives a
// request.
type GraphToolSet struct {
	cfg *config.Config
}

func NewGraphToolSet(cfg *config.Config) *GraphToolSet {
	return &GraphToolSet{cfg: cfg}
}

// Register adds every graph tool to the server through the dispatcher.
func (t *GraphToolSet) Register(d *Dispatcher, server *mcp.Server) {
	register(d, server, "shortest_path", t.ShortestPath)
	register(d, server, "shortest_path_from_gates", t.ShortestPathFromGates)
	register(d, server, "get_aois_by_poi", t.AOIsByPOI)
	register(d, server, "get_roads_by_aoi", t.RoadsByAOI)
}

func (t *GraphToolSet) provider(ctx context.Context, inv *Invocation) (mongodb.Provider, error) {
	if inv.Session == nil {
		return nil, errs.New(errs.CodeNotConnected,
			"not connected to MongoDB. Use the connect tool with a connection string first.")
	}
	return inv.Session.EnsureConnected(ctx)
}

// ShortestPathArgs are the arguments of the shortest_path tool.
type ShortestPathArgs struct {
	Database           string `json:"database" jsonschema:"Database holding the road network collection"`
	Collection         string `json:"collection" jsonschema:"Collection mixing Point junction features and LineString road features"`
	StartJunction      int64  `json:"startJunction" jsonschema:"Junction ID to route from"`
	EndJunction        int64  `json:"endJunction" jsonschema:"Junction ID to route to"`
	WeightField        string `json:"weightField,omitempty" jsonschema:"Edge field to minimize: cost (default) or length"`
	IncludeRoadDetails bool   `json:"includeRoadDetails,omitempty" jsonschema:"Include one line per traversed road in the output"`
}

func (a ShortestPathArgs) Validate() error {
	if a.Database == "" {
		return errs.FieldError("database", "must not be empty")
	}
	if a.Collection == "" {
		return errs.FieldError("collection", "must not be empty")
	}
	return nil
}

func (t *GraphToolSet) ShortestPath(ctx context.Context, inv *Invocation, args ShortestPathArgs) (string, error) {
	weight, err := graph.WeightByField(args.WeightField)
	if err != nil {
		return "", err
	}
	provider, err := t.provider(ctx, inv)
	if err != nil {
		return "", err
	}
	net, err := graph.LoadNetwork(ctx, provider, args.Database, args.Collection)
	if err != nil {
		return "", err
	}
	path, err := net.ShortestPath(args.StartJunction, args.EndJunction, weight)
	if err != nil {
		return "", err
	}
	return renderPath(path, args.IncludeRoadDetails), nil
}

// ShortestPathFromGatesArgs are the arguments of the
// shortest_path_from_gates tool.
type ShortestPathFromGatesArgs struct {
	Database    string `json:"database" jsonschema:"Database holding the road network collection"`
	Collection  string `json:"collection" jsonschema:"Collection mixing Point junction features and LineString road features"`
	StartRoad   int64  `json:"startRoadId" jsonschema:"Road carrying the departure gate"`
	StartAOI    int64  `json:"startAoiId" jsonschema:"AOI whose gate on the start road is the departure point"`
	EndRoad     int64  `json:"endRoadId" jsonschema:"Road carrying the arrival gate"`
	EndAOI      int64  `json:"endAoiId" jsonschema:"AOI whose gate on the end road is the arrival point"`
	TravelMode  string `json:"travelMode" jsonschema:"walking or driving"`
	WeightField string `json:"weightField,omitempty" jsonschema:"Edge field to minimize in driving mode: cost (default) or length. Walking always minimizes time at walking speed"`
}

func (a ShortestPathFromGatesArgs) Validate() error {
	if a.Database == "" {
		return errs.FieldError("database", "must not be empty")
	}
	if a.Collection == "" {
		return errs.FieldError("collection", "must not be empty")
	}
	if a.TravelMode != graph.ModeWalking && a.TravelMode != graph.ModeDriving {
		return errs.FieldError("travelMode",
			fmt.Sprintf("must be %q or %q", graph.ModeWalking, graph.ModeDriving))
	}
	return nil
}

func (t *GraphToolSet) ShortestPathFromGates(ctx context.Context, inv *Invocation, args ShortestPathFromGatesArgs) (string, error) {
	provider, err := t.provider(ctx, inv)
	if err != nil {
		return "", err
	}
	net, err := graph.LoadNetwork(ctx, provider, args.Database, args.Collection)
	if err != nil {
		return "", err
	}
	path, err := net.RouteBetweenGates(args.StartRoad, args.StartAOI, args.EndRoad, args.EndAOI, args.TravelMode, args.WeightField)
	if err != nil {
		return "", err
	}
	return renderPath(path, true), nil
}

// renderPath formats a computed path. Road details report speed in km/h;
// stored speeds are m/s.
func renderPath(path *graph.Path, details bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found a path through %d junctions after visiting %d.\n", len(path.Junctions), path.VisitedCount)
	fmt.Fprintf(&b, "Junctions: %s\n", joinIDs(path.Junctions))
	fmt.Fprintf(&b, "Total distance: %.1f m, total cost: %.1f.", path.TotalLength, path.TotalCost)
	if !details {
		return b.String()
	}
	b.WriteString("\nRoads traversed:")
	for _, step := range path.Steps {
		name := step.Edge.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(&b, "\n- %s (%d -> %d): %.1f m", name, step.FromJunction, step.ToJunction, step.Edge.Length)
		if step.Edge.Category != "" {
			fmt.Fprintf(&b, ", %s", step.Edge.Category)
		}
		if step.Edge.MaxSpeed > 0 {
			fmt.Fprintf(&b, ", max speed %.0f km/h", graph.DisplaySpeedKmh(step.Edge.MaxSpeed))
		}
	}
	return b.String()
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, " -> ")
}

// AOIsByPOIArgs are the arguments of the get_aois_by_poi tool.
type AOIsByPOIArgs struct {
	Database   string `json:"database" jsonschema:"Database holding the AOI collection"`
	Collection string `json:"collection" jsonschema:"Collection of AOI documents"`
	POIName    string `json:"poiName" jsonschema:"Point-of-interest name to match against AOI names"`
	Fuzzy      bool   `json:"fuzzy,omitempty" jsonschema:"Match the name as a case-insensitive substring instead of exactly"`
}

func (a AOIsByPOIArgs) Validate() error {
	if a.Database == "" {
		return errs.FieldError("database", "must not be empty")
	}
	if a.Collection == "" {
		return errs.FieldError("collection", "must not be empty")
	}
	if strings.TrimSpace(a.POIName) == "" {
		return errs.FieldError("poiName", "must not be empty")
	}
	return nil
}

func (t *GraphToolSet) AOIsByPOI(ctx context.Context, inv *Invocation, args AOIsByPOIArgs) (string, error) {
	provider, err := t.provider(ctx, inv)
	if err != nil {
		return "", err
	}
	aois, err := graph.AOIsByPOI(ctx, provider, args.Database, args.Collection, args.POIName, args.Fuzzy)
	if err != nil {
		return "", err
	}
	if len(aois) == 0 {
		return fmt.Sprintf("No AOIs matching %q were found in %s.", args.POIName, mongodb.Namespace(args.Database, args.Collection)), nil
	}
	summary := fmt.Sprintf("Found %d AOIs matching %q.", len(aois), args.POIName)
	rendered, err := mongodb.RenderExtJSON(aois)
	if err != nil {
		return "", err
	}
	return FormatUntrustedData(summary, rendered), nil
}

// RoadsByAOIArgs are the arguments of the get_roads_by_aoi tool.
type RoadsByAOIArgs struct {
	Database       string `json:"database" jsonschema:"Database holding both collections"`
	AOICollection  string `json:"aoiCollection" jsonschema:"Collection of AOI documents"`
	RoadCollection string `json:"roadCollection" jsonschema:"Collection of road features carrying gates"`
	AOIName        string `json:"aoiName" jsonschema:"Exact AOI name whose gated roads to list"`
}

func (a RoadsByAOIArgs) Validate() error {
	if a.Database == "" {
		return errs.FieldError("database", "must not be empty")
	}
	if a.AOICollection == "" {
		return errs.FieldError("aoiCollection", "must not be empty")
	}
	if a.RoadCollection == "" {
		return errs.FieldError("roadCollection", "must not be empty")
	}
	if strings.TrimSpace(a.AOIName) == "" {
		return errs.FieldError("aoiName", "must not be empty")
	}
	return nil
}

func (t *GraphToolSet) RoadsByAOI(ctx context.Context, inv *Invocation, args RoadsByAOIArgs) (string, error) {
	provider, err := t.provider(ctx, inv)
	if err != nil {
		return "", err
	}
	roads, err := graph.RoadsByAOI(ctx, provider, args.Database, args.AOICollection, args.RoadCollection, args.AOIName)
	if err != nil {
		return "", err
	}
	if len(roads) == 0 {
		return fmt.Sprintf("AOI %q has no gated roads in %s.", args.AOIName, mongodb.Namespace(args.Database, args.RoadCollection)), nil
	}
	summary := fmt.Sprintf("Found %d roads with gates for AOI %q.", len(roads), args.AOIName)
	rendered, err := mongodb.RenderExtJSON(roads)
	if err != nil {
		return "", err
	}
	return FormatUntrustedData(summary, rendered), nil
}
