package graph

import (
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
)

// idAllocator hands out identifiers from the reserved synthetic range.
// Split-edge IDs normally derive from the original road ID by offset; roads
// whose native ID already reaches into the offset range fall back to the
// allocator so derived IDs cannot collide with real ones.
type idAllocator struct {
	next int64
}

func newIDAllocator() *idAllocator {
	return &idAllocator{next: syntheticJunctionBase}
}

func (a *idAllocator) allocate() int64 {
	id := a.next
	a.next++
	return id
}

func splitEdgeID(origID, offset int64, alloc *idAllocator) int64 {
	if origID >= splitFromOffset {
		return alloc.allocate()
	}
	return origID + offset
}

// gateUsable reports whether a gate of the given type admits the travel
// mode. Every drivable gate is walkable; a walking gate is not drivable.
func gateUsable(gateType, mode string) bool {
	if mode == ModeWalking {
		return true
	}
	return gateType == ModeDriving
}

// FilteredForMode returns the network restricted to roads usable in the
// given travel mode. In driving mode it returns a copy without footway,
// cycleway and steps roads; in any other mode it returns the network itself,
// not a copy.
func (n *Network) FilteredForMode(mode string) *Network {
	if mode != ModeDriving {
		return n
	}
	junctions := make([]Junction, 0, len(n.Junctions))
	for _, j := range n.Junctions {
		junctions = append(junctions, j)
	}
	edges := make([]RoadEdge, 0, len(n.Edges))
	for _, e := range n.Edges {
		if drivingExcludedCategories[e.Category] {
			continue
		}
		edges = append(edges, e)
	}
	return NewNetwork(junctions, edges)
}

func (n *Network) edgeByID(id int64) (RoadEdge, bool) {
	for i, e := range n.Edges {
		if e.ID == id && !n.removed[i] {
			return e, true
		}
	}
	return RoadEdge{}, false
}

func findGate(road RoadEdge, aoiID int64, mode string) (Gate, bool) {
	for _, g := range road.Gates {
		if g.AOIID == aoiID && gateUsable(g.Type, mode) {
			return g, true
		}
	}
	return Gate{}, false
}

// siblingRoads returns every road carrying a gate at the given coordinate.
// Dual carriageways store each direction as its own feature with a
// duplicated gate, so the endpoint road is not the only one to split.
func (n *Network) siblingRoads(coord [2]float64) []RoadEdge {
	var siblings []RoadEdge
	for i, e := range n.Edges {
		if n.removed[i] {
			continue
		}
		for _, g := range e.Gates {
			if samePoint(g.Coordinates, coord) {
				siblings = append(siblings, e)
				break
			}
		}
	}
	return siblings
}

// attachGate connects a gate coordinate to the graph and returns the
// junction to route from. An existing endpoint junction within tolerance is
// reused; otherwise a synthetic junction is created and every sibling road
// is split at the gate.
func (n *Network) attachGate(road RoadEdge, gate Gate, mode string, alloc *idAllocator) int64 {
	siblings := n.siblingRoads(gate.Coordinates)
	if len(siblings) == 0 {
		siblings = []RoadEdge{road}
	}

	for _, sibling := range siblings {
		if len(sibling.Coordinates) == 0 {
			continue
		}
		if samePoint(gate.Coordinates, sibling.Coordinates[0]) {
			return sibling.FromJunction
		}
		if samePoint(gate.Coordinates, sibling.Coordinates[len(sibling.Coordinates)-1]) {
			return sibling.ToJunction
		}
	}

	junctionID := alloc.allocate()
	n.AddJunction(Junction{ID: junctionID, Coordinates: gate.Coordinates})
	for _, sibling := range siblings {
		n.splitAtGate(sibling, gate.Coordinates, junctionID, mode, alloc)
	}
	return junctionID
}

// splitAtGate replaces a road with two halves meeting at the synthetic
// junction. Half lengths are proportional to the haversine distance from
// the gate to each end; costs are derived from length by travel mode.
func (n *Network) splitAtGate(road RoadEdge, gateCoord [2]float64, junctionID int64, mode string, alloc *idAllocator) {
	distFrom := 1.0
	distTo := 1.0
	if len(road.Coordinates) > 0 {
		distFrom = HaversineMeters(gateCoord, road.Coordinates[0])
		distTo = HaversineMeters(gateCoord, road.Coordinates[len(road.Coordinates)-1])
	}
	total := distFrom + distTo
	if total == 0 {
		total = 1
	}
	fromLength := road.Length * distFrom / total
	toLength := road.Length - fromLength

	n.RemoveEdgeByID(road.ID)
	n.AddEdge(RoadEdge{
		ID:           splitEdgeID(road.ID, splitFromOffset, alloc),
		FromJunction: road.FromJunction,
		ToJunction:   junctionID,
		Length:       fromLength,
		Cost:         travelCost(fromLength, road.MaxSpeed, mode),
		Name:         road.Name,
		Category:     road.Category,
		MaxSpeed:     road.MaxSpeed,
	})
	n.AddEdge(RoadEdge{
		ID:           splitEdgeID(road.ID, splitToOffset, alloc),
		FromJunction: junctionID,
		ToJunction:   road.ToJunction,
		Length:       toLength,
		Cost:         travelCost(toLength, road.MaxSpeed, mode),
		Name:         road.Name,
		Category:     road.Category,
		MaxSpeed:     road.MaxSpeed,
	})
}

// travelCost converts a length to seconds of travel.
func travelCost(length, maxSpeed float64, mode string) float64 {
	if mode == ModeWalking {
		return length / walkingSpeedMps
	}
	speed := maxSpeed
	if speed <= 0 {
		speed = defaultDrivingSpeedMps
	}
	return length / speed
}

// RouteBetweenGates computes the shortest path between two AOI gates, each
// reached through a named road. The network must not have been filtered
// yet; filtering by travel mode happens here.
func (n *Network) RouteBetweenGates(startRoadID, startAOI, endRoadID, endAOI int64, mode, weightField string) (*Path, error) {
	if mode != ModeWalking && mode != ModeDriving {
		return nil, errs.Newf(errs.CodeInvalidArguments,
			"travelMode must be %q or %q", ModeWalking, ModeDriving)
	}

	net := n.FilteredForMode(mode)

	startRoad, ok := net.edgeByID(startRoadID)
	if !ok {
		return nil, errs.Newf(errs.CodeInvalidArguments,
			"start road %d does not exist or cannot be used in %s mode", startRoadID, mode)
	}
	endRoad, ok := net.edgeByID(endRoadID)
	if !ok {
		return nil, errs.Newf(errs.CodeInvalidArguments,
			"end road %d does not exist or cannot be used in %s mode", endRoadID, mode)
	}

	startGate, ok := findGate(startRoad, startAOI, mode)
	if !ok {
		return nil, errs.Newf(errs.CodeInvalidArguments,
			"road %d has no usable gate for AOI %d in %s mode", startRoadID, startAOI, mode)
	}
	endGate, ok := findGate(endRoad, endAOI, mode)
	if !ok {
		return nil, errs.Newf(errs.CodeInvalidArguments,
			"road %d has no usable gate for AOI %d in %s mode", endRoadID, endAOI, mode)
	}

	alloc := newIDAllocator()
	startJunction := net.attachGate(startRoad, startGate, mode, alloc)
	endJunction := net.attachGate(endRoad, endGate, mode, alloc)

	var weight WeightFunc
	if mode == ModeWalking {
		// Walking time depends only on distance, so the weight field is
		// overridden.
		weight = WalkingWeight
	} else {
		var err error
		weight, err = WeightByField(weightField)
		if err != nil {
			return nil, err
		}
	}

	path, err := net.ShortestPath(startJunction, endJunction, weight)
	if err != nil {
		return nil, err
	}
	path.Steps = MergeSteps(path.Steps)
	return path, nil
}
