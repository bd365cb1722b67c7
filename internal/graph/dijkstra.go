package graph

import (
	"container/heap"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
)

// WeightFunc computes the traversal cost of an edge.
type WeightFunc func(e RoadEdge) float64

// CostWeight selects the stored cost field.
func CostWeight(e RoadEdge) float64 { return e.Cost }

// LengthWeight selects the stored length field.
func LengthWeight(e RoadEdge) float64 { return e.Length }

// WalkingWeight derives traversal time from length at walking speed.
func WalkingWeight(e RoadEdge) float64 { return e.Length / walkingSpeedMps }

// WeightByField maps a weightField argument to its weight function.
func WeightByField(field string) (WeightFunc, error) {
	switch field {
	case WeightCost, "":
		return CostWeight, nil
	case WeightLength:
		return LengthWeight, nil
	default:
		return nil, errs.Newf(errs.CodeInvalidArguments,
			"weightField must be %q or %q", WeightCost, WeightLength)
	}
}

// PathStep is one traversed edge, oriented in travel direction.
type PathStep struct {
	Edge         RoadEdge
	FromJunction int64
	ToJunction   int64
}

// Path is the result of a shortest-path computation.
type Path struct {
	Junctions    []int64
	Steps        []PathStep
	TotalLength  float64
	TotalCost    float64
	TotalWeight  float64
	VisitedCount int
}

type queueItem struct {
	junction int64
	weight   float64
	index    int
}

type minQueue []*queueItem

func (q minQueue) Len() int            { return len(q) }
func (q minQueue) Less(i, j int) bool  { return q[i].weight < q[j].weight }
func (q minQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *minQueue) Push(x any)         { item := x.(*queueItem); item.index = len(*q); *q = append(*q, item) }
func (q *minQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// ShortestPath runs Dijkstra from start to end over the network. Each
// junction is settled at most once; edges are traversable in both
// directions.
func (n *Network) ShortestPath(start, end int64, weight WeightFunc) (*Path, error) {
	if _, ok := n.Junctions[start]; !ok {
		return nil, errs.Newf(errs.CodeInvalidArguments, "start junction %d does not exist", start)
	}
	if _, ok := n.Junctions[end]; !ok {
		return nil, errs.Newf(errs.CodeInvalidArguments, "end junction %d does not exist", end)
	}

	dist := map[int64]float64{start: 0}
	prev := map[int64]PathStep{}
	visited := map[int64]bool{}

	q := &minQueue{}
	heap.Init(q)
	heap.Push(q, &queueItem{junction: start, weight: 0})

	for q.Len() > 0 {
		item := heap.Pop(q).(*queueItem)
		if visited[item.junction] {
			continue
		}
		visited[item.junction] = true
		if item.junction == end {
			break
		}

		for _, idx := range n.adjacency[item.junction] {
			edge := n.Edges[idx]
			next := edge.ToJunction
			if next == item.junction {
				next = edge.FromJunction
			}
			if visited[next] {
				continue
			}
			w := weight(edge)
			if w < 0 {
				continue
			}
			candidate := dist[item.junction] + w
			if current, ok := dist[next]; !ok || candidate < current {
				dist[next] = candidate
				prev[next] = PathStep{Edge: edge, FromJunction: item.junction, ToJunction: next}
				heap.Push(q, &queueItem{junction: next, weight: candidate})
			}
		}
	}

	if !visited[end] {
		return nil, errs.Newf(errs.CodeInvalidArguments,
			"no path exists between junctions %d and %d", start, end)
	}

	var steps []PathStep
	for at := end; at != start; {
		step := prev[at]
		steps = append(steps, step)
		at = step.FromJunction
	}
	// Reverse into travel order.
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}

	path := &Path{
		Junctions:    make([]int64, 0, len(steps)+1),
		Steps:        steps,
		TotalWeight:  dist[end],
		VisitedCount: len(visited),
	}
	path.Junctions = append(path.Junctions, start)
	for _, step := range steps {
		path.Junctions = append(path.Junctions, step.ToJunction)
		path.TotalLength += step.Edge.Length
		path.TotalCost += step.Edge.Cost
	}
	return path, nil
}

// MergeSteps collapses consecutive steps that continue the same road,
// identified by equal name, category, and maxSpeed, where each step begins
// at the junction the previous one ended on. Lengths and costs are summed.
func MergeSteps(steps []PathStep) []PathStep {
	if len(steps) == 0 {
		return nil
	}
	merged := []PathStep{steps[0]}
	for _, step := range steps[1:] {
		last := &merged[len(merged)-1]
		sameRoad := last.Edge.Name == step.Edge.Name &&
			last.Edge.Category == step.Edge.Category &&
			last.Edge.MaxSpeed == step.Edge.MaxSpeed
		if sameRoad && last.ToJunction == step.FromJunction {
			last.Edge.Length += step.Edge.Length
			last.Edge.Cost += step.Edge.Cost
			last.ToJunction = step.ToJunction
			continue
		}
		merged = append(merged, step)
	}
	return merged
}
