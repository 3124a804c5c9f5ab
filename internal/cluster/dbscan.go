package cluster

import (
	"fmt"
	"math"
)

// Label is the cluster assignment of one point: a cluster id >= 0 or Noise.
type Label int

// Noise marks a point that is not density-reachable from any core point.
const Noise Label = -1

// unassigned is internal only; every returned label is either Noise or >= 0.
const unassigned Label = -2

// Assigned returns the label for cluster id.
func Assigned(id int) Label {
	return Label(id)
}

// IsNoise reports whether the label is Noise.
func (l Label) IsNoise() bool {
	return l == Noise
}

// ID returns the cluster id and false for Noise.
func (l Label) ID() (int, bool) {
	if l < 0 {
		return 0, false
	}
	return int(l), true
}

func (l Label) String() string {
	if l == Noise {
		return "noise"
	}
	return fmt.Sprintf("cluster(%d)", int(l))
}

// Params configures DBSCAN.
type Params struct {
	// Epsilon is the maximum distance for two points to be neighbors.
	Epsilon float64 `json:"epsilon" yaml:"epsilon"`
	// MinPoints is the neighborhood size (self included) that makes a core point.
	MinPoints int `json:"min_points" yaml:"min_points"`
}

// Validate checks that Epsilon is finite and > 0 and MinPoints >= 1.
func (p Params) Validate() error {
	if math.IsNaN(p.Epsilon) || math.IsInf(p.Epsilon, 0) || p.Epsilon <= 0 {
		return fmt.Errorf("%w: epsilon must be finite and > 0, got %v", ErrInvalidParameter, p.Epsilon)
	}
	if p.MinPoints < 1 {
		return fmt.Errorf("%w: min points must be >= 1, got %d", ErrInvalidParameter, p.MinPoints)
	}
	return nil
}

// DBSCAN labels every point as a member of a cluster or as Noise.
//
// Points are visited in input order and cluster ids are allocated in discovery
// order starting at 0. Neighborhoods are computed by exhaustive comparison and
// expanded in ascending index order, so the result depends only on the order
// of points.
func DBSCAN(points []Vector, params Params) ([]Label, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	labels := make([]Label, len(points))
	for i := range labels {
		labels[i] = unassigned
	}
	visited := make([]bool, len(points))
	nextID := 0

	for i := range points {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := regionQuery(points, i, params.Epsilon)
		if len(neighbors) < params.MinPoints {
			labels[i] = Noise
			continue
		}

		id := Assigned(nextID)
		nextID++

		// Every point is queued at most once: it is labeled when queued.
		queue := make([]int, 0, len(neighbors))
		for _, n := range neighbors {
			switch labels[n] {
			case unassigned:
				labels[n] = id
				queue = append(queue, n)
			case Noise:
				labels[n] = id
			}
		}

		for k := 0; k < len(queue); k++ {
			q := queue[k]
			if visited[q] {
				continue
			}
			visited[q] = true

			expansion := regionQuery(points, q, params.Epsilon)
			if len(expansion) < params.MinPoints {
				continue
			}
			for _, n := range expansion {
				switch labels[n] {
				case unassigned:
					labels[n] = id
					queue = append(queue, n)
				case Noise:
					// Border point: joins the cluster but is not expanded from.
					labels[n] = id
				}
			}
		}
	}

	return labels, nil
}

// regionQuery returns the indices within epsilon of points[i], self included, ascending.
func regionQuery(points []Vector, i int, epsilon float64) []int {
	var out []int
	for j := range points {
		if Distance(points[i], points[j]) <= epsilon {
			out = append(out, j)
		}
	}
	return out
}
