package cluster

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Detection is one face found in one input image.
// SourceIndex is the position of the originating image in the input sequence
// and is kept for traceability only.
type Detection struct {
	Embedding   Vector    `json:"-"`
	Confidence  float64   `json:"confidence"`
	SourceIndex int       `json:"source_index"`
	Source      string    `json:"source,omitempty"`
	Region      []float64 `json:"region,omitempty"` // [x1, y1, x2, y2], relative
}

// Cluster is one group of detections, presumably one person.
type Cluster struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Label         Label       `json:"label"`
	Noise         bool        `json:"noise"`
	Members       []Detection `json:"members"`
	AvgConfidence float64     `json:"avg_confidence"`
}

// Size returns the number of member detections.
func (c *Cluster) Size() int {
	return len(c.Members)
}

// Result is the ranked output of one clustering run.
type Result struct {
	Clusters []Cluster `json:"clusters"`
	// EmptyInput is set when there was nothing to cluster, as opposed to
	// clustering that produced no groups.
	EmptyInput bool `json:"empty_input"`
	NoiseCount int  `json:"noise_count"`
}

// Faces returns the total number of detections across all clusters.
func (r *Result) Faces() int {
	n := 0
	for i := range r.Clusters {
		n += len(r.Clusters[i].Members)
	}
	return n
}

// Naming controls how clusters are named.
type Naming struct {
	// PersonLabel names real clusters. The first "%d" is replaced by the
	// 1-based cluster number, e.g. "Person %d"; without one the number is appended.
	PersonLabel string `json:"person_label" yaml:"person_label"`
	// NoiseLabel names the group of unclustered faces.
	NoiseLabel string `json:"noise_label" yaml:"noise_label"`
}

// DefaultNaming is used when a Naming field is empty.
var DefaultNaming = Naming{
	PersonLabel: "Person %d",
	NoiseLabel:  "Unidentified",
}

func (n Naming) withDefaults() Naming {
	if n.PersonLabel == "" {
		n.PersonLabel = DefaultNaming.PersonLabel
	}
	if n.NoiseLabel == "" {
		n.NoiseLabel = DefaultNaming.NoiseLabel
	}
	return n
}

// Assemble groups detections by label into ranked clusters.
//
// Groups start in first-seen order of their ids, followed by the noise group,
// and are then stably sorted by member count and average confidence, both
// descending. The noise group is sorted like any other group.
func Assemble(points []Detection, labels []Label, naming Naming) (*Result, error) {
	if len(points) != len(labels) {
		return nil, fmt.Errorf("%w: %d detections but %d labels", ErrInvalidInput, len(points), len(labels))
	}
	if len(points) == 0 {
		return &Result{EmptyInput: true}, nil
	}
	naming = naming.withDefaults()

	var order []Label
	groups := make(map[Label][]Detection)
	var noise []Detection

	for i, label := range labels {
		member := points[i]
		member.Embedding = slices.Clone(member.Embedding)
		member.Region = slices.Clone(member.Region)

		if label.IsNoise() {
			noise = append(noise, member)
			continue
		}
		if _, ok := label.ID(); !ok {
			return nil, fmt.Errorf("%w: unexpected label %d at index %d", ErrInvalidInput, int(label), i)
		}
		if _, seen := groups[label]; !seen {
			order = append(order, label)
		}
		groups[label] = append(groups[label], member)
	}

	result := &Result{
		Clusters:   make([]Cluster, 0, len(order)+1),
		NoiseCount: len(noise),
	}
	for _, label := range order {
		members := groups[label]
		id, _ := label.ID()
		result.Clusters = append(result.Clusters, Cluster{
			ID:            fmt.Sprintf("person-%d", id+1),
			Name:          fmt.Sprintf("%s (%d faces)", naming.personName(id+1), len(members)),
			Label:         label,
			Members:       members,
			AvgConfidence: avgConfidence(members),
		})
	}
	if len(noise) > 0 {
		result.Clusters = append(result.Clusters, Cluster{
			ID:            "noise",
			Name:          fmt.Sprintf("%s (%d faces)", naming.NoiseLabel, len(noise)),
			Label:         Noise,
			Noise:         true,
			Members:       noise,
			AvgConfidence: avgConfidence(noise),
		})
	}

	sort.SliceStable(result.Clusters, func(i, j int) bool {
		a, b := &result.Clusters[i], &result.Clusters[j]
		if len(a.Members) != len(b.Members) {
			return len(a.Members) > len(b.Members)
		}
		return a.AvgConfidence > b.AvgConfidence
	})

	return result, nil
}

// Run clusters detections with DBSCAN and assembles the ranked result.
// The detection order is the order DBSCAN visits points in.
func Run(detections []Detection, params Params, naming Naming) (*Result, error) {
	points := make([]Vector, len(detections))
	for i := range detections {
		points[i] = detections[i].Embedding
	}

	labels, err := DBSCAN(points, params)
	if err != nil {
		return nil, err
	}
	return Assemble(detections, labels, naming)
}

func (n Naming) personName(number int) string {
	if strings.Contains(n.PersonLabel, "%d") {
		return strings.Replace(n.PersonLabel, "%d", strconv.Itoa(number), 1)
	}
	return fmt.Sprintf("%s %d", n.PersonLabel, number)
}

func avgConfidence(members []Detection) float64 {
	if len(members) == 0 {
		return 0
	}
	var sum float64
	for _, m := range members {
		sum += m.Confidence
	}
	return sum / float64(len(members))
}
