package cluster

import (
	"sort"

	"github.com/coder/hnsw"
)

// hnswMaxNeighbors is the M parameter of the centroid graph.
const hnswMaxNeighbors = 16

// MergeSuggestion pairs two clusters whose centroids are close enough that
// they may be the same person split by density.
type MergeSuggestion struct {
	A        string  `json:"a"`
	B        string  `json:"b"`
	Distance float64 `json:"distance"`
}

// SuggestMerges looks up, for every real cluster, its k nearest cluster
// centroids and reports pairs within maxDistance. The noise cluster never
// takes part. Suggestions are ordered by ascending distance.
func SuggestMerges(result *Result, k int, maxDistance float64) []MergeSuggestion {
	if result == nil || k < 1 || maxDistance <= 0 {
		return nil
	}

	var ids []string
	var centroids []Vector
	for i := range result.Clusters {
		c := &result.Clusters[i]
		if c.Noise || len(c.Members) == 0 {
			continue
		}
		vectors := make([]Vector, len(c.Members))
		for j := range c.Members {
			vectors[j] = c.Members[j].Embedding
		}
		ids = append(ids, c.ID)
		centroids = append(centroids, Centroid(vectors))
	}
	if len(centroids) < 2 {
		return nil
	}

	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance
	for i, c := range centroids {
		g.Add(hnsw.MakeNode(i, []float32(c)))
	}

	seen := make(map[[2]int]struct{})
	var out []MergeSuggestion
	for i, c := range centroids {
		// One extra result because the query centroid finds itself.
		for _, n := range g.Search([]float32(c), k+1) {
			j := n.Key
			if j == i {
				continue
			}
			pair := [2]int{min(i, j), max(i, j)}
			if _, ok := seen[pair]; ok {
				continue
			}
			d := Distance(c, centroids[j])
			if d > maxDistance {
				continue
			}
			seen[pair] = struct{}{}
			out = append(out, MergeSuggestion{A: ids[pair[0]], B: ids[pair[1]], Distance: d})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Distance < out[j].Distance
	})
	return out
}
