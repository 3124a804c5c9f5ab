// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Clustering constants
const (
	// DefaultEpsilon is the default DBSCAN neighborhood radius (Euclidean distance
	// between face embeddings). Lower values = stricter grouping.
	DefaultEpsilon = 0.5

	// DefaultMinPoints is the default number of faces (self included) that makes a core point
	DefaultMinPoints = 2

	// DefaultMergeNeighbors is the number of nearest cluster centroids checked for merge suggestions
	DefaultMergeNeighbors = 3

	// MergeDistanceFactor scales epsilon into the centroid distance below which
	// two clusters are suggested for merging
	MergeDistanceFactor = 2.0
)

// Processing constants
const (
	// DefaultBatchSize is the number of images extracted before the next batch starts
	DefaultBatchSize = 4

	// WorkerPoolSize is the default number of parallel extraction calls within a batch
	WorkerPoolSize = 4

	// DefaultReclaimEvery is the number of batches between resource reclamation passes
	DefaultReclaimEvery = 2

	// MaxImageSize is the maximum dimension (width or height) for image processing
	MaxImageSize = 1024
)

// Detection constants
const (
	// DefaultDetectionConfidence is the minimum detector score for a face to be kept
	DefaultDetectionConfidence = 0.5

	// DefaultMaxFacesPerImage is the maximum number of faces kept per image
	DefaultMaxFacesPerImage = 10

	// OverlapIoUThreshold is the Intersection over Union above which two detections
	// in the same image are treated as the same face
	OverlapIoUThreshold = 0.5
)
