package fingerprint

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/face-cluster/internal/constants"
	"github.com/kozaktomas/face-cluster/internal/facematch"
	"github.com/kozaktomas/face-cluster/internal/imaging"
	"github.com/kozaktomas/face-cluster/internal/pipeline"
)

// FaceExtractor implements pipeline.Extractor on top of the embedding server.
type FaceExtractor struct {
	client       *EmbeddingClient
	dim          int
	maxImageSize int
	log          zerolog.Logger
}

// NewFaceExtractor creates an extractor expecting embeddings of length dim.
// Images are scaled to at most maxImageSize pixels per side before upload.
func NewFaceExtractor(client *EmbeddingClient, dim, maxImageSize int, log zerolog.Logger) *FaceExtractor {
	if maxImageSize < 1 {
		maxImageSize = constants.MaxImageSize
	}
	return &FaceExtractor{
		client:       client,
		dim:          dim,
		maxImageSize: maxImageSize,
		log:          log,
	}
}

// Extract loads the image, prepares it and returns the admitted faces.
func (e *FaceExtractor) Extract(ctx context.Context, ref pipeline.ImageRef, opts pipeline.ExtractOptions) ([]pipeline.Face, error) {
	data, err := ref.Load(ctx)
	if err != nil {
		return nil, err
	}

	prepared, err := imaging.Prepare(data, e.maxImageSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref.Name, err)
	}

	resp, err := e.client.ComputeFaceEmbeddings(ctx, prepared.Data, FaceQuery{
		MinConfidence: opts.MinConfidence,
		MaxFaces:      opts.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref.Name, err)
	}

	faces, err := admit(resp.Faces, prepared.Width, prepared.Height, e.dim, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref.Name, err)
	}
	e.log.Debug().Str("source", ref.Name).Int("detected", len(resp.Faces)).Int("admitted", len(faces)).
		Msg("Faces extracted")
	return faces, nil
}

// Reclaim drops pooled request buffers and returns freed memory to the OS.
func (e *FaceExtractor) Reclaim() {
	released := e.client.Release()
	debug.FreeOSMemory()
	e.log.Debug().Int("buffers", released).Msg("Reclaimed extraction buffers")
}

// admit applies the admission controls to raw server detections: confidence
// floor, embedding length check, overlap suppression and the per-image cap.
// The result is ordered by confidence descending with relative regions.
func admit(detections []FaceDetection, width, height, dim int, opts pipeline.ExtractOptions) ([]pipeline.Face, error) {
	kept := make([]FaceDetection, 0, len(detections))
	for _, d := range detections {
		if dim > 0 && len(d.Embedding) != dim {
			return nil, fmt.Errorf("face %d: embedding length %d, expected %d", d.FaceIndex, len(d.Embedding), dim)
		}
		d.DetScore = min(max(d.DetScore, 0), 1)
		if d.DetScore < opts.MinConfidence {
			continue
		}
		kept = append(kept, d)
	}

	boxes := make([][]float64, len(kept))
	scores := make([]float64, len(kept))
	for i, d := range kept {
		boxes[i] = d.BBox
		scores[i] = d.DetScore
	}
	order := facematch.SuppressOverlaps(boxes, scores, constants.OverlapIoUThreshold)
	if opts.MaxResults > 0 && len(order) > opts.MaxResults {
		order = order[:opts.MaxResults]
	}

	faces := make([]pipeline.Face, len(order))
	for i, idx := range order {
		d := kept[idx]
		faces[i] = pipeline.Face{
			Embedding:  d.Embedding,
			Confidence: d.DetScore,
			Region:     facematch.ConvertPixelBBoxToRelative(d.BBox, width, height),
		}
	}
	return faces, nil
}
