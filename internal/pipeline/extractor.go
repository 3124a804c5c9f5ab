// Package pipeline runs face extraction over a batch of images and feeds the
// detections to the clustering engine.
package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ImageRef is one input image. Load is called once, from an extraction worker.
type ImageRef struct {
	Name string
	Load func(ctx context.Context) ([]byte, error)
}

// FileRef returns an ImageRef that reads path from disk.
func FileRef(path string) ImageRef {
	return ImageRef{
		Name: path,
		Load: func(ctx context.Context) ([]byte, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			return data, nil
		},
	}
}

// BytesRef returns an ImageRef over an in-memory image.
func BytesRef(name string, data []byte) ImageRef {
	return ImageRef{
		Name: name,
		Load: func(ctx context.Context) ([]byte, error) {
			return data, nil
		},
	}
}

// ExtractOptions are the extractor's own admission controls. The orchestrator
// passes them through unchanged.
type ExtractOptions struct {
	MinConfidence float64 `json:"min_confidence"`
	MaxResults    int     `json:"max_results"` // 0 = unlimited
}

// Face is one detection as reported by an Extractor.
type Face struct {
	Embedding  []float32
	Confidence float64
	Region     []float64 // [x1, y1, x2, y2]
}

// Extractor detects faces in one image and returns their embeddings.
type Extractor interface {
	Extract(ctx context.Context, ref ImageRef, opts ExtractOptions) ([]Face, error)
}

// Reclaimer is implemented by extractors that hold transient buffers which
// can be released between batches.
type Reclaimer interface {
	Reclaim()
}

// imageExtensions lists the file types CollectImages picks up.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

// IsImageFile reports whether the file name has a supported image extension.
func IsImageFile(name string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(name)))
}

// CollectImages expands paths into image refs. Directories are walked
// recursively in lexical order; files are taken as given.
func CollectImages(paths []string) ([]ImageRef, error) {
	var refs []ImageRef
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if !info.IsDir() {
			refs = append(refs, FileRef(p))
			continue
		}

		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if IsImageFile(d.Name()) {
				refs = append(refs, FileRef(path))
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
	}
	return refs, nil
}
