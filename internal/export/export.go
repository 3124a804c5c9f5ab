// Package export writes clustering results to disk: a JSON report and one
// directory of source images per cluster.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kozaktomas/face-cluster/internal/cluster"
	"github.com/kozaktomas/face-cluster/internal/pipeline"
)

// ReportFile is the name of the JSON report inside an export directory.
const ReportFile = "report.json"

// Document is the serialized form of a clustering run.
type Document struct {
	GeneratedAt      time.Time                 `json:"generated_at"`
	Params           cluster.Params            `json:"params"`
	Total            int                       `json:"total_images"`
	Processed        int                       `json:"processed_images"`
	Failed           int                       `json:"failed_images"`
	Cancelled        bool                      `json:"cancelled"`
	Faces            int                       `json:"faces"`
	Result           *cluster.Result           `json:"result"`
	MergeSuggestions []cluster.MergeSuggestion `json:"merge_suggestions,omitempty"`
	// Directories maps cluster IDs to their export directory, relative to the export root.
	Directories map[string]string `json:"directories,omitempty"`
}

// NewDocument builds the document for a finished run.
func NewDocument(report *pipeline.Report, params cluster.Params, merges []cluster.MergeSuggestion) *Document {
	return &Document{
		GeneratedAt:      time.Now().UTC(),
		Params:           params,
		Total:            report.Total,
		Processed:        report.Processed,
		Failed:           report.Failed,
		Cancelled:        report.Cancelled,
		Faces:            report.Result.Faces(),
		Result:           report.Result,
		MergeSuggestions: merges,
	}
}

// WriteJSON encodes doc as indented JSON.
func WriteJSON(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// Write exports doc into dir: source images are copied into one directory per
// cluster, then the report is written as dir/report.json. Images that appear
// in several clusters are copied into each of them.
func Write(dir string, doc *Document) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	doc.Directories = make(map[string]string)
	if doc.Result != nil {
		for i := range doc.Result.Clusters {
			c := &doc.Result.Clusters[i]
			name := fmt.Sprintf("%02d-%s", i+1, Slug(c.Name))
			if err := copyMembers(filepath.Join(dir, name), c); err != nil {
				return fmt.Errorf("failed to export cluster %s: %w", c.ID, err)
			}
			doc.Directories[c.ID] = name
		}
	}

	f, err := os.Create(filepath.Join(dir, ReportFile))
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := WriteJSON(f, doc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// copyMembers copies every distinct source image of c into dir. Copies are
// prefixed with the source index so same-named files from different
// directories do not collide.
func copyMembers(dir string, c *cluster.Cluster) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	seen := make(map[int]bool)
	for _, m := range c.Members {
		if seen[m.SourceIndex] || m.Source == "" {
			continue
		}
		seen[m.SourceIndex] = true
		dst := filepath.Join(dir, fmt.Sprintf("%04d-%s", m.SourceIndex, filepath.Base(m.Source)))
		if err := copyFile(m.Source, dst); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
