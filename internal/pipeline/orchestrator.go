package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-cluster/internal/cluster"
	"github.com/kozaktomas/face-cluster/internal/constants"
)

// Options configures a pipeline run.
type Options struct {
	BatchSize   int
	Concurrency int
	// ReclaimEvery is the number of batches between reclamation passes.
	// Zero means constants.DefaultReclaimEvery.
	ReclaimEvery int
	Extract      ExtractOptions
	// OnProgress receives the cumulative number of processed inputs after every batch.
	OnProgress func(done, total int)
	Logger     zerolog.Logger
}

func (o *Options) validate() error {
	if o.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be >= 1, got %d", cluster.ErrInvalidParameter, o.BatchSize)
	}
	if o.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be >= 1, got %d", cluster.ErrInvalidParameter, o.Concurrency)
	}
	if o.ReclaimEvery < 0 {
		return fmt.Errorf("%w: reclaim interval must be >= 0, got %d", cluster.ErrInvalidParameter, o.ReclaimEvery)
	}
	return nil
}

// Result is what extraction produced.
type Result struct {
	Detections []cluster.Detection
	Cancelled  bool
	Processed  int // inputs attempted, including failures
	Failed     int
}

// itemResult is written by exactly one extraction task.
type itemResult struct {
	faces []Face
	err   error
}

// Run extracts faces from inputs in consecutive batches.
//
// Within a batch at most opts.Concurrency extractions run at once and the
// batch is joined before the next one starts. ctx is checked before every
// batch; once it is done no new batch starts and the detections gathered so
// far are returned with Cancelled set. Extractions already in flight are
// allowed to finish. A failing item contributes no detections and never
// aborts the run.
func Run(ctx context.Context, extractor Extractor, inputs []ImageRef, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	reclaimEvery := opts.ReclaimEvery
	if reclaimEvery == 0 {
		reclaimEvery = constants.DefaultReclaimEvery
	}
	log := opts.Logger

	total := len(inputs)
	result := &Result{Detections: []cluster.Detection{}}
	// In-flight extraction is drained, not interrupted.
	workCtx := context.WithoutCancel(ctx)

	batch := 0
	for start := 0; start < total; start += opts.BatchSize {
		if ctx.Err() != nil {
			log.Info().Int("processed", result.Processed).Int("total", total).Msg("Extraction cancelled")
			result.Cancelled = true
			break
		}

		end := min(start+opts.BatchSize, total)
		items := make([]itemResult, end-start)

		var g errgroup.Group
		g.SetLimit(opts.Concurrency)
		for i := start; i < end; i++ {
			g.Go(func() error {
				items[i-start] = extractOne(workCtx, extractor, inputs[i], opts.Extract)
				return nil
			})
		}
		_ = g.Wait()

		for k, item := range items {
			idx := start + k
			result.Processed++
			if item.err != nil {
				result.Failed++
				log.Warn().Err(item.err).Str("source", inputs[idx].Name).Int("index", idx).Msg("Face extraction failed")
				continue
			}
			for _, f := range item.faces {
				result.Detections = append(result.Detections, cluster.Detection{
					Embedding:   cluster.Vector(f.Embedding),
					Confidence:  f.Confidence,
					SourceIndex: idx,
					Source:      inputs[idx].Name,
					Region:      f.Region,
				})
			}
		}

		batch++
		log.Debug().Int("batch", batch).Int("processed", result.Processed).Int("total", total).
			Int("faces", len(result.Detections)).Msg("Batch completed")
		if opts.OnProgress != nil {
			opts.OnProgress(result.Processed, total)
		}
		if batch%reclaimEvery == 0 {
			if r, ok := extractor.(Reclaimer); ok {
				r.Reclaim()
			}
		}
	}

	sort.SliceStable(result.Detections, func(i, j int) bool {
		return result.Detections[i].SourceIndex < result.Detections[j].SourceIndex
	})
	return result, nil
}

// extractOne runs the extractor for one input and turns a panic into an error.
func extractOne(ctx context.Context, extractor Extractor, ref ImageRef, opts ExtractOptions) (res itemResult) {
	defer func() {
		if p := recover(); p != nil {
			res = itemResult{err: fmt.Errorf("extractor panic: %v", p)}
		}
	}()

	faces, err := extractor.Extract(ctx, ref, opts)
	if err != nil {
		return itemResult{err: err}
	}
	return itemResult{faces: faces}
}

// Report is the outcome of extraction followed by clustering.
type Report struct {
	Result    *cluster.Result
	Cancelled bool
	Processed int
	Failed    int
	Total     int
}

// Cluster extracts faces from inputs and clusters them.
//
// Clustering parameters are validated before any extraction starts. After a
// cancellation the partial detections are still clustered.
func Cluster(ctx context.Context, extractor Extractor, inputs []ImageRef, opts Options,
	params cluster.Params, naming cluster.Naming,
) (*Report, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	extracted, err := Run(ctx, extractor, inputs, opts)
	if err != nil {
		return nil, err
	}

	result, err := cluster.Run(extracted.Detections, params, naming)
	if err != nil {
		return nil, fmt.Errorf("failed to cluster faces: %w", err)
	}
	opts.Logger.Info().Int("faces", len(extracted.Detections)).Int("clusters", len(result.Clusters)).
		Int("noise", result.NoiseCount).Bool("cancelled", extracted.Cancelled).Msg("Clustering finished")

	return &Report{
		Result:    result,
		Cancelled: extracted.Cancelled,
		Processed: extracted.Processed,
		Failed:    extracted.Failed,
		Total:     len(inputs),
	}, nil
}
