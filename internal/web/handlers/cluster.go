package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/face-cluster/internal/cluster"
	"github.com/kozaktomas/face-cluster/internal/config"
	"github.com/kozaktomas/face-cluster/internal/constants"
	"github.com/kozaktomas/face-cluster/internal/export"
	"github.com/kozaktomas/face-cluster/internal/pipeline"
)

// ClusterHandler handles clustering job endpoints
type ClusterHandler struct {
	config     *config.Config
	extractor  pipeline.Extractor
	jobManager *JobManager
	log        zerolog.Logger
}

// NewClusterHandler creates a new cluster handler
func NewClusterHandler(cfg *config.Config, extractor pipeline.Extractor, jm *JobManager, log zerolog.Logger) *ClusterHandler {
	return &ClusterHandler{
		config:     cfg,
		extractor:  extractor,
		jobManager: jm,
		log:        log,
	}
}

// defaultJobOptions returns the job options implied by the configuration.
func defaultJobOptions(cfg *config.Config) ClusterJobOptions {
	return ClusterJobOptions{
		Epsilon:       cfg.Clustering.Epsilon,
		MinPoints:     cfg.Clustering.MinPoints,
		BatchSize:     cfg.Batch.Size,
		Concurrency:   cfg.Batch.Concurrency,
		MinConfidence: cfg.Detection.MinConfidence,
		MaxFaces:      cfg.Detection.MaxFacesPerImage,
	}
}

// parseJobOptions overlays form values on the configured defaults.
func parseJobOptions(r *http.Request, defaults ClusterJobOptions) (ClusterJobOptions, error) {
	opts := defaults
	floats := []struct {
		key string
		dst *float64
	}{
		{"epsilon", &opts.Epsilon},
		{"min_confidence", &opts.MinConfidence},
	}
	for _, f := range floats {
		if v := r.FormValue(f.key); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
				return opts, fmt.Errorf("invalid %s: %q", f.key, v)
			}
			*f.dst = parsed
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"min_points", &opts.MinPoints},
		{"batch_size", &opts.BatchSize},
		{"concurrency", &opts.Concurrency},
		{"max_faces", &opts.MaxFaces},
	}
	for _, i := range ints {
		if v := r.FormValue(i.key); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return opts, fmt.Errorf("invalid %s: %q", i.key, v)
			}
			*i.dst = parsed
		}
	}

	if err := (cluster.Params{Epsilon: opts.Epsilon, MinPoints: opts.MinPoints}).Validate(); err != nil {
		return opts, err
	}
	switch {
	case opts.BatchSize < 1:
		return opts, errors.New("batch_size must be >= 1")
	case opts.Concurrency < 1:
		return opts, errors.New("concurrency must be >= 1")
	case !(opts.MinConfidence >= 0 && opts.MinConfidence <= 1):
		return opts, errors.New("min_confidence must be within [0, 1]")
	case opts.MaxFaces < 0:
		return opts, errors.New("max_faces must be >= 0")
	}
	return opts, nil
}

// saveUploadedFiles saves multipart files to a temporary directory and returns their paths.
// Files are prefixed with their upload position so equal names do not collide.
func saveUploadedFiles(files []*multipart.FileHeader, tempDir string) ([]string, error) {
	var filePaths []string
	for i, fileHeader := range files {
		if err := func() error {
			file, err := fileHeader.Open()
			if err != nil {
				return fmt.Errorf("failed to open file: %s", fileHeader.Filename)
			}
			defer file.Close()

			safeName := fmt.Sprintf("%04d-%s", i, filepath.Base(fileHeader.Filename))
			tempPath := filepath.Join(tempDir, safeName)
			out, err := os.Create(tempPath) //nolint:gosec // filename sanitized via filepath.Base
			if err != nil {
				return errors.New("failed to create temp file")
			}

			if _, err := io.Copy(out, file); err != nil {
				out.Close()
				return errors.New("failed to save file")
			}
			out.Close()

			filePaths = append(filePaths, tempPath)
			return nil
		}(); err != nil {
			return nil, err
		}
	}
	return filePaths, nil
}

// Start uploads images and starts a new clustering job
func (h *ClusterHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no files provided")
		return
	}

	options, err := parseJobOptions(r, defaultJobOptions(h.config))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tempDir, err := os.MkdirTemp("", "face-cluster-upload-*")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create temp directory")
		return
	}

	filePaths, err := saveUploadedFiles(files, tempDir)
	if err != nil {
		os.RemoveAll(tempDir)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	inputs := make([]pipeline.ImageRef, len(filePaths))
	for i, path := range filePaths {
		inputs[i] = pipeline.FileRef(path)
		// Report the uploaded name rather than the temp path.
		inputs[i].Name = filepath.Base(files[i].Filename)
	}

	// The job outlives the request.
	ctx, cancel := context.WithCancel(context.Background())
	jobID := uuid.New().String()
	job := h.jobManager.CreateJob(jobID, len(inputs), options, cancel)

	h.log.Info().Str("job", jobID).Int("images", len(inputs)).
		Str("first", sanitizeForLog(inputs[0].Name)).Msg("Clustering job accepted")

	go h.runClusterJob(ctx, job, inputs, tempDir)

	respondJSON(w, http.StatusAccepted, map[string]any{
		"job_id":       jobID,
		"status":       string(JobStatusPending),
		"total_images": len(inputs),
	})
}

// List returns all known jobs
func (h *ClusterHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobManager.ListJobs()
	views := make([]JobView, len(jobs))
	for i, job := range jobs {
		views[i] = job.View()
		// Keep the listing light.
		views[i].Result = nil
	}
	respondJSON(w, http.StatusOK, views)
}

// Status returns the status of a clustering job
func (h *ClusterHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, job.View())
}

// Events streams job events via SSE
func (h *ClusterHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobManager.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			return job.(*ClusterJob).View()
		},
	)
}

// Cancel cancels a clustering job
func (h *ClusterHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// runClusterJob runs the clustering job in the background
func (h *ClusterHandler) runClusterJob(ctx context.Context, job *ClusterJob, inputs []pipeline.ImageRef, tempDir string) {
	defer job.cancel()
	defer os.RemoveAll(tempDir)

	job.mu.Lock()
	if job.Status == JobStatusPending {
		job.Status = JobStatusRunning
	}
	options := job.Options
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "started", Message: "Clustering job started",
		Data: map[string]int{"total_images": len(inputs)}})

	params := cluster.Params{Epsilon: options.Epsilon, MinPoints: options.MinPoints}
	report, err := pipeline.Cluster(ctx, h.extractor, inputs, pipeline.Options{
		BatchSize:    options.BatchSize,
		Concurrency:  options.Concurrency,
		ReclaimEvery: h.config.Batch.ReclaimEvery,
		Extract: pipeline.ExtractOptions{
			MinConfidence: options.MinConfidence,
			MaxResults:    options.MaxFaces,
		},
		OnProgress: func(done, total int) {
			job.mu.Lock()
			job.ProcessedImages = done
			job.Progress = int(float64(done) / float64(total) * 100)
			job.mu.Unlock()
			job.SendEvent(JobEvent{
				Type: "progress",
				Data: map[string]int{
					"processed_images": done,
					"total_images":     total,
				},
			})
		},
		Logger: h.log.With().Str("job", job.ID).Logger(),
	}, params, h.config.Clustering.Naming)
	if err != nil {
		h.failJob(job, fmt.Sprintf("clustering failed: %v", err))
		return
	}

	merges := cluster.SuggestMerges(report.Result, constants.DefaultMergeNeighbors,
		params.Epsilon*constants.MergeDistanceFactor)
	doc := export.NewDocument(report, params, merges)

	now := time.Now()
	job.mu.Lock()
	cancelled := report.Cancelled || job.cancelRequested
	if cancelled {
		job.Status = JobStatusCancelled
	} else {
		job.Status = JobStatusCompleted
		job.Progress = 100
	}
	job.CompletedAt = &now
	job.ProcessedImages = report.Processed
	job.FailedImages = report.Failed
	job.Result = doc
	job.mu.Unlock()

	h.log.Info().Str("job", job.ID).Int("clusters", len(report.Result.Clusters)).
		Int("failed", report.Failed).Bool("cancelled", cancelled).Msg("Clustering job finished")
	if cancelled {
		job.SendEvent(JobEvent{Type: "cancelled", Message: "Job was cancelled", Data: doc})
		return
	}
	job.SendEvent(JobEvent{Type: "completed", Data: doc})
}

func (h *ClusterHandler) failJob(job *ClusterJob, message string) {
	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = message
	job.CompletedAt = &now
	job.mu.Unlock()
	h.log.Error().Str("job", job.ID).Msg(message)
	job.SendEvent(JobEvent{Type: "failed", Message: message})
}
