package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/face-cluster/internal/cluster"
	"github.com/kozaktomas/face-cluster/internal/config"
	"github.com/kozaktomas/face-cluster/internal/pipeline"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Embedding: config.EmbeddingConfig{URL: "http://localhost:8000", Dim: 2},
		Clustering: config.ClusteringConfig{
			Params: cluster.Params{Epsilon: 0.5, MinPoints: 2},
			Naming: cluster.DefaultNaming,
		},
		Batch:     config.BatchConfig{Size: 2, Concurrency: 2, ReclaimEvery: 2},
		Detection: config.DetectionConfig{MinConfidence: 0.5, MaxFacesPerImage: 10, MaxImageDimension: 1024},
	}
}

// stubExtractor maps uploaded file names to one embedding each. When gate is
// set every extraction blocks until it is closed.
type stubExtractor struct {
	embeddings map[string][]float32
	gate       chan struct{}

	mu   sync.Mutex
	opts []pipeline.ExtractOptions
}

func (s *stubExtractor) Extract(ctx context.Context, ref pipeline.ImageRef, opts pipeline.ExtractOptions) ([]pipeline.Face, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.opts = append(s.opts, opts)
	s.mu.Unlock()

	if _, err := ref.Load(ctx); err != nil {
		return nil, err
	}
	emb, ok := s.embeddings[filepath.Base(ref.Name)]
	if !ok {
		return nil, nil
	}
	return []pipeline.Face{{Embedding: emb, Confidence: 0.9, Region: []float64{0, 0, 0.5, 0.5}}}, nil
}

// newTestHandler wires a cluster handler to a stub extractor.
func newTestHandler(extractor pipeline.Extractor) (*ClusterHandler, *JobManager) {
	jm := NewJobManager()
	return NewClusterHandler(testConfig(), extractor, jm, zerolog.Nop()), jm
}

// multipartRequest builds a job upload with one part per file plus form fields.
func multipartRequest(t *testing.T, files []string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, name := range files {
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write([]byte("image-bytes-" + name))
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// waitForStatus polls until the job reaches a terminal status or the deadline passes.
func waitForStatus(t *testing.T, job *ClusterJob) JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status := job.GetStatus()
		if isJobTerminal(status) && job.View().CompletedAt != nil {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish, status %s", job.ID, job.GetStatus())
	return ""
}

// waitForListener blocks until an event stream has subscribed to the job.
func waitForListener(t *testing.T, job *ClusterJob) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job.mu.RLock()
		n := len(job.listeners)
		job.mu.RUnlock()
		if n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no event stream subscribed to job %s", job.ID)
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
