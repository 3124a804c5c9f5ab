package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/face-cluster/internal/cluster"
)

// clearEnv makes sure values from the developer's shell do not leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		OverlayEnv, "EMBEDDING_URL", "EMBEDDING_DIM",
		"FACE_CLUSTER_EPSILON", "FACE_CLUSTER_MIN_POINTS",
		"FACE_CLUSTER_BATCH_SIZE", "FACE_CLUSTER_CONCURRENCY", "FACE_CLUSTER_RECLAIM_EVERY",
		"FACE_CLUSTER_MIN_CONFIDENCE", "FACE_CLUSTER_MAX_FACES", "FACE_CLUSTER_MAX_IMAGE_DIMENSION",
		"FACE_CLUSTER_LOG_LEVEL", "WEB_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func mustLoad(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := mustLoad(t)

	if cfg.Embedding.URL != "http://localhost:8000" {
		t.Errorf("expected default embedding URL, got '%s'", cfg.Embedding.URL)
	}
	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected default embedding dim 512, got %d", cfg.Embedding.Dim)
	}
	if cfg.Clustering.Epsilon != 0.5 {
		t.Errorf("expected default epsilon 0.5, got %f", cfg.Clustering.Epsilon)
	}
	if cfg.Clustering.MinPoints != 2 {
		t.Errorf("expected default min points 2, got %d", cfg.Clustering.MinPoints)
	}
	if cfg.Clustering.PersonLabel != "Person %d" {
		t.Errorf("expected default person label, got '%s'", cfg.Clustering.PersonLabel)
	}
	if cfg.Clustering.NoiseLabel != "Unidentified" {
		t.Errorf("expected default noise label, got '%s'", cfg.Clustering.NoiseLabel)
	}
	if cfg.Batch.Size != 4 || cfg.Batch.Concurrency != 4 || cfg.Batch.ReclaimEvery != 2 {
		t.Errorf("unexpected batch defaults: %+v", cfg.Batch)
	}
	if cfg.Detection.MinConfidence != 0.5 {
		t.Errorf("expected default min confidence 0.5, got %f", cfg.Detection.MinConfidence)
	}
	if cfg.Detection.MaxFacesPerImage != 10 {
		t.Errorf("expected default max faces 10, got %d", cfg.Detection.MaxFacesPerImage)
	}
	if cfg.Detection.MaxImageDimension != 1024 {
		t.Errorf("expected default max image dimension 1024, got %d", cfg.Detection.MaxImageDimension)
	}
	if len(cfg.Web.AllowedOrigins) != 0 {
		t.Errorf("expected no allowed origins, got %v", cfg.Web.AllowedOrigins)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level 'info', got '%s'", cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to be valid, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMBEDDING_URL", "http://embed.test:9000")
	t.Setenv("EMBEDDING_DIM", "768")
	t.Setenv("FACE_CLUSTER_EPSILON", "0.42")
	t.Setenv("FACE_CLUSTER_MIN_POINTS", "3")
	t.Setenv("FACE_CLUSTER_BATCH_SIZE", "8")
	t.Setenv("FACE_CLUSTER_CONCURRENCY", "2")
	t.Setenv("FACE_CLUSTER_RECLAIM_EVERY", "5")
	t.Setenv("FACE_CLUSTER_MIN_CONFIDENCE", "0.75")
	t.Setenv("FACE_CLUSTER_MAX_FACES", "3")
	t.Setenv("FACE_CLUSTER_MAX_IMAGE_DIMENSION", "640")
	t.Setenv("FACE_CLUSTER_LOG_LEVEL", "debug")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")

	cfg := mustLoad(t)

	if cfg.Embedding.URL != "http://embed.test:9000" {
		t.Errorf("expected embedding URL override, got '%s'", cfg.Embedding.URL)
	}
	if cfg.Embedding.Dim != 768 {
		t.Errorf("expected embedding dim 768, got %d", cfg.Embedding.Dim)
	}
	if cfg.Clustering.Epsilon != 0.42 {
		t.Errorf("expected epsilon 0.42, got %f", cfg.Clustering.Epsilon)
	}
	if cfg.Clustering.MinPoints != 3 {
		t.Errorf("expected min points 3, got %d", cfg.Clustering.MinPoints)
	}
	if cfg.Batch.Size != 8 || cfg.Batch.Concurrency != 2 || cfg.Batch.ReclaimEvery != 5 {
		t.Errorf("unexpected batch config: %+v", cfg.Batch)
	}
	if cfg.Detection.MinConfidence != 0.75 {
		t.Errorf("expected min confidence 0.75, got %f", cfg.Detection.MinConfidence)
	}
	if cfg.Detection.MaxFacesPerImage != 3 {
		t.Errorf("expected max faces 3, got %d", cfg.Detection.MaxFacesPerImage)
	}
	if cfg.Detection.MaxImageDimension != 640 {
		t.Errorf("expected max image dimension 640, got %d", cfg.Detection.MaxImageDimension)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level 'debug', got '%s'", cfg.Log.Level)
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("unexpected allowed origins: %v", cfg.Web.AllowedOrigins)
	}
}

func TestLoad_EnvZeroValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("FACE_CLUSTER_MAX_FACES", "0")
	t.Setenv("FACE_CLUSTER_RECLAIM_EVERY", "0")
	t.Setenv("FACE_CLUSTER_BATCH_SIZE", "0")

	cfg := mustLoad(t)

	if cfg.Detection.MaxFacesPerImage != 0 {
		t.Errorf("expected unlimited max faces, got %d", cfg.Detection.MaxFacesPerImage)
	}
	if cfg.Batch.ReclaimEvery != 0 {
		t.Errorf("expected reclaim interval 0, got %d", cfg.Batch.ReclaimEvery)
	}
	// Zero is not a valid batch size, so the default stays.
	if cfg.Batch.Size != 4 {
		t.Errorf("expected default batch size, got %d", cfg.Batch.Size)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected zero values to be valid, got %v", err)
	}
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"EMBEDDING_DIM", "invalid"},
		{"EMBEDDING_DIM", "-100"},
		{"EMBEDDING_DIM", "0"},
		{"FACE_CLUSTER_EPSILON", "abc"},
		{"FACE_CLUSTER_EPSILON", "-0.3"},
		{"FACE_CLUSTER_EPSILON", "NaN"},
		{"FACE_CLUSTER_BATCH_SIZE", "1.5"},
		{"FACE_CLUSTER_MAX_FACES", "-2"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg := mustLoad(t)

			if cfg.Embedding.Dim != 512 {
				t.Errorf("expected default embedding dim, got %d", cfg.Embedding.Dim)
			}
			if cfg.Clustering.Epsilon != 0.5 {
				t.Errorf("expected default epsilon, got %f", cfg.Clustering.Epsilon)
			}
			if cfg.Batch.Size != 4 {
				t.Errorf("expected default batch size, got %d", cfg.Batch.Size)
			}
			if cfg.Detection.MaxFacesPerImage != 10 {
				t.Errorf("expected default max faces, got %d", cfg.Detection.MaxFacesPerImage)
			}
		})
	}
}

func TestLoad_Overlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "face-cluster.yaml")
	overlay := []byte(`
clustering:
  epsilon: 0.35
  person_label: "Osoba %d"
batch:
  concurrency: 1
`)
	if err := os.WriteFile(path, overlay, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(OverlayEnv, path)
	t.Setenv("FACE_CLUSTER_CONCURRENCY", "6")

	cfg := mustLoad(t)

	if cfg.Clustering.Epsilon != 0.35 {
		t.Errorf("expected overlay epsilon 0.35, got %f", cfg.Clustering.Epsilon)
	}
	if cfg.Clustering.PersonLabel != "Osoba %d" {
		t.Errorf("expected overlay person label, got '%s'", cfg.Clustering.PersonLabel)
	}
	// Keys absent from the overlay keep their defaults.
	if cfg.Clustering.MinPoints != 2 {
		t.Errorf("expected default min points, got %d", cfg.Clustering.MinPoints)
	}
	if cfg.Clustering.NoiseLabel != "Unidentified" {
		t.Errorf("expected default noise label, got '%s'", cfg.Clustering.NoiseLabel)
	}
	// Environment wins over the overlay.
	if cfg.Batch.Concurrency != 6 {
		t.Errorf("expected env concurrency 6, got %d", cfg.Batch.Concurrency)
	}
}

func TestLoad_OverlayErrors(t *testing.T) {
	clearEnv(t)

	t.Setenv(OverlayEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for missing overlay file")
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("batch: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(OverlayEnv, path)
	if _, err := Load(); err == nil {
		t.Error("expected error for malformed overlay file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero epsilon", func(c *Config) { c.Clustering.Epsilon = 0 }},
		{"zero min points", func(c *Config) { c.Clustering.MinPoints = 0 }},
		{"zero embedding dim", func(c *Config) { c.Embedding.Dim = 0 }},
		{"zero batch size", func(c *Config) { c.Batch.Size = 0 }},
		{"zero concurrency", func(c *Config) { c.Batch.Concurrency = 0 }},
		{"negative reclaim interval", func(c *Config) { c.Batch.ReclaimEvery = -1 }},
		{"min confidence above one", func(c *Config) { c.Detection.MinConfidence = 1.5 }},
		{"nan min confidence", func(c *Config) { c.Detection.MinConfidence = math.NaN() }},
		{"infinite epsilon", func(c *Config) { c.Clustering.Epsilon = math.Inf(1) }},
		{"negative max faces", func(c *Config) { c.Detection.MaxFacesPerImage = -1 }},
		{"zero image dimension", func(c *Config) { c.Detection.MaxImageDimension = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg := mustLoad(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if !errors.Is(err, cluster.ErrInvalidParameter) {
				t.Errorf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}
