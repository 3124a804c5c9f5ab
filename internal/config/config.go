package config

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/face-cluster/internal/cluster"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// OverlayEnv names the environment variable pointing at an optional YAML file
// that is merged over the embedded defaults.
const OverlayEnv = "FACE_CLUSTER_CONFIG"

type Config struct {
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Batch      BatchConfig      `yaml:"batch"`
	Detection  DetectionConfig  `yaml:"detection"`
	Web        WebConfig        `yaml:"web"`
	Log        LogConfig        `yaml:"log"`
}

type EmbeddingConfig struct {
	URL string `yaml:"url"` // face embedding server, e.g. http://localhost:8000
	Dim int    `yaml:"dim"` // expected embedding length
}

type ClusteringConfig struct {
	cluster.Params `yaml:",inline"`
	cluster.Naming `yaml:",inline"`
}

type BatchConfig struct {
	Size         int `yaml:"size"`
	Concurrency  int `yaml:"concurrency"`
	ReclaimEvery int `yaml:"reclaim_every"`
}

type DetectionConfig struct {
	MinConfidence     float64 `yaml:"min_confidence"`
	MaxFacesPerImage  int     `yaml:"max_faces_per_image"` // 0 = unlimited
	MaxImageDimension int     `yaml:"max_image_dimension"`
}

type WebConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envNonNegInt is envInt for settings where zero is meaningful.
func envNonNegInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a finite, non-negative float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated environment variable, dropping empty items.
func envList(key string, defaultVal []string) []string {
	env := os.Getenv(key)
	if env == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(env, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Load builds the configuration from the embedded defaults, the overlay file
// named by FACE_CLUSTER_CONFIG (if set) and environment variables, in that order.
func Load() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	if path := os.Getenv(OverlayEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config overlay: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config overlay %s: %w", path, err)
		}
	}

	cfg.Embedding.URL = envString("EMBEDDING_URL", cfg.Embedding.URL)
	cfg.Embedding.Dim = envInt("EMBEDDING_DIM", cfg.Embedding.Dim)
	cfg.Clustering.Epsilon = envFloat("FACE_CLUSTER_EPSILON", cfg.Clustering.Epsilon)
	cfg.Clustering.MinPoints = envInt("FACE_CLUSTER_MIN_POINTS", cfg.Clustering.MinPoints)
	cfg.Batch.Size = envInt("FACE_CLUSTER_BATCH_SIZE", cfg.Batch.Size)
	cfg.Batch.Concurrency = envInt("FACE_CLUSTER_CONCURRENCY", cfg.Batch.Concurrency)
	cfg.Batch.ReclaimEvery = envNonNegInt("FACE_CLUSTER_RECLAIM_EVERY", cfg.Batch.ReclaimEvery)
	cfg.Detection.MinConfidence = envFloat("FACE_CLUSTER_MIN_CONFIDENCE", cfg.Detection.MinConfidence)
	cfg.Detection.MaxFacesPerImage = envNonNegInt("FACE_CLUSTER_MAX_FACES", cfg.Detection.MaxFacesPerImage)
	cfg.Detection.MaxImageDimension = envInt("FACE_CLUSTER_MAX_IMAGE_DIMENSION", cfg.Detection.MaxImageDimension)
	cfg.Web.AllowedOrigins = envList("WEB_ALLOWED_ORIGINS", cfg.Web.AllowedOrigins)
	cfg.Log.Level = envString("FACE_CLUSTER_LOG_LEVEL", cfg.Log.Level)

	return &cfg, nil
}

// Validate checks the values a clustering run depends on.
func (c *Config) Validate() error {
	if err := c.Clustering.Params.Validate(); err != nil {
		return err
	}
	if c.Embedding.Dim < 1 {
		return fmt.Errorf("%w: embedding dim must be >= 1, got %d", cluster.ErrInvalidParameter, c.Embedding.Dim)
	}
	if c.Batch.Size < 1 {
		return fmt.Errorf("%w: batch size must be >= 1, got %d", cluster.ErrInvalidParameter, c.Batch.Size)
	}
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be >= 1, got %d", cluster.ErrInvalidParameter, c.Batch.Concurrency)
	}
	if c.Batch.ReclaimEvery < 0 {
		return fmt.Errorf("%w: reclaim interval must be >= 0, got %d", cluster.ErrInvalidParameter, c.Batch.ReclaimEvery)
	}
	if !(c.Detection.MinConfidence >= 0 && c.Detection.MinConfidence <= 1) {
		return fmt.Errorf("%w: min confidence must be within [0, 1], got %g",
			cluster.ErrInvalidParameter, c.Detection.MinConfidence)
	}
	if c.Detection.MaxFacesPerImage < 0 {
		return fmt.Errorf("%w: max faces per image must be >= 0, got %d",
			cluster.ErrInvalidParameter, c.Detection.MaxFacesPerImage)
	}
	if c.Detection.MaxImageDimension < 1 {
		return fmt.Errorf("%w: max image dimension must be >= 1, got %d",
			cluster.ErrInvalidParameter, c.Detection.MaxImageDimension)
	}
	return nil
}
