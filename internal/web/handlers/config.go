package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-cluster/internal/config"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	EmbeddingURL string            `json:"embedding_url"`
	EmbeddingDim int               `json:"embedding_dim"`
	Defaults     ClusterJobOptions `json:"defaults"`
	ReclaimEvery int               `json:"reclaim_every"`
	PersonLabel  string            `json:"person_label"`
	NoiseLabel   string            `json:"noise_label"`
}

// Get returns the effective job defaults
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ConfigResponse{
		EmbeddingURL: h.config.Embedding.URL,
		EmbeddingDim: h.config.Embedding.Dim,
		Defaults:     defaultJobOptions(h.config),
		ReclaimEvery: h.config.Batch.ReclaimEvery,
		PersonLabel:  h.config.Clustering.PersonLabel,
		NoiseLabel:   h.config.Clustering.NoiseLabel,
	})
}
