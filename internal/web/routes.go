package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-cluster/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	clusterHandler := handlers.NewClusterHandler(s.config, s.extractor, s.jobManager, s.log)
	configHandler := handlers.NewConfigHandler(s.config)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)
		r.Get("/config", configHandler.Get)

		// Clustering jobs (long-running operations)
		r.Post("/jobs", clusterHandler.Start)
		r.Get("/jobs", clusterHandler.List)
		r.Get("/jobs/{jobId}", clusterHandler.Status)
		r.Get("/jobs/{jobId}/events", clusterHandler.Events)
		r.Delete("/jobs/{jobId}", clusterHandler.Cancel)
	})
}
