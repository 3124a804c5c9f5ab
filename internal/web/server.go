// Package web serves the clustering job API.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/face-cluster/internal/config"
	"github.com/kozaktomas/face-cluster/internal/pipeline"
	"github.com/kozaktomas/face-cluster/internal/web/handlers"
	"github.com/kozaktomas/face-cluster/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     *config.Config
	extractor  pipeline.Extractor
	router     *chi.Mux
	httpServer *http.Server
	jobManager *handlers.JobManager
	log        zerolog.Logger
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, extractor pipeline.Extractor, port int, host string, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:     cfg,
		extractor:  extractor,
		router:     r,
		jobManager: handlers.NewJobManager(),
		log:        log,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", host, port),
		Handler:     r,
		ReadTimeout: 5 * time.Minute, // large multipart uploads
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: SSE streams last as long as the job.
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("Starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and cancels running jobs
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down web server")

	for _, job := range s.jobManager.ListJobs() {
		job.Cancel()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
