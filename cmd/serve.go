package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-cluster/internal/config"
	"github.com/kozaktomas/face-cluster/internal/fingerprint"
	"github.com/kozaktomas/face-cluster/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the clustering job API",
	Long: `Start the Face Cluster web server.
Clients upload images, follow progress over server-sent events and
fetch the clusters once the job is done.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := newLogger(cfg.Log.Level)

	extractor := fingerprint.NewFaceExtractor(
		fingerprint.NewEmbeddingClient(cfg.Embedding.URL),
		cfg.Embedding.Dim, cfg.Detection.MaxImageDimension, log,
	)
	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, extractor, port, host, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}
	}()

	fmt.Printf("Starting Face Cluster API on http://%s:%d (embedding server %s)\n", host, port, cfg.Embedding.URL)
	fmt.Println("Press Ctrl+C to stop")

	return server.Start()
}
