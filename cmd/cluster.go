package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-cluster/internal/cluster"
	"github.com/kozaktomas/face-cluster/internal/config"
	"github.com/kozaktomas/face-cluster/internal/constants"
	"github.com/kozaktomas/face-cluster/internal/export"
	"github.com/kozaktomas/face-cluster/internal/fingerprint"
	"github.com/kozaktomas/face-cluster/internal/pipeline"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster <path>...",
	Short: "Group faces in images by person",
	Long: `Detect faces in the given images (directories are scanned recursively),
compute their embeddings and group them by person using DBSCAN.

Press Ctrl+C to stop early: images already being processed finish and the
faces found so far are still clustered.

Examples:
  # Cluster all photos in a directory
  face-cluster cluster ~/Pictures/party

  # Stricter grouping, copy images into one directory per person
  face-cluster cluster --epsilon 0.4 --export-dir ./people ~/Pictures/party

  # Machine-readable output with merge hints
  face-cluster cluster --json --suggest-merges photo1.jpg photo2.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCluster,
}

func init() {
	rootCmd.AddCommand(clusterCmd)
	addClusterFlags(clusterCmd)
}

func addClusterFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("epsilon", constants.DefaultEpsilon, "Maximum embedding distance between neighboring faces")
	cmd.Flags().Int("min-points", constants.DefaultMinPoints, "Faces (self included) needed to start a cluster")
	cmd.Flags().Int("batch-size", constants.DefaultBatchSize, "Images per batch")
	cmd.Flags().Int("concurrency", constants.WorkerPoolSize, "Parallel extraction calls per batch")
	cmd.Flags().Float64("min-confidence", constants.DefaultDetectionConfidence, "Minimum face detection score")
	cmd.Flags().Int("max-faces", constants.DefaultMaxFacesPerImage, "Maximum faces per image (0 = no limit)")
	cmd.Flags().String("export-dir", "", "Copy images into one directory per cluster and write report.json there")
	cmd.Flags().Bool("suggest-merges", false, "Report clusters whose centroids are close enough to be the same person")
	cmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

// applyClusterFlags overrides configuration values with explicitly set flags.
func applyClusterFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("epsilon") {
		cfg.Clustering.Epsilon = mustGetFloat64(cmd, "epsilon")
	}
	if cmd.Flags().Changed("min-points") {
		cfg.Clustering.MinPoints = mustGetInt(cmd, "min-points")
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.Batch.Size = mustGetInt(cmd, "batch-size")
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Batch.Concurrency = mustGetInt(cmd, "concurrency")
	}
	if cmd.Flags().Changed("min-confidence") {
		cfg.Detection.MinConfidence = mustGetFloat64(cmd, "min-confidence")
	}
	if cmd.Flags().Changed("max-faces") {
		cfg.Detection.MaxFacesPerImage = mustGetInt(cmd, "max-faces")
	}
}

func runCluster(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	exportDir := mustGetString(cmd, "export-dir")
	suggestMerges := mustGetBool(cmd, "suggest-merges")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyClusterFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := newLogger(cfg.Log.Level)

	inputs, err := pipeline.CollectImages(args)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return errors.New("no images found")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	extractor := fingerprint.NewFaceExtractor(
		fingerprint.NewEmbeddingClient(cfg.Embedding.URL),
		cfg.Embedding.Dim, cfg.Detection.MaxImageDimension, log,
	)

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		fmt.Printf("Found %d images\n", len(inputs))
		bar = progressbar.NewOptions(len(inputs),
			progressbar.OptionSetDescription("Extracting faces"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	start := time.Now()
	params := cfg.Clustering.Params
	report, err := pipeline.Cluster(ctx, extractor, inputs, pipeline.Options{
		BatchSize:    cfg.Batch.Size,
		Concurrency:  cfg.Batch.Concurrency,
		ReclaimEvery: cfg.Batch.ReclaimEvery,
		Extract: pipeline.ExtractOptions{
			MinConfidence: cfg.Detection.MinConfidence,
			MaxResults:    cfg.Detection.MaxFacesPerImage,
		},
		OnProgress: func(done, total int) {
			if bar != nil {
				_ = bar.Set(done)
			}
		},
		Logger: log,
	}, params, cfg.Clustering.Naming)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return err
	}

	var merges []cluster.MergeSuggestion
	if suggestMerges {
		merges = cluster.SuggestMerges(report.Result, constants.DefaultMergeNeighbors,
			params.Epsilon*constants.MergeDistanceFactor)
	}
	doc := export.NewDocument(report, params, merges)

	if exportDir != "" {
		if err := export.Write(exportDir, doc); err != nil {
			return err
		}
	}

	if jsonOutput {
		return outputJSON(doc)
	}
	printSummary(doc, time.Since(start), exportDir)
	return nil
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

// printSummary prints the human-readable result.
func printSummary(doc *export.Document, duration time.Duration, exportDir string) {
	if doc.Cancelled {
		fmt.Printf("Cancelled after %d of %d images, clustering partial results\n", doc.Processed, doc.Total)
	}
	fmt.Println("Clustering complete!")
	fmt.Printf("  Images:   %d\n", doc.Processed)
	if doc.Failed > 0 {
		fmt.Printf("  Failed:   %d\n", doc.Failed)
	}
	fmt.Printf("  Faces:    %d\n", doc.Faces)
	fmt.Printf("  Duration: %s\n", formatDuration(duration))

	if doc.Result.EmptyInput {
		fmt.Println("\nNo faces found.")
		return
	}

	fmt.Println()
	names := make(map[string]string, len(doc.Result.Clusters))
	for _, c := range doc.Result.Clusters {
		names[c.ID] = c.Name
		fmt.Printf("%s (%d faces, avg confidence %.2f)\n", c.Name, c.Size(), c.AvgConfidence)
		fmt.Printf("  %s\n", strings.Join(memberSources(c), ", "))
	}

	if len(doc.MergeSuggestions) > 0 {
		fmt.Println("\nPossibly the same person:")
		for _, m := range doc.MergeSuggestions {
			fmt.Printf("  %s + %s (distance %.3f)\n", names[m.A], names[m.B], m.Distance)
		}
	}
	if exportDir != "" {
		fmt.Printf("\nExported to %s\n", exportDir)
	}
}

// memberSources returns the distinct image names of a cluster in member order.
func memberSources(c cluster.Cluster) []string {
	seen := make(map[int]bool)
	var sources []string
	for _, m := range c.Members {
		if seen[m.SourceIndex] {
			continue
		}
		seen[m.SourceIndex] = true
		sources = append(sources, filepath.Base(m.Source))
	}
	return sources
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
