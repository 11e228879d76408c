package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"pdf-compressor-go/internal/compressor"
	"pdf-compressor-go/internal/config"
	"pdf-compressor-go/internal/extractor"
	"pdf-compressor-go/internal/logger"
	"pdf-compressor-go/internal/packager"
	"pdf-compressor-go/internal/pipeline"
	"pdf-compressor-go/internal/statistics"
	"pdf-compressor-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	quiet   bool

	outputPath   string
	format       string
	zipMethod    string
	mode         string
	dpi          float64
	targetSize   int64
	combinedSize int64
	port         int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "pdf-compressor",
	Short: "Extract images from PDFs and compress them to fit byte budgets",
	Long: `pdf-compressor extracts the images of a PDF (by rendering its pages or by
pulling out the embedded images) and re-encodes them as JPEGs whose quality
is searched so that each image fits a target size and the whole set fits a
combined budget.

Features:
- Linear quality estimate from a probe encode, refined step by step
- Combined budget split proportionally to each image's reference size
- ZIP (store, deflate, zstd) or PDF output
- HTTP service with API key authentication and live websocket progress`,
}

// compressCmd compresses the images of a single PDF file.
var compressCmd = &cobra.Command{
	Use:   "compress <file.pdf>",
	Short: "Compress the images of a PDF into an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args[0])
	},
}

// inspectCmd shows the reference sizes and budget split without compressing.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file.pdf>",
	Short: "Show reference sizes and per-image targets for a PDF",
	Long: `Extracts the images of a PDF, encodes each once at maximum quality and
prints the target every image would be compressed against.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(cmd, args[0])
	},
}

// serveCmd starts the HTTP service.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the compression HTTP service",
	Long: `Starts the HTTP service:
- POST /compress    multipart "file" upload, Authorization: Bearer <API_KEY>
- GET  /health      liveness probe
- GET  /api/statistics
- GET  /ws          live job progress`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	for _, c := range []*cobra.Command{compressCmd, inspectCmd} {
		c.Flags().StringVar(&mode, "mode", "", "extraction mode: render or embedded")
		c.Flags().Float64Var(&dpi, "dpi", 0, "render resolution")
		c.Flags().Int64Var(&targetSize, "target-size", 0, "per-image target size in bytes")
		c.Flags().Int64Var(&combinedSize, "combined-size", 0, "combined target size in bytes")
	}
	compressCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: <input>_compressed.<ext>)")
	compressCmd.Flags().StringVar(&format, "format", "", "output format: zip or pdf")
	compressCmd.Flags().StringVar(&zipMethod, "zip-method", "", "zip method: store, deflate or zstd")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run the server on (default from config)")

	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Extraction.Mode = mode
	}
	if flags.Changed("dpi") {
		cfg.Extraction.DPI = dpi
	}
	if flags.Changed("target-size") {
		cfg.Compression.TargetSize = targetSize
	}
	if flags.Changed("combined-size") {
		cfg.Compression.CombinedTargetSize = combinedSize
	}
	if flags.Changed("format") {
		cfg.Packaging.Format = format
	}
	if flags.Changed("zip-method") {
		cfg.Packaging.ZipMethod = zipMethod
	}
	if flags.Changed("port") {
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newPipeline wires the image source and the compression engine.
func newPipeline(cfg *config.Config, log *logrus.Logger, stats *statistics.Statistics) (*pipeline.Pipeline, error) {
	source, err := newSource(cfg, log)
	if err != nil {
		return nil, err
	}
	engine := compressor.NewEngine(compressor.NewJPEGEncoder(), log, cfg.Compression.Workers)
	return pipeline.NewPipeline(cfg, log, stats, source, engine), nil
}

func newSource(cfg *config.Config, log *logrus.Logger) (extractor.ImageSource, error) {
	m, err := extractor.ParseMode(cfg.Extraction.Mode)
	if err != nil {
		return nil, err
	}
	return extractor.New(m, extractor.Options{
		DPI:          cfg.Extraction.DPI,
		MaxDimension: cfg.Extraction.MaxDimension,
		MaxPages:     cfg.Extraction.MaxPages,
	}, log)
}

// runCompress compresses one PDF and writes the archive.
func runCompress(cmd *cobra.Command, input string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", input, err)
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	p, err := newPipeline(cfg, log, stats)
	if err != nil {
		return err
	}
	pkg, err := packager.New(cfg.Packaging.Format, cfg.Packaging.ZipMethod)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job, err := p.Run(ctx, data)
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}

	out := outputPath
	if out == "" {
		base := strings.TrimSuffix(input, filepath.Ext(input))
		out = base + "_compressed." + pkg.Extension()
	}
	if dirExists(out) {
		err = writeEntries(out, job.Entries)
	} else {
		err = writeArchive(out, pkg, job.Entries)
	}
	if err != nil {
		return err
	}

	stats.Finalize()
	if !quiet {
		for i, res := range job.Results {
			status := "ok"
			if res.Skipped {
				status = "kept"
			} else if res.OverTarget() {
				status = "over target"
			}
			fmt.Printf("%-14s quality %3d  %10s / %-10s  %s\n",
				packager.EntryName(i), res.Quality,
				statistics.FormatBytes(res.Size), statistics.FormatBytes(res.TargetSize), status)
		}
		fmt.Printf("\nWrote %d images to %s (%s)\n", len(job.Entries), out, statistics.FormatBytes(job.TotalSize()))
		fmt.Println("\n" + stats.GetSummary())
	}
	return nil
}

// writeArchive packages entries into the file at path.
func writeArchive(path string, pkg packager.Packager, entries []packager.Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := pkg.Package(f, entries); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// writeEntries writes every entry as a loose file into dir.
func writeEntries(dir string, entries []packager.Entry) error {
	for _, e := range entries {
		path := filepath.Join(dir, e.Name)
		if err := os.WriteFile(path, e.Data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}

// runInspect prints the budget split for one PDF.
func runInspect(cmd *cobra.Command, input string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", input, err)
	}

	log := setupLogger(cfg)
	p, err := newPipeline(cfg, log, nil)
	if err != nil {
		return err
	}

	insp, err := p.Inspect(context.Background(), data)
	if err != nil {
		return fmt.Errorf("inspect failed: %w", err)
	}

	fmt.Printf("Images: %d\n", insp.Images)
	fmt.Printf("Reference total: %s, combined target: %s\n",
		statistics.FormatBytes(insp.ReferenceTotal), statistics.FormatBytes(insp.CombinedTarget))
	if insp.Proportional {
		fmt.Println("Budget: proportional shares")
	} else {
		fmt.Println("Budget: per-image targets")
	}
	fmt.Println(strings.Repeat("=", 50))
	for i := range insp.ReferenceSizes {
		fmt.Printf("%-14s reference %10s  target %10s\n", packager.EntryName(i),
			statistics.FormatBytes(insp.ReferenceSizes[i]), statistics.FormatBytes(insp.Targets[i]))
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	source, err := newSource(cfg, log)
	if err != nil {
		return err
	}
	engine := compressor.NewEngine(compressor.NewJPEGEncoder(), log, cfg.Compression.Workers)
	server := web.NewServer(cfg, log, statistics.NewStatistics(), source, engine)

	if cfg.Server.APIKey == "" {
		log.Warn("API_KEY is not set, /compress will answer with a configuration error")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-sigChan
	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped gracefully")
	return nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    cfg.Logging.Console && !quiet,
		Output:     os.Stderr,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// dirExists returns true if the given path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
