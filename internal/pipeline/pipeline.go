package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"pdf-compressor-go/internal/compressor"
	"pdf-compressor-go/internal/config"
	"pdf-compressor-go/internal/extractor"
	"pdf-compressor-go/internal/logger"
	"pdf-compressor-go/internal/packager"
	"pdf-compressor-go/internal/statistics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event types passed to an EventHook.
const (
	EventJobStarted      = "job_started"
	EventImageCompressed = "image_compressed"
	EventJobCompleted    = "job_completed"
	EventJobError        = "job_error"
)

// EventHook receives job progress, e.g. to forward it to websocket clients.
type EventHook func(eventType string, data map[string]interface{})

// ReferenceSizer reports the MaxQuality encode size of every image.
type ReferenceSizer interface {
	ReferenceSizes(ctx context.Context, images []image.Image) ([]int64, error)
}

// Pipeline turns an uploaded PDF into a set of compressed JPEGs.
type Pipeline struct {
	config     *config.Config
	logger     *logrus.Logger
	stats      *statistics.Statistics
	source     extractor.ImageSource
	compressor compressor.Compressor

	eventHook EventHook
}

// Job is one processed document.
type Job struct {
	ID          string
	InputSize   int64
	StartedAt   time.Time
	CompletedAt time.Time

	ExtractDuration  time.Duration
	CompressDuration time.Duration

	Results []compressor.Result
	Entries []packager.Entry
}

// TotalSize returns the combined size of the compressed images.
func (j *Job) TotalSize() int64 {
	return compressor.TotalSize(j.Results)
}

// Duration returns the wall-clock time of the job.
func (j *Job) Duration() time.Duration {
	return j.CompletedAt.Sub(j.StartedAt)
}

// Inspection describes how a document would be budgeted without compressing it.
type Inspection struct {
	Images         int
	ReferenceSizes []int64
	Targets        []int64
	ReferenceTotal int64
	CombinedTarget int64
	// Proportional is set when the references exceed the combined target
	// and the targets are proportional shares.
	Proportional bool
}

// NewPipeline returns a new Pipeline.
func NewPipeline(
	cfg *config.Config,
	log *logrus.Logger,
	stats *statistics.Statistics,
	source extractor.ImageSource,
	comp compressor.Compressor,
) *Pipeline {
	return NewPipelineWithEventHook(cfg, log, stats, source, comp, nil)
}

// NewPipelineWithEventHook returns a Pipeline that reports progress to hook.
func NewPipelineWithEventHook(
	cfg *config.Config,
	log *logrus.Logger,
	stats *statistics.Statistics,
	source extractor.ImageSource,
	comp compressor.Compressor,
	hook EventHook,
) *Pipeline {
	if log == nil {
		log = logger.Discard()
	}
	if stats == nil {
		stats = statistics.NewStatistics()
	}
	return &Pipeline{
		config:     cfg,
		logger:     log,
		stats:      stats,
		source:     source,
		compressor: comp,
		eventHook:  hook,
	}
}

// Statistics returns the running statistics of the pipeline.
func (p *Pipeline) Statistics() *statistics.Statistics {
	return p.stats
}

// Batch builds the compression request for images from the configuration.
func (p *Pipeline) Batch(images []image.Image) compressor.BatchRequest {
	c := p.config.Compression
	params := c.QualityParams()

	reqs := make([]compressor.Request, len(images))
	for i, img := range images {
		reqs[i] = compressor.Request{
			Image:      img,
			TargetSize: c.TargetSize,
			Params:     params,
		}
	}
	return compressor.BatchRequest{
		Requests:           reqs,
		CombinedTargetSize: c.CombinedTargetSize,
		MaxItemSize:        c.MaxItemSize,
	}
}

// Run validates, extracts and compresses pdf.
func (p *Pipeline) Run(ctx context.Context, pdf []byte) (*Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		InputSize: int64(len(pdf)),
		StartedAt: time.Now(),
	}
	log := logger.WithJob(p.logger, job.ID)

	p.stats.IncrementJobsStarted()
	p.stats.AddBytesReceived(job.InputSize)
	p.emit(EventJobStarted, map[string]interface{}{
		"job_id":     job.ID,
		"input_size": job.InputSize,
	})
	log.WithField("input_size", job.InputSize).Info("Processing document")

	images, err := p.extract(ctx, pdf)
	job.ExtractDuration = time.Since(job.StartedAt)
	if err != nil {
		return nil, p.fail(job, "extract", err)
	}
	p.stats.AddImagesFound(len(images))
	log.WithFields(logrus.Fields{
		"images":   len(images),
		"duration": job.ExtractDuration,
	}).Info("Images extracted")

	compressStart := time.Now()
	results, err := p.compressor.CompressBatch(ctx, p.Batch(images))
	job.CompressDuration = time.Since(compressStart)
	if err != nil {
		return nil, p.fail(job, "compress", err)
	}

	for i, res := range results {
		p.stats.RecordImage(statistics.ImageOutcome{
			ReferenceSize: res.ReferenceSize,
			Size:          res.Size,
			Quality:       res.Quality,
			Skipped:       res.Skipped,
			OverTarget:    res.OverTarget(),
			Encodes:       res.Encodes,
		})
		if res.OverTarget() {
			logger.WithImage(p.logger, job.ID, i+1).WithFields(logrus.Fields{
				"size":        res.Size,
				"target_size": res.TargetSize,
			}).Warn("Image exceeds its target at the quality floor")
		}
		p.emit(EventImageCompressed, map[string]interface{}{
			"job_id":      job.ID,
			"image":       i + 1,
			"total":       len(results),
			"size":        res.Size,
			"quality":     res.Quality,
			"target_size": res.TargetSize,
			"converged":   res.Converged,
		})
	}

	job.Results = results
	job.Entries = packager.Entries(results)
	job.CompletedAt = time.Now()
	p.stats.IncrementJobsCompleted()

	log.WithFields(logrus.Fields{
		"images":     len(results),
		"total_size": job.TotalSize(),
		"duration":   job.Duration(),
	}).Info("Document compressed")
	p.emit(EventJobCompleted, map[string]interface{}{
		"job_id":      job.ID,
		"images":      len(results),
		"total_size":  job.TotalSize(),
		"duration_ms": job.Duration().Milliseconds(),
	})
	return job, nil
}

// Inspect reports reference sizes and targets for pdf without compressing it.
func (p *Pipeline) Inspect(ctx context.Context, pdf []byte) (*Inspection, error) {
	sizer, ok := p.compressor.(ReferenceSizer)
	if !ok {
		return nil, errors.New("compressor does not report reference sizes")
	}

	images, err := p.extract(ctx, pdf)
	if err != nil {
		return nil, err
	}

	refs, err := sizer.ReferenceSizes(ctx, images)
	if err != nil {
		return nil, fmt.Errorf("reference sizes: %w", err)
	}

	batch := p.Batch(images)
	insp := &Inspection{
		Images:         len(images),
		ReferenceSizes: refs,
		Targets:        compressor.Targets(batch, refs),
		CombinedTarget: batch.CombinedTargetSize,
	}
	for _, r := range refs {
		insp.ReferenceTotal += r
	}
	insp.Proportional = insp.ReferenceTotal > insp.CombinedTarget
	return insp, nil
}

func (p *Pipeline) extract(ctx context.Context, pdf []byte) ([]image.Image, error) {
	if err := extractor.ValidatePDF(pdf); err != nil {
		return nil, err
	}
	images, err := p.source.Extract(ctx, pdf)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, extractor.ErrNoImages
	}
	return images, nil
}

func (p *Pipeline) fail(job *Job, operation string, err error) error {
	p.stats.IncrementJobsFailed()
	p.stats.AddError(job.ID, operation, err.Error())
	logger.WithJob(p.logger, job.ID).WithField("operation", operation).Errorf("Job failed: %v", err)
	p.emit(EventJobError, map[string]interface{}{
		"job_id":    job.ID,
		"operation": operation,
		"error":     err.Error(),
	})
	return fmt.Errorf("%s: %w", operation, err)
}

func (p *Pipeline) emit(eventType string, data map[string]interface{}) {
	if p.eventHook != nil {
		p.eventHook(eventType, data)
	}
}
