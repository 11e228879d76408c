package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains running totals for the compression service.
type Statistics struct {
	JobsStarted   int64
	JobsCompleted int64
	JobsFailed    int64

	ImagesFound      int64
	ImagesCompressed int64
	ImagesSkipped    int64
	ImagesOverTarget int64
	EncodeCalls      int64

	BytesReceived   int64
	ReferenceBytes  int64
	CompressedBytes int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	ImagesPerSec   float64
	AverageQuality float64

	qualitySum int64

	Errors []StatError

	mutex sync.RWMutex
}

// StatError represents an error that occurred during processing.
type StatError struct {
	JobID     string
	Operation string
	Error     string
	Timestamp time.Time
}

// ImageOutcome is what the pipeline reports for every compressed image.
type ImageOutcome struct {
	ReferenceSize int64
	Size          int64
	Quality       int
	Skipped       bool
	OverTarget    bool
	Encodes       int
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
		Errors:    make([]StatError, 0),
	}
}

// IncrementJobsStarted increases the count of started jobs by 1.
func (s *Statistics) IncrementJobsStarted() {
	atomic.AddInt64(&s.JobsStarted, 1)
}

// IncrementJobsCompleted increases the count of completed jobs by 1.
func (s *Statistics) IncrementJobsCompleted() {
	atomic.AddInt64(&s.JobsCompleted, 1)
}

// IncrementJobsFailed increases the count of failed jobs by 1.
func (s *Statistics) IncrementJobsFailed() {
	atomic.AddInt64(&s.JobsFailed, 1)
}

// AddImagesFound adds n extracted images.
func (s *Statistics) AddImagesFound(n int) {
	atomic.AddInt64(&s.ImagesFound, int64(n))
}

// AddBytesReceived adds the size of an uploaded document.
func (s *Statistics) AddBytesReceived(bytes int64) {
	atomic.AddInt64(&s.BytesReceived, bytes)
}

// RecordImage records the outcome of one image.
func (s *Statistics) RecordImage(o ImageOutcome) {
	atomic.AddInt64(&s.ImagesCompressed, 1)
	if o.Skipped {
		atomic.AddInt64(&s.ImagesSkipped, 1)
	}
	if o.OverTarget {
		atomic.AddInt64(&s.ImagesOverTarget, 1)
	}
	atomic.AddInt64(&s.EncodeCalls, int64(o.Encodes))
	atomic.AddInt64(&s.ReferenceBytes, o.ReferenceSize)
	atomic.AddInt64(&s.CompressedBytes, o.Size)
	atomic.AddInt64(&s.qualitySum, int64(o.Quality))
}

// Finalize calculates final statistics such as duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	compressed := atomic.LoadInt64(&s.ImagesCompressed)
	if s.Duration.Seconds() > 0 {
		s.ImagesPerSec = float64(compressed) / s.Duration.Seconds()
	}
	if compressed > 0 {
		s.AverageQuality = float64(atomic.LoadInt64(&s.qualitySum)) / float64(compressed)
	}
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(jobID, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		JobID:     jobID,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// SavedPercent returns how much smaller the output is than the references.
func (s *Statistics) SavedPercent() float64 {
	ref := atomic.LoadInt64(&s.ReferenceBytes)
	if ref == 0 {
		return 0
	}
	return float64(ref-atomic.LoadInt64(&s.CompressedBytes)) * 100 / float64(ref)
}

// Snapshot returns the counters as a map suitable for JSON responses.
func (s *Statistics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"jobs": map[string]interface{}{
			"started":   atomic.LoadInt64(&s.JobsStarted),
			"completed": atomic.LoadInt64(&s.JobsCompleted),
			"failed":    atomic.LoadInt64(&s.JobsFailed),
		},
		"images": map[string]interface{}{
			"found":       atomic.LoadInt64(&s.ImagesFound),
			"compressed":  atomic.LoadInt64(&s.ImagesCompressed),
			"skipped":     atomic.LoadInt64(&s.ImagesSkipped),
			"over_target": atomic.LoadInt64(&s.ImagesOverTarget),
		},
		"bytes": map[string]interface{}{
			"received":   atomic.LoadInt64(&s.BytesReceived),
			"reference":  atomic.LoadInt64(&s.ReferenceBytes),
			"compressed": atomic.LoadInt64(&s.CompressedBytes),
		},
		"encode_calls":  atomic.LoadInt64(&s.EncodeCalls),
		"saved_percent": s.SavedPercent(),
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration := s.Duration
	perSec := s.ImagesPerSec
	avgQuality := s.AverageQuality
	s.mutex.RUnlock()

	return fmt.Sprintf(`PDF Compressor Statistics Summary:

Jobs:
		Started: %d
		Completed: %d
		Failed: %d

Images:
		Found: %d
		Compressed: %d
		Skipped (already within target): %d
		Over Target at Quality Floor: %d
		Encode Calls: %d
		Average Quality: %.1f

Bytes:
		Received: %s
		Reference (max quality): %s
		Compressed: %s
		Saved: %.1f%%

Performance:
		Duration: %v
		Images/Second: %.2f`,
		atomic.LoadInt64(&s.JobsStarted),
		atomic.LoadInt64(&s.JobsCompleted),
		atomic.LoadInt64(&s.JobsFailed),
		atomic.LoadInt64(&s.ImagesFound),
		atomic.LoadInt64(&s.ImagesCompressed),
		atomic.LoadInt64(&s.ImagesSkipped),
		atomic.LoadInt64(&s.ImagesOverTarget),
		atomic.LoadInt64(&s.EncodeCalls),
		avgQuality,
		FormatBytes(atomic.LoadInt64(&s.BytesReceived)),
		FormatBytes(atomic.LoadInt64(&s.ReferenceBytes)),
		FormatBytes(atomic.LoadInt64(&s.CompressedBytes)),
		s.SavedPercent(),
		duration,
		perSec)
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.JobID,
			err.Error)
	}
	return result
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
