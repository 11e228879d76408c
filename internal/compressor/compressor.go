package compressor

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// MaxQuality is the upper bound of the encoder quality scale.
const MaxQuality = 100

// Default encoder parameters and budgets.
const (
	DefaultInitialQuality     = 100
	DefaultProbeQuality       = 99
	DefaultMinQuality         = 30
	DefaultQualityStep        = 1
	DefaultTargetSize         = 250 * 1024
	DefaultCombinedTargetSize = 3072 * 1024
)

// ErrInvalidParams is returned when a request carries parameters the search cannot honor.
var ErrInvalidParams = errors.New("invalid compression parameters")

// QualityParams controls the quality search for a single image.
type QualityParams struct {
	InitialQuality int
	ProbeQuality   int
	MinQuality     int
	QualityStep    int
}

// DefaultQualityParams returns the parameters used when nothing is configured.
func DefaultQualityParams() QualityParams {
	return QualityParams{
		InitialQuality: DefaultInitialQuality,
		ProbeQuality:   DefaultProbeQuality,
		MinQuality:     DefaultMinQuality,
		QualityStep:    DefaultQualityStep,
	}
}

// Validate checks that the qualities are ordered and on the encoder scale.
func (p QualityParams) Validate() error {
	if p.MinQuality < 1 || p.InitialQuality > MaxQuality {
		return fmt.Errorf("%w: qualities must be within 1..%d", ErrInvalidParams, MaxQuality)
	}
	if p.MinQuality > p.InitialQuality {
		return fmt.Errorf("%w: min quality %d above initial quality %d", ErrInvalidParams, p.MinQuality, p.InitialQuality)
	}
	if p.ProbeQuality < p.MinQuality || p.ProbeQuality > p.InitialQuality {
		return fmt.Errorf("%w: probe quality %d outside %d..%d", ErrInvalidParams, p.ProbeQuality, p.MinQuality, p.InitialQuality)
	}
	if p.QualityStep < 1 {
		return fmt.Errorf("%w: quality step must be positive", ErrInvalidParams)
	}
	return nil
}

// Request describes one image and the budget it has to fit.
type Request struct {
	Image      image.Image
	TargetSize int64
	Params     QualityParams
}

// BatchRequest is an ordered set of images sharing one combined budget.
// MaxItemSize, when positive, caps every item regardless of its share.
type BatchRequest struct {
	Requests           []Request
	CombinedTargetSize int64
	MaxItemSize        int64
}

// Result is the outcome of compressing a single image.
type Result struct {
	Data       []byte
	Size       int64
	Quality int
	// TargetSize is the size the result was last searched against. For a
	// batch item refined under MaxItemSize this is the cap, not its Share.
	TargetSize int64
	// Share is the target CompressBatch allocated to the item before any
	// MaxItemSize cap. Zero outside batches.
	Share int64
	// Converged reports whether Size <= TargetSize.
	Converged bool
	// Skipped is set when the initial encode already fit the target.
	Skipped bool
	// Encodes counts the trial encodes spent on this image.
	Encodes int
	// ReferenceSize is the MaxQuality encode size, set by CompressBatch.
	ReferenceSize int64
}

// OverTarget reports whether the result still exceeds its target.
func (r Result) OverTarget() bool {
	return r.Size > r.TargetSize
}

// Compressor re-encodes decoded images so they respect byte budgets.
type Compressor interface {
	// CompressOne searches a quality for a single image.
	CompressOne(ctx context.Context, req Request) (Result, error)
	// CompressBatch splits a combined budget across the requests.
	// Results are returned in request order.
	CompressBatch(ctx context.Context, batch BatchRequest) ([]Result, error)
}
