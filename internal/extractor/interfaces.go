package extractor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNotPDF is returned when the payload is not a PDF document.
	ErrNotPDF = errors.New("not a PDF document")
	// ErrInvalidPDF is returned when a PDF cannot be opened or parsed.
	ErrInvalidPDF = errors.New("invalid PDF document")
	// ErrNoImages is returned when a PDF yields no images.
	ErrNoImages = errors.New("no images found in PDF")
)

// ImageSource decodes a PDF into an ordered sequence of opaque raster images.
type ImageSource interface {
	Extract(ctx context.Context, pdf []byte) ([]image.Image, error)
	Mode() Mode
}

// Mode selects how images are obtained from a PDF.
type Mode string

const (
	// ModeRender rasterizes every page.
	ModeRender Mode = "render"
	// ModeEmbedded extracts the raw images embedded in the pages.
	ModeEmbedded Mode = "embedded"
)

// String returns the string representation of the Mode.
func (m Mode) String() string {
	return string(m)
}

// ParseMode parses a case-insensitive mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeRender:
		return ModeRender, nil
	case ModeEmbedded:
		return ModeEmbedded, nil
	default:
		return "", fmt.Errorf("unknown extraction mode %q", s)
	}
}

// Options configures an ImageSource.
type Options struct {
	DPI          float64 // render mode only
	MaxDimension int     // longest side after normalization, 0 keeps the source size
	MaxPages     int     // 0 means every page
}

// New returns the ImageSource for mode.
func New(mode Mode, opts Options, log *logrus.Logger) (ImageSource, error) {
	switch mode {
	case ModeRender:
		return NewPageRenderer(opts, log), nil
	case ModeEmbedded:
		return NewEmbeddedExtractor(opts, log), nil
	default:
		return nil, fmt.Errorf("unknown extraction mode %q", mode)
	}
}

// ValidatePDF checks the payload by content sniffing rather than by name.
func ValidatePDF(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrNotPDF)
	}
	if ct := http.DetectContentType(data); ct != "application/pdf" {
		return fmt.Errorf("%w: detected %s", ErrNotPDF, ct)
	}
	return nil
}
