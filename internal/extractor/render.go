package extractor

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/gen2brain/go-fitz"
	"github.com/sirupsen/logrus"
)

// PageRenderer rasterizes every page of a PDF with MuPDF.
type PageRenderer struct {
	opts Options
	log  *logrus.Logger
}

// NewPageRenderer returns a PageRenderer. A DPI of zero means 72.
func NewPageRenderer(opts Options, log *logrus.Logger) *PageRenderer {
	if opts.DPI <= 0 {
		opts.DPI = 72
	}
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &PageRenderer{opts: opts, log: log}
}

// Mode implements ImageSource.
func (r *PageRenderer) Mode() Mode {
	return ModeRender
}

// Extract implements ImageSource.
func (r *PageRenderer) Extract(ctx context.Context, pdf []byte) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if r.opts.MaxPages > 0 && pages > r.opts.MaxPages {
		r.log.WithFields(logrus.Fields{
			"pages":     pages,
			"max_pages": r.opts.MaxPages,
		}).Warn("Document exceeds page limit, rendering first pages only")
		pages = r.opts.MaxPages
	}

	images := make([]image.Image, 0, pages)
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, r.opts.DPI)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i+1, err)
		}
		images = append(images, Normalize(img, r.opts.MaxDimension))
	}

	r.log.WithFields(logrus.Fields{
		"images": len(images),
		"dpi":    r.opts.DPI,
	}).Info("Rendered PDF pages")
	return images, nil
}
