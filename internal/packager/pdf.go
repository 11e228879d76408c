package packager

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"io"

	"github.com/jung-kurt/gofpdf"
)

// PDFPackager writes every entry onto its own page of a new PDF. Pages are
// sized to the image at 72 DPI and the JPEG stream is embedded unchanged.
type PDFPackager struct{}

// ContentType implements Packager.
func (p *PDFPackager) ContentType() string { return "application/pdf" }

// Extension implements Packager.
func (p *PDFPackager) Extension() string { return "pdf" }

// Package implements Packager.
func (p *PDFPackager) Package(w io.Writer, entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("no images to package")
	}

	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)

	opts := gofpdf.ImageOptions{ImageType: "JPG"}
	for _, e := range entries {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(e.Data))
		if err != nil {
			return fmt.Errorf("read %s: %w", e.Name, err)
		}
		wd, ht := float64(cfg.Width), float64(cfg.Height)

		pdf.RegisterImageOptionsReader(e.Name, opts, bytes.NewReader(e.Data))
		pdf.AddPageFormat("P", gofpdf.SizeType{Wd: wd, Ht: ht})
		pdf.ImageOptions(e.Name, 0, 0, wd, ht, false, opts, 0, "")

		if err := pdf.Error(); err != nil {
			return fmt.Errorf("add %s: %w", e.Name, err)
		}
	}

	return pdf.Output(w)
}
