package packager

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"pdf-compressor-go/internal/compressor"
)

// ErrUnknownFormat is returned for an unsupported archive format.
var ErrUnknownFormat = errors.New("unknown packaging format")

// Format names a delivered archive type.
type Format string

const (
	FormatZip Format = "zip"
	FormatPDF Format = "pdf"
)

// Entry is one compressed image in an archive.
type Entry struct {
	Name string
	Data []byte
}

// Packager writes compressed images into a single deliverable.
type Packager interface {
	Package(w io.Writer, entries []Entry) error
	ContentType() string
	Extension() string
}

// EntryName returns the archive name of the i-th (0-indexed) image.
func EntryName(i int) string {
	return fmt.Sprintf("image_%d.jpg", i+1)
}

// Entries turns batch results into archive entries, keeping their order.
func Entries(results []compressor.Result) []Entry {
	entries := make([]Entry, len(results))
	for i, r := range results {
		entries[i] = Entry{Name: EntryName(i), Data: r.Data}
	}
	return entries
}

// New returns the Packager for format. zipMethod is ignored for PDF output.
func New(format string, zipMethod string) (Packager, error) {
	switch Format(strings.ToLower(format)) {
	case FormatZip:
		m, err := ParseMethod(zipMethod)
		if err != nil {
			return nil, err
		}
		return &ZipPackager{Method: m}, nil
	case FormatPDF:
		return &PDFPackager{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}
