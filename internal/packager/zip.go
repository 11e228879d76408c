package packager

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Method is a ZIP entry compression method.
type Method string

const (
	MethodStore   Method = "store"
	MethodDeflate Method = "deflate"
	MethodZstd    Method = "zstd"
)

// zipMethodZstd is the ZIP method ID for Zstandard (APPNOTE 6.3.7).
const zipMethodZstd uint16 = 93

func init() {
	zip.RegisterCompressor(zipMethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	zip.RegisterDecompressor(zipMethodZstd, zstd.ZipDecompressor())
}

// ParseMethod parses a method name. An empty name means deflate.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MethodDeflate, nil
	case MethodStore, MethodDeflate, MethodZstd:
		return m, nil
	default:
		return "", fmt.Errorf("unknown zip method %q", s)
	}
}

func (m Method) id() uint16 {
	switch m {
	case MethodStore:
		return zip.Store
	case MethodZstd:
		return zipMethodZstd
	default:
		return zip.Deflate
	}
}

// ZipPackager writes entries into a ZIP archive.
type ZipPackager struct {
	Method Method
}

// ContentType implements Packager.
func (p *ZipPackager) ContentType() string { return "application/zip" }

// Extension implements Packager.
func (p *ZipPackager) Extension() string { return "zip" }

// Package implements Packager.
func (p *ZipPackager) Package(w io.Writer, entries []Entry) error {
	zipWriter := zip.NewWriter(w)
	now := time.Now()

	for _, e := range entries {
		header := &zip.FileHeader{
			Name:   e.Name,
			Method: p.Method.id(),
		}
		header.SetModTime(now)

		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("create ZIP entry for %s: %w", e.Name, err)
		}
		if _, err := writer.Write(e.Data); err != nil {
			return fmt.Errorf("write to ZIP for %s: %w", e.Name, err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("close ZIP writer: %w", err)
	}
	return nil
}
