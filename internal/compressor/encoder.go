package compressor

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Encoder turns an image into bytes at a given quality (1-100).
type Encoder interface {
	Encode(img image.Image, quality int) ([]byte, error)
}

// JPEGEncoder encodes images as baseline JPEG.
type JPEGEncoder struct {
	// BufferHint pre-sizes the output buffer.
	BufferHint int
}

// NewJPEGEncoder returns a JPEGEncoder with a 256 KiB buffer hint.
func NewJPEGEncoder() *JPEGEncoder {
	return &JPEGEncoder{BufferHint: 256 * 1024}
}

// Encode implements Encoder.
func (e *JPEGEncoder) Encode(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > MaxQuality {
		return nil, fmt.Errorf("%w: quality %d", ErrInvalidParams, quality)
	}

	var buf bytes.Buffer
	if e.BufferHint > 0 {
		buf.Grow(e.BufferHint)
	}
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg at quality %d: %w", quality, err)
	}
	return buf.Bytes(), nil
}
