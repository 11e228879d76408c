package extractor

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Normalize prepares an image for the compression engine: it is downscaled to
// fit maxDimension (when positive) and any transparency is flattened onto a
// white background. Opaque images are returned without copying.
func Normalize(img image.Image, maxDimension int) image.Image {
	b := img.Bounds()
	if maxDimension > 0 && (b.Dx() > maxDimension || b.Dy() > maxDimension) {
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
		b = img.Bounds()
	}

	if isOpaque(img) {
		return img
	}

	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}
