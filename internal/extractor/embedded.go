package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/tiff"
)

func init() {
	api.DisableConfigDir()
}

// EmbeddedExtractor pulls the images embedded in the pages of a PDF with
// pdfcpu. An image object referenced from several pages is returned once, at
// its first page. Images in formats Go cannot decode (JPEG 2000, for one) are
// skipped.
type EmbeddedExtractor struct {
	opts Options
	log  *logrus.Logger
}

// NewEmbeddedExtractor returns an EmbeddedExtractor.
func NewEmbeddedExtractor(opts Options, log *logrus.Logger) *EmbeddedExtractor {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &EmbeddedExtractor{opts: opts, log: log}
}

// Mode implements ImageSource.
func (x *EmbeddedExtractor) Mode() Mode {
	return ModeEmbedded
}

type embeddedImage struct {
	page  int
	objNr int
	img   image.Image
}

// Extract implements ImageSource.
func (x *EmbeddedExtractor) Extract(ctx context.Context, pdf []byte) ([]image.Image, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.ValidateLinks = false
	conf.Offline = true
	conf.Cmd = model.EXTRACTIMAGES

	var selected []string
	if x.opts.MaxPages > 0 {
		selected = []string{fmt.Sprintf("1-%d", x.opts.MaxPages)}
	}

	var found []embeddedImage
	seen := make(map[int]bool)
	digest := func(img model.Image, _ bool, _ int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if img.ObjNr > 0 {
			if seen[img.ObjNr] {
				return nil
			}
			seen[img.ObjNr] = true
		}
		decoded, format, err := image.Decode(img)
		if err != nil {
			x.log.WithFields(logrus.Fields{
				"page":      img.PageNr,
				"object":    img.ObjNr,
				"file_type": img.FileType,
			}).Warnf("Skipping undecodable image: %v", err)
			return nil
		}
		x.log.WithFields(logrus.Fields{
			"page":   img.PageNr,
			"object": img.ObjNr,
			"format": format,
		}).Debug("Extracted embedded image")
		found = append(found, embeddedImage{page: img.PageNr, objNr: img.ObjNr, img: decoded})
		return nil
	}

	if err := api.ExtractImages(bytes.NewReader(pdf), selected, digest, conf); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].page != found[j].page {
			return found[i].page < found[j].page
		}
		return found[i].objNr < found[j].objNr
	})

	images := make([]image.Image, len(found))
	for i, f := range found {
		images[i] = Normalize(f.img, x.opts.MaxDimension)
	}

	x.log.WithField("images", len(images)).Info("Extracted embedded images")
	return images, nil
}
