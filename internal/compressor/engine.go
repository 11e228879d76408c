package compressor

import (
	"context"
	"fmt"
	"image"
	"io"
	"runtime"

	"github.com/sirupsen/logrus"
)

// Engine is the default Compressor. It holds no per-request state, so one
// Engine can serve concurrent requests.
type Engine struct {
	encoder Encoder
	log     *logrus.Logger
	workers int
}

var _ Compressor = (*Engine)(nil)

// NewEngine returns an Engine using encoder for every trial encode.
// A nil logger discards output; workers <= 0 means one per CPU.
func NewEngine(encoder Encoder, log *logrus.Logger, workers int) *Engine {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 2)
	}
	return &Engine{
		encoder: encoder,
		log:     log,
		workers: workers,
	}
}

// CompressOne implements Compressor.
func (e *Engine) CompressOne(ctx context.Context, req Request) (Result, error) {
	if err := req.Params.Validate(); err != nil {
		return Result{}, err
	}
	if req.TargetSize <= 0 {
		return Result{}, fmt.Errorf("%w: target size must be positive", ErrInvalidParams)
	}
	if req.Image == nil {
		return Result{}, fmt.Errorf("%w: nil image", ErrInvalidParams)
	}

	t := newTrials(e.encoder, req.Image)
	return e.search(ctx, t, req.TargetSize, req.Params, e.log.WithField("operation", "compress_one"))
}

// search runs the probe/extrapolate/refine sequence for one image.
func (e *Engine) search(ctx context.Context, t *trials, target int64, p QualityParams, log *logrus.Entry) (Result, error) {
	raw, err := t.at(ctx, p.InitialQuality)
	if err != nil {
		return Result{}, err
	}
	rawSize := int64(len(raw))
	log = log.WithField("target_size", target)

	if rawSize <= target {
		log.WithField("size", rawSize).Debug("Initial encode fits target, skipping compression")
		return Result{
			Data:       raw,
			Size:       rawSize,
			Quality:    p.InitialQuality,
			TargetSize: target,
			Converged:  true,
			Skipped:    true,
			Encodes:    t.encodes,
		}, nil
	}

	probe, err := t.at(ctx, p.ProbeQuality)
	if err != nil {
		return Result{}, err
	}
	probeSize := int64(len(probe))
	quality := EstimateQuality(rawSize, probeSize, target, p)

	log.WithFields(logrus.Fields{
		"raw_size":          rawSize,
		"probe_size":        probeSize,
		"estimated_quality": quality,
	}).Debug("Estimated quality from probe encode")

	data, err := t.at(ctx, quality)
	if err != nil {
		return Result{}, err
	}
	t.releaseAbove(quality)

	res := Result{
		Data:       data,
		Size:       int64(len(data)),
		Quality:    quality,
		TargetSize: target,
	}
	res, err = e.refine(ctx, t, res, target, p)
	if err != nil {
		return Result{}, err
	}

	fields := logrus.Fields{"size": res.Size, "quality": res.Quality, "encodes": res.Encodes}
	if res.Converged {
		log.WithFields(fields).Info("Image compressed")
	} else {
		log.WithFields(fields).Warn("Quality floor reached before target size")
	}
	return res, nil
}

// refine steps the quality down from res until the data fits target or the
// floor is reached. The floor itself is always tried before giving up. A
// result that is re-encoded here is no longer Skipped.
func (e *Engine) refine(ctx context.Context, t *trials, res Result, target int64, p QualityParams) (Result, error) {
	quality := res.Quality
	data := res.Data

	for int64(len(data)) > target {
		next := max(quality-p.QualityStep, p.MinQuality)
		if next >= quality {
			break
		}
		var err error
		data, err = t.at(ctx, next)
		if err != nil {
			return Result{}, err
		}
		t.releaseAbove(next)
		quality = next
	}

	if quality != res.Quality {
		res.Skipped = false
	}
	res.Data = data
	res.Size = int64(len(data))
	res.Quality = quality
	res.TargetSize = target
	res.Converged = res.Size <= target
	res.Encodes = t.encodes
	return res, nil
}

// EstimateQuality extrapolates linearly from the initial and probe encode
// sizes to the quality expected to reach target. The result is clamped into
// [p.MinQuality, MaxQuality]. A probe that did not shrink the image yields
// p.InitialQuality.
func EstimateQuality(rawSize, probeSize, target int64, p QualityParams) int {
	reduction := rawSize - probeSize
	gap := int64(p.InitialQuality - p.ProbeQuality)
	if reduction <= 0 || gap <= 0 {
		return p.InitialQuality
	}

	needed := rawSize - target
	if needed <= 0 {
		return p.InitialQuality
	}
	// ceil(needed / (reduction/gap)) without fractional bytes
	steps := (needed*gap + reduction - 1) / reduction
	estimated := int64(p.InitialQuality) - steps

	switch {
	case estimated < int64(p.MinQuality):
		return p.MinQuality
	case estimated > MaxQuality:
		return MaxQuality
	}
	return int(estimated)
}

// trials memoizes encodes of one image so a quality is never encoded twice
// within a search.
type trials struct {
	encoder   Encoder
	img       image.Image
	byQuality map[int][]byte
	encodes   int
}

func newTrials(encoder Encoder, img image.Image) *trials {
	return &trials{
		encoder:   encoder,
		img:       img,
		byQuality: make(map[int][]byte, 4),
	}
}

func (t *trials) at(ctx context.Context, quality int) ([]byte, error) {
	if data, ok := t.byQuality[quality]; ok {
		return data, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := t.encoder.Encode(t.img, quality)
	if err != nil {
		return nil, fmt.Errorf("encode at quality %d: %w", quality, err)
	}
	t.byQuality[quality] = data
	t.encodes++
	return data, nil
}

// releaseAbove drops memoized buffers above quality. After the estimate the
// search only moves downward, so they are never read again.
func (t *trials) releaseAbove(quality int) {
	for q := range t.byQuality {
		if q > quality {
			delete(t.byQuality, q)
		}
	}
}
