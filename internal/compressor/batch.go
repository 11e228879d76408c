package compressor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/bits"
	"sync"

	"github.com/sirupsen/logrus"
)

// CompressBatch implements Compressor.
//
// Every image is first encoded at MaxQuality to obtain its reference size.
// When the references already fit the combined target each image is
// compressed against its own TargetSize (zero meaning its reference size).
// Otherwise the combined target is split proportionally to the references
// and each image is compressed against its share. Shares are not
// renegotiated: an image that cannot reach its share at the quality floor
// is reported as not converged.
func (e *Engine) CompressBatch(ctx context.Context, batch BatchRequest) ([]Result, error) {
	n := len(batch.Requests)
	if n == 0 {
		return []Result{}, nil
	}
	if batch.CombinedTargetSize <= 0 {
		return nil, fmt.Errorf("%w: combined target size must be positive", ErrInvalidParams)
	}
	if batch.MaxItemSize < 0 {
		return nil, fmt.Errorf("%w: negative max item size", ErrInvalidParams)
	}
	for i, req := range batch.Requests {
		if err := req.Params.Validate(); err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}
		if req.Image == nil {
			return nil, fmt.Errorf("image %d: %w: nil image", i+1, ErrInvalidParams)
		}
		if req.TargetSize < 0 {
			return nil, fmt.Errorf("image %d: %w: negative target size", i+1, ErrInvalidParams)
		}
	}

	log := e.log.WithFields(logrus.Fields{
		"operation":     "compress_batch",
		"images":        n,
		"combined_size": batch.CombinedTargetSize,
	})

	all := make([]*trials, n)
	refs := make([]int64, n)
	err := e.forEach(ctx, n, func(ctx context.Context, i int) error {
		t := newTrials(e.encoder, batch.Requests[i].Image)
		data, err := t.at(ctx, MaxQuality)
		if err != nil {
			return fmt.Errorf("image %d: reference encode: %w", i+1, err)
		}
		all[i] = t
		refs[i] = int64(len(data))
		return nil
	})
	if err != nil {
		return nil, err
	}

	targets := Targets(batch, refs)
	log.WithField("reference_total", sum(refs)).Debug("Computed reference sizes")

	results := make([]Result, n)
	err = e.forEach(ctx, n, func(ctx context.Context, i int) error {
		req := batch.Requests[i]
		entry := log.WithField("image", i+1)

		res, err := e.search(ctx, all[i], targets[i], req.Params, entry)
		if err != nil {
			return fmt.Errorf("image %d: %w", i+1, err)
		}
		if batch.MaxItemSize > 0 && res.Size > batch.MaxItemSize {
			entry.WithField("max_item_size", batch.MaxItemSize).Debug("Share exceeds per-image cap, refining")
			res, err = e.refine(ctx, all[i], res, batch.MaxItemSize, req.Params)
			if err != nil {
				return fmt.Errorf("image %d: %w", i+1, err)
			}
		}
		all[i] = nil
		res.ReferenceSize = refs[i]
		res.Share = targets[i]
		results[i] = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithField("total_size", TotalSize(results)).Info("Batch compressed")
	return results, nil
}

// ReferenceSizes encodes every image once at MaxQuality and returns the
// resulting sizes in order.
func (e *Engine) ReferenceSizes(ctx context.Context, images []image.Image) ([]int64, error) {
	refs := make([]int64, len(images))
	err := e.forEach(ctx, len(images), func(ctx context.Context, i int) error {
		if images[i] == nil {
			return fmt.Errorf("image %d: %w: nil image", i+1, ErrInvalidParams)
		}
		data, err := e.encoder.Encode(images[i], MaxQuality)
		if err != nil {
			return fmt.Errorf("image %d: reference encode: %w", i+1, err)
		}
		refs[i] = int64(len(data))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// Targets returns the per-image target sizes of batch given the reference
// sizes of its images.
func Targets(batch BatchRequest, refs []int64) []int64 {
	if sum(refs) > batch.CombinedTargetSize {
		return AllocateShares(batch.CombinedTargetSize, refs)
	}
	targets := make([]int64, len(refs))
	for i, req := range batch.Requests {
		targets[i] = req.TargetSize
		if targets[i] <= 0 {
			targets[i] = refs[i]
		}
	}
	return targets
}

// AllocateShares splits combined proportionally to refs. Shares are floored,
// so their sum never exceeds combined.
func AllocateShares(combined int64, refs []int64) []int64 {
	shares := make([]int64, len(refs))
	var total uint64
	for _, r := range refs {
		if r > 0 {
			total += uint64(r)
		}
	}
	if total == 0 || combined <= 0 {
		return shares
	}

	for i, r := range refs {
		if r <= 0 {
			continue
		}
		// combined*r/total <= combined, so the quotient fits and Div64 cannot panic
		hi, lo := bits.Mul64(uint64(combined), uint64(r))
		q, _ := bits.Div64(hi, lo, total)
		shares[i] = int64(q)
	}
	return shares
}

// TotalSize returns the combined size of results.
func TotalSize(results []Result) int64 {
	var total int64
	for _, r := range results {
		total += r.Size
	}
	return total
}

func sum(values []int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

// forEach runs fn for indices 0..n-1 on the engine's worker pool. The first
// failure cancels the remaining work; errors are reported in index order.
func (e *Engine) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	numWorkers := min(e.workers, n)
	jobs := make(chan int, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				if err := fn(ctx, i); err != nil {
					errs[i] = err
					cancel()
				}
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var firstErr error
	for _, err := range errs {
		if err == nil {
			continue
		}
		// prefer the error that triggered cancellation over the cancellations it caused
		if firstErr == nil || (errors.Is(firstErr, context.Canceled) && !errors.Is(err, context.Canceled)) {
			firstErr = err
		}
	}
	return firstErr
}
