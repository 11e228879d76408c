package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math/rand"
	"sync"
	"testing"

	"pdf-compressor-go/internal/compressor"
	"pdf-compressor-go/internal/config"
	"pdf-compressor-go/internal/extractor"
	"pdf-compressor-go/internal/statistics"
)

var pdfHeader = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

type fakeSource struct {
	images []image.Image
	err    error
}

func (f *fakeSource) Extract(ctx context.Context, pdf []byte) ([]image.Image, error) {
	return f.images, f.err
}

func (f *fakeSource) Mode() extractor.Mode { return extractor.ModeRender }

type eventRecorder struct {
	mu     sync.Mutex
	events []string
	data   []map[string]interface{}
}

func (r *eventRecorder) hook(eventType string, data map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	r.data = append(r.data, data)
}

func noise(w, h int, seed int64) image.Image {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	return img
}

func newTestPipeline(source extractor.ImageSource, rec *eventRecorder) (*Pipeline, *statistics.Statistics) {
	cfg := config.DefaultConfig()
	stats := statistics.NewStatistics()
	engine := compressor.NewEngine(compressor.NewJPEGEncoder(), nil, 2)
	var hook EventHook
	if rec != nil {
		hook = rec.hook
	}
	return NewPipelineWithEventHook(cfg, nil, stats, source, engine, hook), stats
}

func TestRun(t *testing.T) {
	rec := &eventRecorder{}
	source := &fakeSource{images: []image.Image{noise(64, 64, 1), noise(32, 48, 2)}}
	p, stats := newTestPipeline(source, rec)

	job, err := p.Run(context.Background(), pdfHeader)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if job.ID == "" {
		t.Error("Expected job ID")
	}
	if len(job.Results) != 2 || len(job.Entries) != 2 {
		t.Fatalf("Expected 2 results and entries, got %d and %d", len(job.Results), len(job.Entries))
	}
	if job.Entries[0].Name != "image_1.jpg" || job.Entries[1].Name != "image_2.jpg" {
		t.Errorf("Unexpected entry names: %s, %s", job.Entries[0].Name, job.Entries[1].Name)
	}
	for i, res := range job.Results {
		if !res.Skipped {
			t.Errorf("Expected image %d to fit its target without compression", i+1)
		}
		if res.ReferenceSize != res.Size {
			t.Errorf("Expected image %d reference size to equal its size, got %d and %d", i+1, res.ReferenceSize, res.Size)
		}
	}

	want := []string{EventJobStarted, EventImageCompressed, EventImageCompressed, EventJobCompleted}
	if len(rec.events) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, rec.events)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Errorf("Expected event %d to be %s, got %s", i, want[i], rec.events[i])
		}
		if rec.data[i]["job_id"] != job.ID {
			t.Errorf("Expected event %d to carry job ID", i)
		}
	}

	if stats.JobsCompleted != 1 || stats.ImagesFound != 2 || stats.ImagesCompressed != 2 {
		t.Errorf("Unexpected statistics: completed=%d found=%d compressed=%d",
			stats.JobsCompleted, stats.ImagesFound, stats.ImagesCompressed)
	}
	if stats.BytesReceived != int64(len(pdfHeader)) {
		t.Errorf("Expected %d bytes received, got %d", len(pdfHeader), stats.BytesReceived)
	}
}

func TestRunCombinedBudget(t *testing.T) {
	source := &fakeSource{images: []image.Image{noise(128, 128, 3), noise(128, 128, 4)}}
	p, _ := newTestPipeline(source, nil)
	p.config.Compression.CombinedTargetSize = 40 * 1024

	job, err := p.Run(context.Background(), pdfHeader)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var targets int64
	for i, res := range job.Results {
		targets += res.TargetSize
		if res.Converged != (res.Size <= res.TargetSize) {
			t.Errorf("Image %d: converged=%v with size %d and target %d", i+1, res.Converged, res.Size, res.TargetSize)
		}
	}
	if targets > 40*1024 {
		t.Errorf("Expected shares to fit combined target, got %d", targets)
	}
}

func TestRunFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		pdf     []byte
		source  *fakeSource
		wantErr error
	}{
		{"not a pdf", []byte("GIF89a"), &fakeSource{}, extractor.ErrNotPDF},
		{"no images", pdfHeader, &fakeSource{}, extractor.ErrNoImages},
		{"extract error", pdfHeader, &fakeSource{err: boom}, boom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &eventRecorder{}
			p, stats := newTestPipeline(tt.source, rec)

			job, err := p.Run(context.Background(), tt.pdf)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if job != nil {
				t.Error("Expected nil job on failure")
			}
			if stats.JobsFailed != 1 || len(stats.Errors) != 1 {
				t.Errorf("Expected one failed job recorded, got failed=%d errors=%d", stats.JobsFailed, len(stats.Errors))
			}
			if last := rec.events[len(rec.events)-1]; last != EventJobError {
				t.Errorf("Expected last event %s, got %s", EventJobError, last)
			}
		})
	}
}

func TestInspect(t *testing.T) {
	source := &fakeSource{images: []image.Image{noise(64, 64, 5), noise(64, 64, 6)}}
	p, _ := newTestPipeline(source, nil)
	p.config.Compression.CombinedTargetSize = 1024

	insp, err := p.Inspect(context.Background(), pdfHeader)
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if insp.Images != 2 || len(insp.ReferenceSizes) != 2 || len(insp.Targets) != 2 {
		t.Fatalf("Unexpected inspection: %+v", insp)
	}
	if !insp.Proportional {
		t.Error("Expected proportional shares for a tiny combined target")
	}
	var total int64
	for _, target := range insp.Targets {
		total += target
	}
	if total > 1024 {
		t.Errorf("Expected shares to fit combined target, got %d", total)
	}
}

type plainCompressor struct{ compressor.Compressor }

func TestInspectRequiresReferenceSizer(t *testing.T) {
	p := NewPipeline(config.DefaultConfig(), nil, nil, &fakeSource{}, plainCompressor{})
	if _, err := p.Inspect(context.Background(), pdfHeader); err == nil {
		t.Error("Expected error for compressor without reference sizes")
	}
}
