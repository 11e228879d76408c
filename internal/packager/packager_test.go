package packager

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"

	"pdf-compressor-go/internal/compressor"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zip"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("Failed to encode test JPEG: %v", err)
	}
	return buf.Bytes()
}

func TestEntries(t *testing.T) {
	results := []compressor.Result{
		{Data: []byte("a")},
		{Data: []byte("b")},
		{Data: []byte("c")},
	}
	got := Entries(results)
	want := []Entry{
		{Name: "image_1.jpg", Data: []byte("a")},
		{Name: "image_2.jpg", Data: []byte("b")},
		{Name: "image_3.jpg", Data: []byte("c")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Entries mismatch (-want +got):\n%s", diff)
	}
}

func TestZipPackagerRoundTrip(t *testing.T) {
	entries := []Entry{
		{Name: EntryName(0), Data: testJPEG(t, 32, 16)},
		{Name: EntryName(1), Data: testJPEG(t, 8, 8)},
	}

	for _, method := range []Method{MethodStore, MethodDeflate, MethodZstd} {
		t.Run(string(method), func(t *testing.T) {
			var buf bytes.Buffer
			p := &ZipPackager{Method: method}
			if err := p.Package(&buf, entries); err != nil {
				t.Fatalf("Package returned error: %v", err)
			}

			r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
			if err != nil {
				t.Fatalf("Failed to open archive: %v", err)
			}
			if len(r.File) != len(entries) {
				t.Fatalf("Expected %d entries, got %d", len(entries), len(r.File))
			}
			for i, f := range r.File {
				if f.Name != entries[i].Name {
					t.Errorf("Expected entry %d to be %s, got %s", i, entries[i].Name, f.Name)
				}
				if f.Method != method.id() {
					t.Errorf("Expected method %d, got %d", method.id(), f.Method)
				}
				rc, err := f.Open()
				if err != nil {
					t.Fatalf("Failed to open %s: %v", f.Name, err)
				}
				data, err := io.ReadAll(rc)
				rc.Close()
				if err != nil {
					t.Fatalf("Failed to read %s: %v", f.Name, err)
				}
				if !bytes.Equal(data, entries[i].Data) {
					t.Errorf("Entry %s content changed in archive", f.Name)
				}
			}
		})
	}
}

func TestPDFPackager(t *testing.T) {
	entries := []Entry{
		{Name: EntryName(0), Data: testJPEG(t, 40, 20)},
		{Name: EntryName(1), Data: testJPEG(t, 20, 40)},
	}

	var buf bytes.Buffer
	p := &PDFPackager{}
	if err := p.Package(&buf, entries); err != nil {
		t.Fatalf("Package returned error: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Errorf("Expected PDF header, got %q", buf.Bytes()[:8])
	}
	if p.ContentType() != "application/pdf" || p.Extension() != "pdf" {
		t.Errorf("Unexpected content type %s / extension %s", p.ContentType(), p.Extension())
	}
}

func TestPDFPackagerRejectsBadInput(t *testing.T) {
	p := &PDFPackager{}
	if err := p.Package(io.Discard, nil); err == nil {
		t.Error("Expected error for empty entry list")
	}
	if err := p.Package(io.Discard, []Entry{{Name: "x.jpg", Data: []byte("not a jpeg")}}); err == nil {
		t.Error("Expected error for invalid JPEG data")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		format    string
		method    string
		wantExt   string
		wantError bool
	}{
		{"zip", "deflate", "zip", false},
		{"ZIP", "", "zip", false},
		{"zip", "zstd", "zip", false},
		{"pdf", "", "pdf", false},
		{"zip", "bzip2", "", true},
		{"tar", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.format+"/"+tt.method, func(t *testing.T) {
			p, err := New(tt.format, tt.method)
			if (err != nil) != tt.wantError {
				t.Fatalf("New() error = %v, wantError %v", err, tt.wantError)
			}
			if err == nil && p.Extension() != tt.wantExt {
				t.Errorf("Expected extension %s, got %s", tt.wantExt, p.Extension())
			}
		})
	}

	if _, err := New("tar", ""); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Expected ErrUnknownFormat, got %v", err)
	}
}
