package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pdf-compressor-go/internal/compressor"
	"pdf-compressor-go/internal/config"
	"pdf-compressor-go/internal/extractor"
	"pdf-compressor-go/internal/logger"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zip"
)

const testKey = "test-key"

var pdfBody = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

type fakeSource struct {
	images []image.Image
}

func (f *fakeSource) Extract(ctx context.Context, pdf []byte) ([]image.Image, error) {
	return f.images, nil
}

func (f *fakeSource) Mode() extractor.Mode { return extractor.ModeRender }

// blockingSource waits for the request deadline.
type blockingSource struct{}

func (blockingSource) Extract(ctx context.Context, pdf []byte) ([]image.Image, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingSource) Mode() extractor.Mode { return extractor.ModeRender }

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 8), uint8(y * 8), 200, 255})
		}
	}
	return img
}

func newTestServer(t *testing.T, apiKey string, images ...image.Image) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.APIKey = apiKey
	engine := compressor.NewEngine(compressor.NewJPEGEncoder(), nil, 2)
	return NewServer(cfg, logger.Discard(), nil, &fakeSource{images: images}, engine)
}

func uploadRequest(t *testing.T, url, filename string, content []byte, auth string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	fw.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Expected JSON error body, got %q", rec.Body.String())
	}
	if resp.Success {
		t.Error("Expected success=false")
	}
	return resp.Error
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testKey)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body["status"] != "healthy" || body["service"] != "pdf-compressor" {
		t.Errorf("Unexpected health body: %v", body)
	}
}

func TestCompressErrors(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		auth       string
		filename   string
		content    []byte
		images     []image.Image
		wantStatus int
		wantError  string
	}{
		{"no server key", "", "Bearer x", "doc.pdf", pdfBody, nil, http.StatusInternalServerError, "Server configuration error"},
		{"missing header", testKey, "", "doc.pdf", pdfBody, nil, http.StatusUnauthorized, "Invalid authorization header format"},
		{"basic auth", testKey, "Basic abc", "doc.pdf", pdfBody, nil, http.StatusUnauthorized, "Invalid authorization header format"},
		{"wrong key", testKey, "Bearer nope", "doc.pdf", pdfBody, nil, http.StatusForbidden, "Invalid API Key"},
		{"not a pdf name", testKey, "Bearer " + testKey, "doc.txt", pdfBody, nil, http.StatusBadRequest, "Only PDF files are accepted"},
		{"not pdf content", testKey, "Bearer " + testKey, "doc.pdf", []byte("hello"), nil, http.StatusBadRequest, "Invalid PDF file"},
		{"no images", testKey, "Bearer " + testKey, "doc.pdf", pdfBody, nil, http.StatusBadRequest, "No images found in PDF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.apiKey, tt.images...)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, uploadRequest(t, "/compress", tt.filename, tt.content, tt.auth))

			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if got := decodeError(t, rec); got != tt.wantError {
				t.Errorf("Expected error %q, got %q", tt.wantError, got)
			}
		})
	}
}

func TestCompressZip(t *testing.T) {
	s := newTestServer(t, testKey, solid(32, 32), solid(16, 24))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "/compress", "Scan.PDF", pdfBody, "Bearer "+testKey))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename=compressed_images.zip" {
		t.Errorf("Unexpected Content-Disposition %q", got)
	}
	if rec.Header().Get("X-Job-ID") == "" {
		t.Error("Expected X-Job-ID header")
	}

	body := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("Expected zip body: %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "image_1.jpg" || zr.File[1].Name != "image_2.jpg" {
		t.Errorf("Unexpected archive entries: %v", zr.File)
	}

	if s.stats.JobsCompleted != 1 {
		t.Errorf("Expected one completed job, got %d", s.stats.JobsCompleted)
	}
}

func TestCompressPDFFormat(t *testing.T) {
	s := newTestServer(t, testKey, solid(32, 32))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "/compress?format=pdf", "doc.pdf", pdfBody, "Bearer "+testKey))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/pdf" {
		t.Errorf("Expected application/pdf, got %s", rec.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Error("Expected PDF body")
	}
}

func TestCompressUnknownFormat(t *testing.T) {
	s := newTestServer(t, testKey, solid(8, 8))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "/compress?format=tar", "doc.pdf", pdfBody, "Bearer "+testKey))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestCompressTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.APIKey = testKey
	cfg.Server.RequestTimeout = 20 * time.Millisecond
	engine := compressor.NewEngine(compressor.NewJPEGEncoder(), nil, 2)
	s := NewServer(cfg, logger.Discard(), nil, blockingSource{}, engine)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "/compress", "doc.pdf", pdfBody, "Bearer "+testKey))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("Expected 504, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeError(t, rec); got != "Processing timed out" {
		t.Errorf("Expected timeout message, got %q", got)
	}
	if s.stats.JobsFailed != 1 {
		t.Errorf("Expected one failed job, got %d", s.stats.JobsFailed)
	}
}

func TestCompressUploadLimit(t *testing.T) {
	s := newTestServer(t, testKey, solid(8, 8))
	s.cfg.Server.MaxUploadMB = 1

	big := append(append([]byte{}, pdfBody...), bytes.Repeat([]byte("x"), 2<<20)...)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "/compress", "doc.pdf", big, "Bearer "+testKey))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected 413, got %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, testKey)

	req := httptest.NewRequest(http.MethodOptions, "/compress", nil)
	req.Header.Set("Origin", "https://shaukat.tech")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://shaukat.tech" {
		t.Errorf("Expected allowed origin, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); got != "Content-Disposition" {
		t.Errorf("Expected exposed Content-Disposition, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/compress", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS headers for unknown origin, got %q", got)
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	s := newTestServer(t, testKey)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/statistics", nil))

	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if !resp.Success {
		t.Error("Expected success")
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok || !strings.Contains(data["summary"].(string), "PDF Compressor Statistics Summary") {
		t.Errorf("Unexpected statistics payload: %v", resp.Data)
	}
}

func TestWebSocketEvents(t *testing.T) {
	s := newTestServer(t, testKey, solid(16, 16))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.wsClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("WebSocket client was never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "/compress", "doc.pdf", pdfBody, "Bearer "+testKey))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []string
	for i := 0; i < 3; i++ {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON failed: %v", err)
		}
		got = append(got, msg.Type)
	}
	want := []string{"job_started", "image_compressed", "job_completed"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected event %d to be %s, got %s", i, want[i], got[i])
		}
	}
}
