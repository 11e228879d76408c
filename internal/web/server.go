package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"pdf-compressor-go/internal/compressor"
	"pdf-compressor-go/internal/config"
	"pdf-compressor-go/internal/extractor"
	"pdf-compressor-go/internal/packager"
	"pdf-compressor-go/internal/pipeline"
	"pdf-compressor-go/internal/statistics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	pipeline *pipeline.Pipeline
	stats    *statistics.Statistics
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(
	cfg *config.Config,
	log *logrus.Logger,
	stats *statistics.Statistics,
	source extractor.ImageSource,
	comp compressor.Compressor,
) *Server {
	if stats == nil {
		stats = statistics.NewStatistics()
	}
	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		stats:     stats,
	}
	s.wsUpgrader = websocket.Upgrader{CheckOrigin: s.originAllowedForWS}
	s.pipeline = pipeline.NewPipelineWithEventHook(cfg, log, stats, source, comp, s.broadcastEvent)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/compress", s.handleCompress).Methods("POST")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET", "HEAD")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler of the server, CORS included.
func (s *Server) Handler() http.Handler {
	return s.withCORS(s.router)
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"status":  "healthy",
		"service": "pdf-compressor",
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	if status, msg := s.authorize(r); status != http.StatusOK {
		s.writeError(w, msg, status)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes())
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, fmt.Sprintf("File exceeds %d MB limit", s.cfg.Server.MaxUploadMB), http.StatusRequestEntityTooLarge)
			return
		}
		s.writeError(w, "Invalid multipart request", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, "Missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	s.log.Infof("Processing request for file: %s", header.Filename)

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		s.writeError(w, "Only PDF files are accepted", http.StatusBadRequest)
		return
	}

	format := s.cfg.Packaging.Format
	if q := r.URL.Query().Get("format"); q != "" {
		format = q
	}
	pkg, err := packager.New(format, s.cfg.Packaging.ZipMethod)
	if err != nil {
		s.writeError(w, "Unsupported output format", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, "Failed to read upload", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.RequestTimeout)
	defer cancel()

	job, err := s.pipeline.Run(ctx, data)
	if err != nil {
		status, msg := classifyError(err)
		s.log.Errorf("HTTP Error %d: %s: %v", status, msg, err)
		s.writeError(w, msg, status)
		return
	}

	var buf bytes.Buffer
	if err := pkg.Package(&buf, job.Entries); err != nil {
		s.log.Errorf("Packaging failed for job %s: %v", job.ID, err)
		s.writeError(w, "Processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", pkg.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename=compressed_images."+pkg.Extension())
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Job-ID", job.ID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.log.Warnf("Failed to write response for job %s: %v", job.ID, err)
		return
	}
	s.log.Info("Compression complete")
}

// authorize checks the bearer token. It returns http.StatusOK on success.
func (s *Server) authorize(r *http.Request) (int, string) {
	if s.cfg.Server.APIKey == "" {
		s.log.Error("API key is not configured")
		return http.StatusInternalServerError, "Server configuration error"
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		s.log.Warn("Invalid authorization header format")
		return http.StatusUnauthorized, "Invalid authorization header format"
	}

	token := strings.TrimPrefix(auth, "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Server.APIKey)) != 1 {
		s.log.Warn("Invalid API key attempt")
		return http.StatusForbidden, "Invalid API Key"
	}
	return http.StatusOK, ""
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, extractor.ErrNotPDF), errors.Is(err, extractor.ErrInvalidPDF):
		return http.StatusBadRequest, "Invalid PDF file"
	case errors.Is(err, extractor.ErrNoImages):
		return http.StatusBadRequest, "No images found in PDF"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Processing timed out"
	default:
		return http.StatusInternalServerError, "Processing failed"
	}
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.stats.Finalize()
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":  s.stats.GetSummary(),
			"counters": s.stats.Snapshot(),
			"errors":   s.stats.GetErrorSummary(),
		},
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) wsClientCount() int {
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()
	return len(s.wsClients)
}

func (s *Server) broadcastEvent(eventType string, data map[string]interface{}) {
	s.broadcastWSMessage(eventType, data)
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// gorilla connections allow one concurrent writer
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
