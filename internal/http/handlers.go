package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wsiview/internal/config"
	"wsiview/internal/dzi"
	"wsiview/internal/slide"
	"wsiview/internal/store"
)

// SlideStore is the registry surface the handlers need.
type SlideStore interface {
	List() []store.Slide
	Get(id string) (store.Slide, bool)
	Add(tempPath, originalFilename string) (store.Slide, error)
	Delete(id string) error
}

// TileService resolves slide metadata and tiles.
type TileService interface {
	Info(ctx context.Context, slideID string) (*slide.Info, error)
	GetTile(ctx context.Context, slideID string, level, x, y, size int) ([]byte, error)
	Remove(ctx context.Context, slideID string) error
}

type Handlers struct {
	config *config.Config
	logger *zap.Logger
	store  SlideStore
	tiles  TileService
}

func New(config *config.Config, logger *zap.Logger, store SlideStore, tiles TileService) *Handlers {
	return &Handlers{
		config: config,
		logger: logger,
		store:  store,
		tiles:  tiles,
	}
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", h.extractIP(r)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

// HandleSlides serves the collection routes: list and upload.
func (h *Handlers) HandleSlides(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPost:
		h.handleUpload(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleSlideRoutes serves the per-slide routes:
//
//	GET    /api/slides/{id}/info
//	GET    /api/slides/{id}/tile?x=&y=&level=&size=
//	GET    /api/slides/{id}/dzi
//	DELETE /api/slides/{id}
func (h *Handlers) HandleSlideRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/slides/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	slideID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		h.handleDelete(w, r, slideID)
	case len(parts) == 2 && parts[1] == "info":
		h.handleInfo(w, r, slideID)
	case len(parts) == 2 && parts[1] == "tile":
		h.handleTile(w, r, slideID)
	case len(parts) == 2 && parts[1] == "dzi":
		h.handleDZI(w, r, slideID)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.store.List())
}

func (h *Handlers) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !h.config.IsUploadPublic() && !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Failed to parse multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !slide.SupportedExt(header.Filename) {
		http.Error(w, "Invalid file extension", http.StatusBadRequest)
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))

	tempFile, err := os.CreateTemp(os.TempDir(), "upload_*"+ext)
	if err != nil {
		h.logger.Error("Failed to create temp file", zap.Error(err))
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	tempPath := tempFile.Name()

	if _, err := io.Copy(tempFile, file); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		h.logger.Error("Failed to copy file", zap.Error(err))
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	tempFile.Close()

	record, err := h.store.Add(tempPath, header.Filename)
	if err != nil {
		if _, statErr := os.Stat(tempPath); statErr == nil {
			os.Remove(tempPath)
		}
		h.logger.Warn("Rejected upload", zap.String("filename", header.Filename), zap.Error(err))
		http.Error(w, "Invalid image file", http.StatusBadRequest)
		return
	}

	info, err := h.tiles.Info(r.Context(), record.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":   record.ID,
		"name": record.OriginalFilename,
		"info": info,
	})
}

func (h *Handlers) handleInfo(w http.ResponseWriter, r *http.Request, slideID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, ok := h.store.Get(slideID); !ok {
		http.Error(w, "Slide not found", http.StatusNotFound)
		return
	}

	info, err := h.tiles.Info(r.Context(), slideID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

func (h *Handlers) handleTile(w http.ResponseWriter, r *http.Request, slideID string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	x, err := strconv.Atoi(q.Get("x"))
	if err != nil {
		http.Error(w, "Invalid x coordinate", http.StatusBadRequest)
		return
	}
	y, err := strconv.Atoi(q.Get("y"))
	if err != nil {
		http.Error(w, "Invalid y coordinate", http.StatusBadRequest)
		return
	}
	level, err := strconv.Atoi(q.Get("level"))
	if err != nil {
		http.Error(w, "Invalid level", http.StatusBadRequest)
		return
	}
	size := h.config.TileSize
	if s := q.Get("size"); s != "" {
		if size, err = strconv.Atoi(s); err != nil || size < 1 {
			http.Error(w, "Invalid tile size", http.StatusBadRequest)
			return
		}
	}

	if _, ok := h.store.Get(slideID); !ok {
		http.Error(w, "Slide not found", http.StatusNotFound)
		return
	}

	data, err := h.tiles.GetTile(r.Context(), slideID, level, x, y, size)
	if err != nil {
		h.writeError(w, err)
		return
	}

	etag := tileETag(slideID, level, x, y, size)
	w.Header().Set("ETag", `"`+etag+`"`)
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(data)
}

func (h *Handlers) handleDZI(w http.ResponseWriter, r *http.Request, slideID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, ok := h.store.Get(slideID); !ok {
		http.Error(w, "Slide not found", http.StatusNotFound)
		return
	}

	info, err := h.tiles.Info(r.Context(), slideID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	data, err := dzi.FromInfo(info).Encode()
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write(data)
}

func (h *Handlers) handleDelete(w http.ResponseWriter, r *http.Request, slideID string) {
	if err := h.store.Delete(slideID); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.tiles.Remove(r.Context(), slideID); err != nil {
		h.logger.Warn("Failed to clean up slide caches", zap.String("slide_id", slideID), zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

// writeError maps error classes to status codes. Invalid requests are
// distinguishable from missing slides, and internal failures never leak
// paths or wrapped detail.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, slide.ErrNotFound), errors.Is(err, slide.ErrSourceNotFound):
		http.Error(w, "Slide not found", http.StatusNotFound)
	case errors.Is(err, slide.ErrInvalidLevel), errors.Is(err, slide.ErrOutOfRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, slide.ErrAllHandlesBusy):
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
	default:
		h.logger.Error("Request failed", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handlers) authorized(r *http.Request) bool {
	token := ""
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return token == h.config.UploadToken
}

func tileETag(slideID string, level, x, y, size int) string {
	keyStr := fmt.Sprintf("%s_%d_%d_%d_%d.jpg", slideID, level, x, y, size)
	hash := sha256.Sum256([]byte(keyStr))
	return hex.EncodeToString(hash[:])[:16]
}

// Not for real production use due to potential spoofing
// but it's fine for a demo
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
