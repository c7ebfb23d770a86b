package media

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castroom/backend/internal/transcode"
	"github.com/castroom/backend/pkg/response"
)

// Handler serves POST /upload and GET /media/*name.
type Handler struct {
	backend  Backend
	dir      string
	maxBytes int64
	logger   *zap.Logger
}

// NewHandler creates a media handler. dir is where GET /media reads from; it
// may be empty when uploads go to S3.
func NewHandler(backend Backend, dir string, maxBytes int64, logger *zap.Logger) *Handler {
	return &Handler{backend: backend, dir: dir, maxBytes: maxBytes, logger: logger}
}

// Upload handles POST /upload. The multipart field is "file".
func (h *Handler) Upload(c *gin.Context) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	}
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(c, "file too large")
			return
		}
		response.BadRequest(c, "missing file (form field: file)")
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	mediaType, err := transcode.MediaTypeOf(file.Filename)
	if err != nil {
		response.BadRequest(c, "unsupported media type")
		return
	}

	rc, err := file.Open()
	if err != nil {
		h.logger.Error("open uploaded file failed", zap.Error(err))
		response.Internal(c, "failed to read file")
		return
	}
	defer rc.Close()

	name := uuid.NewString() + ext
	url, err := h.backend.Put(c.Request.Context(), name, transcode.ContentTypeFor(name), rc, file.Size)
	if err != nil {
		h.logger.Error("store upload failed", zap.Error(err), zap.String("name", name))
		response.Internal(c, "failed to store file")
		return
	}
	h.logger.Info("media uploaded",
		zap.String("name", name),
		zap.String("original", file.Filename),
		zap.Int64("size", file.Size),
		zap.String("type", string(mediaType)))

	response.OK(c, gin.H{
		"url":  url,
		"type": mediaType,
		"name": file.Filename,
		"size": file.Size,
	})
}

// Serve handles GET /media/*name with Range support.
func (h *Handler) Serve(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("name"), "/")
	if h.dir == "" || name == "" || strings.ContainsAny(name, `/\`) || name == ".." {
		response.NotFound(c, "file not found")
		return
	}
	f, err := os.Open(filepath.Join(h.dir, name))
	if err != nil {
		response.NotFound(c, "file not found")
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		response.NotFound(c, "file not found")
		return
	}
	c.Header("Content-Type", transcode.ContentTypeFor(name))
	c.Header("Accept-Ranges", "bytes")
	http.ServeContent(c.Writer, c.Request, name, st.ModTime(), f)
}
