package media

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) (*gin.Engine, *LocalDisk) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	disk, err := NewLocalDisk(filepath.Join(t.TempDir(), "uploads"), "http://cast.local:5000/")
	require.NoError(t, err)
	h := NewHandler(disk, disk.Dir, 1<<20, zap.NewNop())
	r := gin.New()
	r.POST("/upload", h.Upload)
	r.GET("/media/*name", h.Serve)
	return r, disk
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

type uploadResponse struct {
	Success bool `json:"success"`
	Data    struct {
		URL  string `json:"url"`
		Type string `json:"type"`
	} `json:"data"`
	Error string `json:"error"`
}

func upload(t *testing.T, r http.Handler, filename string, content []byte) (*httptest.ResponseRecorder, uploadResponse) {
	t.Helper()
	body, ct := multipartBody(t, "file", filename, content)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w, out
}

func TestUpload_StoresAndServes(t *testing.T) {
	r, disk := newTestRouter(t)
	content := []byte("0123456789abcdef")

	w, out := upload(t, r, "Holiday Clip.MP4", content)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, out.Success)
	assert.Equal(t, "video", out.Data.Type)
	require.True(t, strings.HasPrefix(out.Data.URL, "http://cast.local:5000/media/"), out.Data.URL)
	assert.True(t, strings.HasSuffix(out.Data.URL, ".mp4"))

	local, ok := disk.Resolve(out.Data.URL)
	require.True(t, ok)
	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	path := strings.TrimPrefix(out.Data.URL, "http://cast.local:5000")
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Range", "bytes=4-7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 4-7/16", rec.Header().Get("Content-Range"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "4567", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, path, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
}

func TestUpload_Image(t *testing.T) {
	r, _ := newTestRouter(t)
	w, out := upload(t, r, "slide.png", []byte{0x89, 'P', 'N', 'G'})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image", out.Data.Type)
}

func TestUpload_Rejects(t *testing.T) {
	r, disk := newTestRouter(t)

	w, out := upload(t, r, "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, out.Success)
	assert.Equal(t, "unsupported media type", out.Error)

	body, ct := multipartBody(t, "other", "clip.mp4", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	entries, err := os.ReadDir(disk.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestServe_NotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, p := range []string{"/media/missing.mp4", "/media/", "/media/../secret"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, p)
	}
}

func TestLocalDisk_Resolve(t *testing.T) {
	disk, err := NewLocalDisk(t.TempDir(), "http://cast.local:5000")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(disk.Dir, "a b.mp4"), []byte("x"), 0o644))

	local := filepath.Join(disk.Dir, "a b.mp4")
	for _, in := range []string{
		"http://cast.local:5000/media/a%20b.mp4",
		"/media/a%20b.mp4?t=1",
	} {
		got, ok := disk.Resolve(in)
		assert.True(t, ok, in)
		assert.Equal(t, local, got, in)
	}

	for _, in := range []string{
		"http://cast.local:5000/media/missing.mp4",
		"http://elsewhere/media/a%20b.mp4",
		"https://bucket.s3.amazonaws.com/uploads/a.mp4?X-Amz-Signature=1",
		"/media/..%2Fa%20b.mp4",
		"/media/..",
		"/home/user/private.mp4",
		"concat:/etc/passwd|x.mp4",
		"file:///etc/passwd.mp4",
	} {
		got, ok := disk.Resolve(in)
		assert.False(t, ok, in)
		assert.Empty(t, got, in)
	}
}
