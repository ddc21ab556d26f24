package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoval/imagevault/internal/config"
	"github.com/dkoval/imagevault/internal/storage"
	"github.com/dkoval/imagevault/internal/upload"
)

func newTestHandler(t *testing.T, maxBytes int64) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Address:        ":0",
		StorageDir:     t.TempDir(),
		PublicBase:     "/uploads",
		MaxUploadBytes: maxBytes,
	}
	resolver, err := upload.NewResolver(cfg.StorageDir)
	require.NoError(t, err)
	pipeline := upload.NewPipeline(upload.ImageRegistry(), resolver, cfg.MaxUploadBytes, cfg.PublicBase, zerolog.Nop())
	index := storage.NewMemoryIndex()
	return New(cfg, pipeline, index, resolver, nil, zerolog.Nop()).Handler()
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func postUpload(t *testing.T, handler http.Handler, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, formContentType := multipartBody(t, "file", filename, contentType, data)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", formContentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

type uploadResponse struct {
	Success bool                  `json:"success"`
	File    upload.StoredArtifact `json:"file"`
	Error   string                `json:"error"`
}

func jpegBody(size int) []byte {
	body := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	for len(body) < size {
		body = append(body, 0x00)
	}
	return body[:size]
}

func TestUploadAccepted(t *testing.T) {
	handler := newTestHandler(t, 5<<20)
	data := jpegBody(512)

	rec := postUpload(t, handler, "holiday.jpg", "image/jpeg", data)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "holiday.jpg", resp.File.OriginalName)
	assert.Equal(t, int64(len(data)), resp.File.Size)
	assert.Equal(t, "image/jpeg", resp.File.ContentType)
	assert.True(t, strings.HasPrefix(resp.File.URL, "/uploads/"))
	assert.True(t, strings.HasSuffix(resp.File.URL, ".jpg"))

	// Metadata endpoint.
	req := httptest.NewRequest(http.MethodGet, "/files/"+resp.File.ID, nil)
	metaRec := httptest.NewRecorder()
	handler.ServeHTTP(metaRec, req)
	require.Equal(t, http.StatusOK, metaRec.Code)

	// Stored bytes are served back at the public URL.
	req = httptest.NewRequest(http.MethodGet, resp.File.URL, nil)
	fileRec := httptest.NewRecorder()
	handler.ServeHTTP(fileRec, req)
	require.Equal(t, http.StatusOK, fileRec.Code)
	served, err := io.ReadAll(fileRec.Body)
	require.NoError(t, err)
	assert.Equal(t, data, served)
	assert.Equal(t, "image/jpeg", fileRec.Header().Get("Content-Type"))
}

func TestUploadContentMismatch(t *testing.T) {
	handler := newTestHandler(t, 5<<20)

	pngData := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 64)...)
	rec := postUpload(t, handler, "fake.jpg", "image/jpeg", pngData)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestUploadDisallowedExtension(t *testing.T) {
	handler := newTestHandler(t, 5<<20)

	rec := postUpload(t, handler, "malware.exe", "image/jpeg", jpegBody(64))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestUploadEmptyFile(t *testing.T) {
	handler := newTestHandler(t, 5<<20)
	rec := postUpload(t, handler, "empty.png", "image/png", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadMissingFilePart(t *testing.T) {
	handler := newTestHandler(t, 5<<20)

	body, formContentType := multipartBody(t, "avatar", "pic.png", "image/png", jpegBody(64))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", formContentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadTooLarge(t *testing.T) {
	handler := newTestHandler(t, 1024)
	rec := postUpload(t, handler, "big.jpg", "image/jpeg", jpegBody(2048))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t, 5<<20)
	req := httptest.NewRequest(http.MethodGet, "/upload", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFileLookupUnknown(t *testing.T) {
	handler := newTestHandler(t, 5<<20)

	req := httptest.NewRequest(http.MethodGet, "/files/doesnotexist", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/uploads/doesnotexist.png", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	handler := newTestHandler(t, 5<<20)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
