package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/blobworks/mediavault/internal/blob"
	"github.com/blobworks/mediavault/internal/database/testutil"
	"github.com/blobworks/mediavault/internal/identity"
	"github.com/blobworks/mediavault/internal/middleware"
	"github.com/blobworks/mediavault/internal/storage"
)

var (
	adminID = identity.Identity{SubjectID: "root", Role: identity.RoleAdmin}
	userID  = identity.Identity{SubjectID: "plain", Role: identity.RoleUser}
)

func newUploadRouter(t *testing.T, caller identity.Identity) (*gin.Engine, *blob.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)
	disk, err := storage.NewDiskStore(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	svc, err := blob.NewService(db, disk, blob.Config{InlineMaxBytes: 1024, DiskMaxBytes: 64 * 1024})
	require.NoError(t, err)

	h, err := NewUploadHandler(svc, "/uploads", time.Minute)
	require.NoError(t, err)

	r := gin.New()
	inject := func(c *gin.Context) {
		middleware.SetIdentity(c, caller)
		c.Next()
	}
	r.POST("/api/uploads", inject, h.Create)
	r.GET("/api/uploads", inject, h.List)
	r.GET("/api/uploads/:id", inject, h.Get)
	r.DELETE("/api/uploads/:id", inject, h.Delete)
	r.GET("/api/blobs/stats", inject, h.Stats)
	return r, svc
}

func multipartBody(t *testing.T, filename, mime string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	if mime != "" {
		require.NoError(t, w.WriteField("mime", mime))
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func postUpload(t *testing.T, r *gin.Engine, filename, mime string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, mime, content, fields)
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	return envelope.Data
}

func TestCreateInlineUpload(t *testing.T) {
	r, _ := newUploadRouter(t, userID)

	content := []byte("small inline payload")
	w := postUpload(t, r, "note.png", "image/png", content, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	data := decodeData(t, w)
	require.Equal(t, blob.Digest(content), data["sha256"])
	require.NotContains(t, data, "data", "payload bytes must not be echoed")
	require.NotContains(t, data, "url", "inline blobs have no direct URL")

	// Same content again resolves to the existing row.
	w = postUpload(t, r, "note.png", "image/png", content, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, data["id"], decodeData(t, w)["id"])
}

func TestCreateDiskUploadResolvesURL(t *testing.T) {
	r, _ := newUploadRouter(t, adminID)

	content := make([]byte, 2048)
	w := postUpload(t, r, "clip.mp4", "video/mp4", content, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	data := decodeData(t, w)
	require.Equal(t, "/uploads/"+blob.Digest(content)+".mp4", data["url"])
	require.Equal(t, blob.Digest(content)+".mp4", data["local_path"])
}

func TestCreateDiskUploadForbiddenForUser(t *testing.T) {
	r, _ := newUploadRouter(t, userID)

	w := postUpload(t, r, "clip.mp4", "video/mp4", make([]byte, 2048), nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateRequiresFilePart(t *testing.T) {
	r, _ := newUploadRouter(t, adminID)

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	require.NoError(t, w.WriteField("metadata", "{}"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRejectsMalformedMetadata(t *testing.T) {
	r, _ := newUploadRouter(t, adminID)

	w := postUpload(t, r, "a.png", "image/png", []byte("x"), map[string]string{"metadata": "{not json"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRejectsHashMismatch(t *testing.T) {
	r, _ := newUploadRouter(t, adminID)

	w := postUpload(t, r, "a.png", "image/png", []byte("content"), map[string]string{
		"sha256": blob.Digest([]byte("other")),
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAndList(t *testing.T) {
	r, _ := newUploadRouter(t, userID)

	var firstID string
	for _, content := range [][]byte{[]byte("one"), []byte("two"), []byte("three")} {
		w := postUpload(t, r, "f.txt", "text/plain", content, nil)
		require.Equal(t, http.StatusCreated, w.Code)
		if firstID == "" {
			firstID = decodeData(t, w)["id"].(string)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/uploads/"+firstID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, firstID, decodeData(t, w)["id"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/uploads?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var listing struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Limit  int   `json:"limit"`
			Offset int   `json:"offset"`
			Total  int64 `json:"total"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Data, 2)
	require.EqualValues(t, 3, listing.Meta.Total)
	require.Equal(t, 2, listing.Meta.Limit)
}

func TestGetUnknownIDReturns404(t *testing.T) {
	r, _ := newUploadRouter(t, userID)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/uploads/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteRequiresAdminRole(t *testing.T) {
	r, _ := newUploadRouter(t, userID)

	w := postUpload(t, r, "f.txt", "text/plain", []byte("keep"), nil)
	id := decodeData(t, w)["id"].(string)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/uploads/"+id, nil))
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeleteRemovesBlob(t *testing.T) {
	r, _ := newUploadRouter(t, adminID)

	w := postUpload(t, r, "f.txt", "text/plain", []byte("gone"), nil)
	id := decodeData(t, w)["id"].(string)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/uploads/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/uploads/"+id, nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatsEndpoint(t *testing.T) {
	r, _ := newUploadRouter(t, userID)

	postUpload(t, r, "a.png", "image/png", []byte("aaaa"), nil)
	postUpload(t, r, "b.png", "image/png", []byte("bb"), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/blobs/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	require.EqualValues(t, 2, data["total_count"])
	require.EqualValues(t, 6, data["total_size"])
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.MustOpenTestDB(t)

	r := gin.New()
	r.GET("/health", Health(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "ok")
}
