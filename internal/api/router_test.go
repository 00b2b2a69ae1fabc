package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/blobworks/mediavault/internal/app"
	"github.com/blobworks/mediavault/internal/blob"
	"github.com/blobworks/mediavault/internal/channel"
	"github.com/blobworks/mediavault/internal/database/testutil"
	"github.com/blobworks/mediavault/internal/identity"
	"github.com/blobworks/mediavault/internal/storage"
)

const testSecret = "router-test-secret"

func mintToken(t *testing.T, subject, role string) string {
	t.Helper()
	claims := identity.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "credsvc",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	uploadDir := filepath.Join(t.TempDir(), "uploads")
	db := testutil.MustOpenTestDB(t)
	disk, err := storage.NewDiskStore(uploadDir)
	require.NoError(t, err)
	svc, err := blob.NewService(db, disk, blob.Config{InlineMaxBytes: 1024, DiskMaxBytes: 64 * 1024})
	require.NoError(t, err)

	verifier, err := identity.NewJWTVerifier(identity.JWTVerifierConfig{Secret: testSecret, Issuer: "credsvc"})
	require.NoError(t, err)

	cfg := &app.Config{}
	cfg.Server.BaseURL = "/uploads"
	cfg.Server.UploadTimeout = time.Minute
	cfg.Storage.UploadDir = uploadDir
	cfg.Storage.DiskMaxBytes = 64 * 1024
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Monitoring.Prometheus.Endpoint = "/metrics"

	router, err := NewRouter(db, svc, verifier, cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doUpload(t *testing.T, srv *httptest.Server, token, filename, mime string, content []byte) *http.Response {
	t.Helper()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.WriteField("mime", mime))
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/uploads", buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestRouterRejectsMissingToken(t *testing.T) {
	srv := newAPIServer(t)

	resp, err := srv.Client().Get(srv.URL + "/api/uploads")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouterHealthIsPublic(t *testing.T) {
	srv := newAPIServer(t)

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouterServesMetrics(t *testing.T) {
	srv := newAPIServer(t)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouterUploadRequiresAdmin(t *testing.T) {
	srv := newAPIServer(t)

	resp := doUpload(t, srv, mintToken(t, "plain", "user"), "a.png", "image/png", []byte("x"))
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRouterDiskUploadServedByURL(t *testing.T) {
	srv := newAPIServer(t)

	content := make([]byte, 2048)
	for i := range content {
		content[i] = byte(i % 251)
	}

	resp := doUpload(t, srv, mintToken(t, "root", "admin"), "clip.mp4", "video/mp4", content)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var envelope struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, strings.HasPrefix(envelope.Data.URL, "/uploads/"))

	// Disk-tier bytes are fetched straight from the static file route.
	fileResp, err := srv.Client().Get(srv.URL + envelope.Data.URL)
	require.NoError(t, err)
	defer fileResp.Body.Close()
	require.Equal(t, http.StatusOK, fileResp.StatusCode)

	fetched := make([]byte, 0, len(content))
	buf := make([]byte, 512)
	for {
		n, readErr := fileResp.Body.Read(buf)
		fetched = append(fetched, buf[:n]...)
		if readErr != nil {
			break
		}
	}
	require.Equal(t, content, fetched)
}

func TestRouterListAuthenticated(t *testing.T) {
	srv := newAPIServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/uploads", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, "plain", "user"))

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouterChannelAcceptsQueryToken(t *testing.T) {
	srv := newAPIServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/channel?token=" + mintToken(t, "plain", "user")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env channel.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, channel.KindWelcome, env.Kind)
}

func TestRouterChannelRejectsBadToken(t *testing.T) {
	srv := newAPIServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/channel?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}
