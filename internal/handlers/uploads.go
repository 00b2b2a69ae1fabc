package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blobworks/mediavault/internal/blob"
	"github.com/blobworks/mediavault/internal/middleware"
	"github.com/blobworks/mediavault/internal/models"
	apperrors "github.com/blobworks/mediavault/pkg/errors"
	"github.com/blobworks/mediavault/pkg/response"
)

const defaultUploadTimeout = 2 * time.Minute

// UploadHandler exposes the bounded request/response upload surface for
// large payloads, plus metadata retrieval and listing.
type UploadHandler struct {
	svc     *blob.Service
	baseURL string
	timeout time.Duration
}

// NewUploadHandler constructs an upload handler. baseURL is the public
// prefix under which disk-tier files are served.
func NewUploadHandler(svc *blob.Service, baseURL string, timeout time.Duration) (*UploadHandler, error) {
	if svc == nil {
		return nil, errors.New("upload handler: blob service must be provided")
	}
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	return &UploadHandler{svc: svc, baseURL: baseURL, timeout: timeout}, nil
}

// blobView decorates a blob row with its resolved URL for disk-tier rows.
type blobView struct {
	models.MediaBlob
	URL string `json:"url,omitempty"`
}

func (h *UploadHandler) view(row models.MediaBlob) blobView {
	return blobView{MediaBlob: row.WithoutData(), URL: row.ResolveURL(h.baseURL)}
}

// Create ingests a multipart upload: a required `file` part plus optional
// `metadata` (JSON object), `mime` and `sha256` fields. One-shot requests
// must not hang, so the whole ingest runs under a deadline.
func (h *UploadHandler) Create(c *gin.Context) {
	caller, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		if errors.As(err, new(*http.MaxBytesError)) {
			response.Error(c, apperrors.ErrPayloadTooLarge)
			return
		}
		response.Error(c, apperrors.NewValidation("multipart file part is required"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, apperrors.ErrStorage.WithInternal(err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(c, apperrors.ErrStorage.WithInternal(err))
		return
	}

	var metadata map[string]any
	if raw := strings.TrimSpace(c.PostForm("metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			response.Error(c, apperrors.NewValidation("metadata must be a JSON object"))
			return
		}
	}

	mime := strings.TrimSpace(c.PostForm("mime"))
	if mime == "" {
		mime = fileHeader.Header.Get("Content-Type")
	}

	ctx, cancel := context.WithTimeout(requestContext(c), h.timeout)
	defer cancel()

	row, created, err := h.svc.Ingest(ctx, blob.IngestInput{
		Data:           data,
		DeclaredMime:   mime,
		DeclaredSHA256: c.PostForm("sha256"),
		Filename:       fileHeader.Filename,
		Metadata:       metadata,
		Caller:         caller,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, h.view(*row))
}

// Get returns one blob's metadata without payload bytes.
func (h *UploadHandler) Get(c *gin.Context) {
	row, err := h.svc.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.view(*row))
}

// List returns a metadata page plus the total count.
func (h *UploadHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	rows, total, err := h.svc.List(requestContext(c), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	views := make([]blobView, 0, len(rows))
	for _, row := range rows {
		views = append(views, h.view(row))
	}
	response.SuccessWithMeta(c, http.StatusOK, views, &response.Meta{
		Limit:  limit,
		Offset: offset,
		Total:  total,
	})
}

// Delete removes a blob row and any disk-tier file.
func (h *UploadHandler) Delete(c *gin.Context) {
	caller, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	if err := h.svc.Delete(requestContext(c), c.Param("id"), caller); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// Stats summarises the stored corpus.
func (h *UploadHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}
