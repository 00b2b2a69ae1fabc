package channel

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/blobworks/mediavault/internal/blob"
	"github.com/blobworks/mediavault/internal/middleware"
	apperrors "github.com/blobworks/mediavault/pkg/errors"
	"github.com/blobworks/mediavault/pkg/logger"
	"github.com/blobworks/mediavault/pkg/metrics"
	"github.com/blobworks/mediavault/pkg/response"
	"github.com/blobworks/mediavault/pkg/validator"
)

// Options tune per-connection buffering.
type Options struct {
	SendBuffer      int
	MaxMessageBytes int64
}

// Handler upgrades HTTP requests onto the persistent channel and dispatches
// parsed envelopes to the blob service. Message-level failures are answered
// with an error envelope; only transport failures close the connection.
type Handler struct {
	hub      *Hub
	svc      *blob.Service
	opts     Options
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler constructs the channel endpoint.
func NewHandler(hub *Hub, svc *blob.Service, opts Options) *Handler {
	return &Handler{
		hub:  hub,
		svc:  svc,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				return originHost == hostWithoutPort(r.Host) || isLoopback(originHost)
			},
		},
		log: logger.WithModule("channel"),
	}
}

// Serve is the gin endpoint for the channel route. Identity must already be
// on the request context.
func (h *Handler) Serve(c *gin.Context) {
	caller, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	socket, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	conn := newConnection(h.hub, socket, caller, h.opts.SendBuffer, h.opts.MaxMessageBytes, h.dispatch)
	h.hub.register(conn)

	go conn.writeLoop()
	conn.readLoop()
}

func (h *Handler) dispatch(ctx context.Context, c *connection, env Envelope) {
	result := "ok"
	defer func() {
		metrics.ChannelMessages.WithLabelValues(string(env.Kind), result).Inc()
	}()

	switch env.Kind {
	case KindPing:
		h.reply(c, KindPong, env.CorrelationID, nil)

	case KindListBlobs:
		var req ListBlobsRequest
		if len(env.Data) > 0 {
			if err := decodeRequest(env, &req); err != nil {
				result = "error"
				c.sendError(env.CorrelationID, err.Error(), apperrors.ErrValidation.Code)
				return
			}
		}
		items, total, err := h.svc.List(ctx, req.Limit, req.Offset)
		if err != nil {
			result = "error"
			h.replyError(c, env.CorrelationID, err)
			return
		}
		h.reply(c, KindBlobList, env.CorrelationID, BlobListPayload{Items: items, TotalCount: total})

	case KindGetBlob:
		var req GetBlobRequest
		if err := decodeRequest(env, &req); err != nil {
			result = "error"
			c.sendError(env.CorrelationID, err.Error(), apperrors.ErrValidation.Code)
			return
		}
		row, err := h.svc.Get(ctx, req.ID)
		if err != nil {
			result = "error"
			h.replyError(c, env.CorrelationID, err)
			return
		}
		h.reply(c, KindBlob, env.CorrelationID, row.WithoutData())

	case KindGetBlobData:
		var req GetBlobDataRequest
		if err := decodeRequest(env, &req); err != nil {
			result = "error"
			c.sendError(env.CorrelationID, err.Error(), apperrors.ErrValidation.Code)
			return
		}
		row, err := h.svc.GetData(ctx, req.ID)
		if err != nil {
			result = "error"
			h.replyError(c, env.CorrelationID, err)
			return
		}
		h.reply(c, KindBlobData, env.CorrelationID, BlobDataPayload{
			ID:   row.ID,
			Data: row.Data,
			Mime: row.Mime,
			Size: row.Size,
		})

	case KindUploadBlob:
		var req UploadBlobRequest
		if err := decodeRequest(env, &req); err != nil {
			result = "error"
			c.sendError(env.CorrelationID, err.Error(), apperrors.ErrValidation.Code)
			return
		}
		// The channel carries inline-tier payloads only; anything at or over
		// the threshold must go through the bounded upload endpoint.
		if int64(len(req.Data)) >= h.svc.InlineMaxBytes() {
			result = "error"
			c.sendError(env.CorrelationID,
				"payload too large for the channel, use the upload endpoint",
				apperrors.ErrValidation.Code)
			return
		}
		row, _, err := h.svc.Ingest(ctx, blob.IngestInput{
			Data:           req.Data,
			DeclaredMime:   req.Mime,
			DeclaredSHA256: req.SHA256,
			Filename:       req.Filename,
			Metadata:       req.Metadata,
			SourceClientID: c.id,
			Caller:         c.caller,
		})
		if err != nil {
			result = "error"
			h.replyError(c, env.CorrelationID, err)
			return
		}
		h.reply(c, KindBlob, env.CorrelationID, row.WithoutData())

	default:
		result = "error"
		c.sendError(env.CorrelationID, "unsupported message kind", apperrors.ErrValidation.Code)
	}
}

// decodeRequest unmarshals and validates a request payload in one step.
func decodeRequest(env Envelope, v any) error {
	if err := env.DecodePayload(v); err != nil {
		return err
	}
	return validator.ValidateStruct(v)
}

func (h *Handler) reply(c *connection, kind Kind, correlationID string, payload any) {
	env, err := NewEnvelope(kind, correlationID, payload)
	if err != nil {
		h.log.Error("encode reply", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	c.enqueue(env)
}

func (h *Handler) replyError(c *connection, correlationID string, err error) {
	appErr := apperrors.FromError(err)
	c.sendError(correlationID, appErr.Message, appErr.Code)
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		if req, err := http.NewRequest(http.MethodGet, host, nil); err == nil {
			return hostWithoutPort(req.URL.Host)
		}
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
