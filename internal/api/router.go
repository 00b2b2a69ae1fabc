package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/blobworks/mediavault/internal/app"
	"github.com/blobworks/mediavault/internal/blob"
	"github.com/blobworks/mediavault/internal/channel"
	"github.com/blobworks/mediavault/internal/handlers"
	"github.com/blobworks/mediavault/internal/identity"
	"github.com/blobworks/mediavault/internal/middleware"
)

// NewRouter builds the Gin engine, wires middleware and registers all routes:
// the bounded upload surface, the persistent channel, health and metrics.
func NewRouter(db *gorm.DB, blobs *blob.Service, verifier identity.Verifier, cfg *app.Config) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob service must be provided")
	}
	if verifier == nil {
		return nil, fmt.Errorf("token verifier must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	r.GET("/health", handlers.Health(db))

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// Disk-tier blobs are fetched directly by URL rather than through the
	// channel. Only path-style base URLs are served locally; an absolute
	// base URL means a CDN or separate file host fronts the upload dir.
	if cfg.Storage.UploadDir != "" && strings.HasPrefix(cfg.Server.BaseURL, "/") {
		r.Static(cfg.Server.BaseURL, cfg.Storage.UploadDir)
	}

	uploadHandler, err := handlers.NewUploadHandler(blobs, cfg.Server.BaseURL, cfg.Server.UploadTimeout)
	if err != nil {
		return nil, err
	}

	channelHandler := channel.NewHandler(channel.NewHub(), blobs, channel.Options{
		SendBuffer:      cfg.Channel.SendBuffer,
		MaxMessageBytes: cfg.Channel.MaxMessageBytes,
	})

	requireAuth := middleware.Auth(verifier)

	api := r.Group("/api")
	api.Use(requireAuth)

	api.GET("/channel", channelHandler.Serve)

	uploads := api.Group("/uploads")
	{
		uploads.POST("", middleware.RequireAdmin(), limitBody(cfg.Storage.DiskMaxBytes), uploadHandler.Create)
		uploads.GET("", uploadHandler.List)
		uploads.GET("/:id", uploadHandler.Get)
		uploads.DELETE("/:id", middleware.RequireAdmin(), uploadHandler.Delete)
	}

	api.GET("/blobs/stats", uploadHandler.Stats)

	return r, nil
}

// limitBody caps the request body so an oversized upload fails while being
// read instead of buffering without bound. Slack covers multipart framing.
func limitBody(maxBytes int64) gin.HandlerFunc {
	const framingSlack = 1 << 20
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request != nil && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+framingSlack)
		}
		c.Next()
	}
}
