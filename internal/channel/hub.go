package channel

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blobworks/mediavault/pkg/logger"
	"github.com/blobworks/mediavault/pkg/metrics"
)

// Hub tracks every live channel connection. Registration, the welcome
// message, and the connection-status broadcast happen under one lock so the
// announced user count is always consistent with the registry.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*connection
	log   *zap.Logger
}

// NewHub constructs an empty connection registry.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*connection),
		log:   logger.WithModule("channel"),
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast enqueues an envelope on every live connection.
func (h *Hub) Broadcast(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.enqueue(env)
	}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.id = "conn_" + uuid.NewString()
	h.conns[c.id] = c
	count := len(h.conns)
	metrics.ChannelConnections.Set(float64(count))

	welcome, err := NewEnvelope(KindWelcome, "", WelcomePayload{
		ConnectionID: c.id,
		UserCount:    count,
		Message:      "connected",
	})
	if err == nil {
		c.enqueue(welcome)
	}

	h.broadcastStatusLocked(true, count)
	h.log.Info("connection registered",
		zap.String("connection_id", c.id),
		zap.String("subject", c.caller.SubjectID),
		zap.Int("user_count", count),
	)
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return
	}
	delete(h.conns, c.id)
	count := len(h.conns)
	metrics.ChannelConnections.Set(float64(count))

	h.broadcastStatusLocked(false, count)
	h.log.Info("connection closed",
		zap.String("connection_id", c.id),
		zap.Int("user_count", count),
	)
}

func (h *Hub) broadcastStatusLocked(connected bool, count int) {
	status, err := NewEnvelope(KindConnectionStatus, "", ConnectionStatusPayload{
		Connected: connected,
		UserCount: count,
	})
	if err != nil {
		return
	}
	for _, peer := range h.conns {
		peer.enqueue(status)
	}
}
