package channel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/blobworks/mediavault/internal/identity"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultSendBuffer      = 64
	defaultMaxMessageBytes = 16 << 20 // inline payloads ride the channel
)

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	id     string
	caller identity.Identity

	// send is never closed; the write loop exits through done instead, so a
	// concurrent enqueue can never panic on a closed channel.
	send chan Envelope
	done chan struct{}

	stopOnce sync.Once
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	maxMessageBytes int64
	dispatch        func(ctx context.Context, c *connection, env Envelope)
}

func newConnection(hub *Hub, socket *websocket.Conn, caller identity.Identity, sendBuffer int, maxMessageBytes int64, dispatch func(context.Context, *connection, Envelope)) *connection {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	if maxMessageBytes <= 0 {
		maxMessageBytes = defaultMaxMessageBytes
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		hub:             hub,
		socket:          socket,
		caller:          caller,
		send:            make(chan Envelope, sendBuffer),
		done:            make(chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
		maxMessageBytes: maxMessageBytes,
		dispatch:        dispatch,
	}
}

// enqueue hands an envelope to the write loop. A full buffer means the peer
// stopped draining; the connection is stopped rather than blocking the
// caller. Safe to call while holding the hub lock: it only signals, the
// registry cleanup happens on the connection's own goroutines.
func (c *connection) enqueue(env Envelope) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- env:
	default:
		c.hub.log.Warn("dropping backpressure connection", zap.String("connection_id", c.id))
		c.stop()
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(c.maxMessageBytes)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("unexpected close", zap.String("connection_id", c.id), zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			// Malformed frames are answered, never fatal.
			c.sendError("", "malformed message", "VALIDATION_FAILED")
			continue
		}

		c.dispatch(c.ctx, c, env)
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.drainAndCloseFrame()
			return
		}
	}
}

// drainAndCloseFrame writes whatever is already buffered, then a close
// frame, so replies queued before the stop still reach the peer.
func (c *connection) drainAndCloseFrame() {
	for {
		select {
		case env := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(env); err != nil {
				return
			}
		default:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *connection) sendError(correlationID, message, code string) {
	env, err := NewEnvelope(KindError, correlationID, ErrorPayload{Message: message, Code: code})
	if err != nil {
		return
	}
	c.enqueue(env)
}

// stop signals shutdown without touching the hub registry, so it is safe
// from any goroutine, including one already holding the hub lock.
func (c *connection) stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		close(c.done)
	})
}

// close tears the connection down fully. Called from the read/write loop
// goroutines only, never with the hub lock held.
func (c *connection) close() {
	c.stop()
	c.closeOnce.Do(func() {
		_ = c.socket.Close()
		c.hub.unregister(c)
	})
}
