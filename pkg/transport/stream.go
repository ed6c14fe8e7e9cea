// Package transport owns the server side of one streaming call: it drains a
// hub subscription into a websocket until either side goes away.
package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/sherzodv/tim/pkg/hub"
)

type OnCloseHandler func(connID uuid.UUID, err error)

type StreamConfig struct {
	// ReadTimeout bounds peer silence. The stream carries no client-to-server
	// payloads, so liveness is probed with pings at this interval; a peer that
	// does not answer within the interval is dropped. Zero disables probing.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StreamConn is a single, thread-safe streaming connection.
type StreamConn struct {
	id     uuid.UUID
	conn   *websocket.Conn
	sub    *hub.Subscription
	config StreamConfig

	onClose OnCloseHandler

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *slog.Logger
}

func NewStreamConn(parentCtx context.Context, conn *websocket.Conn, sub *hub.Subscription, config StreamConfig, onClose OnCloseHandler, logger *slog.Logger) *StreamConn {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	return &StreamConn{
		id:      id,
		conn:    conn,
		sub:     sub,
		config:  config,
		onClose: onClose,
		done:    make(chan struct{}),
		ctx:     connCtx,
		cancel:  cancel,
		logger:  logger.With(slog.String("connID", id.String())),
	}
}

func (c *StreamConn) Run() {
	go c.readPump()
	go c.writePump()
	if c.config.ReadTimeout > 0 {
		go c.pingLoop()
	}

	c.logger.Info("stream established", slog.Uint64("timiteID", c.sub.TimiteID()))
}

// pingLoop probes the peer at the read-timeout interval. Pongs are consumed by
// the read pump, so an unanswered ping means the peer is gone.
func (c *StreamConn) pingLoop() {
	ticker := time.NewTicker(c.config.ReadTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(c.ctx, c.config.ReadTimeout)
			err := c.conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				c.Close(err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// readPump only watches for the peer closing or failing the connection; the
// subscribe stream carries no client-to-server payloads.
func (c *StreamConn) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		typ, r, err := c.conn.Reader(c.ctx)
		if err != nil {
			readErr = err
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		// Drain and discard anything the peer sends.
		if _, err := io.Copy(io.Discard, r); err != nil {
			readErr = err
			return
		}
	}
}

// writePump pumps events from the subscription queue to the websocket.
func (c *StreamConn) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case e := <-c.sub.Events():
			payload, err := json.Marshal(&e)
			if err != nil {
				writeErr = err
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(c.ctx, c.config.WriteTimeout)
			err = c.conn.Write(writeCtx, websocket.MessageText, payload)
			cancelWrite()
			if err != nil {
				writeErr = err
				return
			}
		case <-c.sub.Done():
			c.conn.Close(websocket.StatusNormalClosure, "subscription ended")
			return
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusNormalClosure, "request cancelled")
			return
		}
	}
}

// Close gracefully shuts down the connection and its resources.
func (c *StreamConn) Close(err error) {
	c.closeOnce.Do(func() {
		status := websocket.CloseStatus(err)
		c.logger.Info("Stream connection closing", slog.Any("reason", err), slog.String("status", status.String()))

		c.cancel()
		c.conn.Close(websocket.StatusNormalClosure, "")
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		close(c.done)
	})
}

// Done returns a channel that is closed when the connection is fully
// terminated.
func (c *StreamConn) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *StreamConn) ID() uuid.UUID {
	return c.id
}
