package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventConnected is the first message on every connection.
const EventConnected = "connected"

const writeWait = 10 * time.Second

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Dispatcher consumes inbound events. The casting router implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, connID, tag string, data json.RawMessage) error
	Disconnect(ctx context.Context, connID string)
}

// ClientOptions bound per-connection resources.
type ClientOptions struct {
	MaxMessageSize int64
	SendBuffer     int
	// AllowedOrigins restricts the Origin header; empty or "*" allows all.
	AllowedOrigins []string
}

// Client represents a single WebSocket connection.
type Client struct {
	ID          string
	ConnectedAt time.Time
	hub         *Hub
	dispatcher  Dispatcher
	conn        *websocket.Conn
	send        chan WSMessage
	done        chan struct{}
	logger      *zap.Logger

	evictOnce sync.Once
	evicted   atomic.Bool
}

func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			for _, o := range allowed {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, dispatcher Dispatcher, opts ClientOptions, logger *zap.Logger) gin.HandlerFunc {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 1 << 20
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	upgrader := newUpgrader(opts.AllowedOrigins)

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:          uuid.New().String(),
			ConnectedAt: time.Now(),
			hub:         hub,
			dispatcher:  dispatcher,
			conn:        conn,
			send:        make(chan WSMessage, opts.SendBuffer),
			done:        make(chan struct{}),
			logger:      logger,
		}
		hub.Register(client)
		hub.SendTo(client.ID, EventConnected, map[string]string{"socketId": client.ID})
		go client.writePump()
		client.readPump(c.Request.Context(), opts.MaxMessageSize)
	}
}

// enqueue never blocks. A client whose buffer is full is evicted instead of
// silently missing the message.
func (c *Client) enqueue(msg WSMessage) {
	if c.evicted.Load() {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.evict(msg.Event)
	}
}

// evict closes the socket. readPump then fails its read and runs the normal
// disconnect path, so room membership is left for Disconnect to clean up.
func (c *Client) evict(event string) {
	c.evictOnce.Do(func() {
		c.evicted.Store(true)
		if c.logger != nil {
			c.logger.Warn("send buffer full, closing connection", zap.String("conn_id", c.ID), zap.String("event", event))
		}
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) readPump(ctx context.Context, maxMessageSize int64) {
	// the request context ends when the handler returns, so disconnect uses its own
	defer func() {
		c.dispatcher.Disconnect(context.Background(), c.ID)
		c.hub.Unregister(c)
		close(c.done)
		_ = c.conn.Close()
		c.logger.Info("websocket session ended",
			zap.String("conn_id", c.ID),
			zap.Duration("duration", time.Since(c.ConnectedAt)),
			zap.Bool("evicted", c.evicted.Load()))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.logger.Debug("malformed message", zap.String("conn_id", c.ID), zap.Error(err))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("websocket closed", zap.String("conn_id", c.ID), zap.Error(err))
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if msg.Event == "" {
			continue
		}
		_ = c.dispatcher.Dispatch(ctx, c.ID, msg.Event, msg.Data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
