package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/castroom/backend/internal/casting"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
)

type wsMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn connects a Player to a casting server.
type Conn struct {
	URL       string
	SessionID string
	Player    *Player
	Logger    *zap.Logger
	// OnState, if set, receives the state after each applied event.
	OnState func(State)
}

// Run dials the server, joins the session and applies events until ctx is
// done or the connection drops.
func (c *Conn) Run(ctx context.Context) error {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.SessionID == "" {
		return errors.New("session id required")
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.URL, err)
	}
	defer ws.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = ws.Close()
		case <-stop:
		}
	}()

	join, err := json.Marshal(c.SessionID)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(wsMessage{Event: casting.EventJoinRoom, Data: join}); err != nil {
		return fmt.Errorf("join %s: %w", c.SessionID, err)
	}
	logger.Info("joined session", zap.String("session_id", c.SessionID))

	for {
		var msg wsMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := c.Player.Handle(msg.Event, msg.Data); err != nil {
			logger.Warn("bad event", zap.String("event", msg.Event), zap.Error(err))
			continue
		}
		if c.OnState != nil {
			c.OnState(c.Player.State())
		}
	}
}
