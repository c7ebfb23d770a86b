package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castroom/backend/internal/session"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// ConnectionCountHandler is called when the number of open connections changes.
type ConnectionCountHandler func(count int)

// Hub tracks open connections and the single room each one occupies.
// Room broadcasts go to local members and, when Redis is configured, to the
// members other instances hold for the same room.
type Hub struct {
	clients  map[string]*Client
	rooms    map[session.RoomID]map[string]*Client
	memberOf map[string]session.RoomID
	subs     map[session.RoomID]func() // cancel Redis subscription per room
	mu       sync.RWMutex

	logger     *zap.Logger
	redis      RedisPublisher
	redisSub   RedisSubscriber
	instanceID string
	onCount    ConnectionCountHandler
}

// RoomMessage is a room broadcast relayed between instances.
type RoomMessage struct {
	Origin string          `json:"origin"`
	Except string          `json:"except,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	At     int64           `json:"at"`
}

// RedisPublisher publishes room broadcasts for other instances.
type RedisPublisher interface {
	PublishRoomEvent(room session.RoomID, msg RoomMessage) error
}

// RedisSubscriber subscribes to room channels and invokes handler for incoming messages.
type RedisSubscriber interface {
	SubscribeRoom(room session.RoomID, handler func(msg RoomMessage)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a
// single-instance deployment.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[session.RoomID]map[string]*Client),
		memberOf:   make(map[string]session.RoomID),
		subs:       make(map[session.RoomID]func()),
		logger:     logger,
		redis:      redisPub,
		redisSub:   redisSub,
		instanceID: uuid.New().String(),
	}
}

// SetConnectionCountHandler sets the callback for connection count changes.
func (h *Hub) SetConnectionCountHandler(fn ConnectionCountHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCount = fn
}

// Register adds a connection that is not yet in any room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	count := len(h.clients)
	onCount := h.onCount
	h.mu.Unlock()
	if onCount != nil {
		onCount(count)
	}
	h.logger.Debug("client connected", zap.String("conn_id", c.ID))
}

// Unregister removes a connection and its room membership.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	h.leaveLocked(c.ID)
	delete(h.clients, c.ID)
	count := len(h.clients)
	onCount := h.onCount
	h.mu.Unlock()
	if onCount != nil {
		onCount(count)
	}
	h.logger.Debug("client disconnected", zap.String("conn_id", c.ID))
}

// Join moves connID into room, leaving any room it was in. Starts the Redis
// subscription for room on its first local member.
func (h *Hub) Join(connID string, room session.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	if cur, ok := h.memberOf[connID]; ok {
		if cur == room {
			return
		}
		h.leaveLocked(connID)
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeRoom(room, func(msg RoomMessage) {
				h.deliverRemote(room, msg)
			})
			if err == nil {
				h.subs[room] = cancel
			} else {
				h.logger.Warn("redis subscribe failed", zap.String("room_id", string(room)), zap.Error(err))
			}
		}
	}
	h.rooms[room][connID] = c
	h.memberOf[connID] = room
	h.logger.Debug("client joined room", zap.String("conn_id", connID), zap.String("room_id", string(room)))
}

// Leave removes connID from its room, if any.
func (h *Hub) Leave(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID)
}

// leaveLocked cancels the Redis subscription when the last local member leaves.
func (h *Hub) leaveLocked(connID string) {
	room, ok := h.memberOf[connID]
	if !ok {
		return
	}
	delete(h.memberOf, connID)
	if m, ok := h.rooms[room]; ok {
		delete(m, connID)
		if len(m) == 0 {
			delete(h.rooms, room)
			if cancel, ok := h.subs[room]; ok {
				cancel()
				delete(h.subs, room)
			}
		}
	}
	h.logger.Debug("client left room", zap.String("conn_id", connID), zap.String("room_id", string(room)))
}

// RoomOf returns the room connID occupies.
func (h *Hub) RoomOf(connID string) (session.RoomID, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.memberOf[connID]
	return room, ok
}

// MemberCount returns the number of local connections in room.
func (h *Hub) MemberCount(room session.RoomID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendTo sends a message to a single connection.
func (h *Hub) SendTo(connID, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Error("encode message", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.enqueue(WSMessage{Event: event, Data: data})
}

// BroadcastExcept sends to every member of room except exceptConnID, here and
// on other instances.
func (h *Hub) BroadcastExcept(room session.RoomID, exceptConnID, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Error("encode message", zap.String("event", event), zap.Error(err))
		return
	}
	h.broadcastLocal(room, exceptConnID, WSMessage{Event: event, Data: data})
	if h.redis != nil {
		msg := RoomMessage{
			Origin: h.instanceID,
			Except: exceptConnID,
			Event:  event,
			Data:   data,
			At:     time.Now().UnixMilli(),
		}
		if err := h.redis.PublishRoomEvent(room, msg); err != nil {
			h.logger.Warn("redis publish failed", zap.String("room_id", string(room)), zap.Error(err))
		}
	}
}

func (h *Hub) deliverRemote(room session.RoomID, msg RoomMessage) {
	if msg.Origin == h.instanceID {
		return
	}
	h.broadcastLocal(room, msg.Except, WSMessage{Event: msg.Event, Data: msg.Data})
}

func (h *Hub) broadcastLocal(room session.RoomID, except string, msg WSMessage) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for id, c := range h.rooms[room] {
		if id != except {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range members {
		c.enqueue(msg)
	}
}

// Shutdown cancels every Redis subscription.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, cancel := range h.subs {
		cancel()
		delete(h.subs, room)
	}
}

func encode(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
