package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/castroom/backend/internal/casting"
	"github.com/castroom/backend/internal/session"
)

var _ casting.Broadcaster = (*Hub)(nil)

func newTestClient(h *Hub, id string) *Client {
	c := &Client{ID: id, hub: h, send: make(chan WSMessage, 16), done: make(chan struct{}), logger: zap.NewNop()}
	h.Register(c)
	return c
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

// memBus is an in-process stand-in for Redis pub/sub.
type memBus struct {
	mu   sync.Mutex
	next int
	subs map[session.RoomID]map[int]func(RoomMessage)
}

func newMemBus() *memBus {
	return &memBus{subs: make(map[session.RoomID]map[int]func(RoomMessage))}
}

func (b *memBus) PublishRoomEvent(room session.RoomID, msg RoomMessage) error {
	b.mu.Lock()
	var handlers []func(RoomMessage)
	for _, h := range b.subs[room] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b *memBus) SubscribeRoom(room session.RoomID, handler func(RoomMessage)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[room] == nil {
		b.subs[room] = make(map[int]func(RoomMessage))
	}
	id := b.next
	b.next++
	b.subs[room][id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[room], id)
	}, nil
}

func (b *memBus) subscribers(room session.RoomID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[room])
}

func TestHub_JoinIsSingleRoom(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, nil)
	newTestClient(h, "a")

	h.Join("a", "room_1")
	h.Join("a", "room_2")

	room, ok := h.RoomOf("a")
	require.True(t, ok)
	assert.Equal(t, session.RoomID("room_2"), room)
	assert.Equal(t, 0, h.MemberCount("room_1"))
	assert.Equal(t, 1, h.MemberCount("room_2"))

	h.Join("ghost", "room_1")
	_, ok = h.RoomOf("ghost")
	assert.False(t, ok, "unregistered connections cannot join")

	h.Leave("a")
	_, ok = h.RoomOf("a")
	assert.False(t, ok)
}

func TestHub_BroadcastExceptAndSendTo(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, nil)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	c := newTestClient(h, "c")
	h.Join("a", "room_1")
	h.Join("b", "room_1")
	h.Join("c", "room_2")

	h.BroadcastExcept("room_1", "a", "seek", map[string]float64{"targetTime": 3})
	h.SendTo("c", "pong", nil)
	h.SendTo("nobody", "pong", nil)

	assert.Empty(t, drain(a))
	got := drain(b)
	require.Len(t, got, 1)
	assert.Equal(t, "seek", got[0].Event)
	assert.JSONEq(t, `{"targetTime":3}`, string(got[0].Data))

	gotC := drain(c)
	require.Len(t, gotC, 1)
	assert.Equal(t, "pong", gotC[0].Event)
}

func TestHub_UnregisterCountsAndLeaves(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, nil)
	var counts []int
	h.SetConnectionCountHandler(func(n int) { counts = append(counts, n) })

	a := newTestClient(h, "a")
	newTestClient(h, "b")
	h.Join("a", "room_1")
	h.Unregister(a)

	assert.Equal(t, []int{1, 2, 1}, counts)
	assert.Equal(t, 0, h.MemberCount("room_1"))
	assert.Equal(t, 1, h.ConnectionCount())
}

func TestHub_RelaysAcrossInstances(t *testing.T) {
	bus := newMemBus()
	h1 := NewHub(zap.NewNop(), bus, bus)
	h2 := NewHub(zap.NewNop(), bus, bus)

	caster := newTestClient(h1, "caster")
	local := newTestClient(h1, "local")
	remote := newTestClient(h2, "remote")
	h1.Join("caster", "room_1")
	h1.Join("local", "room_1")
	h2.Join("remote", "room_1")
	assert.Equal(t, 2, bus.subscribers("room_1"), "one subscription per instance")

	h1.BroadcastExcept("room_1", "caster", "seek", map[string]int{"targetTime": 42})

	assert.Empty(t, drain(caster))
	assert.Len(t, drain(local), 1, "origin instance does not deliver twice")
	got := drain(remote)
	require.Len(t, got, 1)
	assert.Equal(t, "seek", got[0].Event)

	h2.Leave("remote")
	assert.Equal(t, 1, bus.subscribers("room_1"), "last local member cancels the subscription")
	h1.Shutdown()
	assert.Equal(t, 0, bus.subscribers("room_1"))
}
