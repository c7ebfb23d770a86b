package casting

import (
	"sync"

	"github.com/castroom/backend/internal/session"
)

// roomLocks hands out one mutex per room. Entries are dropped once nobody holds
// or waits for them.
type roomLocks struct {
	mu    sync.Mutex
	rooms map[session.RoomID]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{rooms: make(map[session.RoomID]*roomLock)}
}

// lock acquires room's mutex and returns its release func.
func (l *roomLocks) lock(room session.RoomID) func() {
	l.mu.Lock()
	rl := l.rooms[room]
	if rl == nil {
		rl = &roomLock{}
		l.rooms[room] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.rooms, room)
		}
		l.mu.Unlock()
	}
}

func (l *roomLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rooms)
}
