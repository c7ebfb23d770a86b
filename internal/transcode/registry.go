package transcode

import (
	"sync"

	"github.com/castroom/backend/internal/session"
)

// Registry holds the current job per room (thread-safe). It does not start or
// stop processes; callers pair it with a Supervisor.
type Registry struct {
	mu   sync.RWMutex
	jobs map[session.RoomID]*Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[session.RoomID]*Job)}
}

// Get returns the current job for room.
func (r *Registry) Get(room session.RoomID) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[room]
	return j, ok
}

// Swap installs job as the room's current job and returns the one it replaced.
// A nil job clears the entry.
func (r *Registry) Swap(room session.RoomID, job *Job) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.jobs[room]
	if job == nil {
		delete(r.jobs, room)
	} else {
		r.jobs[room] = job
	}
	return prev
}

// Remove deletes and returns the room's current job.
func (r *Registry) Remove(room session.RoomID) *Job {
	return r.Swap(room, nil)
}

// CompareAndRemove removes the room's entry only if it is still job.
func (r *Registry) CompareAndRemove(room session.RoomID, job *Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.jobs[room]; ok && cur == job {
		delete(r.jobs, room)
		return true
	}
	return false
}

// Len returns the number of rooms with a job.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Snapshot returns every registered job.
func (r *Registry) Snapshot() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}
