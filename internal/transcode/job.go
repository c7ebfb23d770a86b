package transcode

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/castroom/backend/internal/session"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusFailed   Status = "failed"
	// StatusFinished means ffmpeg exited cleanly after encoding the whole input.
	// The output stays on disk until the job is stopped.
	StatusFinished Status = "finished"
)

// Job is one supervised transcode (or an image pass-through) owned by a room.
type Job struct {
	ID        string
	RoomID    session.RoomID
	Kind      session.MediaType
	InputPath string
	OutputDir string // empty for pass-through jobs
	PublicURL string
	StartedAt time.Time

	mu       sync.Mutex
	status   Status
	cmd      *exec.Cmd
	done     chan struct{} // closed when the process has exited
	stopping bool
	removed  bool
	stderr   *tailWriter
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Alive reports whether the job still has a process producing output.
func (j *Job) Alive() bool {
	s := j.Status()
	return s == StatusStarting || s == StatusRunning
}

// Done is closed once the underlying process has exited. Pass-through jobs
// return nil.
func (j *Job) Done() <-chan struct{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done == nil {
		return nil
	}
	return j.done
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

// StartError is returned when a transcode could not be launched.
type StartError struct {
	RoomID session.RoomID
	Input  string
	Err    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start transcode for %s (%s): %v", e.RoomID, e.Input, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// ExitError describes a transcode process that died on its own.
type ExitError struct {
	JobID  string
	Err    error
	Stderr string // last lines ffmpeg wrote
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("transcode %s exited: %v: %s", e.JobID, e.Err, e.Stderr)
	}
	return fmt.Sprintf("transcode %s exited: %v", e.JobID, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailWriter(max int) *tailWriter {
	return &tailWriter{max: max}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.max; over > 0 {
		w.buf = w.buf[over:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}
