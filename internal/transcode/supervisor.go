package transcode

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castroom/backend/internal/session"
)

const (
	// SegmentSeconds is the fixed HLS segment duration.
	SegmentSeconds = 2
	// WindowSegments is how many segments the rolling playlist keeps.
	WindowSegments = 3
	// DefaultRetention is the maximum age of a segment file before it is purged.
	DefaultRetention = time.Hour

	defaultStopTimeout = 5 * time.Second
	playlistName       = "index.m3u8"
	stderrTailBytes    = 512
)

// FailureHandler receives jobs whose process died on its own. It is called once
// per job, from the job's watcher goroutine.
type FailureHandler func(job *Job, err error)

// Options configure a Supervisor.
type Options struct {
	FFmpegPath   string
	OutputDir    string // HLS root; each job writes to <OutputDir>/<room>/<job>
	PublicPrefix string // URL prefix that serves OutputDir, e.g. http://host:5000/hls
	Retention    time.Duration
	StopTimeout  time.Duration
	// ResolveInput maps a media URL to something ffmpeg can open (e.g. a local
	// file). Inputs it reports as not ok are refused with ErrInputNotAllowed.
	// A nil ResolveInput passes inputs through unchanged.
	ResolveInput func(string) (string, bool)
	// Command builds the process for a set of ffmpeg arguments. Tests substitute it.
	Command func(args []string) *exec.Cmd
}

// Supervisor starts and stops HLS transcodes, one ffmpeg process per job.
type Supervisor struct {
	opts Options
	log  *zap.Logger
	now  func() time.Time

	mu        sync.RWMutex
	onFailure FailureHandler
}

// NewSupervisor creates a supervisor writing under opts.OutputDir.
func NewSupervisor(opts Options, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.OutputDir == "" {
		opts.OutputDir = filepath.Join(os.TempDir(), "hls")
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	opts.PublicPrefix = strings.TrimRight(opts.PublicPrefix, "/")
	if opts.Command == nil {
		bin := opts.FFmpegPath
		opts.Command = func(args []string) *exec.Cmd { return exec.Command(bin, args...) }
	}
	return &Supervisor{opts: opts, log: log, now: time.Now}
}

// SetFailureHandler sets the callback for jobs that fail after starting.
func (s *Supervisor) SetFailureHandler(fn FailureHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = fn
}

// OutputRoot returns the HLS root directory.
func (s *Supervisor) OutputRoot() string { return s.opts.OutputDir }

// HLSArgs builds the ffmpeg arguments for a sliding-window HLS encode of input
// into outputDir.
func HLSArgs(input, outputDir string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-protocol_whitelist", "file,http,https,tcp,tls",
		"-re",
		"-i", input,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-maxrate", "2500k",
		"-bufsize", "5000k",
		"-f", "hls",
		"-hls_time", fmt.Sprint(SegmentSeconds),
		"-hls_list_size", fmt.Sprint(WindowSegments),
		"-hls_flags", "delete_segments+append_list",
		"-hls_segment_type", "mpegts",
		"-hls_segment_filename", filepath.Join(outputDir, "segment_%03d.ts"),
		"-start_number", "0",
		"-y",
		filepath.Join(outputDir, playlistName),
	}
}

// Start launches a transcode for input on behalf of roomID. Images are never
// transcoded: they come back as a pass-through job whose PublicURL is the input.
func (s *Supervisor) Start(roomID session.RoomID, input string) (*Job, error) {
	kind, err := MediaTypeOf(input)
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Kind:      kind,
		InputPath: input,
		StartedAt: s.now(),
	}
	if kind == session.MediaImage {
		job.PublicURL = input
		job.status = StatusRunning
		return job, nil
	}
	source := input
	if s.opts.ResolveInput != nil {
		var ok bool
		if source, ok = s.opts.ResolveInput(input); !ok {
			return nil, &StartError{RoomID: roomID, Input: input, Err: ErrInputNotAllowed}
		}
	}

	roomDir := filepath.Join(s.opts.OutputDir, string(roomID))
	job.OutputDir = filepath.Join(roomDir, job.ID)
	job.PublicURL = fmt.Sprintf("%s/%s/%s/%s", s.opts.PublicPrefix, roomID, job.ID, playlistName)
	job.status = StatusStarting

	if err := os.MkdirAll(job.OutputDir, 0o750); err != nil {
		return nil, &StartError{RoomID: roomID, Input: input, Err: fmt.Errorf("create output dir: %w", err)}
	}
	if n, err := PurgeOlderThan(roomDir, s.opts.Retention, s.now()); err != nil {
		s.log.Warn("purge before transcode failed", zap.String("room_id", string(roomID)), zap.Error(err))
	} else if n > 0 {
		s.log.Debug("purged stale segments", zap.String("room_id", string(roomID)), zap.Int("files", n))
	}

	cmd := s.opts.Command(HLSArgs(source, job.OutputDir))
	job.stderr = newTailWriter(stderrTailBytes)
	cmd.Stdout = nil
	cmd.Stderr = job.stderr
	if err := cmd.Start(); err != nil {
		job.setStatus(StatusFailed)
		if rmErr := os.RemoveAll(job.OutputDir); rmErr != nil {
			s.log.Warn("remove output after failed start", zap.String("dir", job.OutputDir), zap.Error(rmErr))
		}
		return nil, &StartError{RoomID: roomID, Input: input, Err: err}
	}

	job.mu.Lock()
	job.cmd = cmd
	job.done = make(chan struct{})
	job.status = StatusRunning
	job.mu.Unlock()

	go s.watch(job)

	s.log.Info("transcode started",
		zap.String("room_id", string(roomID)),
		zap.String("job_id", job.ID),
		zap.String("input", input),
		zap.String("output", job.OutputDir))
	return job, nil
}

// watch waits for the process and classifies how it ended.
func (s *Supervisor) watch(job *Job) {
	err := job.cmd.Wait()

	job.mu.Lock()
	switch {
	case job.stopping:
		job.status = StatusStopped
	case err == nil:
		job.status = StatusFinished
	default:
		job.status = StatusFailed
	}
	status := job.status
	close(job.done)
	job.mu.Unlock()

	switch status {
	case StatusFinished:
		s.log.Info("transcode finished", zap.String("room_id", string(job.RoomID)), zap.String("job_id", job.ID))
	case StatusFailed:
		exitErr := &ExitError{JobID: job.ID, Err: err, Stderr: strings.TrimSpace(job.stderr.String())}
		s.log.Error("transcode failed",
			zap.String("room_id", string(job.RoomID)),
			zap.String("job_id", job.ID),
			zap.Error(exitErr))
		if rmErr := s.removeOutput(job, false); rmErr != nil {
			s.log.Warn("cleanup after failed transcode", zap.String("job_id", job.ID), zap.Error(rmErr))
		}
		s.mu.RLock()
		fn := s.onFailure
		s.mu.RUnlock()
		if fn != nil {
			fn(job, exitErr)
		}
	}
}

// Stop terminates the job's process and removes its output directory. It blocks
// until the process has exited. Stopping a job twice is a no-op.
func (s *Supervisor) Stop(job *Job) error {
	if job == nil {
		return nil
	}
	job.mu.Lock()
	if job.stopping {
		job.mu.Unlock()
		return nil
	}
	job.stopping = true
	cmd, done := job.cmd, job.done
	alive := job.status == StatusRunning || job.status == StatusStarting
	if cmd == nil {
		job.status = StatusStopped
	}
	job.mu.Unlock()

	if cmd != nil && alive && cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
		select {
		case <-done:
		case <-time.After(s.opts.StopTimeout):
			s.log.Warn("transcode did not exit, killing", zap.String("job_id", job.ID))
			_ = cmd.Process.Kill()
			<-done
		}
	}

	err := s.removeOutput(job, true)
	s.log.Info("transcode stopped", zap.String("room_id", string(job.RoomID)), zap.String("job_id", job.ID))
	return err
}

// removeOutput deletes the job directory once. pruneRoom also removes the room
// directory when it is left empty; only callers serialized with Start for the
// same room may prune.
func (s *Supervisor) removeOutput(job *Job, pruneRoom bool) error {
	job.mu.Lock()
	if job.removed || job.OutputDir == "" {
		job.mu.Unlock()
		return nil
	}
	job.removed = true
	job.mu.Unlock()

	if err := os.RemoveAll(job.OutputDir); err != nil {
		return fmt.Errorf("remove output %s: %w", job.OutputDir, err)
	}
	if pruneRoom {
		_ = os.Remove(filepath.Dir(job.OutputDir)) // fails while other jobs' files remain
	}
	return nil
}
