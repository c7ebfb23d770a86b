package player

import (
	"errors"
	"sync"
	"time"
)

// ErrNotLoaded is returned when seeking before any media is loaded.
var ErrNotLoaded = errors.New("no media loaded")

// SimulatedMedia is a media clock without a decoder. Position advances with
// wall time while playing.
type SimulatedMedia struct {
	mu      sync.Mutex
	now     func() time.Time
	src     string
	loaded  bool
	playing bool
	pos     float64
	anchor  time.Time
}

// NewSimulatedMedia returns an empty, paused media clock. A nil now uses time.Now.
func NewSimulatedMedia(now func() time.Time) *SimulatedMedia {
	if now == nil {
		now = time.Now
	}
	return &SimulatedMedia{now: now}
}

// Load replaces the source and rewinds to zero, paused.
func (m *SimulatedMedia) Load(src string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.src = src
	m.loaded = src != ""
	m.playing = false
	m.pos = 0
	m.anchor = m.now()
}

// Unload drops the source.
func (m *SimulatedMedia) Unload() { m.Load("") }

// Source returns the loaded locator.
func (m *SimulatedMedia) Source() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.src
}

// CurrentTime implements timesync.MediaElement.
func (m *SimulatedMedia) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positionLocked()
}

func (m *SimulatedMedia) positionLocked() float64 {
	if !m.playing {
		return m.pos
	}
	return m.pos + m.now().Sub(m.anchor).Seconds()
}

// SetCurrentTime implements timesync.MediaElement.
func (m *SimulatedMedia) SetCurrentTime(t float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return ErrNotLoaded
	}
	if t < 0 {
		t = 0
	}
	m.pos = t
	m.anchor = m.now()
	return nil
}

// SetPlaying starts or pauses the clock, keeping the current position.
func (m *SimulatedMedia) SetPlaying(playing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if playing == m.playing {
		return
	}
	m.pos = m.positionLocked()
	m.anchor = m.now()
	m.playing = playing && m.loaded
}

// Playing reports whether the clock is running.
func (m *SimulatedMedia) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}
