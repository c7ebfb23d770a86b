// Package player is a headless room member: it mirrors the caster's state and
// keeps a local media clock in sync with it.
package player

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/castroom/backend/internal/casting"
	"github.com/castroom/backend/internal/session"
	"github.com/castroom/backend/internal/timesync"
)

// Status is what a viewer would see.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
)

// State is the player's mirror of its room.
type State struct {
	Status     Status
	RoomID     session.RoomID
	CasterID   string
	Playlist   []session.MediaItem
	Index      int
	Item       *session.MediaItem
	Volume     float64
	Autoplay   bool
	IsSeeking  bool
	LastSync   timesync.Result
	SyncErrors int
}

// Player applies server events to a media clock.
type Player struct {
	media     *SimulatedMedia
	estimator *timesync.Estimator
	logger    *zap.Logger

	mu    sync.Mutex
	state State
}

// New creates a player in the waiting state.
func New(media *SimulatedMedia, estimator *timesync.Estimator, logger *zap.Logger) *Player {
	if estimator == nil {
		estimator = timesync.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Player{
		media:     media,
		estimator: estimator,
		logger:    logger,
		state:     State{Status: StatusWaiting, Volume: 1},
	}
}

// State returns a copy of the current state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	s.Playlist = append([]session.MediaItem(nil), p.state.Playlist...)
	if p.state.Item != nil {
		item := *p.state.Item
		s.Item = &item
	}
	return s
}

// Media returns the player's media clock.
func (p *Player) Media() *SimulatedMedia { return p.media }

// Handle applies one server event. Unknown events are ignored.
func (p *Player) Handle(event string, data json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch event {
	case casting.EventCastingState:
		return p.onCastingState(data)
	case casting.EventMediaChange:
		var m casting.MediaChanged
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		p.state.Index = m.Index
		p.load(m.Item, 0, m.IsPlaying)
	case casting.EventPlaybackState:
		var m casting.PlaybackState
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		if m.CurrentTime != nil {
			p.sync(timesync.Update{ReportedTime: *m.CurrentTime, ServerTimestamp: m.Timestamp})
		}
		p.setPlaying(m.IsPlaying)
	case casting.EventTimeUpdate:
		var m casting.TimeUpdate
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		p.sync(timesync.Update{ReportedTime: m.CurrentTime, ServerTimestamp: m.Timestamp, IsSeeking: m.IsSeeking})
	case casting.EventSeek:
		var m casting.Seek
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		p.state.IsSeeking = true
		p.sync(timesync.Update{ReportedTime: m.TargetTime, ServerTimestamp: m.Timestamp, IsSeeking: true})
	case casting.EventSeekComplete:
		var m casting.SeekComplete
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		p.state.IsSeeking = false
		p.sync(timesync.Update{ReportedTime: m.CurrentTime, ServerTimestamp: m.Timestamp})
	case casting.EventVolumeChange:
		var m casting.VolumeChange
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		p.state.Volume = m.Volume
	case casting.EventAutoplayChange:
		var m casting.AutoplayChange
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		p.state.Autoplay = m.Autoplay
	case casting.EventPlaylistUpdate:
		var m casting.PlaylistUpdate
		if err := unmarshal(event, data, &m); err != nil {
			return err
		}
		p.state.Playlist = m.Playlist
		p.state.Index = m.CurrentIndex
	}
	return nil
}

func (p *Player) onCastingState(data json.RawMessage) error {
	var m casting.CastingState
	if err := unmarshal(casting.EventCastingState, data, &m); err != nil {
		return err
	}
	if !m.IsCasting {
		p.media.Unload()
		p.state = State{Status: StatusWaiting, RoomID: m.RoomID, Volume: 1}
		return nil
	}
	p.state.RoomID = m.RoomID
	p.state.CasterID = m.CasterID
	p.state.Playlist = m.Playlist
	p.state.Index = m.CurrentIdx
	p.state.Volume = m.Volume
	p.state.Autoplay = m.Autoplay
	p.state.IsSeeking = m.IsSeeking

	p.load(m.CurrentItem, 0, false)
	if p.state.Item == nil || p.state.Status == StatusError {
		return nil
	}
	if !m.IsPlaying {
		// a paused caster's position does not advance in transit
		p.seek(m.CurrentTime)
		p.setPlaying(false)
		return nil
	}
	// the stored position was sampled at the last time update, not now
	ts := m.LastTimeUpdate
	if ts == 0 {
		ts = m.Timestamp
	}
	p.sync(timesync.Update{ReportedTime: m.CurrentTime, ServerTimestamp: ts, IsSeeking: true})
	p.setPlaying(true)
	return nil
}

// load switches to item. Items without a locator put the player in error.
func (p *Player) load(item *session.MediaItem, at float64, playing bool) {
	if item == nil {
		p.media.Unload()
		p.state.Item = nil
		p.state.Status = StatusWaiting
		return
	}
	c := *item
	p.state.Item = &c
	src := c.StreamURL
	if src == "" {
		src = c.Path
	}
	if src == "" {
		p.media.Unload()
		p.state.Status = StatusError
		p.logger.Warn("media item has no source", zap.String("item_id", c.ID))
		return
	}
	p.media.Load(src)
	_ = p.media.SetCurrentTime(at)
	p.setPlaying(playing)
}

func (p *Player) setPlaying(playing bool) {
	if p.state.Item == nil || p.state.Status == StatusError {
		return
	}
	p.media.SetPlaying(playing)
	if playing {
		p.state.Status = StatusPlaying
	} else {
		p.state.Status = StatusPaused
	}
}

// sync runs the estimator. Failures are counted and playback continues.
func (p *Player) sync(u timesync.Update) {
	res := p.estimator.Apply(p.media, u)
	p.state.LastSync = res
	if res.Err != nil {
		p.state.SyncErrors++
		p.logger.Debug("sync error", zap.Error(res.Err))
		return
	}
	if res.Corrected {
		p.logger.Debug("position corrected",
			zap.Float64("adjusted", res.AdjustedTime),
			zap.Float64("drift", res.Drift),
			zap.Duration("delay", res.NetworkDelay))
	}
}

// seek sets the position as reported, without delay compensation.
func (p *Player) seek(target float64) {
	p.state.LastSync = timesync.Result{AdjustedTime: target, Corrected: true}
	if err := timesync.Seek(p.media, target); err != nil {
		p.state.LastSync = timesync.Result{Err: err}
		p.state.SyncErrors++
		p.logger.Debug("sync error", zap.Error(err))
	}
}

func unmarshal(event string, data json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", event, err)
	}
	return nil
}
