package casting

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/castroom/backend/internal/session"
)

func (r *Router) handleStartCasting(_ context.Context, ev *Event) error {
	var p StartCasting
	if len(ev.Data) > 0 && string(ev.Data) != "null" {
		if err := decode(ev.Data, &p); err != nil {
			return err
		}
	}
	room := session.RoomOf(ev.ConnID)
	if p.SessionID != "" {
		room = session.RoomOf(p.SessionID)
	}
	if cur, ok := session.FindByCaster(r.store, ev.ConnID); ok && cur.RoomID != room {
		r.sendError(ev.ConnID, CodeAlreadyCasting, "already casting in another room")
		return ErrAlreadyCasting
	}

	unlock := r.locks.lock(room)
	defer unlock()

	if prev, ok := r.store.Get(room); ok && prev.CasterID != ev.ConnID {
		r.sendError(ev.ConnID, CodeRoomTaken, "room already has a caster")
		return ErrRoomTaken
	}
	r.hub.Join(ev.ConnID, room)

	sess := session.Session{
		RoomID:        room,
		CasterID:      ev.ConnID,
		IsCasting:     true,
		Playlist:      p.Playlist,
		CurrentIdx:    p.CurrentIndex,
		IsPlaying:     p.IsPlaying,
		CurrentTime:   p.CurrentTime,
		Volume:        1,
		Autoplay:      p.Autoplay,
		LastChangedBy: ev.ConnID,
	}
	if p.Volume != nil {
		sess.Volume = session.ClampVolume(*p.Volume)
	}
	sess.ClampIndex()
	sess.CurrentItem = currentItem(&sess, p.CurrentItem)
	r.attachMedia(&sess, true)

	r.store.Put(sess)
	r.hub.BroadcastExcept(room, ev.ConnID, EventCastingState, r.snapshot(sess))
	r.logger.Info("casting started", zap.String("room_id", string(room)), zap.String("conn_id", ev.ConnID))
	return nil
}

// currentItem copies explicit, or the playlist entry at the session's index,
// without any client-supplied stream URL.
func currentItem(sess *session.Session, explicit *session.MediaItem) *session.MediaItem {
	var item session.MediaItem
	switch {
	case explicit != nil:
		item = *explicit
	default:
		at, ok := sess.ItemAt(sess.CurrentIdx)
		if !ok {
			return nil
		}
		item = at
	}
	item.StreamURL = ""
	return &item
}

func (r *Router) handleStopCasting(_ context.Context, ev *Event) error {
	room, ok := r.hub.RoomOf(ev.ConnID)
	if !ok {
		return ErrNotMember
	}
	unlock := r.locks.lock(room)
	defer unlock()

	sess, ok := r.store.Get(room)
	if !ok || sess.CasterID != ev.ConnID {
		return ErrNotCaster
	}
	r.endSession(room, ev.ConnID)
	return nil
}

func (r *Router) changeMedia(ev *Event, sess *session.Session) (string, interface{}, error) {
	var p ChangeMedia
	if err := decode(ev.Data, &p); err != nil {
		return "", nil, err
	}
	switch {
	case p.Index != nil:
		sess.CurrentIdx = *p.Index
	case p.Item != nil:
		for i, it := range sess.Playlist {
			if it.ID != "" && it.ID == p.Item.ID {
				sess.CurrentIdx = i
				break
			}
		}
	}
	sess.ClampIndex()
	sess.CurrentItem = currentItem(sess, p.Item)
	sess.IsPlaying = p.IsPlaying
	sess.CurrentTime = 0
	sess.IsSeeking = false
	r.attachMedia(sess, false)

	var item *session.MediaItem
	if sess.CurrentItem != nil {
		c := *sess.CurrentItem
		item = &c
	}
	return EventMediaChange, MediaChanged{
		Index:     sess.CurrentIdx,
		Item:      item,
		IsPlaying: sess.IsPlaying,
		Meta:      r.meta(ev.ConnID),
	}, nil
}

func (r *Router) setPlaying(ev *Event, sess *session.Session) (string, interface{}, error) {
	var p setPlaying
	if err := decode(ev.Data, &p); err != nil {
		return "", nil, err
	}
	if p.IsPlaying == nil {
		return "", nil, fmt.Errorf("%w: isPlaying required", ErrBadPayload)
	}
	now := r.nowMillis()
	sess.IsPlaying = *p.IsPlaying
	sess.LastPlaybackChange = now
	sess.PlaybackChangedBy = ev.ConnID
	if p.CurrentTime != nil {
		sess.CurrentTime = *p.CurrentTime
	}
	return EventPlaybackState, PlaybackState{
		IsPlaying:   sess.IsPlaying,
		CurrentTime: p.CurrentTime,
		Meta:        Meta{Timestamp: now, SourceSocketID: ev.ConnID},
	}, nil
}

func (r *Router) updateTime(ev *Event, sess *session.Session) (string, interface{}, error) {
	var p updateTime
	if err := decode(ev.Data, &p); err != nil {
		return "", nil, err
	}
	if p.CurrentTime == nil {
		return "", nil, fmt.Errorf("%w: currentTime required", ErrBadPayload)
	}
	now := r.nowMillis()
	sess.CurrentTime = *p.CurrentTime
	sess.LastTimeUpdate = now
	return EventTimeUpdate, TimeUpdate{
		CurrentTime: sess.CurrentTime,
		IsSeeking:   p.IsSeeking,
		Meta:        Meta{Timestamp: now, SourceSocketID: ev.ConnID},
	}, nil
}

func (r *Router) seek(ev *Event, sess *session.Session) (string, interface{}, error) {
	var p seekRequest
	if err := decode(ev.Data, &p); err != nil {
		return "", nil, err
	}
	if p.TargetTime == nil {
		return "", nil, fmt.Errorf("%w: targetTime required", ErrBadPayload)
	}
	now := r.nowMillis()
	sess.CurrentTime = *p.TargetTime
	sess.IsSeeking = true
	sess.LastSeek = now
	return EventSeek, Seek{
		TargetTime: sess.CurrentTime,
		Meta:       Meta{Timestamp: now, SourceSocketID: ev.ConnID},
	}, nil
}

func (r *Router) seekComplete(ev *Event, sess *session.Session) (string, interface{}, error) {
	var p seekComplete
	if err := decode(ev.Data, &p); err != nil {
		return "", nil, err
	}
	if p.CurrentTime == nil {
		return "", nil, fmt.Errorf("%w: currentTime required", ErrBadPayload)
	}
	now := r.nowMillis()
	sess.CurrentTime = *p.CurrentTime
	sess.IsSeeking = false
	sess.LastSeekComplete = now
	return EventSeekComplete, SeekComplete{
		CurrentTime: sess.CurrentTime,
		Meta:        Meta{Timestamp: now, SourceSocketID: ev.ConnID},
	}, nil
}

func (r *Router) setVolume(ev *Event, sess *session.Session) (string, interface{}, error) {
	var p setVolume
	if err := decode(ev.Data, &p); err != nil {
		return "", nil, err
	}
	if p.Volume == nil {
		return "", nil, fmt.Errorf("%w: volume required", ErrBadPayload)
	}
	sess.Volume = session.ClampVolume(*p.Volume)
	return EventVolumeChange, VolumeChange{Volume: sess.Volume, Meta: r.meta(ev.ConnID)}, nil
}

func (r *Router) setAutoplay(ev *Event, sess *session.Session) (string, interface{}, error) {
	var p setAutoplay
	if err := decode(ev.Data, &p); err != nil {
		return "", nil, err
	}
	if p.Autoplay == nil {
		return "", nil, fmt.Errorf("%w: autoplay required", ErrBadPayload)
	}
	sess.Autoplay = *p.Autoplay
	return EventAutoplayChange, AutoplayChange{Autoplay: sess.Autoplay, Meta: r.meta(ev.ConnID)}, nil
}

func (r *Router) updatePlaylist(ev *Event, sess *session.Session) (string, interface{}, error) {
	if len(ev.Data) == 0 {
		return "", nil, fmt.Errorf("%w: empty", ErrBadPayload)
	}
	list, err := decodePlaylist(ev.Data)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	sess.Playlist = list
	sess.ClampIndex()
	out := make([]session.MediaItem, len(list))
	copy(out, list)
	return EventPlaylistUpdate, PlaylistUpdate{
		Playlist:     out,
		CurrentIndex: sess.CurrentIdx,
		Meta:         r.meta(ev.ConnID),
	}, nil
}

func (r *Router) handleJoinRoom(_ context.Context, ev *Event) error {
	id, err := decodeSessionID(ev.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if id == "" {
		return fmt.Errorf("%w: sessionId required", ErrBadPayload)
	}
	if _, casting := session.FindByCaster(r.store, ev.ConnID); casting {
		r.sendError(ev.ConnID, CodeCasterCannotJoin, "stop casting before joining another room")
		return ErrCasterCannotJoin
	}

	room := session.RoomOf(id)
	unlock := r.locks.lock(room)
	defer unlock()

	r.hub.Join(ev.ConnID, room)
	if sess, ok := r.store.Get(room); ok {
		r.hub.SendTo(ev.ConnID, EventCastingState, r.snapshot(sess))
	} else {
		r.hub.SendTo(ev.ConnID, EventCastingState, CastingStopped{IsCasting: false, RoomID: room, Meta: r.meta("")})
	}
	r.logger.Debug("joined room", zap.String("room_id", string(room)), zap.String("conn_id", ev.ConnID))
	return nil
}

func (r *Router) handleRequestState(_ context.Context, ev *Event) error {
	room, ok := r.hub.RoomOf(ev.ConnID)
	if !ok {
		return ErrNotMember
	}
	unlock := r.locks.lock(room)
	defer unlock()

	if sess, ok := r.store.Get(room); ok {
		r.hub.SendTo(ev.ConnID, EventCastingState, r.snapshot(sess))
	}
	return nil
}

func (r *Router) handlePing(_ context.Context, ev *Event) error {
	r.hub.SendTo(ev.ConnID, EventPong, Pong{Timestamp: r.nowMillis(), Echo: ev.Data})
	return nil
}

func (r *Router) handleDisconnect(_ context.Context, ev *Event) error {
	room, ok := r.hub.RoomOf(ev.ConnID)
	if !ok {
		sess, casting := session.FindByCaster(r.store, ev.ConnID)
		if !casting {
			return nil
		}
		room = sess.RoomID
	}
	unlock := r.locks.lock(room)
	defer unlock()

	if sess, ok := r.store.Get(room); ok && sess.CasterID == ev.ConnID {
		r.endSession(room, ev.ConnID)
		return nil
	}
	r.hub.Leave(ev.ConnID)
	return nil
}

func (r *Router) handleTranscodeFailed(_ context.Context, ev *Event) error {
	var f transcodeFailure
	if err := decode(ev.Data, &f); err != nil {
		return err
	}
	r.metrics.IncTranscodeFailures()

	unlock := r.locks.lock(f.RoomID)
	defer unlock()

	cur, ok := r.jobs.Get(f.RoomID)
	if !ok || cur.ID != f.JobID {
		r.logger.Debug("stale transcode failure", zap.String("room_id", string(f.RoomID)), zap.String("job_id", f.JobID))
		return nil
	}
	r.jobs.CompareAndRemove(f.RoomID, cur)

	sess, ok := r.store.Get(f.RoomID)
	if !ok || sess.JobID != f.JobID {
		return nil
	}
	sess.JobID = ""
	if sess.CurrentItem != nil {
		sess.CurrentItem.StreamURL = ""
	}
	r.store.Put(sess)
	r.sendError(sess.CasterID, CodeTranscodeFailed, "video stream stopped: "+f.Error)
	return nil
}

// IsProtocolError reports whether err means an event was dropped as invalid.
func IsProtocolError(err error) bool {
	for _, target := range []error{
		ErrUnknownEvent, ErrBadPayload, ErrNotMember, ErrNotCaster,
		ErrAlreadyCasting, ErrRoomTaken, ErrCasterCannotJoin,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
