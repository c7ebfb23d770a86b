// Package casting applies protocol events from casters and players to room
// sessions and fans the results out to room members.
package casting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/castroom/backend/internal/metrics"
	"github.com/castroom/backend/internal/session"
	"github.com/castroom/backend/internal/transcode"
)

// Broadcaster delivers events to connections and tracks which room each
// connection occupies. A connection is in at most one room.
type Broadcaster interface {
	Join(connID string, room session.RoomID)
	Leave(connID string)
	RoomOf(connID string) (session.RoomID, bool)
	MemberCount(room session.RoomID) int
	SendTo(connID, event string, payload interface{})
	BroadcastExcept(room session.RoomID, exceptConnID, event string, payload interface{})
}

// Transcoder starts and stops per-room transcodes.
type Transcoder interface {
	Start(room session.RoomID, input string) (*transcode.Job, error)
	Stop(job *transcode.Job) error
}

type handlerFunc func(ctx context.Context, ev *Event) error

// Router is the single writer of the session store.
type Router struct {
	store      session.Store
	jobs       *transcode.Registry
	transcoder Transcoder
	hub        Broadcaster
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	locks    *roomLocks
	handlers map[string]handlerFunc
}

// Option configures a Router.
type Option func(*Router)

// WithMetrics records handled events in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithClock replaces time.Now for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// NewRouter wires a router over its collaborators.
func NewRouter(store session.Store, jobs *transcode.Registry, transcoder Transcoder, hub Broadcaster, logger *zap.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		store:      store,
		jobs:       jobs,
		transcoder: transcoder,
		hub:        hub,
		logger:     logger,
		now:        time.Now,
		locks:      newRoomLocks(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.handlers = map[string]handlerFunc{
		EventStartCasting:    r.handleStartCasting,
		EventStopCasting:     r.handleStopCasting,
		EventChangeMedia:     r.casterOnly(r.changeMedia),
		EventSetPlaying:      r.casterOnly(r.setPlaying),
		EventUpdateTime:      r.casterOnly(r.updateTime),
		EventSeek:            r.casterOnly(r.seek),
		EventSeekComplete:    r.casterOnly(r.seekComplete),
		EventSetVolume:       r.casterOnly(r.setVolume),
		EventSetAutoplay:     r.casterOnly(r.setAutoplay),
		EventUpdatePlaylist:  r.casterOnly(r.updatePlaylist),
		EventJoinRoom:        r.handleJoinRoom,
		EventRequestState:    r.handleRequestState,
		EventPing:            r.handlePing,
		eventDisconnect:      r.handleDisconnect,
		eventTranscodeFailed: r.handleTranscodeFailed,
	}
	return r
}

// Dispatch applies one event received from connID. Protocol errors are returned
// for logging; room state is never partially updated.
func (r *Router) Dispatch(ctx context.Context, connID, tag string, data json.RawMessage) error {
	if tag == eventDisconnect || tag == eventTranscodeFailed {
		r.metrics.ObserveEvent("unknown", metrics.OutcomeDropped)
		return fmt.Errorf("%w: %q", ErrUnknownEvent, tag)
	}
	return r.dispatch(ctx, &Event{Tag: tag, ConnID: connID, Data: data})
}

// Disconnect runs the cancellation path for a closed connection: a caster's
// session and transcode are torn down, a player just leaves its room.
func (r *Router) Disconnect(ctx context.Context, connID string) {
	_ = r.dispatch(ctx, &Event{Tag: eventDisconnect, ConnID: connID})
}

// HandleTranscodeFailure feeds a transcode that died on its own back through
// the room's event stream. It matches transcode.FailureHandler.
func (r *Router) HandleTranscodeFailure(job *transcode.Job, err error) {
	data, mErr := json.Marshal(transcodeFailure{RoomID: job.RoomID, JobID: job.ID, Error: err.Error()})
	if mErr != nil {
		r.logger.Error("encode transcode failure", zap.Error(mErr))
		return
	}
	_ = r.dispatch(context.Background(), &Event{Tag: eventTranscodeFailed, Data: data})
}

func (r *Router) dispatch(ctx context.Context, ev *Event) (err error) {
	h, ok := r.handlers[ev.Tag]
	if !ok {
		r.metrics.ObserveEvent("unknown", metrics.OutcomeDropped)
		r.logger.Debug("unknown event", zap.String("event", ev.Tag), zap.String("conn_id", ev.ConnID))
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Tag)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
			r.logger.Error("event handler panic",
				zap.String("event", ev.Tag),
				zap.String("conn_id", ev.ConnID),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
		}
		switch {
		case err == nil:
			r.metrics.ObserveEvent(ev.Tag, metrics.OutcomeOK)
		case errors.Is(err, ErrHandlerPanic):
			r.metrics.ObserveEvent(ev.Tag, metrics.OutcomeError)
		case IsProtocolError(err):
			r.metrics.ObserveEvent(ev.Tag, metrics.OutcomeDropped)
			r.logger.Debug("event dropped", zap.String("event", ev.Tag), zap.String("conn_id", ev.ConnID), zap.Error(err))
		default:
			r.metrics.ObserveEvent(ev.Tag, metrics.OutcomeError)
			r.logger.Warn("event failed", zap.String("event", ev.Tag), zap.String("conn_id", ev.ConnID), zap.Error(err))
		}
	}()

	return h(ctx, ev)
}

// casterOnly runs fn on the sender's room session under the room lock, stores
// the result and rebroadcasts fn's event to everyone else in the room.
func (r *Router) casterOnly(fn func(ev *Event, sess *session.Session) (string, interface{}, error)) handlerFunc {
	return func(_ context.Context, ev *Event) error {
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
		tag, payload, err := fn(ev, &sess)
		if err != nil {
			return err
		}
		sess.LastChangedBy = ev.ConnID
		r.store.Put(sess)
		r.hub.BroadcastExcept(room, ev.ConnID, tag, payload)
		return nil
	}
}

// attachMedia points sess.CurrentItem at a stream for the current item. With
// reuse set, a live job already encoding the same input is kept. Otherwise any
// prior job is stopped before a new one starts.
func (r *Router) attachMedia(sess *session.Session, reuse bool) {
	room := sess.RoomID
	item := sess.CurrentItem

	if reuse && item != nil {
		if cur, ok := r.jobs.Get(room); ok && cur.InputPath == item.Path && cur.Alive() {
			item.StreamURL = cur.PublicURL
			sess.JobID = cur.ID
			return
		}
	}

	r.stopJob(room)
	sess.JobID = ""
	if item == nil || item.Path == "" {
		return
	}
	kind, err := transcode.MediaTypeOf(item.Path)
	if err != nil {
		r.logger.Debug("no stream for item", zap.String("room_id", string(room)), zap.String("path", item.Path), zap.Error(err))
		return
	}
	if item.Type == "" {
		item.Type = kind
	}
	if kind != session.MediaVideo {
		return
	}

	job, err := r.transcoder.Start(room, item.Path)
	if errors.Is(err, transcode.ErrInputNotAllowed) {
		r.logger.Warn("refused transcode input", zap.String("room_id", string(room)), zap.String("input", item.Path))
		r.sendError(sess.CasterID, CodeTranscodeFailed, "media source not allowed")
		return
	}
	if err != nil {
		r.logger.Error("start transcode", zap.String("room_id", string(room)), zap.String("input", item.Path), zap.Error(err))
		r.sendError(sess.CasterID, CodeTranscodeFailed, "failed to start video stream")
		return
	}
	r.jobs.Swap(room, job)
	item.StreamURL = job.PublicURL
	sess.JobID = job.ID
}

// stopJob detaches and stops the room's job. Stop errors are cleanup errors and
// only logged.
func (r *Router) stopJob(room session.RoomID) {
	job := r.jobs.Remove(room)
	if job == nil {
		return
	}
	if err := r.transcoder.Stop(job); err != nil {
		r.logger.Warn("stop transcode", zap.String("room_id", string(room)), zap.String("job_id", job.ID), zap.Error(err))
	}
}

// endSession tears down room on behalf of its caster. Caller holds the room lock.
func (r *Router) endSession(room session.RoomID, casterID string) {
	r.stopJob(room)
	r.store.Delete(room)
	r.hub.BroadcastExcept(room, casterID, EventCastingState, CastingStopped{
		IsCasting: false,
		RoomID:    room,
		Meta:      r.meta(casterID),
	})
	r.hub.Leave(casterID)
	r.logger.Info("casting stopped", zap.String("room_id", string(room)), zap.String("conn_id", casterID))
}

func (r *Router) snapshot(sess session.Session) CastingState {
	sess.MemberCount = r.hub.MemberCount(sess.RoomID)
	return CastingState{Session: sess, Meta: r.meta(sess.CasterID)}
}

func (r *Router) meta(source string) Meta {
	return Meta{Timestamp: r.nowMillis(), SourceSocketID: source}
}

func (r *Router) nowMillis() int64 {
	return r.now().UnixMilli()
}

func (r *Router) sendError(connID, code, message string) {
	if connID == "" {
		return
	}
	r.hub.SendTo(connID, EventError, ErrorEvent{Message: message, Code: code})
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty", ErrBadPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
