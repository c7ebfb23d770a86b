package casting

import (
	"encoding/json"
	"strings"

	"github.com/castroom/backend/internal/session"
)

// Inbound event tags.
const (
	EventStartCasting   = "start_casting"
	EventStopCasting    = "stop_casting"
	EventChangeMedia    = "change_media"
	EventSetPlaying     = "set_playing"
	EventUpdateTime     = "update_time"
	EventSeek           = "seek"
	EventSeekComplete   = "seek_complete"
	EventSetVolume      = "set_volume"
	EventSetAutoplay    = "set_autoplay"
	EventUpdatePlaylist = "update_playlist"
	EventJoinRoom       = "join_room"
	EventRequestState   = "request_state"
	EventPing           = "ping"
)

// Outbound event tags. seek and seek_complete keep their inbound names.
const (
	EventCastingState   = "casting_state"
	EventMediaChange    = "media_change"
	EventPlaybackState  = "playback_state"
	EventTimeUpdate     = "time_update"
	EventVolumeChange   = "volume_change"
	EventAutoplayChange = "autoplay_change"
	EventPlaylistUpdate = "playlist_update"
	EventError          = "error"
	EventPong           = "pong"
)

// Internal events never accepted from a connection.
const (
	eventDisconnect      = "disconnect"
	eventTranscodeFailed = "transcode_failed"
)

// Error codes sent in error events.
const (
	CodeAlreadyCasting   = "already_casting"
	CodeRoomTaken        = "room_taken"
	CodeCasterCannotJoin = "caster_cannot_join"
	CodeTranscodeFailed  = "transcode_failed"
)

// Event is one inbound message attributed to a connection.
type Event struct {
	Tag    string
	ConnID string
	Data   json.RawMessage
}

// Meta is added by the server to every rebroadcast.
type Meta struct {
	Timestamp      int64  `json:"timestamp"`
	SourceSocketID string `json:"sourceSocketId,omitempty"`
}

// StartCasting is the caster's initial snapshot.
type StartCasting struct {
	SessionID    string              `json:"sessionId,omitempty"`
	Playlist     []session.MediaItem `json:"playlist"`
	CurrentIndex int                 `json:"currentIndex"`
	CurrentItem  *session.MediaItem  `json:"currentItem"`
	IsPlaying    bool                `json:"isPlaying"`
	CurrentTime  float64             `json:"currentTime"`
	Volume       *float64            `json:"volume"`
	Autoplay     bool                `json:"autoplay"`
}

// ChangeMedia selects a new current item. Index may be omitted when Item is
// a playlist entry.
type ChangeMedia struct {
	Index     *int               `json:"index"`
	Item      *session.MediaItem `json:"item"`
	IsPlaying bool               `json:"isPlaying"`
}

type setPlaying struct {
	IsPlaying   *bool    `json:"isPlaying"`
	CurrentTime *float64 `json:"currentTime"`
}

type updateTime struct {
	CurrentTime *float64 `json:"currentTime"`
	IsSeeking   bool     `json:"isSeeking"`
}

type seekRequest struct {
	TargetTime *float64 `json:"targetTime"`
}

type seekComplete struct {
	CurrentTime *float64 `json:"currentTime"`
}

type setVolume struct {
	Volume *float64 `json:"volume"`
}

type setAutoplay struct {
	Autoplay *bool `json:"autoplay"`
}

// CastingState is a full room snapshot.
type CastingState struct {
	session.Session
	Meta
}

// CastingStopped is the only representation of a room without a session.
type CastingStopped struct {
	IsCasting bool           `json:"isCasting"`
	RoomID    session.RoomID `json:"roomId,omitempty"`
	Meta
}

// MediaChanged is broadcast after change_media.
type MediaChanged struct {
	Index     int                `json:"index"`
	Item      *session.MediaItem `json:"item"`
	IsPlaying bool               `json:"isPlaying"`
	Meta
}

// PlaybackState is broadcast after set_playing.
type PlaybackState struct {
	IsPlaying   bool     `json:"isPlaying"`
	CurrentTime *float64 `json:"currentTime,omitempty"`
	Meta
}

// TimeUpdate is broadcast after update_time.
type TimeUpdate struct {
	CurrentTime float64 `json:"currentTime"`
	IsSeeking   bool    `json:"isSeeking"`
	Meta
}

// Seek is broadcast after seek.
type Seek struct {
	TargetTime float64 `json:"targetTime"`
	Meta
}

// SeekComplete is broadcast after seek_complete.
type SeekComplete struct {
	CurrentTime float64 `json:"currentTime"`
	Meta
}

// VolumeChange is broadcast after set_volume.
type VolumeChange struct {
	Volume float64 `json:"volume"`
	Meta
}

// AutoplayChange is broadcast after set_autoplay.
type AutoplayChange struct {
	Autoplay bool `json:"autoplay"`
	Meta
}

// PlaylistUpdate is broadcast after update_playlist.
type PlaylistUpdate struct {
	Playlist     []session.MediaItem `json:"playlist"`
	CurrentIndex int                 `json:"currentIndex"`
	Meta
}

// ErrorEvent is unicast to the offending or affected connection.
type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Pong answers ping so players can estimate clock offset.
type Pong struct {
	Timestamp int64           `json:"timestamp"`
	Echo      json.RawMessage `json:"echo,omitempty"`
}

type transcodeFailure struct {
	RoomID session.RoomID `json:"roomId"`
	JobID  string         `json:"jobId"`
	Error  string         `json:"error"`
}

// decodePlaylist accepts either a bare array or {"playlist": [...]}.
func decodePlaylist(data json.RawMessage) ([]session.MediaItem, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []session.MediaItem
		err := json.Unmarshal(data, &list)
		return list, err
	}
	var wrapped struct {
		Playlist []session.MediaItem `json:"playlist"`
	}
	err := json.Unmarshal(data, &wrapped)
	return wrapped.Playlist, err
}

// decodeSessionID accepts either a bare string or {"sessionId": "..."}.
func decodeSessionID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return strings.TrimSpace(id), nil
	}
	var wrapped struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return "", err
	}
	return strings.TrimSpace(wrapped.SessionID), nil
}
