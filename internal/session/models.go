package session

import "encoding/json"

// RoomID identifies a casting room.
type RoomID string

const roomPrefix = "room_"

// RoomOf derives the room for a connection id or an explicit session id.
// It is the only place that knows how room ids are built.
func RoomOf(id string) RoomID {
	return RoomID(roomPrefix + id)
}

// MediaType is the kind of a playlist entry.
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaImage MediaType = "image"
)

// MediaItem is one playlist entry.
type MediaItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Type      MediaType `json:"type"`
	Size      int64     `json:"size,omitempty"`
	StreamURL string    `json:"streamUrl,omitempty"` // set by the server once transcoding starts
}

// UnmarshalJSON accepts "url" as an alias for "path".
func (m *MediaItem) UnmarshalJSON(b []byte) error {
	type plain MediaItem
	var aux struct {
		plain
		URL string `json:"url"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*m = MediaItem(aux.plain)
	if m.Path == "" {
		m.Path = aux.URL
	}
	return nil
}

// Session is the replicated state of one room. Field names are the wire names
// players receive in casting_state.
type Session struct {
	RoomID      RoomID      `json:"roomId"`
	CasterID    string      `json:"casterId"`
	MemberCount int         `json:"memberCount"`
	IsCasting   bool        `json:"isCasting"`
	Playlist    []MediaItem `json:"playlist"`
	CurrentIdx  int         `json:"currentIndex"`
	CurrentItem *MediaItem  `json:"currentItem"`
	IsPlaying   bool        `json:"isPlaying"`
	CurrentTime float64     `json:"currentTime"`
	Volume      float64     `json:"volume"`
	Autoplay    bool        `json:"autoplay"`
	IsSeeking   bool        `json:"isSeeking"`

	LastPlaybackChange int64  `json:"lastPlaybackChange,omitempty"`
	LastTimeUpdate     int64  `json:"lastTimeUpdate,omitempty"`
	LastSeek           int64  `json:"lastSeek,omitempty"`
	LastSeekComplete   int64  `json:"lastSeekComplete,omitempty"`
	PlaybackChangedBy  string `json:"playbackChangedBy,omitempty"`
	LastChangedBy      string `json:"lastChangedBy,omitempty"`

	// JobID is the transcode job currently feeding CurrentItem.StreamURL.
	JobID string `json:"-"`
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	if s.Playlist != nil {
		out.Playlist = make([]MediaItem, len(s.Playlist))
		copy(out.Playlist, s.Playlist)
	}
	if s.CurrentItem != nil {
		item := *s.CurrentItem
		out.CurrentItem = &item
	}
	return out
}

// ClampIndex keeps CurrentIdx inside the playlist bounds. An empty playlist pins it to 0.
func (s *Session) ClampIndex() {
	switch {
	case len(s.Playlist) == 0 || s.CurrentIdx < 0:
		s.CurrentIdx = 0
	case s.CurrentIdx >= len(s.Playlist):
		s.CurrentIdx = len(s.Playlist) - 1
	}
}

// ItemAt returns a copy of the playlist entry at i.
func (s *Session) ItemAt(i int) (MediaItem, bool) {
	if i < 0 || i >= len(s.Playlist) {
		return MediaItem{}, false
	}
	return s.Playlist[i], true
}

// ClampVolume bounds v to [0, 1].
func ClampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
