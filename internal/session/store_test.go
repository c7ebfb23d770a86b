package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomOf(t *testing.T) {
	assert.Equal(t, RoomID("room_abc"), RoomOf("abc"))
	assert.Equal(t, RoomOf("abc"), RoomOf("abc"))
	assert.NotEqual(t, RoomOf("abc"), RoomOf("abd"))
}

func TestInMemoryStore_GetPutDelete(t *testing.T) {
	store := NewInMemoryStore()

	_, ok := store.Get("room_1")
	assert.False(t, ok, "empty store")

	store.Put(Session{RoomID: "room_1", CasterID: "c1", IsCasting: true, Volume: 0.5})
	got, ok := store.Get("room_1")
	require.True(t, ok)
	assert.Equal(t, "c1", got.CasterID)
	assert.Equal(t, 0.5, got.Volume)

	store.Delete("room_1")
	_, ok = store.Get("room_1")
	assert.False(t, ok)

	store.Delete("room_1")
	assert.Equal(t, 0, store.Len())
}

func TestInMemoryStore_copiesValues(t *testing.T) {
	store := NewInMemoryStore()
	item := &MediaItem{ID: "1", Path: "/a.mp4", Type: MediaVideo}
	sess := Session{
		RoomID:      "room_1",
		Playlist:    []MediaItem{{ID: "1", Path: "/a.mp4"}},
		CurrentItem: item,
	}
	store.Put(sess)

	sess.Playlist[0].Path = "/mutated.mp4"
	item.StreamURL = "http://mutated"

	got, _ := store.Get("room_1")
	assert.Equal(t, "/a.mp4", got.Playlist[0].Path)
	assert.Empty(t, got.CurrentItem.StreamURL)

	got.Playlist[0].Name = "changed by reader"
	again, _ := store.Get("room_1")
	assert.Empty(t, again.Playlist[0].Name)
}

func TestInMemoryStore_ListSortedSnapshot(t *testing.T) {
	store := NewInMemoryStore()
	store.Put(Session{RoomID: "room_b"})
	store.Put(Session{RoomID: "room_a"})

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, RoomID("room_a"), list[0].RoomID)
	assert.Equal(t, RoomID("room_b"), list[1].RoomID)
}

func TestInMemoryStore_ListDuringMutation(t *testing.T) {
	store := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				id := RoomID(fmt.Sprintf("room_%d_%d", i, j))
				store.Put(Session{RoomID: id, CasterID: string(id)})
				store.Delete(id)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				for _, s := range store.List() {
					_ = s.CasterID
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, store.Len())
}

func TestFindByCaster(t *testing.T) {
	store := NewInMemoryStore()
	store.Put(Session{RoomID: RoomOf("c1"), CasterID: "c1"})
	store.Put(Session{RoomID: RoomOf("c2"), CasterID: "c2"})

	got, ok := FindByCaster(store, "c2")
	require.True(t, ok)
	assert.Equal(t, RoomOf("c2"), got.RoomID)

	_, ok = FindByCaster(store, "player")
	assert.False(t, ok)
}

func TestSession_ClampIndex(t *testing.T) {
	tests := []struct {
		name     string
		playlist int
		index    int
		want     int
	}{
		{"empty playlist", 0, 3, 0},
		{"negative", 3, -1, 0},
		{"in range", 3, 1, 1},
		{"past end", 3, 7, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Session{Playlist: make([]MediaItem, tt.playlist), CurrentIdx: tt.index}
			s.ClampIndex()
			assert.Equal(t, tt.want, s.CurrentIdx)
		})
	}
}

func TestClampVolume(t *testing.T) {
	assert.Equal(t, 0.0, ClampVolume(-0.2))
	assert.Equal(t, 0.4, ClampVolume(0.4))
	assert.Equal(t, 1.0, ClampVolume(3))
}

func TestMediaItem_URLAlias(t *testing.T) {
	var item MediaItem
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","url":"http://h/media/a.mp4","type":"video"}`), &item))
	assert.Equal(t, "http://h/media/a.mp4", item.Path)
	assert.Equal(t, MediaVideo, item.Type)

	require.NoError(t, json.Unmarshal([]byte(`{"path":"/p.png","url":"/ignored.png"}`), &item))
	assert.Equal(t, "/p.png", item.Path)
}
