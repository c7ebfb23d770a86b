package transcode

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeAged(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestPurgeOlderThan(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	old := now.Add(-2 * time.Hour)

	writeAged(t, filepath.Join(root, "room_a", "job1", "segment_000.ts"), old)
	writeAged(t, filepath.Join(root, "room_a", "job1", "segment_001.ts"), old)
	writeAged(t, filepath.Join(root, "room_a", "job2", "segment_000.ts"), now.Add(-10*time.Minute))
	writeAged(t, filepath.Join(root, "room_b", "index.m3u8"), now)

	emptyOld := filepath.Join(root, "room_c", "stale")
	require.NoError(t, os.MkdirAll(emptyOld, 0o750))
	require.NoError(t, os.Chtimes(emptyOld, old, old))

	n, err := PurgeOlderThan(root, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.NoFileExists(t, filepath.Join(root, "room_a", "job1", "segment_000.ts"))
	assert.FileExists(t, filepath.Join(root, "room_a", "job2", "segment_000.ts"))
	assert.FileExists(t, filepath.Join(root, "room_b", "index.m3u8"))
	assert.NoDirExists(t, emptyOld)
	assert.DirExists(t, root)
}

func TestPurgeOlderThan_MissingRoot(t *testing.T) {
	n, err := PurgeOlderThan(filepath.Join(t.TempDir(), "nope"), time.Hour, time.Now())
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestJanitor_RunOnce(t *testing.T) {
	root := t.TempDir()
	old := time.Now().Add(-3 * time.Hour)
	writeAged(t, filepath.Join(root, "room_a", "j", "segment_000.ts"), old)

	var reported atomic.Int64
	j := NewJanitor(root, time.Hour, time.Minute, zap.NewNop(), func(n int) { reported.Add(int64(n)) })
	assert.Equal(t, 1, j.RunOnce())
	assert.Equal(t, int64(1), reported.Load())
	assert.Equal(t, 0, j.RunOnce())
}

func TestJanitor_StartStop(t *testing.T) {
	root := t.TempDir()
	writeAged(t, filepath.Join(root, "room_a", "segment_000.ts"), time.Now().Add(-2*time.Hour))

	passes := make(chan int, 16)
	j := NewJanitor(root, time.Hour, 20*time.Millisecond, nil, func(n int) {
		select {
		case passes <- n:
		default:
		}
	})
	j.Start()
	j.Start()

	select {
	case <-passes:
	case <-time.After(5 * time.Second):
		t.Fatal("janitor never ran")
	}
	j.Stop()
	j.Stop()
	assert.NoFileExists(t, filepath.Join(root, "room_a", "segment_000.ts"))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a := &Job{ID: "a"}
	b := &Job{ID: "b"}

	assert.Nil(t, reg.Swap("room_1", a))
	got, ok := reg.Get("room_1")
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.Same(t, a, reg.Swap("room_1", b))
	assert.False(t, reg.CompareAndRemove("room_1", a), "stale job does not evict the current one")
	assert.True(t, reg.CompareAndRemove("room_1", b))
	assert.Equal(t, 0, reg.Len())

	reg.Swap("room_2", a)
	assert.Len(t, reg.Snapshot(), 1)
	assert.Same(t, a, reg.Remove("room_2"))
	assert.Nil(t, reg.Remove("room_2"))
}
