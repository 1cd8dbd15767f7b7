package incoming

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorEmitsStableFileExactlyOnce(t *testing.T) {
	dataDir := t.TempDir()
	m := New(dataDir, 20*time.Millisecond, 30*time.Millisecond)

	go m.Run()
	defer m.Stop()

	incoming := filepath.Join(dataDir, "incoming")
	require.NoError(t, os.MkdirAll(incoming, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(incoming, "clip.mp4"), []byte("0123456789"), 0o644))

	var got []Event
	timeout := time.After(2 * time.Second)
	for len(got) == 0 {
		select {
		case ev := <-m.Events():
			got = append(got, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stable-file event")
		}
	}

	assert.Equal(t, filepath.Join(incoming, "clip.mp4"), got[0].Path)
	assert.Equal(t, "anonymous", got[0].UserId)

	select {
	case ev := <-m.Events():
		t.Fatalf("file emitted twice: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestMonitorInfersOwnerFromSubdirectory(t *testing.T) {
	dataDir := t.TempDir()
	m := New(dataDir, 20*time.Millisecond, 20*time.Millisecond)

	go m.Run()
	defer m.Stop()

	userDir := filepath.Join(dataDir, "incoming", "alice")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "clip.mp4"), []byte("hello"), 0o644))

	select {
	case ev := <-m.Events():
		assert.Equal(t, "alice", ev.UserId)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMonitorIgnoresDotfilesAndDirectories(t *testing.T) {
	dataDir := t.TempDir()
	m := New(dataDir, 20*time.Millisecond, 20*time.Millisecond)

	go m.Run()
	defer m.Stop()

	incoming := filepath.Join(dataDir, "incoming")
	require.NoError(t, os.MkdirAll(filepath.Join(incoming, "subdir_as_dir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(incoming, ".hidden"), []byte("x"), 0o644))

	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event for ignored entry: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}
