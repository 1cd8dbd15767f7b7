package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buulam/clapshot/internal/catalog"
	"github.com/buulam/clapshot/internal/identity"
	"github.com/buulam/clapshot/internal/incoming"
	"github.com/buulam/clapshot/internal/notify"
	"github.com/buulam/clapshot/internal/probe"
	"github.com/buulam/clapshot/internal/transcoder"
)

// recorder is a notify.Session that captures everything sent to it.
type recorder struct {
	mu  sync.Mutex
	msg []notify.OutboundMessage
}

func (r *recorder) Send(m notify.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msg = append(r.msg, m)
	return nil
}

func (r *recorder) snapshot() []notify.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.OutboundMessage, len(r.msg))
	copy(out, r.msg)
	return out
}

func waitFor(t *testing.T, rec *recorder, n int) []notify.OutboundMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := rec.snapshot(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, got %d", n, len(rec.snapshot()))
	return nil
}

type testEnv struct {
	dataDir  string
	store    *catalog.Store
	bus      *notify.Bus
	pool     *transcoder.Pool
	dispatch *Dispatcher

	probeResults chan probe.Result
	probeErrors  chan *probe.ErrorRecord
	uploads      chan incoming.Event

	cancel context.CancelFunc
}

func newTestEnv(t *testing.T, targetBitrate uint64) (*testEnv, *recorder) {
	t.Helper()
	dataDir := t.TempDir()
	store, err := catalog.Open(filepath.Join(dataDir, "clapshot.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := notify.New(store)
	rec := &recorder{}
	bus.RegisterSession("alice", "s1", rec)
	bus.RegisterSession("bob", "s1", rec)

	pool := transcoder.New(2)

	probeResults := make(chan probe.Result, 8)
	probeErrors := make(chan *probe.ErrorRecord, 8)
	uploads := make(chan incoming.Event, 8)

	var terminate atomic.Bool
	d := New(dataDir, targetBitrate, store, bus, pool, nil, probeResults, probeErrors, uploads, &terminate)

	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)
	go d.Run(ctx)

	env := &testEnv{
		dataDir: dataDir, store: store, bus: bus, pool: pool, dispatch: d,
		probeResults: probeResults, probeErrors: probeErrors, uploads: uploads,
		cancel: cancel,
	}
	t.Cleanup(cancel)
	return env, rec
}

func writeIncomingFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func strPtr(s string) *string { return &s }

func TestHappyPathNoTranscode(t *testing.T) {
	env, rec := newTestEnv(t, 2500000)
	src := writeIncomingFile(t, filepath.Join(env.dataDir, "incoming", "alice"), "clip.mp4", []byte("fake-h264-bytes"))

	env.probeResults <- probe.Result{
		SrcFile: src, UserId: "alice", Duration: 10, TotalFrames: 600, Fps: "60/1",
		Bitrate: 2000000, OrigCodec: "h264", MetadataAll: "{}",
	}

	msgs := waitFor(t, rec, 2)
	added := msgs[0]
	assert.Equal(t, catalog.EventMediaFileAdded, added.EventName)
	require.NotNil(t, added.MediaId)

	ok := msgs[1]
	assert.Equal(t, catalog.EventOk, ok.EventName)
	assert.Equal(t, added.MediaId, ok.MediaId)
	assert.Equal(t, "Media added.", ok.Message)

	id := *added.MediaId
	_, err := os.Stat(filepath.Join(env.dataDir, "videos", id, "orig", "clip.mp4"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(env.dataDir, "videos", id, "video.mp4"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	m, err := env.store.GetMediaFile(id)
	require.NoError(t, err)
	assert.Nil(t, m.RecompressionDone)
}

func TestHappyPathWithTranscode(t *testing.T) {
	env, rec := newTestEnv(t, 2500000)

	old := transcoder.EncoderBinary
	transcoder.EncoderBinary = fakeEncoderScriptForDispatcher(t)
	t.Cleanup(func() { transcoder.EncoderBinary = old })

	src := writeIncomingFile(t, filepath.Join(env.dataDir, "incoming", "alice"), "clip.mov", []byte("fake-prores-bytes"))

	env.probeResults <- probe.Result{
		SrcFile: src, UserId: "alice", Duration: 10, TotalFrames: 600, Fps: "60/1",
		Bitrate: 50000000, OrigCodec: "prores", MetadataAll: "{}",
	}

	msgs := waitFor(t, rec, 2)
	assert.Equal(t, catalog.EventMediaFileAdded, msgs[0].EventName)
	assert.Equal(t, catalog.EventOk, msgs[1].EventName)
	assert.Contains(t, msgs[1].Message, "Transcoding...")

	var sawProgress, sawUpdated bool
	var id string
	for _, m := range msgs {
		if m.EventName == catalog.EventProgress {
			sawProgress = true
		}
		if m.EventName == catalog.EventMediaFileUpdated {
			sawUpdated = true
			require.NotNil(t, m.MediaId)
			id = *m.MediaId
		}
	}
	deadline := time.Now().Add(5 * time.Second)
	for !sawUpdated && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
		for _, m := range rec.snapshot() {
			if m.EventName == catalog.EventMediaFileUpdated {
				sawUpdated = true
				id = *m.MediaId
			}
			if m.EventName == catalog.EventProgress {
				sawProgress = true
			}
		}
	}
	require.True(t, sawUpdated, "expected a media-file-updated event")
	assert.True(t, sawProgress)

	link := filepath.Join(env.dataDir, "videos", id, "video.mp4")
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Contains(t, target, "transcoded_br")

	m, err := env.store.GetMediaFile(id)
	require.NoError(t, err)
	assert.NotNil(t, m.RecompressionDone)
}

func fakeEncoderScriptForDispatcher(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg.sh")
	script := `#!/bin/sh
echo "frame=1 time=00:00:01.00 bitrate=1000kbits/s" >&2
shift $(($# - 1))
echo "transcoded" > "$1"
exit 0
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestCorruptInputIsRejected(t *testing.T) {
	env, rec := newTestEnv(t, 2500000)
	env.bus.RegisterSession("anonymous", "s1", rec)
	src := writeIncomingFile(t, filepath.Join(env.dataDir, "incoming"), "garbage.mp4", make([]byte, 123000))

	env.probeErrors <- &probe.ErrorRecord{Msg: "Could not read media file", Details: "invalid data", SrcFile: src, UserId: "anonymous"}

	msgs := waitFor(t, rec, 1)
	assert.Equal(t, catalog.EventError, msgs[0].EventName)
	assert.Contains(t, msgs[0].Details, "invalid data")

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(env.dataDir, "rejected", "garbage.mp4"))
	assert.NoError(t, err)
}

func TestDuplicateUploadBySameUserIsAcknowledgedNotReingested(t *testing.T) {
	env, rec := newTestEnv(t, 2500000)
	content := []byte("identical-bytes-for-both-drops")

	src1 := writeIncomingFile(t, filepath.Join(env.dataDir, "incoming", "alice", "1"), "clip.mp4", content)
	env.probeResults <- probe.Result{SrcFile: src1, UserId: "alice", Bitrate: 2000000, OrigCodec: "h264"}
	waitFor(t, rec, 2)

	src2 := writeIncomingFile(t, filepath.Join(env.dataDir, "incoming", "alice", "2"), "clip.mp4", content)
	env.probeResults <- probe.Result{SrcFile: src2, UserId: "alice", Bitrate: 2000000, OrigCodec: "h264"}

	msgs := waitFor(t, rec, 3)
	dup := msgs[2]
	assert.Equal(t, catalog.EventOk, dup.EventName)
	assert.Contains(t, dup.Message, "already have")
	assert.Nil(t, dup.MediaId)

	_, err := os.Stat(src2)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(env.dataDir, "rejected", "clip.mp4"))
	assert.NoError(t, err)

	n, err := env.store.CountMediaFiles()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIdentityCollisionAcrossOwnersIsFatalForFile(t *testing.T) {
	env, rec := newTestEnv(t, 2500000)
	src := writeIncomingFile(t, filepath.Join(env.dataDir, "incoming", "alice"), "clip.mp4", []byte("whatever"))

	id, err := identity.Hash(src, "alice")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(env.dataDir, "videos", id), 0o755))
	require.NoError(t, env.store.InsertMediaFile(&catalog.MediaFile{Id: id, UserId: strPtr("bob")}))

	env.probeResults <- probe.Result{SrcFile: src, UserId: "alice", Bitrate: 2000000, OrigCodec: "h264"}

	msgs := waitFor(t, rec, 1)
	assert.Equal(t, catalog.EventError, msgs[0].EventName)
	assert.Contains(t, msgs[0].Message, "collision")

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestStaleDirectoryWithoutRowIsReclaimed(t *testing.T) {
	env, rec := newTestEnv(t, 2500000)
	src := writeIncomingFile(t, filepath.Join(env.dataDir, "incoming", "alice"), "clip.mp4", []byte("whatever"))

	id, err := identity.Hash(src, "alice")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(env.dataDir, "videos", id, "orig"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.dataDir, "videos", id, "orig", "stale.mp4"), []byte("x"), 0o644))

	env.probeResults <- probe.Result{SrcFile: src, UserId: "alice", Bitrate: 2000000, OrigCodec: "h264"}

	msgs := waitFor(t, rec, 2)
	assert.Equal(t, catalog.EventMediaFileAdded, msgs[0].EventName)
	assert.Equal(t, catalog.EventOk, msgs[1].EventName)

	_, err = os.Stat(filepath.Join(env.dataDir, "videos", id, "orig", "stale.mp4"))
	assert.True(t, os.IsNotExist(err), "stale tree should have been removed before re-ingesting")
	_, err = os.Stat(filepath.Join(env.dataDir, "videos", id, "orig", "clip.mp4"))
	assert.NoError(t, err)

	m, err := env.store.GetMediaFile(id)
	require.NoError(t, err)
	assert.Equal(t, "alice", *m.UserId)
}
