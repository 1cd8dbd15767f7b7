package notify

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buulam/clapshot/internal/catalog"
)

type recorder struct {
	mu  sync.Mutex
	msg []OutboundMessage
}

func (r *recorder) Send(m OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msg = append(r.msg, m)
	return nil
}

func (r *recorder) snapshot() []OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OutboundMessage, len(r.msg))
	copy(out, r.msg)
	return out
}

func newTestStore(t *testing.T) *catalog.Store {
	t.Helper()
	s, err := catalog.Open(filepath.Join(t.TempDir(), "clapshot.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPublishDeliversToLiveSession(t *testing.T) {
	b := New(nil)
	rec := &recorder{}
	b.RegisterSession("alice", "s1", rec)

	err := b.Publish(Message{EventName: catalog.EventOk, UserId: "alice", Msg: "hi"})
	require.NoError(t, err)

	msgs := rec.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, catalog.EventOk, msgs[0].EventName)
	assert.Equal(t, "hi", msgs[0].Message)
}

func TestPublishSkipsSessionsForOtherUsers(t *testing.T) {
	b := New(nil)
	rec := &recorder{}
	b.RegisterSession("bob", "s1", rec)

	require.NoError(t, b.Publish(Message{EventName: catalog.EventOk, UserId: "alice", Msg: "hi"}))
	assert.Empty(t, rec.snapshot())
}

func TestPublishPersistsWhenRequested(t *testing.T) {
	store := newTestStore(t)
	b := New(store)

	require.NoError(t, b.Publish(Message{EventName: catalog.EventMediaFileAdded, UserId: "alice", Msg: "added", Persist: true}))

	unseen, err := store.GetUnseenUserMessages("alice")
	require.NoError(t, err)
	require.Len(t, unseen, 1)
	assert.Equal(t, "added", unseen[0].Message)
}

func TestPublishWithoutPersistLeavesNoRow(t *testing.T) {
	store := newTestStore(t)
	b := New(store)

	require.NoError(t, b.Publish(Message{EventName: catalog.EventOk, UserId: "alice", Msg: "ephemeral"}))

	all, err := store.GetUserMessagesByUser("alice", catalog.Unbounded)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// TestPersistedMessageIsMarkedSeenWhenDeliveredLive checks that a
// persist=true publish to a userId with an active session records the
// row as already seen, matching spec §4.H (no need to replay what was
// already delivered live).
func TestPersistedMessageIsMarkedSeenWhenDeliveredLive(t *testing.T) {
	store := newTestStore(t)
	b := New(store)
	rec := &recorder{}
	b.RegisterSession("alice", "s1", rec)

	require.NoError(t, b.Publish(Message{EventName: catalog.EventOk, UserId: "alice", Msg: "hi", Persist: true}))

	unseen, err := store.GetUnseenUserMessages("alice")
	require.NoError(t, err)
	assert.Empty(t, unseen)
}

func TestMuteSuppressesLiveAndPersistedDelivery(t *testing.T) {
	store := newTestStore(t)
	b := New(store)
	b.Mute([]string{"ingest"})
	rec := &recorder{}
	b.RegisterSession("alice", "s1", rec)

	require.NoError(t, b.Publish(Message{Topic: "ingest", EventName: catalog.EventMediaFileAdded, UserId: "alice", Msg: "added", Persist: true}))

	assert.Empty(t, rec.snapshot())
	all, err := store.GetUserMessagesByUser("alice", catalog.Unbounded)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestBroadcastToViewersReachesOnlyWatchers(t *testing.T) {
	b := New(nil)
	watcher := &recorder{}
	other := &recorder{}
	b.WatchMedia("abcd1234", "s1", watcher)
	b.RegisterSession("carol", "s2", other)

	b.BroadcastToViewers("abcd1234", Message{EventName: catalog.EventOk, Msg: "new comment"})

	require.Len(t, watcher.snapshot(), 1)
	assert.Equal(t, "abcd1234", *watcher.snapshot()[0].MediaId)
	assert.Empty(t, other.snapshot())
}

func TestBroadcastToViewersNeverPersists(t *testing.T) {
	store := newTestStore(t)
	b := New(store)
	watcher := &recorder{}
	b.WatchMedia("abcd1234", "s1", watcher)

	b.BroadcastToViewers("abcd1234", Message{EventName: catalog.EventOk, UserId: "carol", Msg: "new comment", Persist: true})

	all, err := store.GetUserMessagesByUser("carol", catalog.Unbounded)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUnregisterSessionRemovesFromViewerIndexToo(t *testing.T) {
	b := New(nil)
	rec := &recorder{}
	b.RegisterSession("alice", "s1", rec)
	b.WatchMedia("abcd1234", "s1", rec)

	b.UnregisterSession("alice", "s1")

	b.BroadcastToViewers("abcd1234", Message{EventName: catalog.EventOk, Msg: "new comment"})
	assert.Empty(t, rec.snapshot())
}

// TestReplayUnseenDeliversExactlyOnceAndMarksSeen verifies P8: a
// persist=true message published while a user is offline survives to
// their next login, is delivered exactly once, and is marked seen.
func TestReplayUnseenDeliversExactlyOnceAndMarksSeen(t *testing.T) {
	store := newTestStore(t)
	b := New(store)

	require.NoError(t, b.Publish(Message{EventName: catalog.EventMediaFileAdded, UserId: "alice", Msg: "added while offline", Persist: true}))

	rec := &recorder{}
	b.RegisterSession("alice", "s1", rec)
	require.NoError(t, b.ReplayUnseen("alice"))

	msgs := rec.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "added while offline", msgs[0].Message)

	unseen, err := store.GetUnseenUserMessages("alice")
	require.NoError(t, err)
	assert.Empty(t, unseen)

	require.NoError(t, b.ReplayUnseen("alice"))
	assert.Len(t, rec.snapshot(), 1, "replay should not redeliver an already-seen message")
}

func TestReplayUnseenWithNoLiveSessionIsNoop(t *testing.T) {
	store := newTestStore(t)
	b := New(store)
	require.NoError(t, b.Publish(Message{EventName: catalog.EventOk, UserId: "alice", Msg: "hi", Persist: true}))

	require.NoError(t, b.ReplayUnseen("alice"))

	unseen, err := store.GetUnseenUserMessages("alice")
	require.NoError(t, err)
	require.Len(t, unseen, 1, "with nobody connected the message should remain unseen")
}
