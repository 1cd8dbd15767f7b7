package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buulam/clapshot/internal/catalog"
	"github.com/buulam/clapshot/internal/probe"
)

func TestDeleteMediaFileMovesTreeToTrashAndBacksUpJSON(t *testing.T) {
	env, rec := newTestEnv(t, 2500000)
	src := writeIncomingFile(t, filepath.Join(env.dataDir, "incoming", "alice"), "clip.mp4", []byte("fake-h264-bytes"))

	env.probeResults <- probe.Result{
		SrcFile: src, UserId: "alice", Duration: 10, TotalFrames: 600, Fps: "60/1",
		Bitrate: 2000000, OrigCodec: "h264", MetadataAll: "{}",
	}
	msgs := waitFor(t, rec, 2)
	id := *msgs[0].MediaId

	require.NoError(t, env.store.InsertComment(&catalog.Comment{VideoId: id, Comment: "nice shot"}))

	require.NoError(t, env.dispatch.DeleteMediaFile(id, "alice", false))

	_, err := os.Stat(filepath.Join(env.dataDir, "videos", id))
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(filepath.Join(env.dataDir, "videos", "trash"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), id+"_")

	backupPath := filepath.Join(env.dataDir, "videos", "trash", entries[0].Name(), "db_backup.json")
	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)

	var backup deletionBackup
	require.NoError(t, json.Unmarshal(data, &backup))
	assert.Equal(t, id, backup.MediaFile.Id)
	require.Len(t, backup.Comments, 1)
	assert.Equal(t, "nice shot", backup.Comments[0].Comment)

	_, err = env.store.GetMediaFile(id)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestDeleteMediaFileRefusesNonOwner(t *testing.T) {
	env, rec := newTestEnv(t, 2500000)
	src := writeIncomingFile(t, filepath.Join(env.dataDir, "incoming", "alice"), "clip.mp4", []byte("fake-h264-bytes"))

	env.probeResults <- probe.Result{
		SrcFile: src, UserId: "alice", Duration: 10, TotalFrames: 600, Fps: "60/1",
		Bitrate: 2000000, OrigCodec: "h264", MetadataAll: "{}",
	}
	msgs := waitFor(t, rec, 2)
	id := *msgs[0].MediaId

	err := env.dispatch.DeleteMediaFile(id, "bob", false)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = env.store.GetMediaFile(id)
	assert.NoError(t, err)

	require.NoError(t, env.dispatch.DeleteMediaFile(id, "", true))
	_, err = env.store.GetMediaFile(id)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
