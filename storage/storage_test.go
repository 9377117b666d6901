package storage_test

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-pluto/gallery/oplog"
	"github.com/go-pluto/gallery/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

func newWriter(t *testing.T) oplog.WriterID {

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	return oplog.NewWriterID(pub)
}

func numbered(writer oplog.WriterID, first uint64, ops ...*oplog.Operation) []*oplog.Operation {

	for i, op := range ops {
		op.Writer = writer
		op.Seq = first + uint64(i)
	}

	return ops
}

// TestLogStoreReload checks that persisted logs come back
// after a restart together with the next sequence number.
func TestLogStoreReload(t *testing.T) {

	dir := t.TempDir()
	writer := newWriter(t)
	other := newWriter(t)
	now := time.UnixMilli(1000)

	store, err := storage.OpenLogStore(log.NewNopLogger(), dir)
	require.NoError(t, err)

	first := numbered(writer, 0,
		oplog.NewAddWriter(other, writer, now),
		oplog.NewPutFile("a.gif", []byte("a"), now),
	)
	require.NoError(t, store.Persist(writer, first))

	second := numbered(writer, 2, oplog.NewPutFile("b.gif", []byte("b"), now))
	require.NoError(t, store.Persist(writer, second))
	require.NoError(t, store.Persist(other, numbered(other, 0, oplog.NewPutFile("c.gif", []byte("c"), now))))

	// A gap is refused.
	err = store.Persist(writer, numbered(writer, 7, oplog.NewPutFile("d.gif", []byte("d"), now)))
	assert.True(t, oplog.IsOutOfOrder(err))
	require.NoError(t, store.Close())

	reopened, err := storage.OpenLogStore(log.NewNopLogger(), dir)
	require.NoError(t, err)
	defer reopened.Close()

	logs, err := reopened.Load()
	require.NoError(t, err)

	assert.Equal(t, append(first, second...), logs[writer])
	assert.Len(t, logs[other], 1)
	assert.Equal(t, uint64(3), reopened.Next(writer))
	assert.Equal(t, uint64(1), reopened.Next(other))
}

// TestLogStoreTruncatedTail simulates a crash in the
// middle of a write and checks that the complete
// records survive and appending continues after them.
func TestLogStoreTruncatedTail(t *testing.T) {

	dir := t.TempDir()
	writer := newWriter(t)
	now := time.UnixMilli(1000)

	store, err := storage.OpenLogStore(log.NewNopLogger(), dir)
	require.NoError(t, err)
	require.NoError(t, store.Persist(writer, numbered(writer, 0,
		oplog.NewPutFile("a.gif", []byte("a"), now),
		oplog.NewPutFile("b.gif", []byte("b"), now),
	)))
	require.NoError(t, store.Close())

	path := filepath.Join(dir, string(writer)+".log")
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-2))

	reopened, err := storage.OpenLogStore(log.NewNopLogger(), dir)
	require.NoError(t, err)
	defer reopened.Close()

	logs, err := reopened.Load()
	require.NoError(t, err)
	require.Len(t, logs[writer], 1)
	assert.Equal(t, "a.gif", logs[writer][0].Filename)

	require.NoError(t, reopened.Persist(writer, numbered(writer, 1, oplog.NewPutFile("c.gif", []byte("c"), now))))

	again, err := storage.OpenLogStore(log.NewNopLogger(), dir)
	require.NoError(t, err)
	defer again.Close()

	logs, err = again.Load()
	require.NoError(t, err)
	require.Len(t, logs[writer], 2)
	assert.Equal(t, "c.gif", logs[writer][1].Filename)
}

// TestBlobStore checks content addressing.
func TestBlobStore(t *testing.T) {

	blobs, err := storage.OpenBlobStore(t.TempDir())
	require.NoError(t, err)

	ref, err := blobs.Put([]byte("GIF89a"))
	require.NoError(t, err)
	assert.Equal(t, oplog.BlobRef([]byte("GIF89a")), ref)
	assert.True(t, blobs.Has(ref))

	again, err := blobs.Put([]byte("GIF89a"))
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	blob, err := blobs.Get(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("GIF89a"), blob)

	_, err = blobs.Get(oplog.BlobRef([]byte("missing")))
	assert.Equal(t, storage.ErrBlobNotFound, err)

	_, err = blobs.Get("../../etc/passwd")
	assert.Error(t, err)
	assert.False(t, blobs.Has("nope"))
}

// TestSpaceFile checks that space membership survives a restart.
func TestSpaceFile(t *testing.T) {

	path := filepath.Join(t.TempDir(), "space.toml")

	_, err := storage.LoadSpace(path)
	assert.True(t, os.IsNotExist(err))

	root := newWriter(t)
	local := newWriter(t)

	require.NoError(t, storage.SaveSpace(path, storage.NewSpace(root, local, []byte{1, 2, 3})))

	space, err := storage.LoadSpace(path)
	require.NoError(t, err)
	assert.Equal(t, root, space.RootID())
	assert.Equal(t, local, space.LocalID())

	key, err := space.Key()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, key)
}
