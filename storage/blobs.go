package storage

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/go-pluto/gallery/oplog"
	"github.com/pkg/errors"
)

// Variables

// ErrBlobNotFound is returned by Get for
// references that are not stored.
var ErrBlobNotFound = errors.New("blob not found")

// Structs

// BlobStore keeps blobs addressed by their
// content reference.
type BlobStore struct {
	dir string
}

// Functions

// OpenBlobStore prepares dir to hold blobs.
func OpenBlobStore(dir string) (*BlobStore, error) {

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "failed to create blob directory '%s'", dir)
	}

	return &BlobStore{dir: dir}, nil
}

func (b *BlobStore) path(ref string) (string, error) {

	raw, err := hex.DecodeString(ref)
	if err != nil || len(raw) != 32 {
		return "", errors.Errorf("invalid blob reference '%s'", ref)
	}

	return filepath.Join(b.dir, ref[:2], ref), nil
}

// Put stores blob and returns its reference. Storing
// the same content again is a no-op.
func (b *BlobStore) Put(blob []byte) (string, error) {

	ref := oplog.BlobRef(blob)

	path, err := b.path(ref)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", errors.Wrap(err, "failed to create blob directory")
	}

	// Write to a temporary file first so a crash
	// never leaves a partial blob under its reference.
	tmp, err := os.CreateTemp(filepath.Dir(path), ref+".tmp-*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temporary blob file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return "", errors.Wrapf(err, "failed to write blob %s", ref)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", errors.Wrapf(err, "failed to sync blob %s", ref)
	}

	if err := tmp.Close(); err != nil {
		return "", errors.Wrapf(err, "failed to close blob %s", ref)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrapf(err, "failed to move blob %s into place", ref)
	}

	return ref, nil
}

// Get returns the blob stored under ref.
func (b *BlobStore) Get(ref string) ([]byte, error) {

	path, err := b.path(ref)
	if err != nil {
		return nil, err
	}

	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read blob %s", ref)
	}

	return blob, nil
}

// Has reports whether a blob is stored under ref.
func (b *BlobStore) Has(ref string) bool {

	path, err := b.path(ref)
	if err != nil {
		return false
	}

	_, err = os.Stat(path)

	return err == nil
}
