package storage

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/go-pluto/gallery/oplog"
	"github.com/pkg/errors"
)

// Structs

// Space is what a peer remembers about the space it
// belongs to between restarts. Keys are hex encoded.
type Space struct {
	Root          string
	Local         string
	EncryptionKey string
}

// Functions

// NewSpace describes membership of local in the space
// rooted at root, sharing secret key.
func NewSpace(root oplog.WriterID, local oplog.WriterID, key []byte) *Space {

	return &Space{
		Root:          string(root),
		Local:         string(local),
		EncryptionKey: hex.EncodeToString(key),
	}
}

// RootID returns the root writer of the space.
func (s *Space) RootID() oplog.WriterID {
	return oplog.WriterID(s.Root)
}

// LocalID returns the writer identity of this peer.
func (s *Space) LocalID() oplog.WriterID {
	return oplog.WriterID(s.Local)
}

// Key decodes the space secret.
func (s *Space) Key() ([]byte, error) {

	key, err := hex.DecodeString(s.EncryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "space encryption key is not hex encoded")
	}

	return key, nil
}

// LoadSpace reads the space file at path. It returns
// an error satisfying os.IsNotExist if the peer has
// not joined any space yet.
func LoadSpace(path string) (*Space, error) {

	space := new(Space)

	_, err := toml.DecodeFile(path, space)
	if err != nil {

		if os.IsNotExist(err) {
			return nil, err
		}

		return nil, errors.Wrapf(err, "failed to read space file '%s'", path)
	}

	if !space.RootID().Valid() || !space.LocalID().Valid() {
		return nil, errors.Errorf("space file '%s' names invalid writers", path)
	}

	return space, nil
}

// SaveSpace writes space to path.
func SaveSpace(path string, space *Space) error {

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrapf(err, "failed to create directory for '%s'", path)
	}

	f, err := os.OpenFile(path, (os.O_WRONLY | os.O_CREATE | os.O_TRUNC), 0600)
	if err != nil {
		return errors.Wrapf(err, "failed to open space file '%s'", path)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(space); err != nil {
		return errors.Wrapf(err, "failed to write space file '%s'", path)
	}

	return f.Sync()
}
