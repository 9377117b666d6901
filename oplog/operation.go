package oplog

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Structs

// Kind discriminates the two operation types a
// writer may append to its log.
type Kind uint8

// Kinds of operations.
const (
	KindUnknown Kind = iota
	KindAddWriter
	KindPutFile
)

// WriterID identifies a WriterLog. It is the lowercase
// hex encoding of the writer's ed25519 public key, so
// comparing two IDs as strings compares the keys bytewise.
type WriterID string

// Operation is the unit appended to a WriterLog. Writer
// and Seq are assigned by the log the operation lives in.
type Operation struct {
	Writer    WriterID
	Seq       uint64
	Kind      Kind
	Timestamp int64

	// Set for KindAddWriter.
	WriterKey WriterID
	AddedBy   WriterID

	// Set for KindPutFile.
	Filename string
	Blob     []byte
}

// Heads maps each known writer to the next
// sequence number expected for its log.
type Heads map[WriterID]uint64

// Cursor is what a replicating peer sends to another
// peer to fetch every operation beyond its own heads.
type Cursor struct {
	DiscoveryID string
	Requester   WriterID
	Token       []byte
	Heads       Heads
}

// Functions

// String returns the name of the operation kind.
func (k Kind) String() string {

	switch k {
	case KindAddWriter:
		return "AddWriter"
	case KindPutFile:
		return "PutFile"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// NewWriterID returns the identity of the
// log owned by holder of public key pub.
func NewWriterID(pub ed25519.PublicKey) WriterID {
	return WriterID(hex.EncodeToString(pub))
}

// PublicKey decodes id back into an ed25519 public key.
// It fails if id is not exactly one hex-encoded key.
func (id WriterID) PublicKey() (ed25519.PublicKey, error) {

	raw, err := hex.DecodeString(string(id))
	if err != nil {
		return nil, errors.Wrapf(err, "writer id '%s' is not hex encoded", id.Short())
	}

	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.Errorf("writer id '%s' has %d bytes, expected %d", id.Short(), len(raw), ed25519.PublicKeySize)
	}

	return ed25519.PublicKey(raw), nil
}

// Valid reports whether id decodes to a public key.
func (id WriterID) Valid() bool {
	_, err := id.PublicKey()
	return err == nil
}

// Short returns an abbreviated form for log output.
func (id WriterID) Short() string {

	if len(id) > 16 {
		return string(id[:16])
	}

	return string(id)
}

// DiscoveryID derives the identifier peers of the space
// rooted at root announce and look each other up by.
// It does not reveal the root key itself.
func DiscoveryID(root WriterID) string {

	sum := sha256.Sum256([]byte("gallery-discovery:" + string(root)))

	return hex.EncodeToString(sum[:])
}

// NewAddWriter prepares an operation that authorizes
// key as a writer of the space.
func NewAddWriter(key WriterID, addedBy WriterID, now time.Time) *Operation {

	return &Operation{
		Kind:      KindAddWriter,
		Timestamp: now.UnixMilli(),
		WriterKey: key,
		AddedBy:   addedBy,
	}
}

// NewPutFile prepares an operation that stores
// blob under filename in the shared view.
func NewPutFile(filename string, blob []byte, now time.Time) *Operation {

	return &Operation{
		Kind:      KindPutFile,
		Timestamp: now.UnixMilli(),
		Filename:  filename,
		Blob:      blob,
	}
}

// String returns a short description of op for log output.
// Clone returns a deep copy of op.
func (op *Operation) Clone() *Operation {

	c := *op
	if op.Blob != nil {
		c.Blob = append([]byte(nil), op.Blob...)
	}

	return &c
}

func (op *Operation) String() string {
	return fmt.Sprintf("%s@%s/%d", op.Kind, op.Writer.Short(), op.Seq)
}

// BlobRef returns the content address of blob, the
// reference under which blob storage keeps it.
func BlobRef(blob []byte) string {

	sum := sha256.Sum256(blob)

	return hex.EncodeToString(sum[:])
}
