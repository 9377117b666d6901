package view

import (
	"fmt"
	"unicode/utf8"

	"github.com/go-pluto/gallery/oplog"
)

// Structs

// MutationResult tells what applying one operation did.
type MutationResult int

// Results of Apply.
const (
	Unchanged MutationResult = iota
	FileAdded
	WriterAdded
)

// MalformedOperationError reports an operation whose payload
// cannot be applied. Replay skips it and carries on.
type MalformedOperationError struct {
	Writer oplog.WriterID
	Seq    uint64
	Kind   oplog.Kind
	Reason string
}

// Functions

func (e *MalformedOperationError) Error() string {
	return fmt.Sprintf("malformed %s operation %s/%d: %s", e.Kind, e.Writer.Short(), e.Seq, e.Reason)
}

func malformed(op *oplog.Operation, reason string) error {

	return &MalformedOperationError{
		Writer: op.Writer,
		Seq:    op.Seq,
		Kind:   op.Kind,
		Reason: reason,
	}
}

// Apply executes the effect of op on store.
//
// AddWriter authorizes its key; adding a known key is a
// no-op. PutFile stores the blob reference under its
// filename unless the filename is taken, in which case the
// earlier write in the global order wins and op is a no-op.
// Malformed operations leave store untouched.
func Apply(op *oplog.Operation, store *Store) (MutationResult, error) {

	switch op.Kind {

	case oplog.KindAddWriter:

		if !op.WriterKey.Valid() {
			return Unchanged, malformed(op, "writer key is not an ed25519 public key")
		}

		if store.IsWriter(op.WriterKey) {
			return Unchanged, nil
		}

		store.writers[op.WriterKey] = struct{}{}

		return WriterAdded, nil

	case oplog.KindPutFile:

		if op.Filename == "" {
			return Unchanged, malformed(op, "missing filename")
		}

		if !utf8.ValidString(op.Filename) {
			return Unchanged, malformed(op, "filename is not valid UTF-8")
		}

		if len(op.Blob) == 0 {
			return Unchanged, malformed(op, "missing blob")
		}

		if store.Has(op.Filename) {
			return Unchanged, nil
		}

		store.put(Entry{
			Filename:  op.Filename,
			Ref:       oplog.BlobRef(op.Blob),
			Size:      len(op.Blob),
			Writer:    op.Writer,
			Seq:       op.Seq,
			Timestamp: op.Timestamp,
		})

		return FileAdded, nil

	default:
		return Unchanged, malformed(op, "unknown operation kind")
	}
}
