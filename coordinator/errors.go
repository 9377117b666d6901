package coordinator

import (
	"fmt"

	"github.com/pkg/errors"
)

// Variables

var (
	// ErrNoSpace is returned by operations that need
	// the peer to be a member of a space.
	ErrNoSpace = errors.New("peer is not a member of a space")

	// ErrAlreadyMember is returned when creating or joining
	// a space on a peer that already belongs to one.
	ErrAlreadyMember = errors.New("peer is already a member of a space")

	// ErrNotWritable is returned for writes before the local
	// writer was authorized in the space.
	ErrNotWritable = errors.New("local writer is not authorized in this space yet")

	// ErrNoFilename and ErrEmptyFile reject
	// uploads that would be malformed operations.
	ErrNoFilename = errors.New("filename must not be empty")
	ErrEmptyFile  = errors.New("file has no content")

	// ErrNoPeers is returned by joins on a peer
	// that knows nobody to pair with.
	ErrNoPeers = errors.New("no peers to pair with")

	// ErrNoJoin is returned by RetryJoin and CancelJoin
	// if no join is in progress.
	ErrNoJoin = errors.New("no join in progress")

	// ErrUnknownSpace is returned for replication and pairing
	// requests naming a space this peer does not serve.
	ErrUnknownSpace = errors.New("space is not served by this peer")

	// ErrUnauthorized is returned for replication requests
	// whose token does not prove space membership.
	ErrUnauthorized = errors.New("requester is not a member of the space")
)

// Structs

// DuplicateFilenameError reports an upload under a filename
// the local view already holds. It is not retried.
type DuplicateFilenameError struct {
	Filename string
}

// UnsupportedFileError reports an upload whose
// extension is not accepted by this peer.
type UnsupportedFileError struct {
	Filename  string
	Extension string
}

// Functions

func (e *DuplicateFilenameError) Error() string {
	return fmt.Sprintf("file '%s' already exists", e.Filename)
}

func (e *UnsupportedFileError) Error() string {

	if e.Extension == "" {
		return fmt.Sprintf("file '%s' has no extension", e.Filename)
	}

	return fmt.Sprintf("files of type '%s' are not accepted", e.Extension)
}

// IsDuplicateFilename reports whether err is a DuplicateFilenameError.
func IsDuplicateFilename(err error) bool {
	var e *DuplicateFilenameError
	return errors.As(err, &e)
}
