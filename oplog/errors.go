package oplog

import (
	"fmt"

	"github.com/pkg/errors"
)

// Variables

// ErrTruncated is returned when a length-delimited
// operation is cut short, e.g. by a crash mid-write.
var ErrTruncated = errors.New("truncated operation record")

// Structs

// OutOfOrderError is returned by Ingest when a suffix does
// not start at the next expected sequence number of its log
// or is not contiguous itself. Nothing is ingested in that
// case; the caller re-requests the range from Expected on.
type OutOfOrderError struct {
	Writer   WriterID
	Expected uint64
	Got      uint64
}

// DuplicateError is returned by Ingest when every operation
// of a suffix is already known. It is not fatal.
type DuplicateError struct {
	Writer WriterID
	Seq    uint64
}

// Functions

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out of order suffix for writer %s: expected seq %d, got %d", e.Writer.Short(), e.Expected, e.Got)
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate suffix for writer %s up to seq %d", e.Writer.Short(), e.Seq)
}

// IsDuplicate reports whether err is or wraps a DuplicateError.
func IsDuplicate(err error) bool {
	var dup *DuplicateError
	return errors.As(err, &dup)
}

// IsOutOfOrder reports whether err is or wraps an OutOfOrderError.
func IsOutOfOrder(err error) bool {
	var ooo *OutOfOrderError
	return errors.As(err, &ooo)
}
