package oplog

// Structs

// Position is the place of one operation in the global
// order. Comparing positions is total because no two
// operations share writer and sequence number.
type Position struct {
	Clock  int64
	Writer WriterID
	Seq    uint64
}

// WriterLog is one writer's append-only sequence of
// operations. Sequence numbers start at 0 and equal the
// index of the operation in the log.
type WriterLog struct {
	id     WriterID
	ops    []*Operation
	clocks []int64
}

// Functions

// Before reports whether p sorts ahead of o.
func (p Position) Before(o Position) bool {

	if p.Clock != o.Clock {
		return p.Clock < o.Clock
	}

	if p.Writer != o.Writer {
		return p.Writer < o.Writer
	}

	return p.Seq < o.Seq
}

// NewWriterLog returns an empty log for writer id.
func NewWriterLog(id WriterID) *WriterLog {
	return &WriterLog{id: id}
}

// ID returns the identity of the log.
func (l *WriterLog) ID() WriterID {
	return l.id
}

// Len returns the number of operations in the log.
func (l *WriterLog) Len() int {
	return len(l.ops)
}

// Next returns the sequence number the
// next appended operation will receive.
func (l *WriterLog) Next() uint64 {
	return uint64(len(l.ops))
}

// Get returns the operation with sequence number seq.
func (l *WriterLog) Get(seq uint64) (*Operation, bool) {

	if seq >= uint64(len(l.ops)) {
		return nil, false
	}

	return l.ops[seq], true
}

// From returns all operations starting at seq.
func (l *WriterLog) From(seq uint64) []*Operation {

	if seq >= uint64(len(l.ops)) {
		return nil
	}

	return append([]*Operation(nil), l.ops[seq:]...)
}

// Position returns the global order position
// of the operation with sequence number seq.
func (l *WriterLog) Position(seq uint64) Position {

	return Position{
		Clock:  l.clocks[seq],
		Writer: l.id,
		Seq:    seq,
	}
}

// push appends op, which must carry the next sequence
// number. The clock never runs backwards inside one log
// so that sequence order is kept in the global order.
func (l *WriterLog) push(op *Operation) {

	clock := op.Timestamp
	if n := len(l.clocks); n > 0 && l.clocks[n-1] > clock {
		clock = l.clocks[n-1]
	}

	l.ops = append(l.ops, op)
	l.clocks = append(l.clocks, clock)
}
