package oplog

import (
	"sort"

	"github.com/pkg/errors"
)

// Variables

// ErrNoLocalWriter is returned by Append on a LogSet
// that was opened without a local writer identity.
var ErrNoLocalWriter = errors.New("log set has no local writer")

// Structs

// Persister makes a validated suffix of a writer's log
// durable. LogSet calls it before committing the suffix
// in memory, so a failed write leaves no trace.
type Persister interface {
	Persist(writer WriterID, ops []*Operation) error
}

// Change describes how the global order moved
// after an Append or Ingest.
type Change struct {

	// From is the first index of the global order that
	// differs from the order before the change. It equals
	// the previous order length if entries were only added
	// at the tail.
	From int

	// Added counts the operations newly stored.
	Added int

	// Authorized lists writers that became
	// authorized by this change, sorted.
	Authorized []WriterID
}

type entry struct {
	pos Position
	op  *Operation
}

// LogSet holds all known WriterLogs of one space together
// with the set of authorized writers derived from them.
// The set is rooted at the bootstrapping writer: any other
// writer only contributes to the global order once an
// authorized writer appended an AddWriter for its key.
type LogSet struct {
	root       WriterID
	local      WriterID
	logs       map[WriterID]*WriterLog
	authorized map[WriterID]struct{}
	order      []entry
	persister  Persister
}

// Functions

// NewLogSet returns an empty log set rooted at root. local
// names the writer whose log this peer may append to and
// may be empty. persister may be nil for in-memory sets.
func NewLogSet(root WriterID, local WriterID, persister Persister) *LogSet {

	s := &LogSet{
		root:       root,
		local:      local,
		logs:       make(map[WriterID]*WriterLog),
		authorized: map[WriterID]struct{}{root: {}},
		persister:  persister,
	}

	s.logs[root] = NewWriterLog(root)
	if local != "" {
		if _, ok := s.logs[local]; !ok {
			s.logs[local] = NewWriterLog(local)
		}
	}

	return s
}

// Root returns the identity of the bootstrapping writer.
func (s *LogSet) Root() WriterID {
	return s.root
}

// Local returns the identity of the local writer.
func (s *LogSet) Local() WriterID {
	return s.local
}

// Append adds op to the local writer's log. Writer and Seq
// of op are assigned here.
func (s *LogSet) Append(op *Operation) (*Change, error) {

	if s.local == "" {
		return nil, ErrNoLocalWriter
	}

	op.Writer = s.local
	op.Seq = s.Next(s.local)

	return s.commit(s.local, []*Operation{op}, true)
}

// Ingest accepts a contiguous suffix of writer's log that
// starts at or before the next expected sequence number.
// A gap yields an OutOfOrderError and a suffix consisting
// only of known operations a DuplicateError; in both cases
// the log set is left untouched.
func (s *LogSet) Ingest(writer WriterID, ops []*Operation) (*Change, error) {
	return s.ingest(writer, ops, true)
}

// Restore is Ingest for operations loaded from durable
// storage: they are not handed to the persister again.
func (s *LogSet) Restore(writer WriterID, ops []*Operation) (*Change, error) {
	return s.ingest(writer, ops, false)
}

func (s *LogSet) ingest(writer WriterID, ops []*Operation, persist bool) (*Change, error) {

	if len(ops) == 0 {
		return &Change{From: len(s.order)}, nil
	}

	// Check the suffix is well-formed before looking at
	// any state so that a rejection changes nothing.
	for i, op := range ops {

		if op == nil {
			return nil, errors.Errorf("nil operation at index %d of suffix for writer %s", i, writer.Short())
		}

		if op.Writer != writer {
			return nil, errors.Errorf("operation %s does not belong to writer %s", op, writer.Short())
		}

		if op.Seq != ops[0].Seq+uint64(i) {
			return nil, &OutOfOrderError{
				Writer:   writer,
				Expected: ops[0].Seq + uint64(i),
				Got:      op.Seq,
			}
		}
	}

	next := s.Next(writer)

	if ops[0].Seq > next {
		return nil, &OutOfOrderError{
			Writer:   writer,
			Expected: next,
			Got:      ops[0].Seq,
		}
	}

	// Drop the already known prefix.
	skip := next - ops[0].Seq
	if skip >= uint64(len(ops)) {
		return nil, &DuplicateError{
			Writer: writer,
			Seq:    ops[len(ops)-1].Seq,
		}
	}

	return s.commit(writer, ops[skip:], persist)
}

// commit stores ops at the end of writer's log and moves
// the global order accordingly.
func (s *LogSet) commit(writer WriterID, ops []*Operation, persist bool) (*Change, error) {

	// The set keeps its own copies, callers may reuse theirs.
	owned := make([]*Operation, len(ops))
	for i, op := range ops {
		owned[i] = op.Clone()
	}
	ops = owned

	if persist && s.persister != nil {
		if err := s.persister.Persist(writer, ops); err != nil {
			return nil, errors.Wrapf(err, "failed to persist %d operations of writer %s", len(ops), writer.Short())
		}
	}

	log, ok := s.logs[writer]
	if !ok {
		log = NewWriterLog(writer)
		s.logs[writer] = log
	}

	first := log.Len()
	for _, op := range ops {
		log.push(op)
	}

	change := &Change{
		From:  len(s.order),
		Added: len(ops),
	}

	// Operations of writers that are not (yet) authorized
	// are kept but do not take part in the order.
	if !s.IsAuthorized(writer) {
		return change, nil
	}

	if s.grantsNewWriter(ops) {
		s.rederive(change)
		return change, nil
	}

	change.From = s.splice(log, first)

	return change, nil
}

// grantsNewWriter reports whether ops of an authorized
// writer add a key that is not authorized yet.
func (s *LogSet) grantsNewWriter(ops []*Operation) bool {

	for _, op := range ops {

		if op.Kind != KindAddWriter || !op.WriterKey.Valid() {
			continue
		}

		if !s.IsAuthorized(op.WriterKey) {
			return true
		}
	}

	return false
}

// splice merges the operations of log starting at index
// first into the current order and returns the index of
// the first spliced entry.
func (s *LogSet) splice(log *WriterLog, first int) int {

	added := make([]entry, 0, log.Len()-first)
	for seq := first; seq < log.Len(); seq++ {
		added = append(added, entry{
			pos: log.Position(uint64(seq)),
			op:  log.ops[seq],
		})
	}

	// Entries of one log are already in position order,
	// only the place of the first one needs searching.
	from := sort.Search(len(s.order), func(i int) bool {
		return added[0].pos.Before(s.order[i].pos)
	})

	if from == len(s.order) {
		s.order = append(s.order, added...)
		return from
	}

	tail := s.order[from:]
	merged := make([]entry, 0, len(tail)+len(added))
	i, j := 0, 0

	for i < len(tail) && j < len(added) {

		if added[j].pos.Before(tail[i].pos) {
			merged = append(merged, added[j])
			j++
		} else {
			merged = append(merged, tail[i])
			i++
		}
	}

	merged = append(merged, tail[i:]...)
	merged = append(merged, added[j:]...)

	s.order = append(s.order[:from], merged...)

	return from
}

// rederive recomputes the authorized set and the full
// order after the set of authorized writers grew. Earlier
// operations of a newly authorized writer land at their
// original positions, so the order may change before its
// tail; change.From reports where.
func (s *LogSet) rederive(change *Change) {

	previous := s.authorized
	s.authorized = s.deriveAuthorized()

	for id := range s.authorized {
		if _, ok := previous[id]; !ok {
			change.Authorized = append(change.Authorized, id)
		}
	}
	sort.Slice(change.Authorized, func(i, j int) bool {
		return change.Authorized[i] < change.Authorized[j]
	})

	old := s.order
	s.order = s.mergeAll()

	from := 0
	for from < len(old) && from < len(s.order) && old[from].op == s.order[from].op {
		from++
	}
	change.From = from
}

// deriveAuthorized walks the chain of trust from the
// root: every valid AddWriter in the log of an authorized
// writer authorizes its key.
func (s *LogSet) deriveAuthorized() map[WriterID]struct{} {

	authorized := map[WriterID]struct{}{s.root: {}}
	queue := []WriterID{s.root}

	for len(queue) > 0 {

		id := queue[0]
		queue = queue[1:]

		log, ok := s.logs[id]
		if !ok {
			continue
		}

		for _, op := range log.ops {

			if op.Kind != KindAddWriter || !op.WriterKey.Valid() {
				continue
			}

			if _, ok := authorized[op.WriterKey]; !ok {
				authorized[op.WriterKey] = struct{}{}
				queue = append(queue, op.WriterKey)
			}
		}
	}

	return authorized
}

// mergeAll builds the global order from scratch.
func (s *LogSet) mergeAll() []entry {

	var all []entry

	for id := range s.authorized {

		log, ok := s.logs[id]
		if !ok {
			continue
		}

		for seq := range log.ops {
			all = append(all, entry{
				pos: log.Position(uint64(seq)),
				op:  log.ops[seq],
			})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].pos.Before(all[j].pos)
	})

	return all
}

// Order returns the global order over all operations
// of authorized writers.
func (s *LogSet) Order() []*Operation {

	ops := make([]*Operation, len(s.order))
	for i, e := range s.order {
		ops[i] = e.op
	}

	return ops
}

// Len returns the length of the global order.
func (s *LogSet) Len() int {
	return len(s.order)
}

// Next returns the next expected sequence number of
// writer's log, 0 for writers never seen before.
func (s *LogSet) Next(writer WriterID) uint64 {

	log, ok := s.logs[writer]
	if !ok {
		return 0
	}

	return log.Next()
}

// Log returns the log of writer if it is known.
func (s *LogSet) Log(writer WriterID) (*WriterLog, bool) {
	log, ok := s.logs[writer]
	return log, ok
}

// IsAuthorized reports whether writer may contribute
// to the global order. Once true, it stays true.
func (s *LogSet) IsAuthorized(writer WriterID) bool {
	_, ok := s.authorized[writer]
	return ok
}

// Authorized returns all authorized writers, sorted.
func (s *LogSet) Authorized() []WriterID {

	ids := make([]WriterID, 0, len(s.authorized))
	for id := range s.authorized {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Heads returns the next expected sequence
// number of every known log.
func (s *LogSet) Heads() Heads {

	heads := make(Heads, len(s.logs))
	for id, log := range s.logs {
		heads[id] = log.Next()
	}

	return heads
}

// Since returns the operations known here beyond heads,
// grouped per writer in sequence order, writers sorted.
// At most limit operations are returned if limit is
// positive; what is returned per writer stays contiguous.
// The operations are the log set's own and stay unmodified.
func (s *LogSet) Since(heads Heads, limit int) []*Operation {

	ids := make([]WriterID, 0, len(s.logs))
	for id := range s.logs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var ops []*Operation

	for _, id := range ids {

		suffix := s.logs[id].From(heads[id])

		if limit > 0 && len(ops)+len(suffix) > limit {
			suffix = suffix[:limit-len(ops)]
		}

		ops = append(ops, suffix...)

		if limit > 0 && len(ops) >= limit {
			break
		}
	}

	return ops
}
