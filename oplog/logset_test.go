package oplog_test

import (
	"crypto/ed25519"
	"math/rand"
	"testing"
	"time"

	"github.com/go-pluto/gallery/oplog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

func newWriter(t *testing.T) oplog.WriterID {

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	return oplog.NewWriterID(pub)
}

// authored builds a standalone log for writer the way
// the writer's own LogSet would number it.
func authored(writer oplog.WriterID, ops ...*oplog.Operation) []*oplog.Operation {

	for i, op := range ops {
		op.Writer = writer
		op.Seq = uint64(i)
	}

	return ops
}

func at(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func orderIDs(ops []*oplog.Operation) []string {

	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.String()
	}

	return ids
}

type recordingPersister struct {
	persisted int
	fail      error
}

func (p *recordingPersister) Persist(writer oplog.WriterID, ops []*oplog.Operation) error {

	if p.fail != nil {
		return p.fail
	}

	p.persisted += len(ops)

	return nil
}

// TestAppendAssignsSequence checks that the local log
// numbers operations from 0 and orders them by clock.
func TestAppendAssignsSequence(t *testing.T) {

	root := newWriter(t)
	set := oplog.NewLogSet(root, root, nil)

	for i := 0; i < 3; i++ {
		change, err := set.Append(oplog.NewPutFile("a.gif", []byte{byte(i)}, at(int64(100+i))))
		require.NoError(t, err)
		assert.Equal(t, i, change.From)
		assert.Equal(t, 1, change.Added)
	}

	order := set.Order()
	require.Len(t, order, 3)

	for i, op := range order {
		assert.Equal(t, uint64(i), op.Seq)
		assert.Equal(t, root, op.Writer)
	}

	assert.Equal(t, uint64(3), set.Next(root))
}

// TestAppendWithoutLocalWriter checks the read-only case.
func TestAppendWithoutLocalWriter(t *testing.T) {

	set := oplog.NewLogSet(newWriter(t), "", nil)

	_, err := set.Append(oplog.NewPutFile("a.gif", []byte{1}, at(1)))
	assert.Equal(t, oplog.ErrNoLocalWriter, err)
}

// TestIngestGapIsOutOfOrder checks that a suffix starting
// beyond the next expected sequence number is rejected
// without any partial state change.
func TestIngestGapIsOutOfOrder(t *testing.T) {

	root := newWriter(t)
	log := authored(root,
		oplog.NewPutFile("0.gif", []byte{0}, at(1)),
		oplog.NewPutFile("1.gif", []byte{1}, at(2)),
		oplog.NewPutFile("2.gif", []byte{2}, at(3)),
		oplog.NewPutFile("3.gif", []byte{3}, at(4)),
		oplog.NewPutFile("4.gif", []byte{4}, at(5)),
		oplog.NewPutFile("5.gif", []byte{5}, at(6)),
	)

	persister := &recordingPersister{}
	set := oplog.NewLogSet(root, "", persister)

	_, err := set.Ingest(root, log[:4])
	require.NoError(t, err)

	// Sequence 4 was never seen, 5 must not be accepted.
	_, err = set.Ingest(root, log[5:])
	require.Error(t, err)

	var ooo *oplog.OutOfOrderError
	require.ErrorAs(t, err, &ooo)
	assert.Equal(t, uint64(4), ooo.Expected)
	assert.Equal(t, uint64(5), ooo.Got)
	assert.True(t, oplog.IsOutOfOrder(err))

	assert.Equal(t, uint64(4), set.Next(root))
	assert.Equal(t, 4, set.Len())
	assert.Equal(t, 4, persister.persisted)
}

// TestIngestNonContiguousSuffix checks that a hole inside
// the suffix is reported before anything is stored.
func TestIngestNonContiguousSuffix(t *testing.T) {

	root := newWriter(t)
	log := authored(root,
		oplog.NewPutFile("0.gif", []byte{0}, at(1)),
		oplog.NewPutFile("1.gif", []byte{1}, at(2)),
		oplog.NewPutFile("2.gif", []byte{2}, at(3)),
	)

	set := oplog.NewLogSet(root, "", nil)

	_, err := set.Ingest(root, []*oplog.Operation{log[0], log[2]})
	assert.True(t, oplog.IsOutOfOrder(err))
	assert.Equal(t, 0, set.Len())
}

// TestIngestDuplicate checks that re-ingesting known
// entries is reported as duplicate and changes nothing,
// while an overlapping suffix only adds the new part.
func TestIngestDuplicate(t *testing.T) {

	root := newWriter(t)
	log := authored(root,
		oplog.NewPutFile("0.gif", []byte{0}, at(1)),
		oplog.NewPutFile("1.gif", []byte{1}, at(2)),
		oplog.NewPutFile("2.gif", []byte{2}, at(3)),
	)

	persister := &recordingPersister{}
	set := oplog.NewLogSet(root, "", persister)

	_, err := set.Ingest(root, log[:2])
	require.NoError(t, err)
	before := orderIDs(set.Order())

	_, err = set.Ingest(root, log[:2])
	assert.True(t, oplog.IsDuplicate(err))
	assert.Equal(t, before, orderIDs(set.Order()))

	change, err := set.Ingest(root, log)
	require.NoError(t, err)
	assert.Equal(t, 1, change.Added)
	assert.Equal(t, 2, change.From)
	assert.Equal(t, 3, persister.persisted)
}

// TestPersistFailureLeavesNoTrace checks the durable
// write happens before the in-memory commit.
func TestPersistFailureLeavesNoTrace(t *testing.T) {

	root := newWriter(t)
	log := authored(root, oplog.NewPutFile("0.gif", []byte{0}, at(1)))

	set := oplog.NewLogSet(root, "", &recordingPersister{fail: assert.AnError})

	_, err := set.Ingest(root, log)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, uint64(0), set.Next(root))
	assert.Equal(t, 0, set.Len())
}

// TestUnauthorizedWriterReplayedAtOriginalPosition checks
// that operations of a writer that was not authorized at
// ingest time enter the order at their own positions once
// an AddWriter for it arrives.
func TestUnauthorizedWriterReplayedAtOriginalPosition(t *testing.T) {

	root := newWriter(t)
	joiner := newWriter(t)

	rootLog := authored(root,
		oplog.NewPutFile("r0.gif", []byte{0}, at(10)),
		oplog.NewPutFile("r1.gif", []byte{1}, at(30)),
		oplog.NewAddWriter(joiner, root, at(40)),
	)
	joinerLog := authored(joiner,
		oplog.NewPutFile("j0.gif", []byte{2}, at(20)),
	)

	set := oplog.NewLogSet(root, "", nil)

	change, err := set.Ingest(joiner, joinerLog)
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
	assert.Equal(t, 0, change.From)
	assert.False(t, set.IsAuthorized(joiner))

	_, err = set.Ingest(root, rootLog[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())

	change, err = set.Ingest(root, rootLog[2:])
	require.NoError(t, err)
	assert.Equal(t, []oplog.WriterID{joiner}, change.Authorized)
	assert.True(t, set.IsAuthorized(joiner))

	// j0 sorts between r0 and r1.
	assert.Equal(t, 1, change.From)
	order := set.Order()
	require.Len(t, order, 4)
	assert.Equal(t, "r0.gif", order[0].Filename)
	assert.Equal(t, "j0.gif", order[1].Filename)
	assert.Equal(t, "r1.gif", order[2].Filename)
	assert.Equal(t, oplog.KindAddWriter, order[3].Kind)
}

// TestChainOfTrust checks that writers authorized by an
// authorized writer may authorize others, and that AddWriter
// ops of unauthorized writers do not count.
func TestChainOfTrust(t *testing.T) {

	root := newWriter(t)
	b := newWriter(t)
	c := newWriter(t)
	rogue := newWriter(t)
	outsider := newWriter(t)

	set := oplog.NewLogSet(root, "", nil)

	_, err := set.Ingest(rogue, authored(rogue, oplog.NewAddWriter(outsider, rogue, at(1))))
	require.NoError(t, err)

	_, err = set.Ingest(b, authored(b, oplog.NewAddWriter(c, b, at(2))))
	require.NoError(t, err)
	assert.False(t, set.IsAuthorized(c))

	change, err := set.Ingest(root, authored(root, oplog.NewAddWriter(b, root, at(3))))
	require.NoError(t, err)
	assert.ElementsMatch(t, []oplog.WriterID{b, c}, change.Authorized)

	assert.True(t, set.IsAuthorized(b))
	assert.True(t, set.IsAuthorized(c))
	assert.False(t, set.IsAuthorized(rogue))
	assert.False(t, set.IsAuthorized(outsider))
}

// TestMalformedAddWriterIgnoredForAuthorization checks that
// a key that is not a public key never authorizes anyone.
func TestMalformedAddWriterIgnoredForAuthorization(t *testing.T) {

	root := newWriter(t)
	set := oplog.NewLogSet(root, "", nil)

	change, err := set.Ingest(root, authored(root, oplog.NewAddWriter("not-a-key", root, at(1))))
	require.NoError(t, err)
	assert.Empty(t, change.Authorized)
	assert.Equal(t, []oplog.WriterID{root}, set.Authorized())
	assert.Equal(t, 1, set.Len())
}

// TestClockSkewKeepsSequenceOrder checks that a log whose
// wall clock ran backwards still contributes in sequence order.
func TestClockSkewKeepsSequenceOrder(t *testing.T) {

	root := newWriter(t)
	set := oplog.NewLogSet(root, "", nil)

	_, err := set.Ingest(root, authored(root,
		oplog.NewPutFile("late.gif", []byte{0}, at(500)),
		oplog.NewPutFile("early.gif", []byte{1}, at(100)),
	))
	require.NoError(t, err)

	order := set.Order()
	assert.Equal(t, "late.gif", order[0].Filename)
	assert.Equal(t, "early.gif", order[1].Filename)

	log, ok := set.Log(root)
	require.True(t, ok)
	assert.Equal(t, int64(500), log.Position(1).Clock)
}

// TestOrderDeterministicAcrossDeliveryOrders feeds the same
// logs in random delivery orders and in random chunk sizes
// into independent log sets and expects identical orders.
func TestOrderDeterministicAcrossDeliveryOrders(t *testing.T) {

	root := newWriter(t)
	b := newWriter(t)
	c := newWriter(t)

	logs := map[oplog.WriterID][]*oplog.Operation{
		root: authored(root,
			oplog.NewPutFile("cat.gif", []byte("root"), at(100)),
			oplog.NewAddWriter(b, root, at(150)),
			oplog.NewPutFile("dog.gif", []byte("root"), at(300)),
		),
		b: authored(b,
			oplog.NewPutFile("cat.gif", []byte("b"), at(100)),
			oplog.NewAddWriter(c, b, at(200)),
			oplog.NewPutFile("owl.gif", []byte("b"), at(300)),
		),
		c: authored(c,
			oplog.NewPutFile("owl.gif", []byte("c"), at(250)),
			oplog.NewPutFile("dog.gif", []byte("c"), at(300)),
		),
	}

	type chunk struct {
		writer oplog.WriterID
		ops    []*oplog.Operation
	}

	var expected []string
	rnd := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {

		// Cut every log into random contiguous chunks.
		var queues [][]chunk
		for writer, log := range logs {
			var q []chunk
			for start := 0; start < len(log); {
				end := start + 1 + rnd.Intn(len(log)-start)
				q = append(q, chunk{writer, log[start:end]})
				start = end
			}
			queues = append(queues, q)
		}

		set := oplog.NewLogSet(root, "", nil)

		// Interleave the per-writer queues randomly.
		for len(queues) > 0 {
			i := rnd.Intn(len(queues))
			_, err := set.Ingest(queues[i][0].writer, queues[i][0].ops)
			require.NoError(t, err)

			queues[i] = queues[i][1:]
			if len(queues[i]) == 0 {
				queues = append(queues[:i], queues[i+1:]...)
			}
		}

		got := orderIDs(set.Order())
		require.Len(t, got, 8)

		if expected == nil {
			expected = got
			continue
		}

		assert.Equal(t, expected, got, "round %d diverged", round)
	}
}

// TestSinceReturnsContiguousSuffixes checks the data a
// peer serves to a replicating peer.
func TestSinceReturnsContiguousSuffixes(t *testing.T) {

	root := newWriter(t)
	b := newWriter(t)

	set := oplog.NewLogSet(root, "", nil)

	_, err := set.Ingest(root, authored(root,
		oplog.NewAddWriter(b, root, at(1)),
		oplog.NewPutFile("a.gif", []byte{1}, at(2)),
	))
	require.NoError(t, err)

	_, err = set.Ingest(b, authored(b,
		oplog.NewPutFile("b.gif", []byte{2}, at(3)),
		oplog.NewPutFile("c.gif", []byte{3}, at(4)),
	))
	require.NoError(t, err)

	all := set.Since(nil, 0)
	assert.Len(t, all, 4)

	partial := set.Since(oplog.Heads{root: 1, b: 2}, 0)
	require.Len(t, partial, 1)
	assert.Equal(t, "a.gif", partial[0].Filename)

	limited := set.Since(nil, 3)
	assert.Len(t, limited, 3)

	heads := set.Heads()
	assert.Equal(t, uint64(2), heads[root])
	assert.Equal(t, uint64(2), heads[b])
}

// TestIngestKeepsOwnCopies changes operations after handing
// them to one log set and replicates them into another.
func TestIngestKeepsOwnCopies(t *testing.T) {

	root := newWriter(t)

	src := oplog.NewLogSet(root, "", nil)
	ops := authored(root, oplog.NewPutFile("a.gif", []byte{1, 2}, at(1)))

	_, err := src.Ingest(root, ops)
	require.NoError(t, err)

	ops[0].Filename = "b.gif"
	ops[0].Blob[0] = 9

	dst := oplog.NewLogSet(root, "", nil)
	_, err = dst.Ingest(root, src.Since(nil, 0))
	require.NoError(t, err)

	for _, set := range []*oplog.LogSet{src, dst} {

		log, ok := set.Log(root)
		require.True(t, ok)

		op, ok := log.Get(0)
		require.True(t, ok)
		assert.Equal(t, "a.gif", op.Filename)
		assert.Equal(t, []byte{1, 2}, op.Blob)
	}

	assert.NotSame(t, src.Order()[0], dst.Order()[0])
}
