package view_test

import (
	"crypto/ed25519"
	"math/rand"
	"testing"
	"time"

	"github.com/go-pluto/gallery/oplog"
	"github.com/go-pluto/gallery/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

func newWriter(t *testing.T) oplog.WriterID {

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	return oplog.NewWriterID(pub)
}

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

func rebuilt(root oplog.WriterID, order []*oplog.Operation) *view.Store {

	r := view.NewReplayer(root, 0)
	r.Rebuild(order)

	return r.Store()
}

// TestFirstWriteWins checks that two writers racing for the
// same filename converge on the write that comes first in
// the global order, whatever order their logs arrive in.
func TestFirstWriteWins(t *testing.T) {

	a := newWriter(t)
	b := newWriter(t)

	aLog := authored(a,
		oplog.NewAddWriter(b, a, at(1)),
		oplog.NewPutFile("x.gif", []byte("from-a"), at(20)),
	)
	bLog := authored(b,
		oplog.NewPutFile("x.gif", []byte("from-b"), at(10)),
	)

	peerA := oplog.NewLogSet(a, a, nil)
	_, err := peerA.Ingest(a, aLog)
	require.NoError(t, err)
	_, err = peerA.Ingest(b, bLog)
	require.NoError(t, err)

	peerB := oplog.NewLogSet(a, b, nil)
	_, err = peerB.Ingest(b, bLog)
	require.NoError(t, err)
	_, err = peerB.Ingest(a, aLog)
	require.NoError(t, err)

	viewA := rebuilt(a, peerA.Order())
	viewB := rebuilt(a, peerB.Order())
	assert.True(t, viewA.Equal(viewB))

	entry, ok := viewA.Get("x.gif")
	require.True(t, ok)
	assert.Equal(t, oplog.BlobRef([]byte("from-b")), entry.Ref)
	assert.Equal(t, b, entry.Writer)
	assert.Equal(t, 1, viewA.Len())
}

// TestReplayTracksChanges feeds operations one log suffix at a
// time and checks that the incrementally maintained view always
// equals a view rebuilt from scratch.
func TestReplayTracksChanges(t *testing.T) {

	root := newWriter(t)
	b := newWriter(t)
	c := newWriter(t)

	logs := map[oplog.WriterID][]*oplog.Operation{
		root: authored(root,
			oplog.NewPutFile("r0.gif", []byte{0}, at(10)),
			oplog.NewAddWriter(b, root, at(50)),
			oplog.NewPutFile("shared.webp", []byte{1}, at(60)),
			oplog.NewPutFile("r3.gif", []byte{2}, at(90)),
		),
		b: authored(b,
			oplog.NewPutFile("b0.gif", []byte{3}, at(5)),
			oplog.NewAddWriter(c, b, at(55)),
			oplog.NewPutFile("shared.webp", []byte{4}, at(58)),
		),
		c: authored(c,
			oplog.NewPutFile("c0.gif", []byte{5}, at(15)),
			oplog.NewPutFile("r0.gif", []byte{6}, at(70)),
		),
	}
	writers := []oplog.WriterID{root, b, c}

	for round := 0; round < 30; round++ {

		rnd := rand.New(rand.NewSource(int64(round)))
		set := oplog.NewLogSet(root, "", nil)
		replayer := view.NewReplayer(root, 2)

		next := map[oplog.WriterID]int{}
		for {

			var open []oplog.WriterID
			for _, w := range writers {
				if next[w] < len(logs[w]) {
					open = append(open, w)
				}
			}

			if len(open) == 0 {
				break
			}

			w := open[rnd.Intn(len(open))]
			n := 1 + rnd.Intn(len(logs[w])-next[w])

			change, err := set.Ingest(w, logs[w][next[w]:next[w]+n])
			require.NoError(t, err)
			next[w] += n

			replayer.Replay(set.Order(), change.From)
			assert.True(t, replayer.Store().Equal(rebuilt(root, set.Order())), "round %d", round)
		}

		assert.Equal(t, 5, replayer.Store().Len())
		assert.ElementsMatch(t, []oplog.WriterID{root, b, c}, replayer.Store().Writers())

		shared, ok := replayer.Store().Get("shared.webp")
		require.True(t, ok)
		assert.Equal(t, b, shared.Writer)

		first, ok := replayer.Store().Get("r0.gif")
		require.True(t, ok)
		assert.Equal(t, root, first.Writer)
	}
}

// TestRebuildIsIdempotent checks that rebuilding twice
// from the same order yields equal stores and that a
// second rebuild reports no change.
func TestRebuildIsIdempotent(t *testing.T) {

	root := newWriter(t)
	set := oplog.NewLogSet(root, root, nil)

	for _, name := range []string{"a.gif", "b.gif", "a.gif", "c.webp"} {
		_, err := set.Append(oplog.NewPutFile(name, []byte(name), time.Now()))
		require.NoError(t, err)
	}

	r := view.NewReplayer(root, 3)

	first := r.Rebuild(set.Order())
	assert.True(t, first.Changed)
	assert.Len(t, first.Added, 3)
	snapshot := r.Store()

	second := r.Rebuild(set.Order())
	assert.False(t, second.Changed)
	assert.Empty(t, second.Added)
	assert.True(t, snapshot.Equal(r.Store()))

	names := []string{}
	for _, e := range r.Store().List() {
		names = append(names, e.Filename)
	}
	assert.Equal(t, []string{"a.gif", "b.gif", "c.webp"}, names)
}

// TestRewindReportsDisplacedWrite checks that an insertion
// before already applied operations re-derives the view and
// reports the file whose owner changed.
func TestRewindReportsDisplacedWrite(t *testing.T) {

	root := newWriter(t)
	b := newWriter(t)

	set := oplog.NewLogSet(root, "", nil)
	r := view.NewReplayer(root, 1)

	_, err := set.Ingest(b, authored(b, oplog.NewPutFile("cat.gif", []byte("b"), at(10))))
	require.NoError(t, err)

	change, err := set.Ingest(root, authored(root,
		oplog.NewPutFile("dog.gif", []byte("r"), at(5)),
		oplog.NewPutFile("cat.gif", []byte("r"), at(20)),
	))
	require.NoError(t, err)

	res := r.Replay(set.Order(), change.From)
	assert.False(t, res.Rewound)
	assert.Len(t, res.Added, 2)
	assert.Equal(t, root, mustGet(t, r.Store(), "cat.gif").Writer)

	change, err = set.Ingest(root, authored(root,
		oplog.NewPutFile("dog.gif", []byte("r"), at(5)),
		oplog.NewPutFile("cat.gif", []byte("r"), at(20)),
		oplog.NewAddWriter(b, root, at(30)),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, change.From)

	res = r.Replay(set.Order(), change.From)
	assert.True(t, res.Rewound)
	assert.True(t, res.Changed)
	assert.Equal(t, []oplog.WriterID{b}, res.NewWriters)
	require.Len(t, res.Added, 1)
	assert.Equal(t, b, res.Added[0].Writer)
	assert.Equal(t, b, mustGet(t, r.Store(), "cat.gif").Writer)
	assert.Equal(t, 4, r.Applied())
}

func mustGet(t *testing.T, s *view.Store, name string) view.Entry {

	e, ok := s.Get(name)
	require.True(t, ok)

	return e
}

// TestMalformedOperationsAreSkipped checks that broken
// operations are reported but do not stop the replay.
func TestMalformedOperationsAreSkipped(t *testing.T) {

	root := newWriter(t)

	order := authored(root,
		oplog.NewPutFile("", []byte{1}, at(1)),
		oplog.NewPutFile("empty.gif", nil, at(2)),
		oplog.NewAddWriter("bogus", root, at(3)),
		&oplog.Operation{Kind: oplog.Kind(9), Timestamp: 4},
		oplog.NewPutFile("ok.gif", []byte{2}, at(5)),
	)

	r := view.NewReplayer(root, 0)
	res := r.Replay(order, 0)

	require.Len(t, res.Malformed, 4)
	for _, err := range res.Malformed {
		var malformed *view.MalformedOperationError
		assert.ErrorAs(t, err, &malformed)
		assert.Equal(t, root, malformed.Writer)
	}

	assert.Equal(t, 1, r.Store().Len())
	assert.True(t, r.Store().Has("ok.gif"))
	assert.False(t, r.Store().Has("empty.gif"))
	assert.Equal(t, []oplog.WriterID{root}, r.Store().Writers())
}

// TestApplyIdempotentAddWriter checks that authorizing a
// known writer a second time changes nothing.
func TestApplyIdempotentAddWriter(t *testing.T) {

	root := newWriter(t)
	b := newWriter(t)
	s := view.NewStore(root)

	result, err := view.Apply(oplog.NewAddWriter(b, root, at(1)), s)
	require.NoError(t, err)
	assert.Equal(t, view.WriterAdded, result)

	result, err = view.Apply(oplog.NewAddWriter(b, root, at(2)), s)
	require.NoError(t, err)
	assert.Equal(t, view.Unchanged, result)

	result, err = view.Apply(oplog.NewAddWriter(root, root, at(3)), s)
	require.NoError(t, err)
	assert.Equal(t, view.Unchanged, result)
}
