package view

import (
	"github.com/go-pluto/gallery/oplog"
)

// Structs

// Replayer keeps a Store in step with a growing global
// order. Operations appended at the tail are applied
// incrementally. When an insertion lands before what was
// already applied, the store is rewound to the closest
// checkpoint not past the insertion and replayed from there.
type Replayer struct {
	root        oplog.WriterID
	interval    int
	store       *Store
	applied     int
	checkpoints []checkpoint
}

type checkpoint struct {
	at    int
	store *Store
}

// Result summarizes one call to Replay.
type Result struct {

	// Changed is set if the visible view differs
	// from the one before the call.
	Changed bool

	// Rewound is set if applied operations had
	// to be re-derived from a checkpoint.
	Rewound bool

	// Added lists files that became visible.
	Added []Entry

	// NewWriters lists writers that became authorized.
	NewWriters []oplog.WriterID

	// Malformed holds one MalformedOperationError per
	// skipped operation at or beyond the insertion point.
	Malformed []error
}

// Functions

// NewReplayer returns a replayer for the space rooted at
// root that snapshots its store every interval operations.
// An interval of zero or less disables checkpoints, so
// every rewind replays from the start.
func NewReplayer(root oplog.WriterID, interval int) *Replayer {

	return &Replayer{
		root:     root,
		interval: interval,
		store:    NewStore(root),
	}
}

// Store returns the current view. The caller must not
// hold on to it across calls to Replay.
func (r *Replayer) Store() *Store {
	return r.store
}

// Applied returns the length of the order prefix the
// current store reflects.
func (r *Replayer) Applied() int {
	return r.applied
}

// Replay brings the store up to date with order, given
// that order[:from] is unchanged since the previous call.
func (r *Replayer) Replay(order []*oplog.Operation, from int) *Result {

	if from < 0 {
		from = 0
	}

	if from > r.applied {
		from = r.applied
	}

	before := r.store
	res := &Result{}

	if from < r.applied {
		r.rewind(from)
		res.Rewound = true
	}

	for i := r.applied; i < len(order); i++ {

		if r.interval > 0 && i > 0 && (i%r.interval) == 0 {
			if len(r.checkpoints) == 0 || r.checkpoints[len(r.checkpoints)-1].at < i {
				r.checkpoints = append(r.checkpoints, checkpoint{at: i, store: r.store.clone()})
			}
		}

		result, err := Apply(order[i], r.store)
		if err != nil {

			if i >= from {
				res.Malformed = append(res.Malformed, err)
			}

			continue
		}

		if res.Rewound {
			continue
		}

		switch result {
		case FileAdded:
			res.Added = append(res.Added, r.store.entries[len(r.store.entries)-1])
			res.Changed = true
		case WriterAdded:
			res.NewWriters = append(res.NewWriters, order[i].WriterKey)
			res.Changed = true
		}
	}

	r.applied = len(order)

	if res.Rewound {
		r.diff(before, res)
	}

	return res
}

// Rebuild discards all derived state and replays
// order from the first operation.
func (r *Replayer) Rebuild(order []*oplog.Operation) *Result {

	before := r.store

	r.store = NewStore(r.root)
	r.applied = 0
	r.checkpoints = nil

	res := r.Replay(order, 0)
	res.Rewound = true
	res.Added = nil
	res.NewWriters = nil
	r.diff(before, res)

	return res
}

// rewind restores the store to the state after order[:k]
// for the largest checkpoint k not past from.
func (r *Replayer) rewind(from int) {

	i := len(r.checkpoints)
	for i > 0 && r.checkpoints[i-1].at > from {
		i--
	}
	r.checkpoints = r.checkpoints[:i]

	if i == 0 {
		r.store = NewStore(r.root)
		r.applied = 0
		return
	}

	cp := r.checkpoints[i-1]
	r.store = cp.store.clone()
	r.applied = cp.at
}

// diff fills res with what the current store
// shows that before did not.
func (r *Replayer) diff(before *Store, res *Result) {

	for _, e := range r.store.entries {
		if prev, ok := before.Get(e.Filename); !ok || prev != e {
			res.Added = append(res.Added, e)
		}
	}

	for _, id := range r.store.Writers() {
		if !before.IsWriter(id) {
			res.NewWriters = append(res.NewWriters, id)
		}
	}

	res.Changed = !r.store.Equal(before)
}
