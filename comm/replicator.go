package comm

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/gallery/oplog"
	"github.com/pkg/errors"
)

// Structs

// Sink is the local side of replication.
type Sink interface {

	// Cursor describes what the sink holds. ok is
	// false while the peer is not part of a space.
	Cursor() (cursor *oplog.Cursor, ok bool)

	// Ingest takes contiguous suffixes of one or
	// more writer logs, grouped by writer.
	Ingest(ctx context.Context, ops []*oplog.Operation) error
}

// Replicator pulls news from a fixed set of peers
// into a Sink.
type Replicator struct {
	lock        *sync.Mutex
	logger      log.Logger
	sink        Sink
	dialer      *Dialer
	peers       []string
	interval    time.Duration
	callTimeout time.Duration
	limit       int
	trigger     chan struct{}
	shutdown    chan struct{}
	wg          *sync.WaitGroup
}

// Functions

// NewReplicator prepares a Replicator. Call Run to start it.
func NewReplicator(logger log.Logger, sink Sink, dialer *Dialer, peers []string, interval time.Duration, callTimeout time.Duration, limit int) *Replicator {

	return &Replicator{
		lock:        &sync.Mutex{},
		logger:      logger,
		sink:        sink,
		dialer:      dialer,
		peers:       append([]string(nil), peers...),
		interval:    interval,
		callTimeout: callTimeout,
		limit:       limit,
		trigger:     make(chan struct{}, 1),
		shutdown:    make(chan struct{}),
		wg:          &sync.WaitGroup{},
	}
}

// Run starts pulling in the background.
func (r *Replicator) Run() {

	r.wg.Add(1)
	go r.loop()

	// Pull once right away.
	r.Trigger()
}

// Trigger requests a pull round as soon as possible.
// Requests arriving during a round are coalesced.
func (r *Replicator) Trigger() {

	// If buffered channel indicating a pending
	// round is not full yet, make it full.
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// AddPeer makes addr part of every following round.
func (r *Replicator) AddPeer(addr string) {

	r.lock.Lock()
	defer r.lock.Unlock()

	for _, peer := range r.peers {
		if peer == addr {
			return
		}
	}

	r.peers = append(r.peers, addr)
}

func (r *Replicator) loop() {

	defer r.wg.Done()

	// Create a timer that waits for the interval
	// to elapse and then fires.
	triggerT := time.NewTimer(r.interval)
	defer triggerT.Stop()

	for {

		select {

		// Check if a shutdown signal was sent.
		case <-r.shutdown:
			return

		case <-triggerT.C:
			r.PullAll(context.Background())
			triggerT.Reset(r.interval)

		case <-r.trigger:
			r.PullAll(context.Background())
		}
	}
}

// PullAll pulls from every peer in turn. Failing
// peers are logged and skipped.
func (r *Replicator) PullAll(ctx context.Context) {

	r.lock.Lock()
	peers := append([]string(nil), r.peers...)
	r.lock.Unlock()

	for _, peer := range peers {

		if err := r.Pull(ctx, peer); err != nil {
			level.Debug(r.logger).Log(
				"msg", "pull failed",
				"peer", peer,
				"err", err,
			)
		}
	}
}

// Pull fetches everything peer has beyond the sink's
// cursor and hands it to the sink.
func (r *Replicator) Pull(ctx context.Context, peer string) error {

	client, err := r.dialer.Client(peer)
	if err != nil {
		return err
	}

	for {

		cursor, ok := r.sink.Cursor()
		if !ok {
			return nil
		}

		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		resp, err := client.Pull(callCtx, NewPullRequest(cursor, r.limit))
		cancel()
		if err != nil {
			return errors.Wrapf(err, "pull from %s failed", peer)
		}

		if len(resp.Ops) > 0 {

			if err := r.sink.Ingest(ctx, resp.Ops); err != nil {
				return errors.Wrapf(err, "ingesting ops from %s failed", peer)
			}

			level.Debug(r.logger).Log(
				"msg", "pulled operations",
				"peer", peer,
				"ops", len(resp.Ops),
			)
		}

		if !resp.More || len(resp.Ops) == 0 {
			return nil
		}
	}
}

// Close stops the background loop.
func (r *Replicator) Close() {
	close(r.shutdown)
	r.wg.Wait()
}
