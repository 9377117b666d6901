package coordinator_test

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/generic"
	"github.com/go-pluto/gallery/admission"
	"github.com/go-pluto/gallery/coordinator"
	"github.com/go-pluto/gallery/oplog"
	"github.com/go-pluto/gallery/storage"
	"github.com/go-pluto/gallery/view"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Structs

// node is one peer with durable storage in a temporary
// directory. It pairs with and pulls from peer directly.
type node struct {
	t        *testing.T
	dir      string
	identity ed25519.PrivateKey
	logs     *storage.LogStore
	svc      coordinator.Service
	rec      *recorder
	wg       *sync.WaitGroup
	lock     *sync.Mutex
	peer     *node
	noSync   bool
}

// recorder keeps every notification it receives.
type recorder struct {
	lock     *sync.Mutex
	views    int
	uploads  map[string]error
	tokens   []string
	joined   []oplog.WriterID
	timeouts int
}

// Functions

func newRecorder() *recorder {

	return &recorder{
		lock:    &sync.Mutex{},
		uploads: make(map[string]error),
	}
}

func (r *recorder) OnViewChanged([]view.Entry) {
	r.lock.Lock()
	r.views++
	r.lock.Unlock()
}

func (r *recorder) OnUploadResult(filename string, err error) {
	r.lock.Lock()
	r.uploads[filename] = err
	r.lock.Unlock()
}

func (r *recorder) OnInviteReady(token string) {
	r.lock.Lock()
	r.tokens = append(r.tokens, token)
	r.lock.Unlock()
}

func (r *recorder) OnInviteError(error) {}

func (r *recorder) OnWriterJoined(writer oplog.WriterID) {
	r.lock.Lock()
	r.joined = append(r.joined, writer)
	r.lock.Unlock()
}

func (r *recorder) OnJoinTimeout() {
	r.lock.Lock()
	r.timeouts++
	r.lock.Unlock()
}

func (r *recorder) joinedWriters() []oplog.WriterID {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]oplog.WriterID(nil), r.joined...)
}

func newNode(t *testing.T, joinTimeout time.Duration) *node {

	_, identity, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	n := &node{
		t:        t,
		dir:      t.TempDir(),
		identity: identity,
		wg:       &sync.WaitGroup{},
		lock:     &sync.Mutex{},
	}
	n.start(joinTimeout)

	t.Cleanup(func() {
		n.wg.Wait()
		n.svc.Close()
		n.logs.Close()
	})

	return n
}

// start opens the storage of n and builds its coordinator.
func (n *node) start(joinTimeout time.Duration) {

	logs, err := storage.OpenLogStore(log.NewNopLogger(), filepath.Join(n.dir, "logs"))
	require.NoError(n.t, err)

	blobs, err := storage.OpenBlobStore(filepath.Join(n.dir, "blobs"))
	require.NoError(n.t, err)

	n.logs = logs
	n.rec = newRecorder()

	svc, err := coordinator.NewService(log.NewNopLogger(), coordinator.Options{
		Identity:           n.identity,
		SpacePath:          filepath.Join(n.dir, "space.toml"),
		Logs:               logs,
		Blobs:              blobs,
		Pairer:             n,
		Syncer:             n,
		Notifier:           n.rec,
		JoinTimeout:        joinTimeout,
		PairRetry:          10 * time.Millisecond,
		CheckpointInterval: 4,
		AllowedExtensions:  []string{"gif", "webp"},
	})
	require.NoError(n.t, err)

	n.svc = svc
}

func (n *node) id() oplog.WriterID {
	return oplog.NewWriterID(n.identity.Public().(ed25519.PublicKey))
}

func (n *node) link(peer *node, pulls bool) {
	n.lock.Lock()
	n.peer = peer
	n.noSync = !pulls
	n.lock.Unlock()
}

func (n *node) Pair(ctx context.Context, discoveryID string, req *admission.Request) (*admission.Confirm, error) {

	n.lock.Lock()
	peer := n.peer
	n.lock.Unlock()

	if peer == nil {
		return nil, errors.New("no peer reachable")
	}

	return peer.svc.HandlePair(ctx, discoveryID, req)
}

// Trigger pulls from the linked peer in the background.
// It is called with the coordinator locked.
func (n *node) Trigger() {

	n.lock.Lock()
	peer := n.peer
	skip := n.noSync
	n.lock.Unlock()

	if peer == nil || skip {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		pull(context.Background(), peer.svc, n.svc)
	}()
}

// pull copies everything src has and dst lacks.
func pull(ctx context.Context, src coordinator.Service, dst coordinator.Service) error {

	cursor, ok := dst.Cursor()
	if !ok {
		return coordinator.ErrNoSpace
	}

	ops, _, err := src.Serve(ctx, cursor, 0)
	if err != nil {
		return err
	}

	return dst.Ingest(ctx, ops)
}

func exchange(t *testing.T, a *node, b *node) {
	require.NoError(t, pull(context.Background(), a.svc, b.svc))
	require.NoError(t, pull(context.Background(), b.svc, a.svc))
}

// join admits b into the space of a.
func join(t *testing.T, a *node, b *node) {

	token, err := a.svc.CreateInvite(context.Background())
	require.NoError(t, err)

	b.link(a, true)
	require.NoError(t, b.svc.JoinSpace(context.Background(), token))
	b.wg.Wait()
}

func names(entries []view.Entry) []string {

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Filename
	}

	return out
}

// TestPutFile checks local uploads and the
// errors a peer rejects them with.
func TestPutFile(t *testing.T) {

	ctx := context.Background()
	a := newNode(t, time.Second)

	_, err := a.svc.PutFile(ctx, "cat.gif", []byte("meow"))
	assert.Equal(t, coordinator.ErrNoSpace, err)

	root, err := a.svc.CreateSpace(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.id(), root)

	_, err = a.svc.CreateSpace(ctx)
	assert.Equal(t, coordinator.ErrAlreadyMember, err)

	entry, err := a.svc.PutFile(ctx, "cat.gif", []byte("meow"))
	require.NoError(t, err)
	assert.Equal(t, "cat.gif", entry.Filename)
	assert.Equal(t, a.id(), entry.Writer)
	assert.Equal(t, oplog.BlobRef([]byte("meow")), entry.Ref)

	blob, err := a.svc.GetBlob(ctx, entry.Ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("meow"), blob)

	_, err = a.svc.PutFile(ctx, "cat.gif", []byte("purr"))
	assert.True(t, coordinator.IsDuplicateFilename(err))
	assert.True(t, coordinator.IsDuplicateFilename(a.rec.uploads["cat.gif"]))

	_, err = a.svc.PutFile(ctx, "notes.txt", []byte("hello"))
	var unsupported *coordinator.UnsupportedFileError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "txt", unsupported.Extension)

	_, err = a.svc.PutFile(ctx, "dog.WEBP", []byte("woof"))
	require.NoError(t, err)

	files, err := a.svc.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat.gif", "dog.WEBP"}, names(files))

	st := a.svc.Status()
	assert.True(t, st.Member)
	assert.True(t, st.Writable)
	assert.Equal(t, 2, st.Files)
	assert.Equal(t, 1, st.Writers)
}

// TestConcurrentWritesConverge lets two writers store the
// same filename without seeing each other. Once the logs
// are exchanged both peers show the same winner.
func TestConcurrentWritesConverge(t *testing.T) {

	ctx := context.Background()
	a := newNode(t, 2*time.Second)
	b := newNode(t, 2*time.Second)

	_, err := a.svc.CreateSpace(ctx)
	require.NoError(t, err)

	join(t, a, b)
	assert.True(t, b.svc.Status().Writable)
	assert.Equal(t, []oplog.WriterID{b.id()}, a.rec.joinedWriters())

	// From here on only explicit exchanges.
	b.link(a, false)

	_, err = a.svc.PutFile(ctx, "cat.gif", []byte("b1"))
	require.NoError(t, err)
	_, err = b.svc.PutFile(ctx, "cat.gif", []byte("b2"))
	require.NoError(t, err)

	exchange(t, a, b)

	filesA, err := a.svc.ListFiles(ctx)
	require.NoError(t, err)
	filesB, err := b.svc.ListFiles(ctx)
	require.NoError(t, err)

	require.Len(t, filesA, 1)
	assert.Equal(t, filesA, filesB)
	assert.Contains(t, []string{oplog.BlobRef([]byte("b1")), oplog.BlobRef([]byte("b2"))}, filesA[0].Ref)

	// Exchanging again changes nothing.
	exchange(t, a, b)
	again, err := b.svc.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, filesB, again)
}

// TestSecondGrantIsNoOp authorizes the same key from two
// writers concurrently.
func TestSecondGrantIsNoOp(t *testing.T) {

	ctx := context.Background()
	a := newNode(t, 2*time.Second)
	b := newNode(t, 2*time.Second)

	root, err := a.svc.CreateSpace(ctx)
	require.NoError(t, err)
	join(t, a, b)
	b.link(a, false)

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := oplog.NewWriterID(pub)

	for _, n := range []*node{a, b} {

		token, err := n.svc.CreateInvite(ctx)
		require.NoError(t, err)

		inv, err := admission.DecodeInvite(token)
		require.NoError(t, err)

		req, err := admission.NewRequest(inv, c, time.Now())
		require.NoError(t, err)

		conf, err := n.svc.HandlePair(ctx, oplog.DiscoveryID(root), req)
		require.NoError(t, err)
		assert.Equal(t, root, conf.Root)
	}

	exchange(t, a, b)

	assert.Equal(t, 3, a.svc.Status().Writers)
	assert.Equal(t, 3, b.svc.Status().Writers)

	joined := a.rec.joinedWriters()
	assert.Equal(t, []oplog.WriterID{b.id(), c}, joined)
}

// TestPairingRejectsForeignInvite hands an inviter a request
// built from an invite of another space.
func TestPairingRejectsForeignInvite(t *testing.T) {

	ctx := context.Background()
	a := newNode(t, time.Second)

	root, err := a.svc.CreateSpace(ctx)
	require.NoError(t, err)

	_, err = a.svc.CreateInvite(ctx)
	require.NoError(t, err)

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := oplog.NewWriterID(pub)

	foreign, err := admission.CreateInvite(c)
	require.NoError(t, err)

	req, err := admission.NewRequest(foreign, c, time.Now())
	require.NoError(t, err)

	_, err = a.svc.HandlePair(ctx, oplog.DiscoveryID(root), req)
	assert.True(t, admission.IsVerification(err))

	_, err = a.svc.HandlePair(ctx, oplog.DiscoveryID(c), req)
	assert.Equal(t, coordinator.ErrUnknownSpace, err)

	st := a.svc.Status()
	assert.Equal(t, 1, st.Writers)
	assert.Equal(t, 1, st.Invites)
	assert.Empty(t, a.rec.joinedWriters())
}

// TestJoinTimeoutAndRetry confirms a candidate whose grant
// does not arrive in time and lets it wait again.
func TestJoinTimeoutAndRetry(t *testing.T) {

	ctx := context.Background()
	a := newNode(t, 2*time.Second)
	b := newNode(t, 150*time.Millisecond)

	_, err := a.svc.CreateSpace(ctx)
	require.NoError(t, err)

	token, err := a.svc.CreateInvite(ctx)
	require.NoError(t, err)

	b.link(a, false)
	err = b.svc.JoinSpace(ctx, token)
	assert.True(t, admission.IsJoinTimeout(err))
	assert.Equal(t, 1, b.rec.timeouts)

	st := b.svc.Status()
	assert.True(t, st.Member)
	assert.False(t, st.Writable)
	assert.Equal(t, admission.AwaitingGrant, st.Joining)

	_, err = b.svc.PutFile(ctx, "cat.gif", []byte("b"))
	assert.Equal(t, coordinator.ErrNotWritable, err)

	err = b.svc.JoinSpace(ctx, token)
	assert.Equal(t, coordinator.ErrAlreadyMember, err)

	b.link(a, true)
	b.Trigger()
	require.NoError(t, b.svc.RetryJoin(ctx))
	assert.True(t, b.svc.Status().Writable)

	assert.Equal(t, coordinator.ErrNoJoin, b.svc.RetryJoin(ctx))
}

// TestCancelJoin gives up on a space nobody answers for.
func TestCancelJoin(t *testing.T) {

	ctx := context.Background()
	a := newNode(t, time.Second)
	b := newNode(t, 100*time.Millisecond)

	_, err := a.svc.CreateSpace(ctx)
	require.NoError(t, err)

	token, err := a.svc.CreateInvite(ctx)
	require.NoError(t, err)

	err = b.svc.JoinSpace(ctx, token)
	assert.True(t, admission.IsJoinTimeout(err))
	assert.False(t, b.svc.Status().Member)

	var joining *admission.AlreadyJoiningError
	err = b.svc.JoinSpace(ctx, token)
	require.True(t, errors.As(err, &joining))
	assert.Equal(t, admission.AwaitingGrant, joining.State)

	require.NoError(t, b.svc.CancelJoin())
	assert.Equal(t, coordinator.ErrNoJoin, b.svc.CancelJoin())
	assert.Equal(t, coordinator.ErrNoJoin, b.svc.RetryJoin(ctx))
	assert.Equal(t, admission.CandidateDone, b.svc.Status().Joining)
}

// TestJoinAbortedByCaller gives up on a join through its context
// while waiting for the grant.
func TestJoinAbortedByCaller(t *testing.T) {

	ctx := context.Background()
	a := newNode(t, 2*time.Second)
	b := newNode(t, 2*time.Second)

	_, err := a.svc.CreateSpace(ctx)
	require.NoError(t, err)

	token, err := a.svc.CreateInvite(ctx)
	require.NoError(t, err)

	b.link(a, false)

	abort, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	err = b.svc.JoinSpace(abort, token)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, b.rec.timeouts)

	st := b.svc.Status()
	assert.True(t, st.Member)
	assert.False(t, st.Writable)
	assert.Equal(t, admission.CandidateDone, st.Joining)

	assert.Equal(t, coordinator.ErrNoJoin, b.svc.RetryJoin(ctx))

	// The grant still arrives through replication.
	b.link(a, true)
	b.Trigger()
	b.wg.Wait()
	assert.True(t, b.svc.Status().Writable)
}

// TestOneJoinAtATime retries a join while it is still running.
func TestOneJoinAtATime(t *testing.T) {

	ctx := context.Background()
	a := newNode(t, 2*time.Second)
	b := newNode(t, 500*time.Millisecond)

	_, err := a.svc.CreateSpace(ctx)
	require.NoError(t, err)

	token, err := a.svc.CreateInvite(ctx)
	require.NoError(t, err)

	b.link(a, false)

	done := make(chan error, 1)
	go func() {
		done <- b.svc.JoinSpace(ctx, token)
	}()

	require.Eventually(t, func() bool {
		st := b.svc.Status()
		return st.Member && st.Joining == admission.AwaitingGrant
	}, time.Second, 5*time.Millisecond)

	var joining *admission.AlreadyJoiningError
	require.ErrorAs(t, b.svc.RetryJoin(ctx), &joining)
	assert.Equal(t, admission.AwaitingGrant, joining.State)

	err = <-done
	assert.True(t, admission.IsJoinTimeout(err))
	assert.Equal(t, 1, b.rec.timeouts)

	b.link(a, true)
	b.Trigger()
	require.NoError(t, b.svc.RetryJoin(ctx))
	assert.True(t, b.svc.Status().Writable)
}

// TestUsedInviteEndsJoin presents an invite that
// already admitted somebody else.
func TestUsedInviteEndsJoin(t *testing.T) {

	ctx := context.Background()
	a := newNode(t, 2*time.Second)
	b := newNode(t, 2*time.Second)
	c := newNode(t, 2*time.Second)

	_, err := a.svc.CreateSpace(ctx)
	require.NoError(t, err)

	token, err := a.svc.CreateInvite(ctx)
	require.NoError(t, err)

	b.link(a, true)
	require.NoError(t, b.svc.JoinSpace(ctx, token))
	b.wg.Wait()

	c.link(a, true)

	start := time.Now()
	err = c.svc.JoinSpace(ctx, token)
	assert.True(t, errors.Is(err, admission.ErrInviteUnavailable))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, c.rec.timeouts)

	st := c.svc.Status()
	assert.False(t, st.Member)
	assert.Equal(t, admission.CandidateDone, st.Joining)

	// Nothing is stuck, a fresh invite works.
	join(t, a, c)
	assert.True(t, c.svc.Status().Writable)
	assert.Equal(t, 3, a.svc.Status().Writers)
}

// TestIngestOutOfOrder hands a peer a log suffix with a gap.
func TestIngestOutOfOrder(t *testing.T) {

	ctx := context.Background()
	a := newNode(t, 2*time.Second)
	b := newNode(t, 2*time.Second)

	_, err := a.svc.CreateSpace(ctx)
	require.NoError(t, err)
	join(t, a, b)
	b.link(a, false)

	for _, name := range []string{"a.gif", "b.gif", "c.gif"} {
		_, err := a.svc.PutFile(ctx, name, []byte(name))
		require.NoError(t, err)
	}

	cursor, ok := b.svc.Cursor()
	require.True(t, ok)

	ops, more, err := a.svc.Serve(ctx, cursor, 0)
	require.NoError(t, err)
	require.False(t, more)
	require.Len(t, ops, 3)

	err = b.svc.Ingest(ctx, ops[2:])
	assert.True(t, oplog.IsOutOfOrder(err))

	files, err := b.svc.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)

	require.NoError(t, b.svc.Ingest(ctx, ops))
	require.NoError(t, b.svc.Ingest(ctx, ops))

	files, err = b.svc.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.gif", "b.gif", "c.gif"}, names(files))
}

// TestServe checks replication requests are limited
// and answered for members only.
func TestServe(t *testing.T) {

	ctx := context.Background()
	a := newNode(t, time.Second)

	_, err := a.svc.CreateSpace(ctx)
	require.NoError(t, err)

	for _, name := range []string{"a.gif", "b.gif"} {
		_, err := a.svc.PutFile(ctx, name, []byte(name))
		require.NoError(t, err)
	}

	cursor, ok := a.svc.Cursor()
	require.True(t, ok)
	cursor.Heads = oplog.Heads{}

	ops, more, err := a.svc.Serve(ctx, cursor, 2)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Len(t, ops, 2)

	ops, more, err = a.svc.Serve(ctx, cursor, 3)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Len(t, ops, 3)

	stranger := *cursor
	stranger.Token = []byte("guess")
	_, _, err = a.svc.Serve(ctx, &stranger, 10)
	assert.Equal(t, coordinator.ErrUnauthorized, err)

	stranger.DiscoveryID = "elsewhere"
	_, _, err = a.svc.Serve(ctx, &stranger, 10)
	assert.Equal(t, coordinator.ErrUnknownSpace, err)
}

// TestRestart reopens a peer from its data directory.
func TestRestart(t *testing.T) {

	ctx := context.Background()
	a := newNode(t, time.Second)

	root, err := a.svc.CreateSpace(ctx)
	require.NoError(t, err)

	for _, name := range []string{"a.gif", "b.webp"} {
		_, err := a.svc.PutFile(ctx, name, []byte(name))
		require.NoError(t, err)
	}

	before, err := a.svc.ListFiles(ctx)
	require.NoError(t, err)

	require.NoError(t, a.svc.Close())
	require.NoError(t, a.logs.Close())
	a.start(time.Second)

	after, err := a.svc.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	st := a.svc.Status()
	assert.Equal(t, root, st.Root)
	assert.True(t, st.Writable)

	// Appending continues where the stored log ends.
	_, err = a.svc.PutFile(ctx, "c.gif", []byte("c"))
	require.NoError(t, err)
}

// TestMetricsService counts uploads through the decorator.
func TestMetricsService(t *testing.T) {

	ctx := context.Background()
	a := newNode(t, time.Second)

	m := &coordinator.Metrics{
		Uploads:        generic.NewCounter("uploads"),
		UploadFailures: generic.NewCounter("upload_failures"),
		Invites:        generic.NewCounter("invites"),
		Admissions:     generic.NewCounter("admissions"),
		Joins:          generic.NewCounter("joins"),
		IngestedOps:    generic.NewCounter("ingested_ops"),
	}
	svc := coordinator.NewMetricsService(coordinator.NewLoggingService(a.svc, log.NewNopLogger()), m)

	_, err := svc.CreateSpace(ctx)
	require.NoError(t, err)

	_, err = svc.PutFile(ctx, "a.gif", []byte("a"))
	require.NoError(t, err)
	_, err = svc.PutFile(ctx, "a.gif", []byte("a"))
	require.Error(t, err)
	_, err = svc.CreateInvite(ctx)
	require.NoError(t, err)

	assert.Equal(t, float64(1), m.Uploads.(*generic.Counter).Value())
	assert.Equal(t, float64(1), m.UploadFailures.(*generic.Counter).Value())
	assert.Equal(t, float64(1), m.Invites.(*generic.Counter).Value())
}
