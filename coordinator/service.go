package coordinator

import (
	"context"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/gallery/admission"
	"github.com/go-pluto/gallery/crypto"
	"github.com/go-pluto/gallery/oplog"
	"github.com/go-pluto/gallery/storage"
	"github.com/go-pluto/gallery/view"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Structs

// Service defines the operations one peer of a
// gallery space offers to its UI and to other peers.
type Service interface {

	// CreateSpace bootstraps a new space with the
	// local writer as its root and returns the root.
	CreateSpace(ctx context.Context) (oplog.WriterID, error)

	// JoinSpace runs the candidate side of the admission
	// handshake with token until the local writer is
	// authorized, the join timeout elapses or ctx is done.
	JoinSpace(ctx context.Context, token string) error

	// RetryJoin resumes a join that timed out.
	RetryJoin(ctx context.Context) error

	// CancelJoin aborts the join in progress and
	// wipes the invite it was started with.
	CancelJoin() error

	// PutFile appends a PutFile operation for filename
	// to the local log and returns the resulting entry.
	PutFile(ctx context.Context, filename string, blob []byte) (view.Entry, error)

	// ListFiles returns the files of the space in
	// the order they were applied.
	ListFiles(ctx context.Context) ([]view.Entry, error)

	// GetBlob returns the content stored under ref.
	GetBlob(ctx context.Context, ref string) ([]byte, error)

	// CreateInvite opens a one-time invite for
	// the space and returns its token.
	CreateInvite(ctx context.Context) (string, error)

	// HandlePair runs the inviter side of the handshake
	// for a request that arrived from a candidate.
	HandlePair(ctx context.Context, discoveryID string, req *admission.Request) (*admission.Confirm, error)

	// Ingest accepts log suffixes pulled from other peers.
	Ingest(ctx context.Context, ops []*oplog.Operation) error

	// Serve answers a replication request from another
	// peer with at most limit operations beyond its cursor.
	Serve(ctx context.Context, cursor *oplog.Cursor, limit int) ([]*oplog.Operation, bool, error)

	// Cursor describes what this peer holds, for
	// pulling from other peers.
	Cursor() (*oplog.Cursor, bool)

	// Status summarizes membership and view.
	Status() Status

	// Close withdraws open invites and aborts
	// any join in progress.
	Close() error
}

// Pairer delivers an admission request to a
// reachable peer of the space named by discoveryID.
type Pairer interface {
	Pair(ctx context.Context, discoveryID string, req *admission.Request) (*admission.Confirm, error)
}

// Syncer is poked whenever replication should
// run again as soon as possible.
type Syncer interface {
	Trigger()
}

// LogStore is the durable home of the writer logs.
type LogStore interface {
	oplog.Persister
	Load() (map[oplog.WriterID][]*oplog.Operation, error)
}

// BlobStore is the durable home of file contents.
type BlobStore interface {
	Put(blob []byte) (string, error)
	Get(ref string) ([]byte, error)
}

// Options collects what a coordinator is built from.
type Options struct {
	Identity           ed25519.PrivateKey
	SpacePath          string
	Logs               LogStore
	Blobs              BlobStore
	Pairer             Pairer
	Syncer             Syncer
	Notifier           Notifier
	JoinTimeout        time.Duration
	PairRetry          time.Duration
	CheckpointInterval int
	AllowedExtensions  []string
	Now                func() time.Time
}

// Status is a snapshot of a peer's membership.
type Status struct {
	Member   bool
	Root     oplog.WriterID
	Local    oplog.WriterID
	Writable bool
	Joining  admission.CandidateState
	Files    int
	Writers  int
	Invites  int
}

type service struct {
	lock      *sync.Mutex
	logger    log.Logger
	tracer    trace.Tracer
	opts      Options
	local     oplog.WriterID
	space     *storage.Space
	key       []byte
	set       *oplog.LogSet
	replayer  *view.Replayer
	updated   chan struct{}
	candidate *admission.Candidate
	joinRoot  oplog.WriterID
	joining   bool
	inviters  map[string]*admission.Inviter
	spent     map[string]struct{}
}

// persister stores blobs before the log
// records that reference them.
type persister struct {
	logs  LogStore
	blobs BlobStore
}

// Functions

// NewService builds a coordinator and, if the peer
// already belongs to a space, restores it from storage.
func NewService(logger log.Logger, opts Options) (Service, error) {

	if len(opts.Identity) != ed25519.PrivateKeySize {
		return nil, errors.New("coordinator needs an ed25519 identity")
	}

	if opts.Logs == nil || opts.Blobs == nil {
		return nil, errors.New("coordinator needs log and blob storage")
	}

	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 30 * time.Second
	}

	if opts.PairRetry <= 0 {
		opts.PairRetry = 500 * time.Millisecond
	}

	s := &service{
		lock:     &sync.Mutex{},
		logger:   logger,
		tracer:   otel.Tracer("github.com/go-pluto/gallery/coordinator"),
		opts:     opts,
		local:    oplog.NewWriterID(opts.Identity.Public().(ed25519.PublicKey)),
		updated:  make(chan struct{}),
		inviters: make(map[string]*admission.Inviter),
		spent:    make(map[string]struct{}),
	}
	s.candidate = admission.NewCandidate(s.local)

	space, err := storage.LoadSpace(opts.SpacePath)
	if os.IsNotExist(errors.Cause(err)) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	if space.LocalID() != s.local {
		return nil, errors.Errorf("space file at '%s' belongs to writer %s", opts.SpacePath, space.LocalID().Short())
	}

	if err := s.restore(space); err != nil {
		return nil, err
	}

	return s, nil
}

// restore reopens space from durable storage.
func (s *service) restore(space *storage.Space) error {

	key, err := space.Key()
	if err != nil {
		return err
	}

	logs, err := s.opts.Logs.Load()
	if err != nil {
		return err
	}

	s.open(space, key)

	for writer, ops := range logs {

		if len(ops) == 0 {
			continue
		}

		if _, err := s.set.Restore(writer, ops); err != nil {
			return errors.Wrapf(err, "failed to restore log of writer %s", writer.Short())
		}
	}

	res := s.replayer.Rebuild(s.set.Order())
	s.reportMalformed(res)
	s.signal()

	level.Info(s.logger).Log(
		"msg", "restored space",
		"root", space.RootID().Short(),
		"logs", len(logs),
		"files", s.replayer.Store().Len(),
	)

	return nil
}

// open makes the peer a member of space. The caller
// holds the lock or has the service to itself.
func (s *service) open(space *storage.Space, key []byte) {

	s.space = space
	s.key = key
	s.set = oplog.NewLogSet(space.RootID(), s.local, &persister{logs: s.opts.Logs, blobs: s.opts.Blobs})
	s.replayer = view.NewReplayer(space.RootID(), s.opts.CheckpointInterval)
}

func (p *persister) Persist(writer oplog.WriterID, ops []*oplog.Operation) error {

	for _, op := range ops {

		if op.Kind != oplog.KindPutFile || len(op.Blob) == 0 {
			continue
		}

		if _, err := p.blobs.Put(op.Blob); err != nil {
			return err
		}
	}

	return p.logs.Persist(writer, ops)
}

func (s *service) CreateSpace(ctx context.Context) (oplog.WriterID, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.set != nil {
		return "", ErrAlreadyMember
	}

	if state := s.candidate.State(); state != admission.CandidateIdle && state != admission.CandidateDone {
		return "", &admission.AlreadyJoiningError{State: state}
	}

	key, err := crypto.NewEncryptionKey()
	if err != nil {
		return "", err
	}

	space := storage.NewSpace(s.local, s.local, key)
	if err := storage.SaveSpace(s.opts.SpacePath, space); err != nil {
		return "", err
	}

	s.open(space, key)

	// The root authorizes itself like any other writer,
	// so every log starts with an AddWriter.
	change, err := s.set.Append(oplog.NewAddWriter(s.local, s.local, s.opts.Now()))
	if err != nil {
		return "", err
	}
	s.apply(ctx, change.From)

	return s.local, nil
}

func (s *service) PutFile(ctx context.Context, filename string, blob []byte) (entry view.Entry, err error) {

	defer func() {
		s.opts.Notifier.OnUploadResult(filename, err)
	}()

	if filename == "" {
		return view.Entry{}, ErrNoFilename
	}

	if len(blob) == 0 {
		return view.Entry{}, ErrEmptyFile
	}

	if ext, ok := s.allowed(filename); !ok {
		return view.Entry{}, &UnsupportedFileError{Filename: filename, Extension: ext}
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.set == nil {
		return view.Entry{}, ErrNoSpace
	}

	store := s.replayer.Store()

	if !store.IsWriter(s.local) {
		return view.Entry{}, ErrNotWritable
	}

	// Early local check only. A concurrent write of
	// another peer may still be ordered first.
	if store.Has(filename) {
		return view.Entry{}, &DuplicateFilenameError{Filename: filename}
	}

	change, err := s.set.Append(oplog.NewPutFile(filename, blob, s.opts.Now()))
	if err != nil {
		return view.Entry{}, errors.Wrapf(err, "failed to append '%s' to local log", filename)
	}
	s.apply(ctx, change.From)

	if s.opts.Syncer != nil {
		s.opts.Syncer.Trigger()
	}

	entry, _ = s.replayer.Store().Get(filename)

	return entry, nil
}

// allowed checks the extension of filename against
// the configured list. An empty list allows everything.
func (s *service) allowed(filename string) (string, bool) {

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if len(s.opts.AllowedExtensions) == 0 {
		return ext, true
	}

	for _, allowed := range s.opts.AllowedExtensions {
		if ext == allowed {
			return ext, true
		}
	}

	return ext, false
}

func (s *service) ListFiles(ctx context.Context) ([]view.Entry, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.set == nil {
		return nil, ErrNoSpace
	}

	return s.visible(s.replayer.Store().List()), nil
}

// visible drops entries other peers stored under
// extensions this peer does not accept.
func (s *service) visible(entries []view.Entry) []view.Entry {

	if len(s.opts.AllowedExtensions) == 0 {
		return entries
	}

	out := entries[:0:0]
	for _, e := range entries {
		if _, ok := s.allowed(e.Filename); ok {
			out = append(out, e)
		}
	}

	return out
}

func (s *service) GetBlob(ctx context.Context, ref string) ([]byte, error) {
	return s.opts.Blobs.Get(ref)
}

func (s *service) CreateInvite(ctx context.Context) (token string, err error) {

	defer func() {
		if err != nil {
			s.opts.Notifier.OnInviteError(err)
		}
	}()

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.set == nil {
		return "", ErrNoSpace
	}

	// Only writers may authorize others.
	if !s.replayer.Store().IsWriter(s.local) {
		return "", ErrNotWritable
	}

	inv, err := admission.CreateInvite(s.set.Root())
	if err != nil {
		return "", err
	}

	inviter := admission.NewInviter(log.With(s.logger, "invite", inv.ID), inv, s.grant)

	token, err = inviter.Start()
	if err != nil {
		return "", err
	}
	s.inviters[inv.ID] = inviter

	s.opts.Notifier.OnInviteReady(token)

	return token, nil
}

func (s *service) HandlePair(ctx context.Context, discoveryID string, req *admission.Request) (*admission.Confirm, error) {

	ctx, span := s.tracer.Start(ctx, "coordinator.HandlePair")
	defer span.End()

	s.lock.Lock()

	if s.set == nil || discoveryID != oplog.DiscoveryID(s.set.Root()) {
		s.lock.Unlock()
		return nil, ErrUnknownSpace
	}

	// The invite id only selects whose key the
	// request is verified against.
	inviter, ok := s.inviters[req.InviteID]
	_, used := s.spent[req.InviteID]
	s.lock.Unlock()

	if used {
		return nil, errors.Wrapf(admission.ErrInviteUnavailable, "invite %s was already used", req.InviteID)
	}

	if !ok {
		return nil, &admission.VerificationError{InviteID: req.InviteID, Reason: "no open invite with this id"}
	}

	// Handle calls back into grant, which takes the lock.
	conf, err := inviter.Handle(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.lock.Lock()
	delete(s.inviters, req.InviteID)
	s.spent[req.InviteID] = struct{}{}
	s.lock.Unlock()

	return conf, nil
}

// grant appends the AddWriter for a verified candidate.
func (s *service) grant(ctx context.Context, candidate oplog.WriterID) (*admission.Confirm, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.set == nil {
		return nil, ErrNoSpace
	}

	change, err := s.set.Append(oplog.NewAddWriter(candidate, s.local, s.opts.Now()))
	if err != nil {
		return nil, err
	}
	s.apply(ctx, change.From)

	if s.opts.Syncer != nil {
		s.opts.Syncer.Trigger()
	}

	return &admission.Confirm{
		Root:          s.set.Root(),
		EncryptionKey: append([]byte(nil), s.key...),
	}, nil
}

func (s *service) Ingest(ctx context.Context, ops []*oplog.Operation) error {

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.set == nil {
		return ErrNoSpace
	}

	from := -1
	var failed error

	for len(ops) > 0 {

		n := 1
		for n < len(ops) && ops[n].Writer == ops[0].Writer {
			n++
		}
		writer, suffix := ops[0].Writer, ops[:n]
		ops = ops[n:]

		change, err := s.set.Ingest(writer, suffix)
		if oplog.IsDuplicate(err) {
			continue
		}

		if err != nil {

			level.Debug(s.logger).Log(
				"msg", "rejected log suffix",
				"writer", writer.Short(),
				"seq", suffix[0].Seq,
				"err", err,
			)

			if failed == nil {
				failed = err
			}

			continue
		}

		if from < 0 || change.From < from {
			from = change.From
		}
	}

	if from >= 0 {
		s.apply(ctx, from)
	}

	return failed
}

func (s *service) Serve(ctx context.Context, cursor *oplog.Cursor, limit int) ([]*oplog.Operation, bool, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.set == nil || cursor.DiscoveryID != oplog.DiscoveryID(s.set.Root()) {
		return nil, false, ErrUnknownSpace
	}

	if !crypto.VerifyReplicationToken(s.key, cursor.DiscoveryID, string(cursor.Requester), cursor.Token) {
		return nil, false, ErrUnauthorized
	}

	if limit <= 0 {
		return s.set.Since(cursor.Heads, 0), false, nil
	}

	ops := s.set.Since(cursor.Heads, limit+1)
	if len(ops) > limit {
		return ops[:limit], true, nil
	}

	return ops, false, nil
}

func (s *service) Cursor() (*oplog.Cursor, bool) {

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.set == nil {
		return nil, false
	}

	discoveryID := oplog.DiscoveryID(s.set.Root())

	return &oplog.Cursor{
		DiscoveryID: discoveryID,
		Requester:   s.local,
		Token:       crypto.ReplicationToken(s.key, discoveryID, string(s.local)),
		Heads:       s.set.Heads(),
	}, true
}

func (s *service) Status() Status {

	s.lock.Lock()
	defer s.lock.Unlock()

	st := Status{
		Local:   s.local,
		Joining: s.candidate.State(),
		Invites: len(s.inviters),
	}

	if s.set == nil {
		return st
	}

	store := s.replayer.Store()
	st.Member = true
	st.Root = s.set.Root()
	st.Writable = store.IsWriter(s.local)
	st.Files = store.Len()
	st.Writers = len(store.Writers())

	return st
}

func (s *service) Close() error {

	s.lock.Lock()
	inviters := make([]*admission.Inviter, 0, len(s.inviters))
	for id, inviter := range s.inviters {
		inviters = append(inviters, inviter)
		delete(s.inviters, id)
	}
	s.lock.Unlock()

	// A pairing request may be granting right now and
	// waits for the lock with its inviter held.
	for _, inviter := range inviters {
		inviter.Close()
	}

	s.candidate.Close()

	return nil
}

// apply replays the global order from index from on and
// tells the notifier what changed. The caller holds the lock.
func (s *service) apply(ctx context.Context, from int) {

	_, span := s.tracer.Start(ctx, "coordinator.replay")
	defer span.End()

	res := s.replayer.Replay(s.set.Order(), from)

	span.SetAttributes(
		attribute.Int("from", from),
		attribute.Int("applied", s.replayer.Applied()),
		attribute.Bool("rewound", res.Rewound),
		attribute.Int("malformed", len(res.Malformed)),
	)

	s.reportMalformed(res)

	if res.Changed {

		s.opts.Notifier.OnViewChanged(s.visible(s.replayer.Store().List()))

		for _, writer := range res.NewWriters {
			s.opts.Notifier.OnWriterJoined(writer)
		}
	}

	s.signal()
}

func (s *service) reportMalformed(res *view.Result) {

	for _, err := range res.Malformed {

		var malformed *view.MalformedOperationError
		if errors.As(err, &malformed) {
			level.Warn(s.logger).Log(
				"msg", "skipped malformed operation",
				"writer", malformed.Writer.Short(),
				"seq", malformed.Seq,
				"kind", malformed.Kind,
				"err", malformed.Reason,
			)
		}
	}
}

// signal wakes everybody waiting for the view to change.
func (s *service) signal() {
	close(s.updated)
	s.updated = make(chan struct{})
}
