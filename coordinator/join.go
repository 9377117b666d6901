package coordinator

import (
	"context"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/gallery/admission"
	"github.com/go-pluto/gallery/oplog"
	"github.com/go-pluto/gallery/storage"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// Structs

// writable holds once the local writer is
// authorized in the replayed view.
type writable struct {
	s *service
}

// Functions

func (w writable) Check() (bool, <-chan struct{}) {

	w.s.lock.Lock()
	defer w.s.lock.Unlock()

	if w.s.set == nil {
		return false, w.s.updated
	}

	return w.s.replayer.Store().IsWriter(w.s.local), w.s.updated
}

func (s *service) JoinSpace(ctx context.Context, token string) error {

	s.lock.Lock()

	if s.set != nil {
		s.lock.Unlock()
		return ErrAlreadyMember
	}

	if s.joining {
		s.lock.Unlock()
		return &admission.AlreadyJoiningError{State: s.candidate.State()}
	}

	inv, err := s.candidate.Decode(token)
	if err != nil {
		s.lock.Unlock()
		return err
	}
	s.joinRoot = inv.Root
	s.joining = true
	s.lock.Unlock()

	level.Info(s.logger).Log(
		"msg", "joining space",
		"root", inv.Root.Short(),
		"invite", inv.ID,
	)

	return s.join(ctx)
}

func (s *service) RetryJoin(ctx context.Context) error {

	s.lock.Lock()

	state := s.candidate.State()
	if state != admission.InviteDecoded && state != admission.AwaitingGrant {
		s.lock.Unlock()
		return ErrNoJoin
	}

	if s.joining {
		s.lock.Unlock()
		return &admission.AlreadyJoiningError{State: state}
	}

	s.joining = true
	s.lock.Unlock()

	return s.join(ctx)
}

func (s *service) CancelJoin() error {

	state := s.candidate.State()
	if state != admission.InviteDecoded && state != admission.AwaitingGrant {
		return ErrNoJoin
	}

	// A confirmed space stays, read-only until
	// the grant arrives through replication.
	s.candidate.Close()

	level.Info(s.logger).Log("msg", "cancelled join", "state", state)

	return nil
}

// join pairs with the space unless that already happened
// and waits for the grant to show up in the local view.
// Both steps together are bounded by the join timeout.
// The caller has set s.joining.
func (s *service) join(ctx context.Context) (err error) {

	ctx, span := s.tracer.Start(ctx, "coordinator.join")
	defer span.End()

	defer func() {

		if err != nil {
			span.RecordError(err)
			s.settle(err)
		}

		s.lock.Lock()
		s.joining = false
		s.lock.Unlock()
	}()

	start := time.Now()

	s.lock.Lock()
	member := s.set != nil
	root := s.joinRoot
	s.lock.Unlock()

	span.SetAttributes(
		attribute.String("root", root.Short()),
		attribute.Bool("member", member),
	)

	if !member {

		if err := s.pair(ctx, root); err != nil {
			return err
		}

		if s.opts.Syncer != nil {
			s.opts.Syncer.Trigger()
		}
	}

	remaining := s.opts.JoinTimeout - time.Since(start)
	if remaining < 0 {
		remaining = 0
	}

	err = s.candidate.WaitWritable(ctx, remaining, writable{s})
	if admission.IsJoinTimeout(err) {
		s.opts.Notifier.OnJoinTimeout()
		return &admission.JoinTimeoutError{Timeout: s.opts.JoinTimeout}
	}

	if err != nil {
		return err
	}

	// Writable. The invite is of no use anymore.
	s.candidate.Close()

	level.Info(s.logger).Log(
		"msg", "joined space as writer",
		"root", root.Short(),
		"took", time.Since(start),
	)

	return nil
}

// settle ends the admission flow after a failed join unless
// the failure was a join timeout. Those leave the flow open
// for RetryJoin or CancelJoin.
func (s *service) settle(err error) {

	if admission.IsJoinTimeout(err) {
		return
	}

	if errors.Is(err, ErrNoPeers) ||
		errors.Is(err, admission.ErrInviteUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {

		s.candidate.Close()

		level.Info(s.logger).Log("msg", "gave up joining", "err", err)
	}
}

// pair sends admission requests to the space until one is
// confirmed. Failed attempts are retried until the join
// timeout elapses, a used invite is not.
func (s *service) pair(ctx context.Context, root oplog.WriterID) error {

	if s.opts.Pairer == nil {
		return ErrNoPeers
	}

	attempts, cancel := context.WithTimeout(ctx, s.opts.JoinTimeout)
	defer cancel()

	discoveryID := oplog.DiscoveryID(root)

	for {

		req, err := s.candidate.Request(s.opts.Now())
		if err != nil {
			return err
		}

		conf, err := s.opts.Pairer.Pair(attempts, discoveryID, req)
		if err == nil {
			return s.confirm(conf)
		}

		if errors.Is(err, admission.ErrInviteUnavailable) {
			return err
		}

		level.Debug(s.logger).Log(
			"msg", "pairing attempt failed",
			"invite", req.InviteID,
			"err", err,
		)

		select {
		case <-time.After(s.opts.PairRetry):
		case <-attempts.Done():

			// The caller gave up, not the join timeout.
			if ctx.Err() != nil {
				return ctx.Err()
			}

			s.opts.Notifier.OnJoinTimeout()
			return &admission.JoinTimeoutError{Timeout: s.opts.JoinTimeout}
		}
	}
}

// confirm makes the peer a member of the space
// the inviter confirmed.
func (s *service) confirm(conf *admission.Confirm) error {

	if err := s.candidate.Confirmed(conf); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.set != nil {
		return nil
	}

	space := storage.NewSpace(conf.Root, s.local, conf.EncryptionKey)
	if err := storage.SaveSpace(s.opts.SpacePath, space); err != nil {
		return err
	}

	s.open(space, conf.EncryptionKey)
	s.signal()

	return nil
}
