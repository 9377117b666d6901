package admission

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/gallery/oplog"
	"github.com/pkg/errors"
)

// Structs

// InviterState is the position of an Inviter
// in the admission handshake.
type InviterState int

// States of an Inviter.
const (
	InviterIdle InviterState = iota
	AwaitingCandidate
	Verifying
	Granting
	InviterDone
)

// Grant authorizes candidate in the inviter's space, that is
// appends the AddWriter and re-derives the log set, and
// returns the confirmation to hand back to the candidate.
type Grant func(ctx context.Context, candidate oplog.WriterID) (*Confirm, error)

// Inviter is the authorized side of one admission.
// Each Inviter grants at most one candidate.
type Inviter struct {
	lock   *sync.Mutex
	logger log.Logger
	state  InviterState
	invite *Invite
	grant  Grant
}

// Functions

func (s InviterState) String() string {

	switch s {
	case InviterIdle:
		return "idle"
	case AwaitingCandidate:
		return "awaiting-candidate"
	case Verifying:
		return "verifying"
	case Granting:
		return "granting"
	case InviterDone:
		return "done"
	default:
		return fmt.Sprintf("inviter-state(%d)", int(s))
	}
}

// NewInviter prepares an Inviter for inv that
// calls grant once a request checked out.
func NewInviter(logger log.Logger, inv *Invite, grant Grant) *Inviter {

	return &Inviter{
		lock:   &sync.Mutex{},
		logger: logger,
		state:  InviterIdle,
		invite: inv,
		grant:  grant,
	}
}

// Start opens the invite for candidates and
// returns the token to share with them.
func (i *Inviter) Start() (string, error) {

	i.lock.Lock()
	defer i.lock.Unlock()

	if i.state != InviterIdle || i.invite.Wiped() {
		return "", ErrInviteUnavailable
	}

	i.state = AwaitingCandidate

	return i.invite.Token(), nil
}

// ID returns the identifier of the invite.
func (i *Inviter) ID() string {
	return i.invite.ID
}

// State returns the current handshake state.
func (i *Inviter) State() InviterState {

	i.lock.Lock()
	defer i.lock.Unlock()

	return i.state
}

// Handle runs one pairing request through verification and,
// if it checks out, through grant. A request that fails
// verification is dropped and the inviter keeps waiting.
// grant runs without the inviter locked, so it may take
// locks of its own that are also held around Close.
func (i *Inviter) Handle(ctx context.Context, req *Request) (*Confirm, error) {

	i.lock.Lock()

	if i.state != AwaitingCandidate {
		i.lock.Unlock()
		return nil, ErrInviteUnavailable
	}

	// Nothing in req is looked at before Open succeeded.
	i.state = Verifying
	candidate, err := Open(req, i.invite.PublicKey(), i.invite.Root)
	if err != nil {
		level.Warn(i.logger).Log(
			"msg", "dropping pairing request",
			"invite", i.invite.ID,
			"err", err,
		)
		i.state = AwaitingCandidate
		i.lock.Unlock()
		return nil, err
	}

	// Granting keeps other requests out while unlocked.
	i.state = Granting
	i.lock.Unlock()

	conf, err := i.grant(ctx, candidate)

	i.lock.Lock()
	defer i.lock.Unlock()

	if err != nil {

		if i.state == Granting {
			i.state = AwaitingCandidate
		}

		return nil, errors.Wrapf(err, "failed to grant writer %s", candidate.Short())
	}

	level.Info(i.logger).Log(
		"msg", "granted writer access",
		"invite", i.invite.ID,
		"writer", candidate.Short(),
	)

	i.state = InviterDone
	i.invite.Wipe()

	return conf, nil
}

// Close withdraws the invite.
func (i *Inviter) Close() {

	i.lock.Lock()
	defer i.lock.Unlock()

	i.state = InviterDone
	i.invite.Wipe()
}
