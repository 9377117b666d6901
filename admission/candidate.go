package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-pluto/gallery/oplog"
)

// Structs

// CandidateState is the position of a Candidate
// in the admission handshake.
type CandidateState int

// States of a Candidate.
const (
	CandidateIdle CandidateState = iota
	InviteDecoded
	AwaitingGrant
	Writable
	CandidateDone
)

// Condition is something a Candidate can wait for.
type Condition interface {

	// Check reports whether the condition holds and returns
	// a channel that is closed on the next change that may
	// make it hold.
	Check() (bool, <-chan struct{})
}

// Candidate is the joining side of an admission.
// It runs at most one admission flow at a time.
type Candidate struct {
	lock      *sync.Mutex
	key       oplog.WriterID
	state     CandidateState
	invite    *Invite
	confirmed *Confirm
}

// Functions

func (s CandidateState) String() string {

	switch s {
	case CandidateIdle:
		return "idle"
	case InviteDecoded:
		return "invite-decoded"
	case AwaitingGrant:
		return "awaiting-grant"
	case Writable:
		return "writable"
	case CandidateDone:
		return "done"
	default:
		return fmt.Sprintf("candidate-state(%d)", int(s))
	}
}

// NewCandidate returns a candidate that asks
// to have key authorized as writer.
func NewCandidate(key oplog.WriterID) *Candidate {

	return &Candidate{
		lock:  &sync.Mutex{},
		key:   key,
		state: CandidateIdle,
	}
}

// Key returns the writer identity the candidate joins with.
func (c *Candidate) Key() oplog.WriterID {
	return c.key
}

// State returns the current handshake state.
func (c *Candidate) State() CandidateState {

	c.lock.Lock()
	defer c.lock.Unlock()

	return c.state
}

// Decode starts an admission flow with token.
func (c *Candidate) Decode(token string) (*Invite, error) {

	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state != CandidateIdle && c.state != CandidateDone {
		return nil, &AlreadyJoiningError{State: c.state}
	}

	inv, err := DecodeInvite(token)
	if err != nil {
		return nil, err
	}

	c.invite = inv
	c.confirmed = nil
	c.state = InviteDecoded

	return inv, nil
}

// Request builds a pairing request for the decoded invite.
// It may be called again to retry against another inviter.
func (c *Candidate) Request(now time.Time) (*Request, error) {

	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state != InviteDecoded && c.state != AwaitingGrant {
		return nil, ErrInviteUnavailable
	}

	req, err := NewRequest(c.invite, c.key, now)
	if err != nil {
		return nil, err
	}

	c.state = AwaitingGrant

	return req, nil
}

// Confirmed records the inviter's answer. It fails if the
// answer names another space than the decoded invite.
func (c *Candidate) Confirmed(conf *Confirm) error {

	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state != AwaitingGrant {
		return ErrInviteUnavailable
	}

	if conf.Root != c.invite.Root {
		return &VerificationError{InviteID: c.invite.ID, Reason: "confirmation names another space"}
	}

	c.confirmed = conf

	return nil
}

// WaitWritable blocks until authorized holds, the timeout
// elapses or ctx is done. On timeout it returns a
// JoinTimeoutError and the flow stays open, so the caller
// may wait again or Close.
func (c *Candidate) WaitWritable(ctx context.Context, timeout time.Duration, authorized Condition) error {

	c.lock.Lock()
	if c.state == Writable {
		c.lock.Unlock()
		return nil
	}

	if c.state != AwaitingGrant || c.confirmed == nil {
		c.lock.Unlock()
		return ErrNotConfirmed
	}
	c.lock.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {

		ok, changed := authorized.Check()
		if ok {
			break
		}

		select {
		case <-changed:
		case <-timer.C:
			return &JoinTimeoutError{Timeout: timeout}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state != AwaitingGrant {
		return ErrInviteUnavailable
	}

	c.state = Writable

	return nil
}

// Close ends the flow in whatever state it is and
// wipes the invite keypair. A writable candidate stays
// writable in its space; only the flow is done.
func (c *Candidate) Close() {

	c.lock.Lock()
	defer c.lock.Unlock()

	if c.invite != nil {
		c.invite.Wipe()
	}

	c.state = CandidateDone
}
