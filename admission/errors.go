package admission

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Variables

// ErrInviteUnavailable is returned by an Inviter that
// already granted its invite or was closed.
var ErrInviteUnavailable = errors.New("invite is no longer available")

// ErrInvalidToken is returned for invite
// tokens that cannot be decoded.
var ErrInvalidToken = errors.New("invite token is malformed")

// ErrNotConfirmed is returned when a Candidate is asked
// to wait for writability before it received a Confirm.
var ErrNotConfirmed = errors.New("candidate has not been confirmed by an inviter")

// Structs

// VerificationError reports a pairing request or confirmation
// that did not check out. The request is dropped.
type VerificationError struct {
	InviteID string
	Reason   string
}

// JoinTimeoutError reports that the candidate's own AddWriter
// did not show up within the join timeout. The caller decides
// whether to wait again or cancel the join.
type JoinTimeoutError struct {
	Timeout time.Duration
}

// AlreadyJoiningError rejects a second admission flow
// while one is in progress.
type AlreadyJoiningError struct {
	State CandidateState
}

// Functions

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification of invite %s failed: %s", e.InviteID, e.Reason)
}

func (e *JoinTimeoutError) Error() string {
	return fmt.Sprintf("not authorized as writer after %s", e.Timeout)
}

func (e *AlreadyJoiningError) Error() string {
	return fmt.Sprintf("already joining a space (candidate is %s)", e.State)
}

// IsVerification reports whether err is a VerificationError.
func IsVerification(err error) bool {
	var e *VerificationError
	return errors.As(err, &e)
}

// IsJoinTimeout reports whether err is a JoinTimeoutError.
func IsJoinTimeout(err error) bool {
	var e *JoinTimeoutError
	return errors.As(err, &e)
}
