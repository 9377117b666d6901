package admission

import (
	"crypto/ed25519"
	"time"

	"github.com/go-pluto/gallery/oplog"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Structs

// Request is what a candidate sends to an inviter. The
// candidate's key lives only inside Sealed, which is covered
// by a signature made with the invite's private key.
type Request struct {
	InviteID  string
	Sealed    []byte
	Signature []byte
}

// Confirm is the inviter's answer to a verified request.
type Confirm struct {
	Root          oplog.WriterID
	EncryptionKey []byte
}

type sealed struct {
	root      oplog.WriterID
	candidate oplog.WriterID
	nonce     string
	timestamp int64
}

// Functions

// NewRequest prepares the pairing request by which the
// holder of inv asks to have candidate authorized.
func NewRequest(inv *Invite, candidate oplog.WriterID, now time.Time) (*Request, error) {

	if inv.Wiped() {
		return nil, ErrInviteUnavailable
	}

	if !candidate.Valid() {
		return nil, errors.Errorf("invalid candidate key '%s'", candidate.Short())
	}

	payload := sealed{
		root:      inv.Root,
		candidate: candidate,
		nonce:     uuid.NewV4().String(),
		timestamp: now.UnixMilli(),
	}.marshal()

	return &Request{
		InviteID:  inv.ID,
		Sealed:    payload,
		Signature: ed25519.Sign(inv.priv, signedBytes(inv.ID, payload)),
	}, nil
}

// Open checks req against the public key of the invite it
// claims to answer and the root of the inviter's space, and
// only then decodes the candidate key out of it.
func Open(req *Request, invitePub ed25519.PublicKey, root oplog.WriterID) (oplog.WriterID, error) {

	if len(invitePub) != ed25519.PublicKeySize {
		return "", &VerificationError{InviteID: req.InviteID, Reason: "invite public key missing"}
	}

	if req.InviteID != InviteID(invitePub) {
		return "", &VerificationError{InviteID: req.InviteID, Reason: "request names another invite"}
	}

	if !ed25519.Verify(invitePub, signedBytes(req.InviteID, req.Sealed), req.Signature) {
		return "", &VerificationError{InviteID: req.InviteID, Reason: "bad signature"}
	}

	payload, err := unmarshalSealed(req.Sealed)
	if err != nil {
		return "", &VerificationError{InviteID: req.InviteID, Reason: err.Error()}
	}

	if payload.root != root {
		return "", &VerificationError{InviteID: req.InviteID, Reason: "request is bound to another space"}
	}

	if !payload.candidate.Valid() {
		return "", &VerificationError{InviteID: req.InviteID, Reason: "candidate key is not an ed25519 public key"}
	}

	return payload.candidate, nil
}

func signedBytes(inviteID string, payload []byte) []byte {

	b := make([]byte, 0, len(inviteID)+len(payload))
	b = append(b, inviteID...)

	return append(b, payload...)
}

func (s sealed) marshal() []byte {

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, string(s.root))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, string(s.candidate))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, s.nonce)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(s.timestamp))

	return b
}

func unmarshalSealed(b []byte) (sealed, error) {

	var s sealed

	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) {

		switch {
		case num == 1 && typ == protowire.BytesType:
			s.root = oplog.WriterID(v)
		case num == 2 && typ == protowire.BytesType:
			s.candidate = oplog.WriterID(v)
		case num == 3 && typ == protowire.BytesType:
			s.nonce = string(v)
		case num == 4 && typ == protowire.VarintType:
			s.timestamp = protowire.DecodeZigZag(u)
		}
	})

	return s, err
}

// Marshal encodes req for the pairing channel.
func (req *Request) Marshal() []byte {

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, req.InviteID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, req.Sealed)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, req.Signature)

	return b
}

// UnmarshalRequest decodes a request received
// on the pairing channel.
func UnmarshalRequest(b []byte) (*Request, error) {

	req := &Request{}

	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) {

		if typ != protowire.BytesType {
			return
		}

		switch num {
		case 1:
			req.InviteID = string(v)
		case 2:
			req.Sealed = append([]byte(nil), v...)
		case 3:
			req.Signature = append([]byte(nil), v...)
		}
	})
	if err != nil {
		return nil, err
	}

	return req, nil
}

// Marshal encodes conf for the pairing channel.
func (conf *Confirm) Marshal() []byte {

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, string(conf.Root))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, conf.EncryptionKey)

	return b
}

// UnmarshalConfirm decodes a confirmation
// received on the pairing channel.
func UnmarshalConfirm(b []byte) (*Confirm, error) {

	conf := &Confirm{}

	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) {

		if typ != protowire.BytesType {
			return
		}

		switch num {
		case 1:
			conf.Root = oplog.WriterID(v)
		case 2:
			conf.EncryptionKey = append([]byte(nil), v...)
		}
	})
	if err != nil {
		return nil, err
	}

	return conf, nil
}

// consumeFields walks the fields of a message and hands bytes
// and varint values to fn. Fields of other types are skipped.
func consumeFields(b []byte, fn func(protowire.Number, protowire.Type, []byte, uint64)) error {

	for len(b) > 0 {

		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "failed to read field tag")
		}
		b = b[n:]

		switch typ {

		case protowire.BytesType:

			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return errors.Wrapf(protowire.ParseError(m), "failed to read field %d", num)
			}
			fn(num, typ, v, 0)
			b = b[m:]

		case protowire.VarintType:

			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return errors.Wrapf(protowire.ParseError(m), "failed to read field %d", num)
			}
			fn(num, typ, nil, v)
			b = b[m:]

		default:

			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return errors.Wrapf(protowire.ParseError(m), "failed to skip field %d", num)
			}
			b = b[m:]
		}
	}

	return nil
}
