package comm

import (
	"github.com/go-pluto/gallery/admission"
	"github.com/go-pluto/gallery/oplog"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Structs

// PullRequest asks a peer for every operation
// beyond Heads, at most Limit of them.
type PullRequest struct {
	DiscoveryID string
	Requester   oplog.WriterID
	Token       []byte
	Heads       oplog.Heads
	Limit       int
}

// PullResponse carries contiguous log suffixes, grouped by
// writer. More is set if the limit cut the answer short.
type PullResponse struct {
	Ops  []*oplog.Operation
	More bool
}

// PairRequest carries a candidate's admission
// request to a peer of the space.
type PairRequest struct {
	DiscoveryID string
	Request     *admission.Request
}

// PairResponse carries the inviter's confirmation.
type PairResponse struct {
	Confirm *admission.Confirm
}

// Functions

// NewPullRequest builds the request for cursor.
func NewPullRequest(cursor *oplog.Cursor, limit int) *PullRequest {

	return &PullRequest{
		DiscoveryID: cursor.DiscoveryID,
		Requester:   cursor.Requester,
		Token:       cursor.Token,
		Heads:       cursor.Heads,
		Limit:       limit,
	}
}

// Cursor returns the cursor req was built from.
func (req *PullRequest) Cursor() *oplog.Cursor {

	return &oplog.Cursor{
		DiscoveryID: req.DiscoveryID,
		Requester:   req.Requester,
		Token:       req.Token,
		Heads:       req.Heads,
	}
}

// Marshal encodes req.
func (req *PullRequest) Marshal() []byte {

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, req.DiscoveryID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, string(req.Requester))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, req.Token)

	for writer, next := range req.Heads {

		var head []byte
		head = protowire.AppendTag(head, 1, protowire.BytesType)
		head = protowire.AppendString(head, string(writer))
		head = protowire.AppendTag(head, 2, protowire.VarintType)
		head = protowire.AppendVarint(head, next)

		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, head)
	}

	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(req.Limit))

	return b
}

// Unmarshal decodes data into req.
func (req *PullRequest) Unmarshal(data []byte) error {

	req.Heads = make(oplog.Heads)

	return consumeFields(data, func(num protowire.Number, v []byte, u uint64) error {

		switch num {
		case 1:
			req.DiscoveryID = string(v)
		case 2:
			req.Requester = oplog.WriterID(v)
		case 3:
			req.Token = append([]byte(nil), v...)
		case 4:

			var writer oplog.WriterID
			var next uint64

			err := consumeFields(v, func(num protowire.Number, v []byte, u uint64) error {

				switch num {
				case 1:
					writer = oplog.WriterID(v)
				case 2:
					next = u
				}

				return nil
			})
			if err != nil {
				return err
			}

			req.Heads[writer] = next

		case 5:
			req.Limit = int(u)
		}

		return nil
	})
}

// Marshal encodes resp.
func (resp *PullResponse) Marshal() []byte {

	var b []byte
	for _, op := range resp.Ops {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, op.Marshal())
	}

	if resp.More {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}

	return b
}

// Unmarshal decodes data into resp.
func (resp *PullResponse) Unmarshal(data []byte) error {

	return consumeFields(data, func(num protowire.Number, v []byte, u uint64) error {

		switch num {
		case 1:

			op, err := oplog.Unmarshal(v)
			if err != nil {
				return err
			}
			resp.Ops = append(resp.Ops, op)

		case 2:
			resp.More = u != 0
		}

		return nil
	})
}

// Marshal encodes req.
func (req *PairRequest) Marshal() []byte {

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, req.DiscoveryID)

	if req.Request != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, req.Request.Marshal())
	}

	return b
}

// Unmarshal decodes data into req.
func (req *PairRequest) Unmarshal(data []byte) error {

	err := consumeFields(data, func(num protowire.Number, v []byte, _ uint64) error {

		switch num {
		case 1:
			req.DiscoveryID = string(v)
		case 2:

			r, err := admission.UnmarshalRequest(v)
			if err != nil {
				return err
			}
			req.Request = r
		}

		return nil
	})
	if err != nil {
		return err
	}

	if req.Request == nil {
		return errors.New("pair request carries no admission request")
	}

	return nil
}

// Marshal encodes resp.
func (resp *PairResponse) Marshal() []byte {

	var b []byte
	if resp.Confirm != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, resp.Confirm.Marshal())
	}

	return b
}

// Unmarshal decodes data into resp.
func (resp *PairResponse) Unmarshal(data []byte) error {

	err := consumeFields(data, func(num protowire.Number, v []byte, _ uint64) error {

		if num == 1 {

			conf, err := admission.UnmarshalConfirm(v)
			if err != nil {
				return err
			}
			resp.Confirm = conf
		}

		return nil
	})
	if err != nil {
		return err
	}

	if resp.Confirm == nil {
		return errors.New("pair response carries no confirmation")
	}

	return nil
}

// consumeFields hands the value of every bytes or varint
// field in b to fn. Other wire types are skipped.
func consumeFields(b []byte, fn func(num protowire.Number, v []byte, u uint64) error) error {

	for len(b) > 0 {

		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "failed to read field tag")
		}
		b = b[n:]

		var err error

		switch typ {

		case protowire.BytesType:

			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return errors.Wrapf(protowire.ParseError(m), "failed to read field %d", num)
			}
			err = fn(num, v, 0)
			n = m

		case protowire.VarintType:

			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return errors.Wrapf(protowire.ParseError(m), "failed to read field %d", num)
			}
			err = fn(num, nil, v)
			n = m

		default:

			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "failed to skip field %d", num)
			}
		}

		if err != nil {
			return err
		}
		b = b[n:]
	}

	return nil
}
