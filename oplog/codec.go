package oplog

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the operation wire format. They follow
// protobuf encoding so that other implementations can
// describe an Operation with a plain .proto message.
const (
	fieldWriter    protowire.Number = 1
	fieldSeq       protowire.Number = 2
	fieldKind      protowire.Number = 3
	fieldTimestamp protowire.Number = 4
	fieldWriterKey protowire.Number = 5
	fieldAddedBy   protowire.Number = 6
	fieldFilename  protowire.Number = 7
	fieldBlob      protowire.Number = 8
)

// Functions

// Marshal encodes op in protobuf wire format.
func (op *Operation) Marshal() []byte {
	return op.AppendWire(nil)
}

// AppendWire appends the wire encoding of op to b.
func (op *Operation) AppendWire(b []byte) []byte {

	b = protowire.AppendTag(b, fieldWriter, protowire.BytesType)
	b = protowire.AppendString(b, string(op.Writer))

	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, op.Seq)

	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(op.Kind))

	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(op.Timestamp))

	if op.WriterKey != "" {
		b = protowire.AppendTag(b, fieldWriterKey, protowire.BytesType)
		b = protowire.AppendString(b, string(op.WriterKey))
	}

	if op.AddedBy != "" {
		b = protowire.AppendTag(b, fieldAddedBy, protowire.BytesType)
		b = protowire.AppendString(b, string(op.AddedBy))
	}

	if op.Filename != "" {
		b = protowire.AppendTag(b, fieldFilename, protowire.BytesType)
		b = protowire.AppendString(b, op.Filename)
	}

	if op.Blob != nil {
		b = protowire.AppendTag(b, fieldBlob, protowire.BytesType)
		b = protowire.AppendBytes(b, op.Blob)
	}

	return b
}

// Unmarshal decodes one operation from its wire format.
// Unknown fields are skipped. Semantic validation, e.g.
// a PutFile without filename, is left to the merge engine.
func Unmarshal(data []byte) (*Operation, error) {

	op := &Operation{}

	for len(data) > 0 {

		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "failed to read operation field tag")
		}
		data = data[n:]

		switch {

		case num == fieldSeq && typ == protowire.VarintType:
			op.Seq, n = protowire.ConsumeVarint(data)

		case num == fieldKind && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(data)
			op.Kind = Kind(v)

		case num == fieldTimestamp && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(data)
			op.Timestamp = protowire.DecodeZigZag(v)

		case (num == fieldWriter || num == fieldWriterKey || num == fieldAddedBy || num == fieldFilename) && typ == protowire.BytesType:
			var v string
			v, n = protowire.ConsumeString(data)
			switch num {
			case fieldWriter:
				op.Writer = WriterID(v)
			case fieldWriterKey:
				op.WriterKey = WriterID(v)
			case fieldAddedBy:
				op.AddedBy = WriterID(v)
			default:
				op.Filename = v
			}

		case num == fieldBlob && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(data)
			op.Blob = append([]byte{}, v...)

		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}

		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "failed to read operation field %d", num)
		}
		data = data[n:]
	}

	return op, nil
}

// AppendDelimited appends op to b prefixed by its
// encoded length, the framing used by log files and
// replication batches.
func AppendDelimited(b []byte, op *Operation) []byte {
	return protowire.AppendBytes(b, op.Marshal())
}

// ConsumeDelimited reads one length-prefixed operation
// from the start of b and returns it together with the
// number of bytes consumed. io.ErrUnexpectedEOF style
// truncation is reported as ErrTruncated.
func ConsumeDelimited(b []byte) (*Operation, int, error) {

	raw, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, ErrTruncated
	}

	op, err := Unmarshal(raw)
	if err != nil {
		return nil, 0, err
	}

	return op, n, nil
}
