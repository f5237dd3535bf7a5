// Package pb holds the wire types the gRPC transport sends over the
// network. There is no .proto file and no generated code: each type hand-
// encodes itself with google.golang.org/protobuf/encoding/protowire, which
// keeps the wire format genuinely protobuf (forward-compatible field
// numbers, varint/length-delimited framing) without a build-time codegen
// step. The gRPC transport registers a codec (see transport/grpc.go) that
// calls these Marshal/Unmarshal methods instead of the protoreflect-based
// default, so none of these types need to satisfy proto.Message.
package pb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers are assigned once per type and never reordered, the same
// discipline a .proto file would enforce.
const (
	fieldCandidateID  = 1
	fieldTerm         = 2
	fieldLastLogIndex = 3
	fieldLastLogTerm  = 4
	fieldGranted      = 5

	fieldNextTerm    = 2
	fieldWouldGrant  = 5

	fieldLeaderID     = 1
	fieldPrevLogIndex = 3
	fieldPrevLogTerm  = 4
	fieldEntries      = 5
	fieldLeaderCommit = 6
	fieldSuccess      = 5

	fieldLastIncludedIndex = 3
	fieldLastIncludedTerm  = 4
	fieldData              = 5

	fieldSenderID          = 1
	fieldResigned          = 5
	fieldMetadataEntry     = 2
	fieldMessageID         = 2
	fieldMode              = 3
	fieldRespectLeadership = 4
	fieldName              = 5
	fieldContentType       = 6
	fieldPayload           = 7

	entryFieldTerm    = 1
	entryFieldIndex   = 2
	entryFieldPayload = 3
	entryFieldKind    = 4

	metaFieldKey = 1
	metaFieldVal = 2
)

func putID(b []byte, field protowire.Number, id [16]byte) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, id[:])
}

func putUint64(b []byte, field protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func putBool(b []byte, field protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func putBytes(b []byte, field protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func putString(b []byte, field protowire.Number, v string) []byte {
	return putBytes(b, field, []byte(v))
}

func putEmbedded(b []byte, field protowire.Number, payload []byte) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

// walkFields calls fn once per (field number, wire type, value) triple
// found in b, matching protowire's own ConsumeTag/ConsumeFieldValue
// pairing. A varint value is passed re-encoded as a varint; a
// length-delimited value is passed as its content without the length.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("pb: invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		var val []byte
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("pb: invalid varint: %w", protowire.ParseError(m))
			}
			val = protowire.AppendVarint(nil, v)
			b = b[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("pb: invalid length-delimited field: %w", protowire.ParseError(m))
			}
			val = v
			b = b[m:]
		default:
			return fmt.Errorf("pb: unsupported wire type %v", typ)
		}

		if err := fn(num, typ, val); err != nil {
			return err
		}
	}
	return nil
}

func asUint64(v []byte) uint64 {
	n, _ := protowire.ConsumeVarint(v)
	return n
}

func asBool(v []byte) bool { return asUint64(v) != 0 }

func asID(v []byte) [16]byte {
	var id [16]byte
	copy(id[:], v)
	return id
}
