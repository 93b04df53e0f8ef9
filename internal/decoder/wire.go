package decoder

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// field is one decoded tag/value pair of a message.
type field struct {
	msg string
	num protowire.Number
	typ protowire.Type

	varint  uint64
	fixed64 uint64
	bytes   []byte
}

// walk calls fn for every field in b. Values of unknown wire types are skipped.
func walk(msg string, b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return &DecodeError{Message: msg, Err: protowire.ParseError(n)}
		}
		b = b[n:]

		f := field{msg: msg, num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.fixed64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return &DecodeError{Message: msg, Field: num, Err: protowire.ParseError(n)}
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) asDouble() (float64, error) {
	if f.typ != protowire.Fixed64Type {
		return 0, wireTypeError(f.msg, f.num, f.typ, protowire.Fixed64Type)
	}
	return math.Float64frombits(f.fixed64), nil
}

func (f field) asInt64() (int64, error) {
	if f.typ != protowire.VarintType {
		return 0, wireTypeError(f.msg, f.num, f.typ, protowire.VarintType)
	}
	return int64(f.varint), nil
}

func (f field) asUint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, wireTypeError(f.msg, f.num, f.typ, protowire.VarintType)
	}
	return f.varint, nil
}

func (f field) asBytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, wireTypeError(f.msg, f.num, f.typ, protowire.BytesType)
	}
	return f.bytes, nil
}

func (f field) asString() (string, error) {
	b, err := f.asBytes()
	return string(b), err
}
