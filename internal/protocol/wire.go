package protocol

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary TICK frames use the protobuf wire format so any protobuf runtime
// can read them with this schema:
//
//	message Tick {
//	  uint64 tick = 1;
//	  int64 time_ns = 2;
//	  string digest = 3;
//	  repeated Sample samples = 4;
//	  repeated Decision decisions = 5;
//	}
//	message Sample {
//	  string agent = 1; int64 t_ns = 2;
//	  double x = 3; double y = 4; double vx = 5; double vy = 6;
//	  string phase = 7; string pending = 8;
//	}
//	message Decision {
//	  string agent = 1; int64 t_ns = 2; string kind = 3;
//	  string turn = 4; string next = 5; string side = 6;
//	  double x = 7; double y = 8; double vx = 9; double vy = 10;
//	}
//
// Unknown fields are skipped when decoding.

var ErrBadFrame = errors.New("bad tick frame")

func MarshalTick(m TickMsg) []byte {
	var b []byte
	b = appendVarint(b, 1, m.Tick)
	b = appendVarint(b, 2, uint64(m.TimeNS))
	b = appendString(b, 3, m.Digest)
	for _, s := range m.Samples {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalSample(s))
	}
	for _, d := range m.Decisions {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalDecision(d))
	}
	return b
}

func marshalSample(s SampleFrame) []byte {
	var b []byte
	b = appendString(b, 1, s.Agent)
	b = appendVarint(b, 2, uint64(s.TimeNS))
	b = appendDouble(b, 3, s.Pos[0])
	b = appendDouble(b, 4, s.Pos[1])
	b = appendDouble(b, 5, s.Vel[0])
	b = appendDouble(b, 6, s.Vel[1])
	b = appendString(b, 7, s.Phase)
	b = appendString(b, 8, s.Pending)
	return b
}

func marshalDecision(d DecisionFrame) []byte {
	var b []byte
	b = appendString(b, 1, d.Agent)
	b = appendVarint(b, 2, uint64(d.TimeNS))
	b = appendString(b, 3, d.Kind)
	b = appendString(b, 4, d.Turn)
	b = appendString(b, 5, d.Next)
	b = appendString(b, 6, d.Side)
	b = appendDouble(b, 7, d.Pos[0])
	b = appendDouble(b, 8, d.Pos[1])
	b = appendDouble(b, 9, d.Vel[0])
	b = appendDouble(b, 10, d.Vel[1])
	return b
}

// UnmarshalTick decodes a binary TICK frame. Type and ProtocolVersion are
// filled in so the result matches the JSON form.
func UnmarshalTick(b []byte) (TickMsg, error) {
	m := TickMsg{Type: TypeTick, ProtocolVersion: Version}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Tick = v
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.TimeNS = int64(v)
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			m.Digest = v
			return n, nil
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			s, err := unmarshalSample(v)
			if err != nil {
				return 0, err
			}
			m.Samples = append(m.Samples, s)
			return n, nil
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			d, err := unmarshalDecision(v)
			if err != nil {
				return 0, err
			}
			m.Decisions = append(m.Decisions, d)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return m, err
}

func unmarshalSample(b []byte) (SampleFrame, error) {
	var s SampleFrame
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &s.Agent)
		case 2:
			return consumeInt64(typ, b, &s.TimeNS)
		case 3:
			return consumeDouble(typ, b, &s.Pos[0])
		case 4:
			return consumeDouble(typ, b, &s.Pos[1])
		case 5:
			return consumeDouble(typ, b, &s.Vel[0])
		case 6:
			return consumeDouble(typ, b, &s.Vel[1])
		case 7:
			return consumeString(typ, b, &s.Phase)
		case 8:
			return consumeString(typ, b, &s.Pending)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return s, err
}

func unmarshalDecision(b []byte) (DecisionFrame, error) {
	var d DecisionFrame
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &d.Agent)
		case 2:
			return consumeInt64(typ, b, &d.TimeNS)
		case 3:
			return consumeString(typ, b, &d.Kind)
		case 4:
			return consumeString(typ, b, &d.Turn)
		case 5:
			return consumeString(typ, b, &d.Next)
		case 6:
			return consumeString(typ, b, &d.Side)
		case 7:
			return consumeDouble(typ, b, &d.Pos[0])
		case 8:
			return consumeDouble(typ, b, &d.Pos[1])
		case 9:
			return consumeDouble(typ, b, &d.Vel[0])
		case 10:
			return consumeDouble(typ, b, &d.Vel[1])
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return d, err
}

// walkFields calls fn for every field in b; fn returns the number of value
// bytes it consumed (negative on a protowire parse error).
func walkFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrBadFrame, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrBadFrame, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("%w: wire type %d for string", ErrBadFrame, typ)
	}
	v, n := protowire.ConsumeString(b)
	*dst = v
	return n, nil
}

func consumeInt64(typ protowire.Type, b []byte, dst *int64) (int, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: wire type %d for int64", ErrBadFrame, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	*dst = int64(v)
	return n, nil
}

func consumeDouble(typ protowire.Type, b []byte, dst *float64) (int, error) {
	if typ != protowire.Fixed64Type {
		return 0, fmt.Errorf("%w: wire type %d for double", ErrBadFrame, typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	*dst = math.Float64frombits(v)
	return n, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendDouble(b []byte, num protowire.Number, f float64) []byte {
	if f == 0 && !math.Signbit(f) {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(f))
}
