package taskbag

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the request frame.
const (
	reqRoute protowire.Number = iota + 1
	reqID
	reqKey
	reqBatch
	reqRangeCeiling
	reqBatchSize
	reqName
)

// Field numbers of the response frame.
const (
	respID protowire.Number = iota + 1
	respOK
	respBatch
	respCount
	respRangeCeiling
	respBatchSize
	respCursor
	respError
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
)

// Request is a single remote call. Only the fields relevant to Route are set.
type Request struct {
	Route         Route
	ID            string
	Key           string
	Batch         Batch
	Configuration Configuration
	Name          string
}

// Response answers the request with the same ID. Err carries the remote
// failure, if any, as text.
type Response struct {
	ID            string
	OK            bool
	Batch         Batch
	Count         int64
	Configuration Configuration
	Cursor        int64
	Err           string
}

// EncodeBatch encodes b as packed zig-zag varints.
func EncodeBatch(b Batch) []byte {
	buf := make([]byte, 0, len(b)*2)
	for _, n := range b {
		buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(n))
	}
	return buf
}

// DecodeBatch reverses EncodeBatch. An empty input yields an empty, non-nil
// batch.
func DecodeBatch(data []byte) (Batch, error) {
	b := make(Batch, 0, len(data)/2)
	for len(data) > 0 {
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: batch: %w", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = append(b, protowire.DecodeZigZag(v))
		data = data[n:]
	}
	return b, nil
}

func (r *Request) Marshal() []byte {
	b := make([]byte, 0, 64+len(r.Batch)*2)
	b = appendVarint(b, reqRoute, uint64(r.Route))
	b = appendString(b, reqID, r.ID)
	b = appendString(b, reqKey, r.Key)
	if r.Batch != nil {
		b = protowire.AppendTag(b, reqBatch, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeBatch(r.Batch))
	}
	b = appendVarint(b, reqRangeCeiling, protowire.EncodeZigZag(r.Configuration.RangeCeiling))
	b = appendVarint(b, reqBatchSize, protowire.EncodeZigZag(r.Configuration.BatchSize))
	b = appendString(b, reqName, r.Name)
	return b
}

func (r *Request) Unmarshal(data []byte) error {
	*r = Request{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case reqRoute:
			v, n, err := consumeVarint(typ, data)
			r.Route = Route(v)
			return n, err
		case reqID:
			return consumeString(typ, data, &r.ID)
		case reqKey:
			return consumeString(typ, data, &r.Key)
		case reqBatch:
			return consumeBatch(typ, data, &r.Batch)
		case reqRangeCeiling:
			v, n, err := consumeVarint(typ, data)
			r.Configuration.RangeCeiling = protowire.DecodeZigZag(v)
			return n, err
		case reqBatchSize:
			v, n, err := consumeVarint(typ, data)
			r.Configuration.BatchSize = protowire.DecodeZigZag(v)
			return n, err
		case reqName:
			return consumeString(typ, data, &r.Name)
		default:
			return skipField(num, typ, data)
		}
	})
}

func (r *Response) Marshal() []byte {
	b := make([]byte, 0, 64+len(r.Batch)*2)
	b = appendString(b, respID, r.ID)
	if r.OK {
		b = appendVarint(b, respOK, protowire.EncodeBool(r.OK))
	}
	if r.Batch != nil {
		b = protowire.AppendTag(b, respBatch, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeBatch(r.Batch))
	}
	b = appendVarint(b, respCount, protowire.EncodeZigZag(r.Count))
	b = appendVarint(b, respRangeCeiling, protowire.EncodeZigZag(r.Configuration.RangeCeiling))
	b = appendVarint(b, respBatchSize, protowire.EncodeZigZag(r.Configuration.BatchSize))
	b = appendVarint(b, respCursor, protowire.EncodeZigZag(r.Cursor))
	b = appendString(b, respError, r.Err)
	return b
}

func (r *Response) Unmarshal(data []byte) error {
	*r = Response{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case respID:
			return consumeString(typ, data, &r.ID)
		case respOK:
			v, n, err := consumeVarint(typ, data)
			r.OK = protowire.DecodeBool(v)
			return n, err
		case respBatch:
			return consumeBatch(typ, data, &r.Batch)
		case respCount:
			v, n, err := consumeVarint(typ, data)
			r.Count = protowire.DecodeZigZag(v)
			return n, err
		case respRangeCeiling:
			v, n, err := consumeVarint(typ, data)
			r.Configuration.RangeCeiling = protowire.DecodeZigZag(v)
			return n, err
		case respBatchSize:
			v, n, err := consumeVarint(typ, data)
			r.Configuration.BatchSize = protowire.DecodeZigZag(v)
			return n, err
		case respCursor:
			v, n, err := consumeVarint(typ, data)
			r.Cursor = protowire.DecodeZigZag(v)
			return n, err
		case respError:
			return consumeString(typ, data, &r.Err)
		default:
			return skipField(num, typ, data)
		}
	})
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

type fieldFunc func(num protowire.Number, typ protowire.Type, data []byte) (int, error)

func consumeFields(data []byte, f fieldFunc) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: tag: %w", ErrMalformedFrame, protowire.ParseError(n))
		}
		data = data[n:]
		n, err := f(num, typ, data)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		data = data[n:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, data []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("%w: expected varint, got wire type %d", ErrMalformedFrame, typ)
	}
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: %w", ErrMalformedFrame, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeString(typ protowire.Type, data []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("%w: expected bytes, got wire type %d", ErrMalformedFrame, typ)
	}
	v, n := protowire.ConsumeString(data)
	if n < 0 {
		return 0, fmt.Errorf("%w: %w", ErrMalformedFrame, protowire.ParseError(n))
	}
	*dst = v
	return n, nil
}

func consumeBatch(typ protowire.Type, data []byte, dst *Batch) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("%w: expected bytes, got wire type %d", ErrMalformedFrame, typ)
	}
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return 0, fmt.Errorf("%w: %w", ErrMalformedFrame, protowire.ParseError(n))
	}
	b, err := DecodeBatch(v)
	if err != nil {
		return 0, err
	}
	*dst = b
	return n, nil
}

func skipField(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, data)
	if n < 0 {
		return 0, fmt.Errorf("%w: %w", ErrMalformedFrame, protowire.ParseError(n))
	}
	return n, nil
}
