// Package codec translates between the binary MessagePack wire form and the
// message variants.
//
// MessagePack values are self-delimiting, so there is no separate length
// header: the Decoder buffers raw bytes and carves complete messages off the
// front as soon as enough have arrived, leaving any partial trailing bytes
// for the next Feed. Message boundaries are never assumed to align with read
// chunks.
//
// A well-formed MessagePack value with an invalid message shape (non-array
// top level, unknown tag, wrong arity for the tag) is a ProtocolError; the
// caller's policy is to abort the connection, not to resynchronize.
package codec

import (
	"errors"
	"fmt"

	"github.com/tinylib/msgp/msgp"

	"peerrpc/message"
)

// ProtocolError reports a malformed frame. It is fatal to the connection it
// arrived on.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// Encode serializes a single message to its wire bytes. It is a pure
// function of the message.
func Encode(m message.Message) ([]byte, error) {
	b := make([]byte, 0, 64)
	var err error
	switch m := m.(type) {
	case *message.Request:
		b = msgp.AppendArrayHeader(b, 4)
		b = msgp.AppendInt(b, message.TagRequest)
		b = msgp.AppendUint32(b, m.ID)
		b = msgp.AppendString(b, m.Method)
		b, err = appendParams(b, m.Params)
	case *message.Notification:
		b = msgp.AppendArrayHeader(b, 3)
		b = msgp.AppendInt(b, message.TagNotification)
		b = msgp.AppendString(b, m.Method)
		b, err = appendParams(b, m.Params)
	case *message.Response:
		b = msgp.AppendArrayHeader(b, 4)
		b = msgp.AppendInt(b, message.TagResponse)
		b = msgp.AppendUint32(b, m.ID)
		if m.Err == nil {
			b = msgp.AppendNil(b)
		} else {
			b = msgp.AppendArrayHeader(b, 2)
			b = msgp.AppendString(b, m.Err.Kind)
			b = msgp.AppendString(b, m.Err.Message)
		}
		b, err = msgp.AppendIntf(b, m.Result)
	default:
		return nil, fmt.Errorf("codec: cannot encode %T", m)
	}
	if err != nil {
		return nil, fmt.Errorf("codec: encode %T: %w", m, err)
	}
	return b, nil
}

func appendParams(b []byte, p message.Params) ([]byte, error) {
	switch p.Kind {
	case message.ParamsNone:
		return msgp.AppendNil(b), nil
	case message.ParamsPositional:
		// AppendIntf(nil slice) would encode nil; an empty list must stay a list.
		b = msgp.AppendArrayHeader(b, uint32(len(p.List)))
		for _, v := range p.List {
			var err error
			b, err = msgp.AppendIntf(b, v)
			if err != nil {
				return nil, err
			}
		}
		return b, nil
	case message.ParamsNamed:
		b = msgp.AppendMapHeader(b, uint32(len(p.Map)))
		for k, v := range p.Map {
			b = msgp.AppendString(b, k)
			var err error
			b, err = msgp.AppendIntf(b, v)
			if err != nil {
				return nil, err
			}
		}
		return b, nil
	case message.ParamsScalar:
		return msgp.AppendIntf(b, p.Value)
	default:
		return nil, fmt.Errorf("unknown params kind %d", p.Kind)
	}
}

// Decoder reassembles messages from an incoming byte stream.
// It is not safe for concurrent use; each connection owns one Decoder.
type Decoder struct {
	buf []byte
}

// Feed appends raw bytes from the stream to the internal buffer.
func (d *Decoder) Feed(p []byte) {
	if len(d.buf) == 0 {
		// Avoid retaining the caller's slice; it is reused between reads.
		d.buf = append(d.buf[:0], p...)
		return
	}
	d.buf = append(d.buf, p...)
}

// Buffered reports how many undecoded bytes are currently held.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Next returns the next fully buffered message, or (nil, nil) when the
// buffer does not yet hold a complete one. A non-nil error is a
// *ProtocolError and the stream must be abandoned.
func (d *Decoder) Next() (message.Message, error) {
	if len(d.buf) == 0 {
		return nil, nil
	}
	v, rest, err := msgp.ReadIntfBytes(d.buf)
	if err != nil {
		if errors.Is(err, msgp.ErrShortBytes) {
			return nil, nil // wait for more bytes
		}
		return nil, protocolErrorf("undecodable frame: %v", err)
	}
	if len(rest) == 0 {
		d.buf = nil
	} else {
		d.buf = rest
	}
	return fromWire(v)
}

func fromWire(v any) (message.Message, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, protocolErrorf("message is %T, not an array", v)
	}
	if len(arr) == 0 {
		return nil, protocolErrorf("empty message array")
	}
	tag, ok := asInt(arr[0])
	if !ok {
		return nil, protocolErrorf("message tag is %T, not an integer", arr[0])
	}
	switch tag {
	case message.TagRequest:
		if len(arr) != 4 {
			return nil, protocolErrorf("request has %d elements, want 4", len(arr))
		}
		id, ok := asID(arr[1])
		if !ok {
			return nil, protocolErrorf("request id %v is not a uint32", arr[1])
		}
		method, ok := asString(arr[2])
		if !ok {
			return nil, protocolErrorf("request method is %T, not a string", arr[2])
		}
		return &message.Request{ID: id, Method: method, Params: paramsFromWire(arr[3])}, nil
	case message.TagNotification:
		if len(arr) != 3 {
			return nil, protocolErrorf("notification has %d elements, want 3", len(arr))
		}
		method, ok := asString(arr[1])
		if !ok {
			return nil, protocolErrorf("notification method is %T, not a string", arr[1])
		}
		return &message.Notification{Method: method, Params: paramsFromWire(arr[2])}, nil
	case message.TagResponse:
		if len(arr) != 4 {
			return nil, protocolErrorf("response has %d elements, want 4", len(arr))
		}
		id, ok := asID(arr[1])
		if !ok {
			return nil, protocolErrorf("response id %v is not a uint32", arr[1])
		}
		ei, err := errorFromWire(arr[2])
		if err != nil {
			return nil, err
		}
		return &message.Response{ID: id, Err: ei, Result: arr[3]}, nil
	default:
		return nil, protocolErrorf("unknown message tag %d", tag)
	}
}

func paramsFromWire(v any) message.Params {
	switch v := v.(type) {
	case nil:
		return message.None()
	case []any:
		return message.Positional(v...)
	case map[string]any:
		return message.Named(v)
	default:
		return message.Scalar(v)
	}
}

func errorFromWire(v any) (*message.ErrorInfo, error) {
	if v == nil {
		return nil, nil
	}
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return nil, protocolErrorf("response error is %T, not a [kind, message] pair", v)
	}
	kind, ok := asString(pair[0])
	if !ok {
		return nil, protocolErrorf("response error kind is %T, not a string", pair[0])
	}
	msg, ok := asString(pair[1])
	if !ok {
		return nil, protocolErrorf("response error message is %T, not a string", pair[1])
	}
	return &message.ErrorInfo{Kind: kind, Message: msg}, nil
}

// asInt accepts the integer representations msgp produces for wire ints.
func asInt(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

func asID(v any) (uint32, bool) {
	n, ok := asInt(v)
	if !ok || n < 0 || n > int64(^uint32(0)) {
		return 0, false
	}
	return uint32(n), true
}

// asString accepts both str and bin encodings for method and error fields;
// peers in other languages commonly send method names as raw bytes.
func asString(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}
