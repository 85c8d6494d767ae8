// Package message defines the three RPC message variants exchanged between
// peers, plus the params variant and the wire error pair.
//
// On the wire every message is a MessagePack array whose first element is a
// small-integer type tag:
//
//	Request:      [0, id, method, params]
//	Response:     [1, id, error, result]
//	Notification: [2, method, params]
//
// The tag values follow the de-facto msgpack-rpc numbering; both peers must
// agree on them exactly.
package message

// Message type tags. These are the first element of every wire array.
const (
	TagRequest      = 0
	TagResponse     = 1
	TagNotification = 2
)

// Message is the tagged union of the three wire message variants.
type Message interface {
	// Tag returns the wire type tag of this message.
	Tag() int
}

// Request expects exactly one correlated Response carrying the same ID.
//
// ID is unique among the sender's currently pending requests; it may be
// reused once the prior call with that id has completed.
type Request struct {
	ID     uint32
	Method string
	Params Params
}

func (*Request) Tag() int { return TagRequest }

// Notification carries no correlation id and expects no reply. A peer never
// writes anything back for a Notification.
type Notification struct {
	Method string
	Params Params
}

func (*Notification) Tag() int { return TagNotification }

// Response is the reply to a Request, correlated by ID.
// Err is nil on success; Result is meaningless when Err is non-nil.
type Response struct {
	ID     uint32
	Err    *ErrorInfo
	Result any
}

func (*Response) Tag() int { return TagResponse }

// ErrorInfo is the structured (kind, message) pair a failed call carries on
// the wire instead of a native fault. It implements error so the client can
// hand it straight back to the caller.
type ErrorInfo struct {
	Kind    string
	Message string
}

func (e *ErrorInfo) Error() string {
	return e.Kind + ": " + e.Message
}
