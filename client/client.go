// Package client implements the calling side of the RPC runtime: a
// multiplexing Client owning one outbound connection, and a Pool sharing at
// most one Client per remote endpoint across a process.
//
// Multiple goroutines issue calls over the same connection concurrently;
// each request gets a correlation id, and a background read loop routes
// every inbound Response to the caller waiting on that id:
//
//	goroutine-1 ──Call(id=1)──┐
//	goroutine-2 ──Call(id=2)──┼──→ single TCP conn ──→ peer
//	goroutine-3 ──Call(id=3)──┘
//
//	readLoop:  ←── Response(id=2) → pending[2] → goroutine-2 wakes up
package client

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"peerrpc/codec"
	"peerrpc/message"
)

// Connection states. Transitions are one-way; a closed Client is never
// reopened — dial a new one (or take a fresh pool entry) instead.
const (
	stateConnecting int32 = iota
	stateOpen
	stateClosing
	stateClosed
)

// errClosed is the ConnectionError cause after a local Close.
var errClosed = errors.New("client closed")

type callResult struct {
	value any
	err   error
}

// pendingCall is the record of one in-flight request. It is created when
// the request is written and destroyed when a matching Response arrives,
// the deadline elapses, or the connection is lost.
type pendingCall struct {
	ch chan callResult // buffered; the read loop never blocks on it
}

// Client owns one outbound connection and multiplexes concurrent calls
// over it.
type Client struct {
	conn           net.Conn
	logger         zerolog.Logger
	readBufSize    int
	defaultTimeout time.Duration

	mu      sync.Mutex // guards pending and seq
	pending map[uint32]*pendingCall
	seq     uint32

	writeMu sync.Mutex // serializes frame writes on the shared conn

	state atomic.Int32
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger. Default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithReadBufferSize sets the read chunk size of the background read loop.
func WithReadBufferSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.readBufSize = n
		}
	}
}

// WithCallTimeout sets a default deadline applied to Call when the caller's
// context has none. Zero means wait indefinitely.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

// Dial connects to addr and returns an open Client.
func Dial(network, addr string, opts ...Option) (*Client, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an already-established connection and starts the
// background read loop.
func NewClient(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:        conn,
		logger:      zerolog.Nop(),
		readBufSize: 4096,
		pending:     make(map[uint32]*pendingCall),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Small request/response round trips suffer from delayed-ACK
	// coalescing; latency matters more than packet count here.
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	c.state.Store(stateOpen)
	go c.readLoop()
	return c
}

// Closed reports whether the client has reached a terminal state.
func (c *Client) Closed() bool {
	return c.state.Load() >= stateClosing
}

// Pending returns the number of in-flight calls.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// RemoteAddr returns the peer's address.
func (c *Client) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Call invokes method on the peer and waits for its Response. The context
// deadline bounds the wait: on expiry the pending entry is removed and a
// *TimeoutError returned, while any late Response becomes an orphan. A
// remote failure is returned as *message.ErrorInfo; a lost connection as
// *ConnectionError.
func (c *Client) Call(ctx context.Context, method string, params message.Params) (any, error) {
	if c.defaultTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
			defer cancel()
		}
	}

	id, pc, err := c.register()
	if err != nil {
		return nil, err
	}
	b, err := codec.Encode(&message.Request{ID: id, Method: method, Params: params})
	if err != nil {
		c.unregister(id)
		return nil, err
	}
	start := time.Now()
	if err := c.write(b); err != nil {
		c.unregister(id)
		return nil, err
	}

	select {
	case r := <-pc.ch:
		return r.value, r.err
	case <-ctx.Done():
		c.unregister(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Method: method, After: time.Since(start)}
		}
		return nil, ctx.Err()
	}
}

// Notify sends a fire-and-forget message and returns once the write
// completes. No Response will ever arrive for it.
func (c *Client) Notify(method string, params message.Params) error {
	if c.Closed() {
		return &ConnectionError{Err: errClosed}
	}
	b, err := codec.Encode(&message.Notification{Method: method, Params: params})
	if err != nil {
		return err
	}
	return c.write(b)
}

// Close tears the connection down. Every pending call fails with a
// *ConnectionError.
func (c *Client) Close() error {
	if !c.state.CompareAndSwap(stateOpen, stateClosing) {
		return nil
	}
	c.fail(errClosed)
	return nil
}

// register allocates the next correlation id and installs its pending
// entry. Ids increase monotonically, wrap on overflow, and skip any id
// still present in the pending table, so an id is only ever reused after
// the prior call with it has completed.
func (c *Client) register() (uint32, *pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Load() != stateOpen {
		return 0, nil, &ConnectionError{Err: errClosed}
	}
	for {
		c.seq++
		if c.seq == 0 { // skip 0 on wraparound
			continue
		}
		if _, busy := c.pending[c.seq]; !busy {
			break
		}
	}
	pc := &pendingCall{ch: make(chan callResult, 1)}
	c.pending[c.seq] = pc
	return c.seq, pc, nil
}

func (c *Client) unregister(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// write sends one encoded frame. Concurrent callers share the connection,
// so writes are serialized to keep frames from interleaving mid-message.
func (c *Client) write(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(b); err != nil {
		c.fail(err)
		return &ConnectionError{Err: err}
	}
	return nil
}

// readLoop feeds inbound bytes to the codec and resolves pending calls as
// their Responses arrive. Any read or decode error closes the client.
func (c *Client) readLoop() {
	dec := &codec.Decoder{}
	buf := make([]byte, c.readBufSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				msg, derr := dec.Next()
				if derr != nil {
					c.logger.Error().Err(derr).Msg("protocol error, closing client")
					c.fail(derr)
					return
				}
				if msg == nil {
					break
				}
				c.deliver(msg)
			}
		}
		if err != nil {
			if c.Closed() || errors.Is(err, io.EOF) {
				c.logger.Debug().Msg("connection closed")
			} else {
				c.logger.Error().Err(err).Msg("read failed, closing client")
			}
			c.fail(err)
			return
		}
	}
}

func (c *Client) deliver(msg message.Message) {
	resp, ok := msg.(*message.Response)
	if !ok {
		// A Client only correlates Responses; a peer-initiated Request or
		// Notification belongs to a Server sharing the process.
		c.logger.Debug().Int("tag", msg.Tag()).Msg("dropping non-response message")
		return
	}
	c.mu.Lock()
	pc, ok := c.pending[resp.ID]
	delete(c.pending, resp.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().Uint32("id", resp.ID).Msg("dropping orphan response")
		return
	}
	if resp.Err != nil {
		pc.ch <- callResult{err: resp.Err}
		return
	}
	pc.ch <- callResult{value: resp.Result}
}

// fail moves the client to closed, closes the connection, and resolves
// every pending call with a ConnectionError.
func (c *Client) fail(cause error) {
	for {
		s := c.state.Load()
		if s == stateClosed {
			return
		}
		if c.state.CompareAndSwap(s, stateClosed) {
			break
		}
	}
	c.conn.Close()
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint32]*pendingCall)
	c.mu.Unlock()
	for _, pc := range pending {
		pc.ch <- callResult{err: &ConnectionError{Err: cause}}
	}
}
