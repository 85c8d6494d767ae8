package client_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"peerrpc/client"
	"peerrpc/codec"
	"peerrpc/message"
	"peerrpc/registry"
	"peerrpc/server"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	notes := make(chan string, 16)
	reg, err := registry.NewBuilder().
		Register("echo", func(ctx context.Context, args []any) (any, error) {
			return args, nil
		}, registry.Variadic()).
		Register("sleep", func(ctx context.Context, args []any) (any, error) {
			d, _ := args[0].(int64)
			time.Sleep(time.Duration(d) * time.Millisecond)
			return true, nil
		}, registry.Args("ms")).
		Register("boom", func(ctx context.Context, args []any) (any, error) {
			return nil, errors.New("kaboom")
		}).
		Register("log", func(ctx context.Context, args []any) (any, error) {
			notes <- args[0].(string)
			return nil, nil
		}, registry.Args("text")).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func startServer(t *testing.T) *server.Server {
	t.Helper()
	svr := server.New(testRegistry(t))
	go svr.Serve("tcp", "127.0.0.1:0")
	time.Sleep(100 * time.Millisecond)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr
}

func dial(t *testing.T, svr *server.Server, opts ...client.Option) *client.Client {
	t.Helper()
	c, err := client.Dial("tcp", svr.Addr().String(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCall(t *testing.T) {
	svr := startServer(t)
	c := dial(t, svr)

	result, err := c.Call(context.Background(), "echo", message.Positional("hi"))
	if err != nil {
		t.Fatal(err)
	}
	list, ok := result.([]any)
	if !ok || len(list) != 1 || list[0] != "hi" {
		t.Fatalf("result = %#v, want [hi]", result)
	}
}

func TestCallRemoteError(t *testing.T) {
	svr := startServer(t)
	c := dial(t, svr)

	_, err := c.Call(context.Background(), "boom", message.None())
	var ei *message.ErrorInfo
	if !errors.As(err, &ei) {
		t.Fatalf("got %v, want *message.ErrorInfo", err)
	}
	if ei.Kind != registry.KindHandlerError || ei.Message != "kaboom" {
		t.Fatalf("error pair = (%q, %q)", ei.Kind, ei.Message)
	}
}

func TestNotify(t *testing.T) {
	svr := startServer(t)
	c := dial(t, svr)

	if err := c.Notify("log", message.Positional("hello")); err != nil {
		t.Fatal(err)
	}
	// The notification produced no pending call to wait on.
	if n := c.Pending(); n != 0 {
		t.Fatalf("pending = %d after notify", n)
	}
	// And the connection still works for calls.
	if _, err := c.Call(context.Background(), "echo", message.Positional("ok")); err != nil {
		t.Fatal(err)
	}
}

// N concurrent calls on one connection all resolve to their own result,
// purely by id, whatever order the responses arrive in.
func TestConcurrentCalls(t *testing.T) {
	svr := startServer(t)
	c := dial(t, svr)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := int64(i)
			result, err := c.Call(context.Background(), "echo", message.Positional(want))
			if err != nil {
				errs <- err
				return
			}
			list, ok := result.([]any)
			if !ok || len(list) != 1 || list[0] != want {
				errs <- errors.New("result routed to the wrong caller")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if n := c.Pending(); n != 0 {
		t.Fatalf("pending = %d after all calls resolved", n)
	}
}

// A slow call issued first resolves after a fast call issued second.
func TestSlowThenFast(t *testing.T) {
	svr := startServer(t)
	c := dial(t, svr)

	var slowDone, fastDone time.Time
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := c.Call(context.Background(), "sleep", message.Positional(int64(300))); err != nil {
			t.Error(err)
		}
		slowDone = time.Now()
	}()
	time.Sleep(50 * time.Millisecond) // make sure the slow call is issued first
	go func() {
		defer wg.Done()
		if _, err := c.Call(context.Background(), "echo", message.Positional("fast")); err != nil {
			t.Error(err)
		}
		fastDone = time.Now()
	}()
	wg.Wait()

	if !fastDone.Before(slowDone) {
		t.Fatal("fast call did not complete before the slow one")
	}
}

func TestCallTimeoutRemovesPending(t *testing.T) {
	svr := startServer(t)
	c := dial(t, svr)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Call(ctx, "sleep", message.Positional(int64(2000)))
	var te *client.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want *client.TimeoutError", err)
	}
	if te.Method != "sleep" {
		t.Fatalf("timeout method = %q", te.Method)
	}
	// The pending table must not leak the timed-out id; the eventual
	// Response becomes a silently dropped orphan.
	if n := c.Pending(); n != 0 {
		t.Fatalf("pending = %d after timeout", n)
	}
	// The connection survives the orphan arriving later.
	time.Sleep(2500 * time.Millisecond)
	if _, err := c.Call(context.Background(), "echo", message.Positional("alive")); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultCallTimeout(t *testing.T) {
	svr := startServer(t)
	c := dial(t, svr, client.WithCallTimeout(100*time.Millisecond))

	_, err := c.Call(context.Background(), "sleep", message.Positional(int64(1000)))
	var te *client.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want *client.TimeoutError", err)
	}
}

func TestConnectionLossFailsPending(t *testing.T) {
	// A bare listener that accepts and then hangs up mid-call.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	c, err := client.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "echo", message.Positional("x"))
		done <- err
	}()

	conn := <-accepted
	time.Sleep(100 * time.Millisecond) // let the request go out
	conn.Close()

	select {
	case err := <-done:
		var ce *client.ConnectionError
		if !errors.As(err, &ce) {
			t.Fatalf("got %v, want *client.ConnectionError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not failed on connection loss")
	}
	if !c.Closed() {
		t.Fatal("client not closed after connection loss")
	}
	// A closed client is terminal: further calls fail immediately.
	if _, err := c.Call(context.Background(), "echo", message.None()); err == nil {
		t.Fatal("call on closed client succeeded")
	}
}

// A Response with an id nobody is waiting for is logged and dropped, not
// fatal.
func TestOrphanResponseDropped(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Unsolicited response for an id that was never issued.
		b, _ := codec.Encode(&message.Response{ID: 9999, Result: "ghost"})
		conn.Write(b)
		// Then behave as an echo server for one request.
		dec := &codec.Decoder{}
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			dec.Feed(buf[:n])
			for {
				m, err := dec.Next()
				if err != nil || m == nil {
					break
				}
				if req, ok := m.(*message.Request); ok {
					b, _ := codec.Encode(&message.Response{ID: req.ID, Result: "pong"})
					conn.Write(b)
				}
			}
		}
	}()

	c, err := client.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	time.Sleep(100 * time.Millisecond) // orphan arrives first
	result, err := c.Call(context.Background(), "anything", message.None())
	if err != nil {
		t.Fatal(err)
	}
	if result != "pong" {
		t.Fatalf("result = %#v, want pong", result)
	}
}

func TestPoolSharesClientPerEndpoint(t *testing.T) {
	svr1 := startServer(t)
	svr2 := startServer(t)
	pool := client.NewPool()
	defer pool.Close()

	a, err := pool.Get(svr1.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	b, err := pool.Get(svr1.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("same endpoint returned distinct clients")
	}

	other, err := pool.Get(svr2.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	if other == a {
		t.Fatal("distinct endpoints share a client")
	}
}

func TestPoolReplacesClosedClient(t *testing.T) {
	svr := startServer(t)
	pool := client.NewPool()
	defer pool.Close()

	endpoint := svr.Addr().String()
	a, err := pool.Get(endpoint)
	if err != nil {
		t.Fatal(err)
	}
	a.Close()

	b, err := pool.Get(endpoint)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("pool returned a closed client")
	}
	if _, err := b.Call(context.Background(), "echo", message.Positional("fresh")); err != nil {
		t.Fatal(err)
	}
}
