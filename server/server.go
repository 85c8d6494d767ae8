// Package server implements the serving side of the RPC runtime: it accepts
// persistent stream connections and dispatches every decoded message
// against a method registry.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads and decodes frames)
//	  → for each message: go dispatchUnit (independent, concurrent)
//	    → middleware chain → Resolve → bind params → invoke handler
//	    → encode Response (requests only) → write under per-conn mutex
//
// Requests are read in arrival order, but responses may be written out of
// order; callers correlate purely by id.
package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"peerrpc/client"
	"peerrpc/discovery"
	"peerrpc/middleware"
	"peerrpc/registry"
)

// PoolBound is an optional application capability: a value passed via
// WithApp that implements it receives the process-wide client pool before
// the server starts, enabling the peer to issue outbound calls of its own.
type PoolBound interface {
	BindClientPool(pool *client.Pool)
}

// Activator is an optional application capability: Activated is called once
// the listener is bound, with its actual address.
type Activator interface {
	Activated(addr net.Addr)
}

// Server accepts connections and serves the operations of one Registry.
type Server struct {
	registry    *registry.Registry
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // built once, at Serve
	logger      zerolog.Logger
	readBufSize int

	listener net.Listener
	wg       sync.WaitGroup // in-flight dispatch units, for graceful shutdown
	shutdown atomic.Bool

	app  any
	pool *client.Pool

	disc          discovery.Registry
	serviceName   string
	advertiseAddr string
	registerTTL   int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger. Default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithReadBufferSize sets the per-connection read chunk size.
func WithReadBufferSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.readBufSize = n
		}
	}
}

// WithApp attaches the application value whose optional capabilities
// (PoolBound, Activator) the server honors.
func WithApp(app any) Option {
	return func(s *Server) { s.app = app }
}

// WithClientPool supplies the pool handed to a PoolBound application.
// Without it the server creates one itself when needed.
func WithClientPool(pool *client.Pool) Option {
	return func(s *Server) { s.pool = pool }
}

// WithDiscovery makes Serve register advertiseAddr under name in the given
// registry, and Shutdown deregister it.
func WithDiscovery(disc discovery.Registry, name, advertiseAddr string) Option {
	return func(s *Server) {
		s.disc = disc
		s.serviceName = name
		s.advertiseAddr = advertiseAddr
	}
}

// New creates a server for the given registry and binds the application's
// optional capabilities.
func New(reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		registry:    reg,
		logger:      zerolog.Nop(),
		readBufSize: 4096,
		registerTTL: 10,
	}
	for _, opt := range opts {
		opt(s)
	}
	if bound, ok := s.app.(PoolBound); ok {
		if s.pool == nil {
			s.pool = client.NewPool(client.WithPoolLogger(s.logger))
		}
		bound.BindClientPool(s.pool)
	}
	return s
}

// Use appends a middleware; middlewares run in the order they were added,
// around every dispatch unit. Must be called before Serve.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// ClientPool returns the pool bound to the application, or nil.
func (s *Server) ClientPool() *client.Pool { return s.pool }

// Addr returns the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve listens on address and accepts connections until Shutdown. It
// blocks for the server's lifetime; a single connection's failure never
// stops it.
func (s *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	s.listener = listener

	// Build the middleware onion once, not per request.
	s.handler = middleware.Chain(s.middlewares...)(s.dispatch)

	if s.disc != nil {
		err := s.disc.Register(s.serviceName, discovery.Instance{Addr: s.advertiseAddr, Weight: 1}, s.registerTTL)
		if err != nil {
			listener.Close()
			return fmt.Errorf("register %s at %s: %w", s.serviceName, s.advertiseAddr, err)
		}
	}

	s.logger.Info().Stringer("addr", listener.Addr()).Msg("serving")
	if act, ok := s.app.(Activator); ok {
		act.Activated(listener.Addr())
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Shutdown closes the listener; only then is the Accept
			// error expected.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Shutdown deregisters from discovery, stops accepting, and waits up to
// timeout for in-flight dispatch units to finish. Handlers still running
// after that are abandoned, not cancelled.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.disc != nil {
		if err := s.disc.Deregister(s.serviceName, s.advertiseAddr); err != nil {
			s.logger.Warn().Err(err).Msg("deregister failed")
		}
	}

	// Flag first: the Accept error must be recognizable as intentional.
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for in-flight dispatches to finish")
	}
}
