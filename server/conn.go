package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"peerrpc/codec"
	"peerrpc/message"
	"peerrpc/middleware"
	"peerrpc/registry"
)

// connMeta is the connection's ambient metadata accessor, handed to
// meta-aware handlers (after any per-call "__key__" overlay).
type connMeta struct {
	conn net.Conn
}

func (m connMeta) Get(key string) any {
	switch key {
	case "peer_addr":
		return m.conn.RemoteAddr().String()
	case "local_addr":
		return m.conn.LocalAddr().String()
	default:
		return nil
	}
}

type metaCtxKey struct{}

func withMeta(ctx context.Context, meta registry.Meta) context.Context {
	return context.WithValue(ctx, metaCtxKey{}, meta)
}

// MetaFromContext returns the connection metadata accessor of the dispatch
// in flight, for middlewares that want it. Nil outside a dispatch.
func MetaFromContext(ctx context.Context) registry.Meta {
	meta, _ := ctx.Value(metaCtxKey{}).(registry.Meta)
	return meta
}

// handleConn owns one accepted connection: it reads chunks, feeds the
// codec, and spawns an independent dispatch unit per decoded message. Read
// or decode errors are fatal to this connection only.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	logger := s.logger.With().Str("peer", conn.RemoteAddr().String()).Logger()
	logger.Debug().Msg("connection accepted")

	// Small request/response round trips suffer from delayed-ACK
	// coalescing; latency matters more than packet count here.
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	dec := &codec.Decoder{}
	meta := connMeta{conn: conn}
	writeMu := &sync.Mutex{} // shared by every dispatch unit on this conn
	buf := make([]byte, s.readBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				msg, derr := dec.Next()
				if derr != nil {
					logger.Error().Err(derr).Msg("closing connection")
					return
				}
				if msg == nil {
					break
				}
				switch m := msg.(type) {
				case *message.Request:
					s.wg.Add(1)
					go s.dispatchUnit(conn, writeMu, meta, logger, m.Method, m.Params, true, m.ID)
				case *message.Notification:
					s.wg.Add(1)
					go s.dispatchUnit(conn, writeMu, meta, logger, m.Method, m.Params, false, 0)
				case *message.Response:
					// Responses belong on a client's connection; here the
					// peer has broken the protocol.
					logger.Error().Uint32("id", m.ID).Msg("unexpected response message, closing connection")
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug().Msg("peer closed connection")
			} else {
				logger.Error().Err(err).Msg("read failed, closing connection")
			}
			return
		}
	}
}

// dispatchUnit runs one decoded message to completion. Every error — method
// resolution, binding, handler failure, handler panic — is captured here
// and, for Requests, reported in the Response; it never affects sibling
// units or the connection.
func (s *Server) dispatchUnit(conn net.Conn, writeMu *sync.Mutex, meta registry.Meta, logger zerolog.Logger, method string, params message.Params, isRequest bool, id uint32) {
	defer s.wg.Done()

	ctx := withMeta(context.Background(), meta)
	inv := &middleware.Invocation{Method: method, Params: params, Notification: !isRequest}
	result, err := s.handler(ctx, inv)

	if !isRequest {
		// A Notification never produces wire output, not even for errors.
		if err != nil {
			logger.Warn().Err(err).Str("method", method).Msg("notification dispatch failed")
		}
		return
	}

	resp := &message.Response{ID: id}
	if err != nil {
		resp.Err = errorInfo(err)
	} else {
		resp.Result = result
	}
	b, encErr := codec.Encode(resp)
	if encErr != nil {
		// The handler produced a value the wire format cannot carry;
		// report that instead of leaving the caller pending forever.
		logger.Error().Err(encErr).Str("method", method).Msg("response not encodable")
		resp = &message.Response{ID: id, Err: &message.ErrorInfo{
			Kind:    registry.KindHandlerError,
			Message: encErr.Error(),
		}}
		if b, encErr = codec.Encode(resp); encErr != nil {
			return
		}
	}

	writeMu.Lock()
	_, werr := conn.Write(b)
	writeMu.Unlock()
	if werr != nil {
		logger.Debug().Err(werr).Uint32("id", id).Msg("response write failed")
	}
}

// dispatch is the innermost handler the middleware chain wraps: resolve the
// operation (control commands included), bind, invoke.
func (s *Server) dispatch(ctx context.Context, inv *middleware.Invocation) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	fd, err := s.registry.Resolve(inv.Method)
	if err != nil {
		return nil, err
	}
	return fd.Call(ctx, inv.Params, MetaFromContext(ctx))
}

// errorInfo converts a dispatch error to the wire (kind, message) pair.
func errorInfo(err error) *message.ErrorInfo {
	var de *registry.DispatchError
	if errors.As(err, &de) {
		return &message.ErrorInfo{Kind: de.Kind, Message: de.Method + ": " + de.Detail}
	}
	var ei *message.ErrorInfo
	if errors.As(err, &ei) {
		return ei
	}
	return &message.ErrorInfo{Kind: registry.KindHandlerError, Message: err.Error()}
}
