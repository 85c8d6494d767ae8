// Package middleware wraps the server's dispatch path in an onion of
// interceptors: Chain(A, B, C)(handler) runs A before B before C before the
// handler, and unwinds in reverse on the way out.
package middleware

import (
	"context"

	"peerrpc/message"
)

// Invocation is the dispatch-unit view of one inbound message.
type Invocation struct {
	Method string
	Params message.Params
	// Notification is true when no Response will be written for this
	// invocation.
	Notification bool
}

// HandlerFunc resolves and invokes one operation. A returned error becomes
// the Response's error pair; it never terminates the connection.
type HandlerFunc func(ctx context.Context, inv *Invocation) (any, error)

// Middleware wraps a HandlerFunc with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one, applied in the given order.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
