// Package middleware wraps the client's call path.
//
// None of these are installed by default: a bare client makes exactly one
// attempt with no deadline. Callers opt in through client.WithMiddleware.
package middleware

import (
	"context"

	"formrpc/message"
)

// Request describes one outgoing call after endpoint resolution and token
// injection.
type Request struct {
	ID     string
	Method string
	URL    string
	Params message.Params
}

// CallFunc performs a call and returns the decoded envelope. A non-nil
// error means no envelope was obtained.
type CallFunc func(ctx context.Context, req *Request) (*message.Envelope, error)

type Middleware func(next CallFunc) CallFunc

// Chain composes middlewares so that the first one runs outermost:
// Chain(A, B)(h) == A(B(h)).
func Chain(middlewares ...Middleware) Middleware {
	return func(next CallFunc) CallFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
