package client

import (
	"net/http"

	"formrpc/loadbalance"
	"formrpc/middleware"
	"formrpc/registry"

	"go.uber.org/zap"
)

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every call. The default has
// no timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTokenSource attaches the session state whose token is injected into
// calls.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithMiddleware appends call middleware, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) {
		c.middlewares = append(c.middlewares, mws...)
	}
}

// WithLogger sets the logger and installs the logging middleware ahead of
// any other middleware.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger == nil {
			return
		}
		c.logger = logger
		c.middlewares = append([]middleware.Middleware{middleware.Logging(logger)}, c.middlewares...)
	}
}

// WithResolver discovers base URLs of service through r instead of using
// the base URL given to New.
func WithResolver(r registry.Resolver, service string) Option {
	return func(c *Client) {
		c.resolver = r
		c.service = service
	}
}

// WithBalancer selects among resolved instances. Defaults to round robin.
func WithBalancer(b loadbalance.Balancer) Option {
	return func(c *Client) {
		c.balancer = b
	}
}
