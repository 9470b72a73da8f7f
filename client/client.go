// Package client invokes remote methods over the form-POST / JSON-envelope
// protocol.
//
// Call flow:
//
//	Call(method, params)
//	  → resolve base URL (static, or registry + balancer)
//	  → inject session token when one is active and params lack "token"
//	  → middleware chain → transport.Post → envelope
//	  → success: data | failure: *RemoteError
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"formrpc/codec"
	"formrpc/loadbalance"
	"formrpc/message"
	"formrpc/middleware"
	"formrpc/registry"
	"formrpc/transport"

	"go.uber.org/zap"
)

var ErrEmptyMethod = errors.New("client: method is required")

// RemoteError is returned when the server answers success=false.
type RemoteError struct {
	Method string
	Msg    string
}

func (e *RemoteError) Error() string {
	if e.Method == "" {
		return "remote: " + e.Msg
	}
	return fmt.Sprintf("remote: %s: %s", e.Method, e.Msg)
}

// IsRemote reports whether err carries a server-side failure.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var te *transport.Error
	return errors.As(err, &te)
}

// TokenSource supplies the active session token, if any.
type TokenSource interface {
	Token() (string, bool)
}

// Client is safe for concurrent use. Concurrent calls are independent and
// complete in whatever order the server answers.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokens      TokenSource
	resolver    registry.Resolver
	service     string
	balancer    loadbalance.Balancer
	middlewares []middleware.Middleware
	logger      *zap.Logger

	transport *transport.HTTPTransport
	json      codec.Codec
	call      middleware.CallFunc
}

// New creates a client for the server at baseURL, e.g.
// "https://example.com/api". Calls go to baseURL + "/" + method.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.resolver == nil {
		c.resolver = registry.StaticURL(c.baseURL)
	}
	if c.balancer == nil {
		c.balancer = &loadbalance.RoundRobinBalancer{}
	}
	c.transport = transport.NewHTTPTransport(c.httpClient)
	c.json = codec.GetCodec(codec.CodecTypeJSON)
	// Build the chain once, not per call.
	c.call = middleware.Chain(c.middlewares...)(c.send)
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) send(ctx context.Context, req *middleware.Request) (*message.Envelope, error) {
	return c.transport.Post(ctx, req.Method, req.URL, req.Params)
}

// Call invokes method and returns the raw data of a successful envelope.
// A success=false envelope yields *RemoteError; network and decoding
// problems yield *transport.Error. Call never retries.
func (c *Client) Call(ctx context.Context, method string, params message.Params) (json.RawMessage, error) {
	method = strings.Trim(strings.TrimSpace(method), "/")
	if method == "" {
		return nil, ErrEmptyMethod
	}

	base, err := c.endpoint(ctx, method)
	if err != nil {
		c.logger.Warn("endpoint resolution failed", zap.String("method", method), zap.Error(err))
		return nil, &transport.Error{Method: method, Err: err}
	}

	req := &middleware.Request{
		Method: method,
		URL:    base + "/" + method,
		Params: c.withToken(params),
	}
	env, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, &RemoteError{Method: method, Msg: env.Msg}
	}
	return env.Data, nil
}

// CallInto is Call followed by decoding data into out. A missing or null
// data field leaves out untouched.
func (c *Client) CallInto(ctx context.Context, method string, params message.Params, out any) error {
	data, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := c.json.Decode(data, out); err != nil {
		return fmt.Errorf("client: decode %s data: %w", method, err)
	}
	return nil
}

// withToken returns params with the session token added when a session is
// active and the caller did not define "token" itself. The caller's map is
// never modified.
func (c *Client) withToken(params message.Params) message.Params {
	if c.tokens == nil || params.Has(message.Token) {
		return params
	}
	token, ok := c.tokens.Token()
	if !ok {
		return params
	}
	out := params.Clone()
	out[message.Token] = message.String(token)
	return out
}

func (c *Client) endpoint(ctx context.Context, method string) (string, error) {
	instances, err := c.resolver.Discover(ctx, c.service)
	if err != nil {
		return "", fmt.Errorf("resolve endpoint: %w", err)
	}
	inst, err := c.balancer.Pick(method, instances)
	if err != nil {
		return "", fmt.Errorf("pick endpoint: %w", err)
	}
	addr := strings.TrimRight(inst.Addr, "/")
	if addr == "" {
		return "", errors.New("resolve endpoint: empty base URL")
	}
	return addr, nil
}
