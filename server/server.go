// Package server is a reference implementation of the wire protocol the
// client speaks. It backs the package tests and "rpcctl serve".
//
// Request processing:
//
//	POST /<method> → FormCodec.Decode → dispatch
//	  → (session check for authenticated methods) → handler → JSON envelope
//
// Built-in methods cover the login handshake, logout, keep-alive and
// multicall; everything else is registered with Handle or Register.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"formrpc/codec"
	"formrpc/digest"
	"formrpc/message"
	"formrpc/registry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnknownMethod      = errors.New("unknown method")
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Request is what a handler sees of one call.
type Request struct {
	Method string
	Params message.Params
	User   string // set for authenticated methods
	Token  string
}

// HandlerFunc returns the data of a success envelope; a non-nil error
// becomes success=false with the error text as msg.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

type route struct {
	handler HandlerFunc
	auth    bool
}

// Server is safe for concurrent use.
type Server struct {
	mu         sync.RWMutex
	routes     map[string]route
	users      map[string]string    // username → password hash
	challenges map[string]time.Time // outstanding login challenges
	sessions   map[string]string    // session token → username
	hits       map[string]int

	digest       digest.Func
	challengeTTL time.Duration
	logger       *zap.Logger
	form         codec.Codec
	json         codec.Codec

	httpServer    *http.Server
	shutdown      atomic.Bool
	registry      registry.Registry
	service       string
	advertiseAddr string
}

// Option configures a Server.
type Option func(*Server)

func WithDigest(d digest.Func) Option {
	return func(s *Server) {
		if d != nil {
			s.digest = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithChallengeTTL bounds how long a login challenge stays valid.
func WithChallengeTTL(d time.Duration) Option {
	return func(s *Server) {
		s.challengeTTL = d
	}
}

// NewServer creates a server with the session and multicall methods
// registered.
func NewServer(opts ...Option) *Server {
	s := &Server{
		routes:       make(map[string]route),
		users:        make(map[string]string),
		challenges:   make(map[string]time.Time),
		sessions:     make(map[string]string),
		hits:         make(map[string]int),
		digest:       digest.Default,
		challengeTTL: 5 * time.Minute,
		logger:       zap.NewNop(),
		form:         codec.GetCodec(codec.CodecTypeForm),
		json:         codec.GetCodec(codec.CodecTypeJSON),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Handle("session/request_login_token", s.requestLoginToken)
	s.Handle("session/login", s.login)
	s.HandleAuth("session/logout", s.logout)
	s.HandleAuth("session/keep_alive", func(ctx context.Context, req *Request) (any, error) { return nil, nil })
	s.Handle("multicall/multicall", s.multicall)
	return s
}

// Handle registers a method callable without a session.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[strings.Trim(method, "/")] = route{handler: h}
}

// HandleAuth registers a method that requires a valid session token.
func (s *Server) HandleAuth(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[strings.Trim(method, "/")] = route{handler: h, auth: true}
}

// AddUser stores the password hash of username derived from a plain password.
func (s *Server) AddUser(username, password string) {
	s.AddUserHash(username, s.digest.PasswordHash(username, password))
}

// AddUserHash stores an already derived password hash.
func (s *Server) AddUserHash(username, passwordHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = passwordHash
}

// Hits returns how many times method was dispatched, multicall entries
// included.
func (s *Server) Hits(method string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hits[method]
}

// SessionUser returns the user owning token.
func (s *Server) SessionUser(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.sessions[token]
	return u, ok
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := strings.Trim(r.URL.Path, "/")
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.writeEnvelope(w, http.StatusMethodNotAllowed, message.Fail("method not allowed"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		s.writeEnvelope(w, http.StatusBadRequest, message.Fail(err.Error()))
		return
	}
	var params message.Params
	if err := s.form.Decode(body, &params); err != nil {
		s.writeEnvelope(w, http.StatusBadRequest, message.Fail("malformed form body"))
		return
	}

	start := time.Now()
	env := s.dispatch(r.Context(), method, params)
	s.logger.Debug("served",
		zap.String("method", method),
		zap.Bool("success", env.Success),
		zap.Duration("duration", time.Since(start)))
	s.writeEnvelope(w, http.StatusOK, env)
}

func (s *Server) writeEnvelope(w http.ResponseWriter, status int, env message.Envelope) {
	b, err := s.json.Encode(env)
	if err != nil {
		s.logger.Error("encode envelope", zap.Error(err))
		status = http.StatusInternalServerError
		b = []byte(`{"success":false,"msg":"internal error"}`)
	}
	w.Header().Set("Content-Type", s.json.ContentType())
	w.WriteHeader(status)
	w.Write(b)
}

// dispatch runs one method and wraps its outcome in an envelope.
func (s *Server) dispatch(ctx context.Context, method string, params message.Params) message.Envelope {
	s.mu.Lock()
	s.hits[method]++
	rt, ok := s.routes[method]
	s.mu.Unlock()
	if !ok {
		return message.Fail(fmt.Sprintf("%v: %s", ErrUnknownMethod, method))
	}

	req := &Request{Method: method, Params: params, Token: params.Get(message.Token)}
	if rt.auth {
		user, ok := s.SessionUser(req.Token)
		if !ok || req.Token == "" {
			return message.Fail(ErrNotLoggedIn.Error())
		}
		req.User = user
	}

	out, err := rt.handler(ctx, req)
	if err != nil {
		return message.Fail(err.Error())
	}
	data, err := s.json.Encode(out)
	if err != nil {
		return message.Fail(fmt.Sprintf("encode result: %v", err))
	}
	return message.OK(data)
}

func (s *Server) requestLoginToken(ctx context.Context, req *Request) (any, error) {
	token := uuid.NewString()
	now := time.Now()

	s.mu.Lock()
	for t, issued := range s.challenges {
		if now.Sub(issued) > s.challengeTTL {
			delete(s.challenges, t)
		}
	}
	s.challenges[token] = now
	s.mu.Unlock()

	return map[string]string{"token": token}, nil
}

// login accepts a proof made from any outstanding challenge and consumes
// that challenge.
func (s *Server) login(ctx context.Context, req *Request) (any, error) {
	username := req.Params.Get("username")
	proof := req.Params.Get("password_hash")

	s.mu.Lock()
	defer s.mu.Unlock()

	hash, ok := s.users[username]
	if !ok || proof == "" {
		return nil, ErrInvalidCredentials
	}
	for challenge, issued := range s.challenges {
		if time.Since(issued) > s.challengeTTL {
			delete(s.challenges, challenge)
			continue
		}
		want := s.digest.LoginProof(hash, challenge)
		if subtle.ConstantTimeCompare([]byte(want), []byte(proof)) == 1 {
			delete(s.challenges, challenge)
			token := uuid.NewString()
			s.sessions[token] = username
			return map[string]any{
				"session": map[string]any{
					"token": token,
					"user":  map[string]string{"username": username},
				},
			}, nil
		}
	}
	return nil, ErrInvalidCredentials
}

func (s *Server) logout(ctx context.Context, req *Request) (any, error) {
	s.mu.Lock()
	delete(s.sessions, req.Token)
	s.mu.Unlock()
	return nil, nil
}

// multicall runs each entry of the content array in order. An entry marked
// breaking that fails ends the batch; the response then holds fewer
// envelopes than requested.
func (s *Server) multicall(ctx context.Context, req *Request) (any, error) {
	var entries []map[string]any
	if err := s.json.Decode([]byte(req.Params.Get("content")), &entries); err != nil {
		return nil, fmt.Errorf("invalid content: %v", err)
	}

	responses := make([]message.Envelope, 0, len(entries))
	for _, entry := range entries {
		env, breaking := s.dispatchEntry(ctx, entry, req.Token)
		responses = append(responses, env)
		if breaking && !env.Success {
			break
		}
	}
	return map[string]any{"responses": responses}, nil
}

func (s *Server) dispatchEntry(ctx context.Context, entry map[string]any, token string) (message.Envelope, bool) {
	method, _ := entry["method"].(string)
	breaking, _ := entry["breaking"].(bool)
	delete(entry, "method")
	delete(entry, "breaking")

	if method == "" {
		return message.Fail("missing method"), breaking
	}
	if method == "multicall/multicall" {
		return message.Fail("nested multicall"), breaking
	}
	params, err := message.ParamsOf(entry)
	if err != nil {
		return message.Fail(err.Error()), breaking
	}
	if token != "" && !params.Has(message.Token) {
		params[message.Token] = message.String(token)
	}
	return s.dispatch(ctx, method, params), breaking
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	hs := s.httpServer
	s.mu.Unlock()

	err := hs.Serve(l)
	if s.shutdown.Load() && errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on addr and serves.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Announce registers advertiseAddr, the base URL clients should use, under
// service in reg. Shutdown deregisters it.
func (s *Server) Announce(ctx context.Context, reg registry.Registry, service, advertiseAddr string, ttl int64) error {
	if err := reg.Register(ctx, service, registry.ServiceInstance{Addr: advertiseAddr, Weight: 1}, ttl); err != nil {
		return err
	}
	s.mu.Lock()
	s.registry, s.service, s.advertiseAddr = reg, service, advertiseAddr
	s.mu.Unlock()
	return nil
}

// Shutdown deregisters from the registry first, so clients stop routing
// here, then drains in-flight requests for at most timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.mu.RLock()
	reg, service, addr, hs := s.registry, s.service, s.advertiseAddr, s.httpServer
	s.mu.RUnlock()

	if reg != nil {
		if err := reg.Deregister(ctx, service, addr); err != nil {
			s.logger.Warn("deregister failed", zap.Error(err))
		}
	}

	s.shutdown.Store(true)
	if hs == nil {
		return nil
	}
	if err := hs.Shutdown(ctx); err != nil {
		return fmt.Errorf("timeout waiting for ongoing requests to finish: %w", err)
	}
	return nil
}
