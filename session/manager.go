package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"formrpc/client"
	"formrpc/digest"
	"formrpc/message"

	"go.uber.org/zap"
)

// Remote methods used by the manager.
const (
	MethodRequestLoginToken = "session/request_login_token"
	MethodLogin             = "session/login"
	MethodLogout            = "session/logout"
	MethodKeepAlive         = "session/keep_alive"
)

// DefaultKeepAliveInterval is how often KeepAlive pings the server.
const DefaultKeepAliveInterval = 30 * time.Minute

var ErrMalformedResponse = errors.New("session: malformed server response")

// Invoker performs one remote call; *client.Client satisfies it.
type Invoker interface {
	Call(ctx context.Context, method string, params message.Params) (json.RawMessage, error)
}

// Manager drives login, logout and keep-alive against one server.
type Manager struct {
	invoker   Invoker
	store     *Store
	digest    digest.Func
	logger    *zap.Logger
	keepAlive *KeepAlive

	interval   time.Duration
	clientOpts []client.Option
}

// Option configures a Manager.
type Option func(*Manager)

// WithDigest selects the hash the server expects. Defaults to SHA-256.
func WithDigest(d digest.Func) Option {
	return func(m *Manager) {
		if d != nil {
			m.digest = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithKeepAliveInterval overrides DefaultKeepAliveInterval.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithClientOptions passes options to the client built by New. NewManager
// ignores them.
func WithClientOptions(opts ...client.Option) Option {
	return func(m *Manager) {
		m.clientOpts = append(m.clientOpts, opts...)
	}
}

// New builds a Store, a client bound to it and a Manager over both.
func New(baseURL string, opts ...Option) (*Manager, *client.Client) {
	scratch := &Manager{}
	for _, opt := range opts {
		opt(scratch)
	}
	store := NewStore()
	c := client.New(baseURL, append(scratch.clientOpts, client.WithTokenSource(store))...)
	return NewManager(c, store, opts...), c
}

// NewManager wires a Manager to an existing invoker. store must be the
// TokenSource of that invoker for the session to be attached to calls.
func NewManager(invoker Invoker, store *Store, opts ...Option) *Manager {
	if store == nil {
		store = NewStore()
	}
	m := &Manager{
		invoker:  invoker,
		store:    store,
		digest:   digest.Default,
		logger:   zap.NewNop(),
		interval: DefaultKeepAliveInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.keepAlive = newKeepAlive(invoker, m.interval, m.logger)
	return m
}

func (m *Manager) Store() *Store { return m.store }

func (m *Manager) State() State { return m.store.State() }

// Session returns a copy of the active session, or nil.
func (m *Manager) Session() *message.Session { return m.store.Session() }

// KeepAlive returns the manager's keep-alive handle.
func (m *Manager) KeepAlive() *KeepAlive { return m.keepAlive }

// Login performs the handshake. When passwordIsHashed is true, password is
// already digest.PasswordHash(username, plain). On any failure the stored
// session is left as it was and the failing step's error is returned.
func (m *Manager) Login(ctx context.Context, username, password string, passwordIsHashed bool) (*message.Session, error) {
	finish := m.store.beginLogin()

	sess, err := m.login(ctx, username, password, passwordIsHashed)
	if err != nil {
		finish(nil)
		m.logger.Info("login failed", zap.String("username", username), zap.Error(err))
		return nil, err
	}

	finish(sess)
	m.logger.Debug("logged in", zap.String("username", username))
	return m.store.Session(), nil
}

// LoginHashed logs in with a precomputed password hash.
func (m *Manager) LoginHashed(ctx context.Context, username, passwordHash string) (*message.Session, error) {
	return m.Login(ctx, username, passwordHash, true)
}

func (m *Manager) login(ctx context.Context, username, password string, passwordIsHashed bool) (*message.Session, error) {
	var challenge struct {
		Token string `json:"token"`
	}
	if err := m.callInto(ctx, MethodRequestLoginToken, nil, &challenge); err != nil {
		return nil, err
	}
	if challenge.Token == "" {
		return nil, fmt.Errorf("%w: %s returned no token", ErrMalformedResponse, MethodRequestLoginToken)
	}

	passwordHash := password
	if !passwordIsHashed {
		passwordHash = m.digest.PasswordHash(username, password)
	}

	var reply struct {
		Session *message.Session `json:"session"`
	}
	err := m.callInto(ctx, MethodLogin, message.Params{
		"username":      message.String(username),
		"password_hash": message.String(m.digest.LoginProof(passwordHash, challenge.Token)),
	}, &reply)
	if err != nil {
		return nil, err
	}
	if reply.Session == nil || reply.Session.Token == "" {
		return nil, fmt.Errorf("%w: %s returned no session token", ErrMalformedResponse, MethodLogin)
	}
	return reply.Session, nil
}

func (m *Manager) callInto(ctx context.Context, method string, params message.Params, out any) error {
	data, err := m.invoker.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: %s returned no data", ErrMalformedResponse, method)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, method, err)
	}
	return nil
}

// Logout ends the session on the server. The locally stored session is kept;
// call Clear to drop it.
func (m *Manager) Logout(ctx context.Context) error {
	_, err := m.invoker.Call(ctx, MethodLogout, nil)
	return err
}

// Clear drops the local session without contacting the server.
func (m *Manager) Clear() {
	m.store.Clear()
}

// Close stops keep-alive and clears the local session.
func (m *Manager) Close() {
	m.keepAlive.Stop()
	m.store.Clear()
}
