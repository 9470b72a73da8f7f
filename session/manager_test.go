package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"formrpc/client"
	"formrpc/digest"
	"formrpc/message"
	"formrpc/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	method string
	params message.Params
}

// fakeInvoker answers calls from a per-method table and records them.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   []recordedCall
	replies map[string]func(message.Params) (json.RawMessage, error)
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{replies: map[string]func(message.Params) (json.RawMessage, error){}}
}

func (f *fakeInvoker) on(method string, fn func(message.Params) (json.RawMessage, error)) {
	f.replies[method] = fn
}

func (f *fakeInvoker) Call(ctx context.Context, method string, params message.Params) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{method, params})
	fn := f.replies[method]
	f.mu.Unlock()
	if fn == nil {
		return nil, &client.RemoteError{Method: method, Msg: "unknown method"}
	}
	return fn(params)
}

func (f *fakeInvoker) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.method
	}
	return out
}

func (f *fakeInvoker) count(method string) int {
	n := 0
	for _, m := range f.methods() {
		if m == method {
			n++
		}
	}
	return n
}

func reply(v string) func(message.Params) (json.RawMessage, error) {
	return func(message.Params) (json.RawMessage, error) { return json.RawMessage(v), nil }
}

func TestLoginDerivesProof(t *testing.T) {
	inv := newFakeInvoker()
	inv.on(MethodRequestLoginToken, reply(`{"token":"tok123"}`))
	inv.on(MethodLogin, reply(`{"session":{"token":"S1","user":{"name":"Alice"}}}`))

	m := NewManager(inv, nil)
	sess, err := m.Login(context.Background(), "Alice", "secret", false)
	require.NoError(t, err)
	assert.Equal(t, "S1", sess.Token)
	assert.JSONEq(t, `{"name":"Alice"}`, string(sess.User))
	assert.Equal(t, LoggedIn, m.State())

	require.Equal(t, []string{MethodRequestLoginToken, MethodLogin}, inv.methods())
	assert.Empty(t, inv.calls[0].params)

	salted := digest.Sum(digest.Sum("ALICE"), "secret")
	login := inv.calls[1].params
	assert.Equal(t, "Alice", login.Get("username"))
	assert.Equal(t, digest.Sum(salted, "tok123"), login.Get("password_hash"))
	assert.False(t, login.Has("password"))

	token, ok := m.Store().Token()
	assert.True(t, ok)
	assert.Equal(t, "S1", token)
}

func TestLoginWithPrehashedPassword(t *testing.T) {
	inv := newFakeInvoker()
	inv.on(MethodRequestLoginToken, reply(`{"token":"c"}`))
	inv.on(MethodLogin, reply(`{"session":{"token":"S"}}`))

	hash := digest.PasswordHash("bob", "pw")
	_, err := NewManager(inv, nil).LoginHashed(context.Background(), "bob", hash)
	require.NoError(t, err)
	assert.Equal(t, digest.LoginProof(hash, "c"), inv.calls[1].params.Get("password_hash"))
}

func TestLoginUsesConfiguredDigest(t *testing.T) {
	inv := newFakeInvoker()
	inv.on(MethodRequestLoginToken, reply(`{"token":"c"}`))
	inv.on(MethodLogin, reply(`{"session":{"token":"S"}}`))

	_, err := NewManager(inv, nil, WithDigest(digest.SHA1)).Login(context.Background(), "bob", "pw", false)
	require.NoError(t, err)
	want := digest.SHA1.LoginProof(digest.SHA1.PasswordHash("bob", "pw"), "c")
	assert.Equal(t, want, inv.calls[1].params.Get("password_hash"))
}

func TestLoginChallengeFailureLeavesLoggedOut(t *testing.T) {
	inv := newFakeInvoker()
	cause := &transport.Error{Method: MethodRequestLoginToken, Err: errors.New("connection refused")}
	inv.on(MethodRequestLoginToken, func(message.Params) (json.RawMessage, error) { return nil, cause })

	m := NewManager(inv, nil)
	sess, err := m.Login(context.Background(), "alice", "secret", false)
	assert.Nil(t, sess)
	assert.Same(t, cause, err)
	assert.Equal(t, LoggedOut, m.State())
	assert.Nil(t, m.Session())
	assert.Equal(t, 0, inv.count(MethodLogin))
}

func TestLoginRejectedLeavesPreviousSession(t *testing.T) {
	inv := newFakeInvoker()
	inv.on(MethodRequestLoginToken, reply(`{"token":"c"}`))
	inv.on(MethodLogin, func(message.Params) (json.RawMessage, error) {
		return nil, &client.RemoteError{Method: MethodLogin, Msg: "bad password"}
	})

	store := NewStore()
	store.Set(&message.Session{Token: "old"})
	m := NewManager(inv, store)

	_, err := m.Login(context.Background(), "alice", "wrong", false)
	var re *client.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "bad password", re.Msg)
	assert.Equal(t, LoggedIn, m.State())
	assert.Equal(t, "old", m.Session().Token)
}

func TestLoginMalformedResponses(t *testing.T) {
	for name, tc := range map[string]struct{ challenge, login string }{
		"empty challenge":   {`{"token":""}`, `{"session":{"token":"S"}}`},
		"missing session":   {`{"token":"c"}`, `{}`},
		"empty session tok": {`{"token":"c"}`, `{"session":{"token":""}}`},
		"not an object":     {`[1]`, `{}`},
	} {
		t.Run(name, func(t *testing.T) {
			inv := newFakeInvoker()
			inv.on(MethodRequestLoginToken, reply(tc.challenge))
			inv.on(MethodLogin, reply(tc.login))

			m := NewManager(inv, nil)
			_, err := m.Login(context.Background(), "a", "b", false)
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.Equal(t, LoggedOut, m.State())
		})
	}
}

func TestLogoutKeepsLocalSession(t *testing.T) {
	inv := newFakeInvoker()
	inv.on(MethodLogout, reply(`null`))

	store := NewStore()
	store.Set(&message.Session{Token: "S"})
	m := NewManager(inv, store)

	require.NoError(t, m.Logout(context.Background()))
	assert.Equal(t, 1, inv.count(MethodLogout))
	assert.Equal(t, LoggedIn, m.State())

	m.Clear()
	assert.Equal(t, LoggedOut, m.State())
	_, ok := store.Token()
	assert.False(t, ok)
}

func TestStopNeverStartedKeepAlive(t *testing.T) {
	m := NewManager(newFakeInvoker(), nil)
	assert.False(t, m.KeepAlive().Running())
	m.KeepAlive().Stop()
	m.KeepAlive().Stop()
	assert.False(t, m.KeepAlive().Running())
}

func TestKeepAliveSwallowsFailures(t *testing.T) {
	inv := newFakeInvoker()
	var mu sync.Mutex
	n := 0
	inv.on(MethodKeepAlive, func(message.Params) (json.RawMessage, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n%2 == 1 {
			return nil, &client.RemoteError{Method: MethodKeepAlive, Msg: "expired"}
		}
		return nil, nil
	})

	m := NewManager(inv, nil, WithKeepAliveInterval(5*time.Millisecond))
	ka := m.KeepAlive()
	require.NoError(t, ka.Start())
	assert.ErrorIs(t, ka.Start(), ErrKeepAliveRunning)

	assert.Eventually(t, func() bool { return inv.count(MethodKeepAlive) >= 4 }, 2*time.Second, 5*time.Millisecond)

	m.Close()
	assert.False(t, ka.Running())
	stopped := inv.count(MethodKeepAlive)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, inv.count(MethodKeepAlive))

	// a stopped handle can be started again
	require.NoError(t, ka.Start())
	ka.Stop()
}

func TestDefaultKeepAliveInterval(t *testing.T) {
	m := NewManager(newFakeInvoker(), nil)
	assert.Equal(t, 30*time.Minute, m.KeepAlive().interval)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "logged_out", LoggedOut.String())
	assert.Equal(t, "token_requested", TokenRequested.String())
	assert.Equal(t, "logged_in", LoggedIn.String())
}

func TestOverlappingLoginsKeepTokenRequested(t *testing.T) {
	s := NewStore()

	finishA := s.beginLogin()
	finishB := s.beginLogin()
	require.Equal(t, TokenRequested, s.State())

	finishA(nil)
	assert.Equal(t, TokenRequested, s.State(), "B is still in flight")

	finishB(nil)
	assert.Equal(t, LoggedOut, s.State())

	finishA = s.beginLogin()
	finishB = s.beginLogin()
	finishB(&message.Session{Token: "t"})
	finishA(nil)
	assert.Equal(t, LoggedIn, s.State())
	tok, ok := s.Token()
	assert.True(t, ok)
	assert.Equal(t, "t", tok)

	finishA = s.beginLogin()
	finishA(nil)
	finishA(nil)
	assert.Equal(t, LoggedIn, s.State(), "a failed relogin restores the prior session state")
}
