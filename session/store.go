package session

import (
	"fmt"
	"sync"

	"formrpc/message"
)

// State is the login state of a Store.
type State int

const (
	LoggedOut State = iota
	TokenRequested
	LoggedIn
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case TokenRequested:
		return "token_requested"
	case LoggedIn:
		return "logged_in"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Store holds the current session. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	current *message.Session
	state   State

	// logins counts handshakes in flight; before is the state held when
	// the first of them began.
	logins int
	before State
}

func NewStore() *Store {
	return &Store{}
}

// Token implements client.TokenSource.
func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || s.current.Token == "" {
		return "", false
	}
	return s.current.Token, true
}

// Session returns a copy of the current session, or nil.
func (s *Store) Session() *message.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Set replaces the session and marks the store logged in.
func (s *Store) Set(sess *message.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(sess)
}

func (s *Store) setLocked(sess *message.Session) {
	if sess == nil {
		s.current, s.state = nil, LoggedOut
		return
	}
	cp := *sess
	s.current, s.state = &cp, LoggedIn
}

// Clear drops the session.
func (s *Store) Clear() {
	s.Set(nil)
}

// beginLogin marks a handshake in flight. The returned finish stores sess
// on success; on failure (nil) the prior state comes back once no other
// handshake is still running.
func (s *Store) beginLogin() (finish func(sess *message.Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logins == 0 {
		s.before = s.state
	}
	s.logins++
	s.state = TokenRequested

	var once sync.Once
	return func(sess *message.Session) {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.logins--
			switch {
			case sess != nil:
				s.setLocked(sess)
			case s.logins == 0 && s.state == TokenRequested:
				s.state = s.before
			}
		})
	}
}
