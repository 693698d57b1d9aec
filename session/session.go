// Package session holds the signed-in user as an observable value.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidToken is returned by SignIn when the verifier rejects the token.
var ErrInvalidToken = errors.New("invalid id token")

// User is the authenticated principal.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Authenticator verifies an ID token and returns the user it was issued to.
type Authenticator interface {
	VerifyToken(ctx context.Context, token string) (User, error)
}

// Listener receives the current user, or nil after sign-out.
type Listener func(*User)

// Session is safe for concurrent use. Listeners are called outside the lock,
// in the order changes happen.
type Session struct {
	auth Authenticator

	mu        sync.Mutex
	user      *User
	listeners map[uint64]Listener
	nextID    uint64

	// serialises notification so listeners never observe changes out of order
	notifyMu sync.Mutex
}

func New(auth Authenticator) *Session {
	return &Session{auth: auth, listeners: make(map[uint64]Listener)}
}

// Current returns a copy of the signed-in user.
func (s *Session) Current() (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// UserID returns the signed-in user's id.
func (s *Session) UserID() (string, bool) {
	u, ok := s.Current()
	return u.ID, ok
}

// Subscribe calls fn with the current value right away and again on every
// change until the returned function is called.
func (s *Session) Subscribe(fn Listener) func() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	cur := copyUser(s.user)
	s.mu.Unlock()

	fn(cur)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SignIn verifies token and publishes its user. Signing in as the user that is
// already current does not notify.
func (s *Session) SignIn(ctx context.Context, token string) (User, error) {
	if s.auth == nil {
		return User{}, errors.New("session: no authenticator configured")
	}
	u, err := s.auth.VerifyToken(ctx, token)
	if err != nil {
		return User{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if u.ID == "" {
		return User{}, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}
	s.set(&u)
	return u, nil
}

// SignOut clears the current user.
func (s *Session) SignOut() {
	s.set(nil)
}

func (s *Session) set(u *User) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if sameUser(s.user, u) {
		s.mu.Unlock()
		return
	}
	s.user = copyUser(u)
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(copyUser(u))
	}
}

func sameUser(a, b *User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
