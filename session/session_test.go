package session

import (
	"context"
	"errors"
	"testing"
)

type stubAuth struct {
	users map[string]User
}

func (s stubAuth) VerifyToken(ctx context.Context, token string) (User, error) {
	u, ok := s.users[token]
	if !ok {
		return User{}, errors.New("unknown token")
	}
	return u, nil
}

func TestSubscribeReceivesCurrentValueImmediately(t *testing.T) {
	s := New(stubAuth{users: map[string]User{"tok": {ID: "u1"}}})

	var seen []*User
	unsubscribe := s.Subscribe(func(u *User) { seen = append(seen, u) })
	defer unsubscribe()

	if len(seen) != 1 || seen[0] != nil {
		t.Fatalf("expected immediate nil user, got %+v", seen)
	}
	if _, err := s.SignIn(context.Background(), "tok"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if len(seen) != 2 || seen[1] == nil || seen[1].ID != "u1" {
		t.Fatalf("expected u1 to be published, got %+v", seen)
	}
	s.SignOut()
	if len(seen) != 3 || seen[2] != nil {
		t.Fatalf("expected sign-out to publish nil, got %+v", seen)
	}
}

func TestSignInRejectsInvalidToken(t *testing.T) {
	s := New(stubAuth{})

	if _, err := s.SignIn(context.Background(), "nope"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, ok := s.UserID(); ok {
		t.Fatalf("expected no user after failed sign in")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := New(stubAuth{users: map[string]User{"tok": {ID: "u1"}}})

	calls := 0
	unsubscribe := s.Subscribe(func(*User) { calls++ })
	unsubscribe()
	unsubscribe()

	if _, err := s.SignIn(context.Background(), "tok"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected only the initial call, got %d", calls)
	}
}

func TestRepeatedSignInDoesNotNotify(t *testing.T) {
	s := New(stubAuth{users: map[string]User{"tok": {ID: "u1"}}})
	calls := 0
	defer s.Subscribe(func(*User) { calls++ })()

	for range 2 {
		if _, err := s.SignIn(context.Background(), "tok"); err != nil {
			t.Fatalf("sign in: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected initial call plus one change, got %d", calls)
	}
	if id, ok := s.UserID(); !ok || id != "u1" {
		t.Fatalf("unexpected user id %q", id)
	}
}
