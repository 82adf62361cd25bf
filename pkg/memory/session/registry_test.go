package session

import (
	"errors"
	"testing"
	"time"
)

func TestRegistryOpenGeneratesAndReuses(t *testing.T) {
	r := NewRegistry(time.Hour)
	r.clock = func() time.Time { return time.Unix(0, 0) }

	generated := r.Open("")
	if generated.ID == "" {
		t.Fatal("expected generated session id")
	}
	named := r.Open(" demo ")
	if named.ID != "demo" {
		t.Fatalf("expected trimmed id, got %q", named.ID)
	}
	again := r.Open("demo")
	if !again.StartedAt.Equal(named.StartedAt) {
		t.Fatal("reopening an active session must not reset it")
	}
}

func TestRegistryTouchExtendsAndCounts(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.clock = func() time.Time { return time.Unix(0, 0) }
	r.Open("demo")

	r.clock = func() time.Time { return time.Unix(30, 0) }
	if err := r.Touch("demo"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	sess, err := r.Get("demo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Turns != 1 {
		t.Fatalf("expected turn count 1, got %d", sess.Turns)
	}
	if !sess.ExpiresAt.Equal(time.Unix(90, 0)) {
		t.Fatalf("expiry not extended: %v", sess.ExpiresAt)
	}

	if err := r.Touch("ghost"); !errors.Is(err, ErrSessionUnknown) {
		t.Fatalf("expected ErrSessionUnknown, got %v", err)
	}
}

func TestRegistryExpiry(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.clock = func() time.Time { return time.Unix(0, 0) }
	r.Open("demo")

	r.clock = func() time.Time { return time.Unix(120, 0) }
	if err := r.Touch("demo"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	// Expired sessions are dropped, so a second touch is unknown.
	if err := r.Touch("demo"); !errors.Is(err, ErrSessionUnknown) {
		t.Fatalf("expected ErrSessionUnknown after expiry, got %v", err)
	}
}

func TestRegistryCloseAndActive(t *testing.T) {
	r := NewRegistry(time.Hour)
	r.clock = func() time.Time { return time.Unix(0, 0) }
	r.Open("a")
	r.Open("b")

	active := r.Active()
	if len(active) != 2 || active[0] != "a" || active[1] != "b" {
		t.Fatalf("unexpected active sessions: %v", active)
	}

	closed, err := r.Close("a")
	if err != nil || closed.ID != "a" {
		t.Fatalf("close: %v %#v", err, closed)
	}
	if _, err := r.Close("a"); !errors.Is(err, ErrSessionUnknown) {
		t.Fatalf("double close should be unknown, got %v", err)
	}
	if got := r.Active(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("unexpected active sessions after close: %v", got)
	}
}

func TestRegistryPrune(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.clock = func() time.Time { return time.Unix(0, 0) }
	r.Open("old")
	r.clock = func() time.Time { return time.Unix(30, 0) }
	r.Open("fresh")

	r.clock = func() time.Time { return time.Unix(70, 0) }
	removed := r.Prune()
	if len(removed) != 1 || removed[0] != "old" {
		t.Fatalf("unexpected pruned sessions: %v", removed)
	}
	if got := r.Active(); len(got) != 1 || got[0] != "fresh" {
		t.Fatalf("unexpected survivors: %v", got)
	}
}
