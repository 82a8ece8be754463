package core

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestSession inserts a session and optionally registers a name for it.
func newTestSession(t *testing.T, r *Registry, id, name string) *Session {
	t.Helper()

	s := NewSession(id, "127.0.0.1", 8)
	if err := r.Insert(s); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
	if name != "" {
		if err := r.Register(s, name); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return s
}

func mustResponse(t *testing.T, s *Session) *Response {
	t.Helper()

	select {
	case resp := <-s.Outbox():
		return resp
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a queued response for session %s", s.ID)
		return nil
	}
}

func expectEmpty(t *testing.T, s *Session) {
	t.Helper()

	select {
	case resp := <-s.Outbox():
		t.Fatalf("unexpected response for session %s: %+v", s.ID, resp)
	default:
	}
}
