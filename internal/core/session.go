package core

import (
	"context"
	"time"
)

const defaultOutboxSize = 64

// Session is a connected chat participant as seen by the core layer.
// Everything below the ID/Addr pair is guarded by the owning Registry's lock.
type Session struct {
	ID   string
	Addr string

	name         string
	status       Status
	lastActivity time.Time
	alive        bool

	outbox chan *Response
	done   chan struct{}
}

// View is a point-in-time copy of a session's fields.
type View struct {
	ID           string
	Addr         string
	Name         string
	Status       Status
	LastActivity time.Time
}

// NewSession constructs an unnamed, online session with an outbound queue of
// the given size (a non-positive size selects the default).
func NewSession(id, addr string, outboxSize int) *Session {
	if outboxSize <= 0 {
		outboxSize = defaultOutboxSize
	}
	return &Session{
		ID:           id,
		Addr:         addr,
		status:       StatusOnline,
		lastActivity: time.Now(),
		outbox:       make(chan *Response, outboxSize),
		done:         make(chan struct{}),
	}
}

// Outbox yields responses and notifications queued for this session's connection.
func (s *Session) Outbox() <-chan *Response {
	return s.outbox
}

// Done is closed once the session has been removed from its registry.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Enqueue queues a reply for the session, waiting for room in the outbox.
func (s *Session) Enqueue(ctx context.Context, resp *Response) error {
	select {
	case <-s.done:
		return ErrSessionGone
	default:
	}

	select {
	case s.outbox <- resp:
		return nil
	case <-s.done:
		return ErrSessionGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// offer queues a notification without blocking. Slow consumers lose the message.
func (s *Session) offer(resp *Response) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.outbox <- resp:
		return true
	default:
		return false
	}
}

func (s *Session) view() View {
	return View{
		ID:           s.ID,
		Addr:         s.Addr,
		Name:         s.name,
		Status:       s.status,
		LastActivity: s.lastActivity,
	}
}
