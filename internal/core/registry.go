package core

import (
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

const (
	// SentinelName is the reserved name of the entry representing the server itself.
	SentinelName = "Server"
	// MaxNameLength bounds display names in bytes.
	MaxNameLength = 20

	sentinelID = "server"
)

// Registry is the authoritative set of active sessions.
//
// A single RWMutex guards membership and every session's mutable fields, so a
// reader never sees a removed session as present and a writer never touches a
// session that is concurrently being removed. Deliveries run under the read
// lock: a broadcast reaches exactly the members present when it started.
type Registry struct {
	mu       sync.RWMutex
	sentinel *Session
	members  []*Session
	maxUsers int
	closed   bool
	now      func() time.Time
}

// NewRegistry creates an empty registry holding only the sentinel.
// maxUsers bounds the number of non-sentinel sessions.
func NewRegistry(maxUsers int) *Registry {
	sentinel := NewSession(sentinelID, "", 1)
	sentinel.name = SentinelName
	sentinel.alive = true

	return &Registry{
		sentinel: sentinel,
		maxUsers: maxUsers,
		now:      time.Now,
	}
}

// MaxUsers returns the configured capacity.
func (r *Registry) MaxUsers() int {
	return r.maxUsers
}

// Sentinel returns a view of the server entry.
func (r *Registry) Sentinel() View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sentinel.view()
}

// Insert adds a freshly accepted, still unnamed session.
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if s.alive || isClosed(s.done) {
		// Present already, or removed earlier: removed sessions never come back.
		return ErrSessionGone
	}
	if len(r.members) >= r.maxUsers {
		return ErrCapacityExceeded
	}

	s.alive = true
	s.lastActivity = r.now()
	r.members = append(r.members, s)
	return nil
}

// Register binds name to s. Uniqueness check and assignment happen in one
// critical section. Capacity is enforced by Insert: s already holds a slot.
func (r *Registry) Register(s *Session, name string) error {
	if !validName(name) {
		return ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !s.alive {
		return ErrSessionGone
	}
	if s.name != "" {
		return ErrAlreadyNamed
	}
	if name == SentinelName || r.findLocked(name) != nil {
		return ErrNameTaken
	}

	s.name = name
	return nil
}

// FindByName returns the registered session holding name, if any.
func (r *Registry) FindByName(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.findLocked(name)
	return s, s != nil
}

func (r *Registry) findLocked(name string) *Session {
	if name == "" {
		return nil
	}
	s, ok := lo.Find(r.members, func(m *Session) bool { return m.name == name })
	if !ok {
		return nil
	}
	return s
}

// View returns a copy of s's fields and whether s is still present.
func (r *Registry) View(s *Session) (View, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return s.view(), s.alive
}

// Remove unlinks s. Only the first call for a given session returns true.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(s)
}

func (r *Registry) removeLocked(s *Session) bool {
	if !s.alive || s == r.sentinel {
		return false
	}
	if idx := lo.IndexOf(r.members, s); idx >= 0 {
		r.members = append(r.members[:idx], r.members[idx+1:]...)
	}
	s.alive = false
	close(s.done)
	return true
}

// Snapshot lists registered sessions in insertion order, sentinel excluded.
func (r *Registry) Snapshot() []View {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.FilterMap(r.members, func(m *Session, _ int) (View, bool) {
		return m.view(), m.name != ""
	})
}

// Count returns the number of connected non-sentinel sessions, named or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Touch records activity: the session becomes Online.
func (r *Registry) Touch(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !s.alive {
		return
	}
	s.lastActivity = r.now()
	s.status = StatusOnline
}

// SetStatus changes the presence of s.
func (r *Registry) SetStatus(s *Session, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !s.alive {
		return ErrSessionGone
	}
	s.status = status
	return nil
}

// MarkIdle moves an Online session to Busy once it has been inactive for at
// least threshold. It reports whether the status changed.
func (r *Registry) MarkIdle(s *Session, threshold time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !s.alive || s.status != StatusOnline {
		return false
	}
	if r.now().Sub(s.lastActivity) < threshold {
		return false
	}
	s.status = StatusBusy
	return true
}

// Deliver queues resp for one session. It fails if the session is gone or its
// queue is full.
func (r *Registry) Deliver(to *Session, resp *Response) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !to.alive || to == r.sentinel {
		return false
	}
	return to.offer(resp)
}

// Broadcast queues resp for every registered session except sender. A full
// queue on one recipient does not stop delivery to the others.
func (r *Registry) Broadcast(sender *Session, resp *Response) (delivered, dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m == sender || m.name == "" {
			continue
		}
		if m.offer(resp) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// Close releases the registry. Sessions still present are removed and further
// inserts fail. It returns how many sessions were still present.
func (r *Registry) Close() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0
	}
	r.closed = true

	remaining := append([]*Session(nil), r.members...)
	for _, s := range remaining {
		r.removeLocked(s)
	}
	return len(remaining)
}

func validName(name string) bool {
	if name == "" || len(name) > MaxNameLength {
		return false
	}
	return strings.TrimSpace(name) == name && !strings.ContainsAny(name, "\r\n\t")
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
