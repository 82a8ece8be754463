package core

import "strings"

// Status is a user's presence classification.
type Status int

const (
	// StatusOnline means the user was recently active.
	StatusOnline Status = iota
	// StatusBusy is set automatically after inactivity or explicitly by the user.
	StatusBusy
	// StatusOffline is set on logout.
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusBusy:
		return "busy"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s >= StatusOnline && s <= StatusOffline
}

// ParseStatus converts a wire name into a Status.
func ParseStatus(v string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "online":
		return StatusOnline, true
	case "busy":
		return StatusBusy, true
	case "offline":
		return StatusOffline, true
	default:
		return StatusOnline, false
	}
}
