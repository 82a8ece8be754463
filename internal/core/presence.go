package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultPresenceInterval is how often a monitor checks inactivity.
	DefaultPresenceInterval = time.Second
	// DefaultInactivityThreshold is the idle time after which a user turns Busy.
	DefaultInactivityThreshold = 60 * time.Second
)

// PresenceMonitor turns idle Online sessions Busy.
type PresenceMonitor struct {
	registry  *Registry
	interval  time.Duration
	threshold time.Duration
	log       *zerolog.Logger
	onChange  func(View)
}

// NewPresenceMonitor builds a monitor over registry. Zero durations select the defaults.
func NewPresenceMonitor(registry *Registry, interval, threshold time.Duration, logger *zerolog.Logger) *PresenceMonitor {
	if interval <= 0 {
		interval = DefaultPresenceInterval
	}
	if threshold <= 0 {
		threshold = DefaultInactivityThreshold
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &PresenceMonitor{
		registry:  registry,
		interval:  interval,
		threshold: threshold,
		log:       logger,
	}
}

// OnChange installs a callback invoked after each automatic transition.
// It must be set before Watch is started.
func (p *PresenceMonitor) OnChange(fn func(View)) {
	p.onChange = fn
}

// Watch runs until s is removed from the registry or ctx is cancelled.
func (p *PresenceMonitor) Watch(ctx context.Context, s *Session) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !p.registry.MarkIdle(s, p.threshold) {
				continue
			}
			view, alive := p.registry.View(s)
			if !alive {
				return
			}
			p.log.Debug().
				Str("session_id", view.ID).
				Str("user", view.Name).
				Msg("session idle, status set to busy")
			if p.onChange != nil {
				p.onChange(view)
			}
		case <-s.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}
