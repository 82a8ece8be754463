package core

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// DeliveryRecorder observes message fan-out. Implementations must be safe for
// concurrent use.
type DeliveryRecorder interface {
	RecordDelivery(kind MessageKind, delivered, dropped int)
}

// Dispatcher maps decoded commands onto registry mutations and routed deliveries.
type Dispatcher struct {
	registry *Registry
	log      *zerolog.Logger
	recorder DeliveryRecorder

	maxNotification int
	sizeOf          func(*Response) int
}

// NewDispatcher builds a dispatcher. recorder may be nil.
func NewDispatcher(registry *Registry, logger *zerolog.Logger, recorder DeliveryRecorder) *Dispatcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Dispatcher{registry: registry, log: logger, recorder: recorder}
}

// LimitNotifications rejects messages whose notification, as measured by
// sizeOf, would exceed limit bytes on the wire. It must be called before
// dispatching starts.
func (d *Dispatcher) LimitNotifications(limit int, sizeOf func(*Response) int) {
	d.maxNotification = limit
	d.sizeOf = sizeOf
}

// Registry returns the registry the dispatcher routes through.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch handles one command from s. It returns the reply for the sender (nil
// when none is due) and whether the session should be closed afterwards.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, cmd Command) (*Response, bool) {
	if cmd == nil {
		return BadRequest(CommandKind(-1), ErrCodeBadRequest, MsgUnknownOperation), false
	}

	self, alive := d.registry.View(s)
	if !alive {
		return nil, true
	}

	switch c := cmd.(type) {
	case RegisterUser:
		return d.registerUser(s, c), false
	case UnregisterUser:
		return d.unregisterUser(s, self), true
	}

	if self.Name == "" {
		return badRequest(cmd.Kind(), coreError(ErrCodeNotRegistered, MsgNotRegistered)), false
	}

	switch c := cmd.(type) {
	case GetUsers:
		return d.getUsers(c), false
	case SendMessage:
		return d.sendMessage(s, self, c), false
	case UpdateStatus:
		return d.updateStatus(s, self, c), false
	default:
		return BadRequest(cmd.Kind(), ErrCodeBadRequest, MsgUnknownOperation), false
	}
}

func (d *Dispatcher) registerUser(s *Session, c RegisterUser) *Response {
	if err := d.registry.Register(s, c.Name); err != nil {
		d.log.Debug().Err(err).Str("session_id", s.ID).Str("user", c.Name).Msg("register rejected")
		return badRequest(CommandRegisterUser, registerError(err))
	}
	d.log.Info().Str("session_id", s.ID).Str("user", c.Name).Str("addr", s.Addr).Msg("user registered")
	return okResponse(CommandRegisterUser, MsgRegistered, nil)
}

func (d *Dispatcher) getUsers(c GetUsers) *Response {
	if c.Name == "" {
		users := UserList{}
		for _, v := range d.registry.Snapshot() {
			users = append(users, UserInfo{Name: v.Name, Status: v.Status})
		}
		return okResponse(CommandGetUsers, MsgUsersListed, users)
	}

	target, ok := d.registry.FindByName(c.Name)
	if !ok {
		return badRequest(CommandGetUsers, coreError(ErrCodeUserNotFound, MsgUserNotFound))
	}
	view, alive := d.registry.View(target)
	if !alive {
		return badRequest(CommandGetUsers, coreError(ErrCodeUserNotFound, MsgUserNotFound))
	}
	return okResponse(CommandGetUsers, MsgUsersListed, UserList{{Name: view.Name, Status: view.Status}})
}

func (d *Dispatcher) sendMessage(s *Session, self View, c SendMessage) *Response {
	kind := MessageDirect
	if c.Recipient == "" {
		kind = MessageBroadcast
	}
	note := Notification(IncomingMessage{Sender: self.Name, Content: c.Content, Kind: kind})
	if d.sizeOf != nil && d.sizeOf(note) > d.maxNotification {
		d.log.Debug().Str("user", self.Name).Int("content_len", len(c.Content)).Msg("message too large")
		return badRequest(CommandSendMessage, coreError(ErrCodeTooLarge, MsgTooLarge))
	}

	if kind == MessageBroadcast {
		delivered, dropped := d.registry.Broadcast(s, note)
		d.record(MessageBroadcast, delivered, dropped)
		d.log.Debug().
			Str("user", self.Name).
			Int("delivered", delivered).
			Int("dropped", dropped).
			Msg("broadcast message")
		return okResponse(CommandSendMessage, MsgMessageSent, nil)
	}

	target, ok := d.registry.FindByName(c.Recipient)
	if !ok {
		return badRequest(CommandSendMessage, coreError(ErrCodeRecipientMissing, MsgRecipientMissing))
	}

	if d.registry.Deliver(target, note) {
		d.record(MessageDirect, 1, 0)
	} else {
		// Recipient left or its queue is full; the sender is still acknowledged.
		d.record(MessageDirect, 0, 1)
		d.log.Warn().Str("user", self.Name).Str("recipient", c.Recipient).Msg("direct message dropped")
	}
	return okResponse(CommandSendMessage, MsgMessageSent, nil)
}

func (d *Dispatcher) updateStatus(s *Session, self View, c UpdateStatus) *Response {
	if !c.Status.Valid() {
		return BadRequest(CommandUpdateStatus, ErrCodeBadRequest, "Invalid status")
	}
	if err := d.registry.SetStatus(s, c.Status); err != nil {
		return badRequest(CommandUpdateStatus, coreError(ErrCodeInternal, MsgInternal))
	}
	d.log.Debug().Str("user", self.Name).Stringer("status", c.Status).Msg("status updated")
	return okResponse(CommandUpdateStatus, MsgStatusUpdated, nil)
}

func (d *Dispatcher) unregisterUser(s *Session, self View) *Response {
	if err := d.registry.SetStatus(s, StatusOffline); err != nil && !errors.Is(err, ErrSessionGone) {
		d.log.Warn().Err(err).Str("session_id", s.ID).Msg("mark offline")
	}
	d.log.Info().Str("session_id", s.ID).Str("user", self.Name).Msg("user logged out")
	return nil
}

func (d *Dispatcher) record(kind MessageKind, delivered, dropped int) {
	if d.recorder != nil {
		d.recorder.RecordDelivery(kind, delivered, dropped)
	}
}
