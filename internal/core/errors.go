package core

import "github.com/cockroachdb/errors"

// Error codes for domain errors.
const (
	ErrCodeUserExists       = "user_exists"
	ErrCodeCapacity         = "capacity_exceeded"
	ErrCodeUserNotFound     = "user_not_found"
	ErrCodeRecipientMissing = "recipient_not_found"
	ErrCodeInvalidUsername  = "invalid_username"
	ErrCodeAlreadyNamed     = "already_registered"
	ErrCodeNotRegistered    = "not_registered"
	ErrCodeBadRequest       = "bad_request"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeTooLarge         = "message_too_large"
	ErrCodeInternal         = "internal"
)

// Human-readable messages returned to clients.
const (
	MsgUserExists       = "User already exists"
	MsgCapacity         = "Maximum number of users reached"
	MsgUserNotFound     = "User not found"
	MsgRecipientMissing = "Recipient not found"
	MsgInvalidUsername  = "Invalid username"
	MsgAlreadyNamed     = "User already registered"
	MsgNotRegistered    = "User not registered"
	MsgMalformed        = "Malformed request"
	MsgUnknownOperation = "Unknown operation"
	MsgRateLimited      = "Rate limit exceeded"
	MsgTooLarge         = "Message too large"
	MsgInternal         = "Internal server error"

	MsgRegistered    = "User registered successfully"
	MsgMessageSent   = "Message sent successfully"
	MsgUsersListed   = "Users retrieved successfully"
	MsgStatusUpdated = "Status updated successfully"
	MsgIncoming      = "Incoming message"
)

var (
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrRegistryClosed   = errors.New("registry closed")
	ErrNameTaken        = errors.New("name already taken")
	ErrAlreadyNamed     = errors.New("session already has a name")
	ErrInvalidName      = errors.New("invalid name")
	ErrSessionGone      = errors.New("session not in registry")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// registerError maps a Registry.Register failure onto the message shown to the caller.
func registerError(err error) *CoreError {
	switch {
	case errors.Is(err, ErrNameTaken):
		return coreError(ErrCodeUserExists, MsgUserExists)
	case errors.Is(err, ErrCapacityExceeded):
		return coreError(ErrCodeCapacity, MsgCapacity)
	case errors.Is(err, ErrInvalidName):
		return coreError(ErrCodeInvalidUsername, MsgInvalidUsername)
	case errors.Is(err, ErrAlreadyNamed):
		return coreError(ErrCodeAlreadyNamed, MsgAlreadyNamed)
	default:
		return coreError(ErrCodeInternal, MsgInternal)
	}
}
